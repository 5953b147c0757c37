package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orgdesk/internal/app"
	"orgdesk/internal/config"
	"orgdesk/internal/db"
	"orgdesk/internal/domain"
	"orgdesk/internal/engine"
	"orgdesk/internal/repo"
	"orgdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "orgdesk",
	Short: "Orgdesk CLI",
	Long: `Orgdesk manages an organization's work items and inventory requests.
- Principals: accounts with one of four roles (administrator, manager, employee, requester).
- Work items: assignable units of work; directive items carry a source authority and received date.
- Inventory requests: requesters submit lines, reviewers grant against catalog stock, then finalize.
- Catalog: named products with on-hand quantity and unit price.
- Event log: diary of every change, view with 'orgdesk log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ORGDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting principal id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(workItemCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(seedCmd())
}

// --- user ---

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage principals"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userSetRoleCmd())
	user.AddCommand(userSetActiveCmd())
	user.AddCommand(userTokenCmd())
	user.AddCommand(userKeyCmd())
	user.AddCommand(userKeysCmd())
	user.AddCommand(userKeyRevokeCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var name, email, role, password, telegram string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
					FullName:   name,
					Email:      email,
					Role:       role,
					Password:   password,
					TelegramID: telegram,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role (administrator, manager, employee, requester)")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&telegram, "telegram", "", "telegram handle")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List principals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPrincipals(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Active"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.FullName, p.Email, p.Role, p.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func userSetRoleCmd() *cobra.Command {
	var id, role string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Change a principal's role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetPrincipalRole(ctx, id, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "principal id")
	cmd.Flags().StringVar(&role, "role", "", "new role")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userSetActiveCmd() *cobra.Command {
	var id string
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active",
		Short: "Activate or deactivate a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetPrincipalActive(ctx, id, active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "principal id")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userTokenCmd() *cobra.Command {
	var id string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("ORGDESK_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("ORGDESK_JWT_SECRET is required")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Subject:   id,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "principal id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userKeyCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Mint an API key for a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plaintext, key, err := e.MintAPIKey(ctx, id, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"key":          plaintext,
					"key_id":       key.ID,
					"principal_id": key.PrincipalID,
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "principal id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userKeysCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List API key metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Principal", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.PrincipalID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "filter by principal id")
	return cmd
}

func userKeyRevokeCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "key-revoke",
		Short: "Revoke an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- workitem ---

func workItemCmd() *cobra.Command {
	wi := &cobra.Command{Use: "workitem", Short: "Manage work items"}
	wi.AddCommand(workItemCreateCmd())
	wi.AddCommand(workItemListCmd())
	wi.AddCommand(workItemShowCmd())
	wi.AddCommand(workItemAssignCmd())
	wi.AddCommand(workItemStatusCmd())
	return wi
}

func workItemCreateCmd() *cobra.Command {
	var title, desc, assignee, source, received, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
					Title:        title,
					Description:  desc,
					AssigneeID:   assignee,
					Source:       source,
					ReceivedDate: received,
					DueDate:      due,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee principal id")
	cmd.Flags().StringVar(&source, "source", "", "directive source authority")
	cmd.Flags().StringVar(&received, "received", "", "received date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workItemListCmd() *cobra.Command {
	var status, assignee string
	var directive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
					Status:     status,
					AssigneeID: assignee,
					Directive:  directive,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Days left"})
				for _, w := range items {
					a := ""
					if w.AssigneeID != nil {
						a = *w.AssigneeID
					}
					days := ""
					if d := w.DaysLeft(now); d != domain.DaysLeftNoDueDate {
						days = fmt.Sprintf("%d", d)
					}
					tw.AppendRow(table.Row{w.ID, w.Title, w.Status, a, days})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	cmd.Flags().BoolVar(&directive, "directive", false, "only directive items")
	return cmd
}

func workItemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workItemAssignCmd() *cobra.Command {
	var id, assignee string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign or reassign a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var target *string
				if cmd.Flags().Changed("assignee") {
					target = &assignee
				}
				w, err := e.AssignWorkItem(ctx, id, target, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "work item id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee principal id (empty clears)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func workItemStatusCmd() *cobra.Command {
	var id, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Transition work item status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.TransitionWorkItemStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "work item id")
	cmd.Flags().StringVar(&status, "status", "", "target status (in_progress, pending, done, rejected)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// --- request ---

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Manage inventory requests"}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestGrantCmd())
	req.AddCommand(requestFinalizeCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var department string
	var lines []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit an inventory request",
		Long:  `Lines use the form "name:quantity[:unit]", e.g. --line "paper:10:pack".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseRequestLines(lines)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.CreateInventoryRequest(ctx, engine.RequestCreateOptions{
					Department: department,
					Lines:      parsed,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department tag")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "request line name:quantity[:unit] (repeatable)")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func parseRequestLines(raw []string) ([]engine.RequestLine, error) {
	var out []engine.RequestLine
	for _, l := range raw {
		parts := strings.SplitN(l, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid line %q: expected name:quantity[:unit]", l)
		}
		var qty float64
		if _, err := fmt.Sscanf(parts[1], "%g", &qty); err != nil {
			return nil, fmt.Errorf("invalid quantity in line %q", l)
		}
		line := engine.RequestLine{Name: parts[0], Requested: qty}
		if len(parts) == 3 {
			line.Unit = parts[2]
		}
		out = append(out, line)
	}
	return out, nil
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inventory requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqs, err := e.ListRequestsFor(ctx, viper.GetString("actor-id"), status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reqs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Requester", "Department", "Status", "Items"})
				for _, r := range reqs {
					tw.AppendRow(table.Row{r.ID, r.RequesterID, r.Department, r.Status, len(r.Items)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("%s  %s  %s\n", req.ID, req.Status, req.Department)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Name", "On hand", "Requested", "Granted", "Price"})
				for _, item := range req.Items {
					tw.AppendRow(table.Row{item.ID, item.Name, item.OnHand, item.Requested, item.Granted, item.Price})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func requestGrantCmd() *cobra.Command {
	var itemID string
	var granted float64
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Record the granted amount for a request item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.FulfillRequestItem(ctx, itemID, granted, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "request item id")
	cmd.Flags().Float64Var(&granted, "granted", 0, "granted quantity")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func requestFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <id>",
		Short: "Finalize a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.FinalizeRequest(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

// --- catalog ---

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Manage the product catalog"}
	cat.AddCommand(catalogUpsertCmd())
	cat.AddCommand(catalogListCmd())
	cat.AddCommand(catalogShowCmd())
	return cat
}

func catalogShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProduct(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func catalogUpsertCmd() *cobra.Command {
	var name, category, unit string
	var quantity, price float64
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or restock a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpsertCatalogProduct(ctx, engine.ProductUpsertOptions{
					Name:     name,
					Category: category,
					Unit:     unit,
					Quantity: quantity,
					Price:    price,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&unit, "unit", "", "unit of measure")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "on-hand quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "unit price")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func catalogListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProducts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Unit", "Quantity", "Price"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Category, p.Unit, p.Quantity, p.Price})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- report / log ---

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Read-only aggregation"}
	rep.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Counts by status and role plus monetary totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summarize(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	return rep
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath, configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Open(workspace, "orgdesk")
			if err != nil {
				return err
			}
			defer conn.Close()
			if configPath != "" {
				cfg, err := config.FromFile(configPath)
				if err != nil {
					return err
				}
				e.Config = cfg
			}
			if addr == "" {
				addr = e.Config.Server.Addr
			}
			if basePath == "" {
				basePath = e.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ORGDESK_JWT_SECRET"),
				AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ORGDESK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Orgdesk API on http://%s%s (db %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, db.Path(workspace), basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	cmd.Flags().StringVar(&configPath, "config", "", "explicit config file (defaults to <workspace>/orgdesk.yml)")
	return cmd
}

// --- seed ---

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo accounts, products, and work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return seedDemoData(ctx, e)
			})
		},
	}
	return cmd
}

func seedDemoData(ctx context.Context, e engine.Engine) error {
	existing, err := e.Repo.ListPrincipals(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		fmt.Println("workspace already has principals; skipping seed")
		return nil
	}
	admin, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "Demo Admin", Email: "admin@example.com",
		Role: domain.RoleAdministrator, Password: "admin123",
	})
	if err != nil {
		return err
	}
	manager, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "Demo Manager", Email: "manager@example.com",
		Role: domain.RoleManager, Password: "manager123", ActorID: admin.ID,
	})
	if err != nil {
		return err
	}
	employee, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "Demo Employee", Email: "employee@example.com",
		Role: domain.RoleEmployee, Password: "employee123", ActorID: admin.ID,
	})
	if err != nil {
		return err
	}
	if _, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "Demo Requester", Email: "requester@example.com",
		Role: domain.RoleRequester, Password: "requester123", ActorID: admin.ID,
	}); err != nil {
		return err
	}
	for _, p := range []engine.ProductUpsertOptions{
		{Name: "printer paper", Category: "office", Unit: "pack", Quantity: 50, Price: 4.5, ActorID: manager.ID},
		{Name: "ballpoint pen", Category: "office", Unit: "piece", Quantity: 200, Price: 0.4, ActorID: manager.ID},
		{Name: "toner cartridge", Category: "office", Unit: "piece", Quantity: 12, Price: 38, ActorID: manager.ID},
	} {
		if _, err := e.UpsertCatalogProduct(ctx, p); err != nil {
			return err
		}
	}
	if _, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
		Title:      "Prepare quarterly inventory report",
		AssigneeID: employee.ID,
		DueDate:    time.Now().AddDate(0, 0, 14).Format("2006-01-02"),
		ActorID:    manager.ID,
	}); err != nil {
		return err
	}
	if _, err := e.CreateWorkItem(ctx, engine.WorkItemCreateOptions{
		Title:        "Respond to directive 7-D",
		Source:       "Head Office",
		ReceivedDate: time.Now().Format("2006-01-02"),
		ActorID:      manager.ID,
	}); err != nil {
		return err
	}
	fmt.Println("seeded demo data")
	return nil
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Open(viper.GetString("workspace"), "orgdesk")
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
