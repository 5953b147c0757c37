package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"orgdesk/internal/authz"
	"orgdesk/internal/config"
	"orgdesk/internal/db"
	"orgdesk/internal/domain"
	"orgdesk/internal/engine"
	"orgdesk/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.Principal
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("testorg"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	admin, err := eng.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "Root Admin",
		Email:    "admin@testorg.local",
		Role:     domain.RoleAdministrator,
		Password: "admin-pass",
	})
	if err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Admin: admin}
}

func (env testEnv) seedPrincipal(t *testing.T, name, role string) domain.Principal {
	t.Helper()
	p, err := env.Engine.ProvisionPrincipal(env.Ctx, engine.PrincipalCreateOptions{
		FullName: name,
		Email:    fmt.Sprintf("%s@testorg.local", name),
		Role:     role,
		Password: "secret",
		ActorID:  env.Admin.ID,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return p
}

func (env testEnv) seedProduct(t *testing.T, name, unit string, qty, price float64) domain.InventoryProduct {
	t.Helper()
	p, err := env.Engine.UpsertCatalogProduct(env.Ctx, engine.ProductUpsertOptions{
		Name:     name,
		Unit:     unit,
		Quantity: qty,
		Price:    price,
		ActorID:  env.Admin.ID,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return p
}

func TestBootstrapFirstPrincipal(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("testorg"))
	ctx := context.Background()

	// first principal must be an administrator
	_, err = eng.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "M", Email: "m@x", Role: domain.RoleManager, Password: "p",
	})
	var inv engine.InvalidArgumentError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for non-admin bootstrap, got %v", err)
	}
	admin, err := eng.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "A", Email: "a@x", Role: domain.RoleAdministrator, Password: "p",
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	// once anyone exists, an actor is required
	_, err = eng.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "B", Email: "b@x", Role: domain.RoleEmployee, Password: "p",
	})
	var ue authz.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
	if _, err := eng.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
		FullName: "B", Email: "b@x", Role: domain.RoleEmployee, Password: "p", ActorID: admin.ID,
	}); err != nil {
		t.Fatalf("provision with admin actor: %v", err)
	}
}

func TestProvisioningRequiresAdministrator(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	_, err := env.Engine.ProvisionPrincipal(env.Ctx, engine.PrincipalCreateOptions{
		FullName: "Nope", Email: "nope@x", Role: domain.RoleEmployee, Password: "p", ActorID: mgr.ID,
	})
	var ue authz.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for manager, got %v", err)
	}
}

func TestProvisionDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.PrincipalCreateOptions{
		FullName: "First",
		Email:    "dup@testorg.local",
		Role:     domain.RoleEmployee,
		Password: "secret",
		ActorID:  env.Admin.ID,
	}
	if _, err := env.Engine.ProvisionPrincipal(env.Ctx, opts); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	opts.FullName = "Second"
	_, err := env.Engine.ProvisionPrincipal(env.Ctx, opts)
	var inv engine.InvalidArgumentError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for duplicate email, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	emp := env.seedPrincipal(t, "worker", domain.RoleEmployee)

	got, err := env.Engine.Authenticate(env.Ctx, emp.Email, "secret")
	if err != nil || got.ID != emp.ID {
		t.Fatalf("authenticate: %v", err)
	}
	var ue authz.UnauthorizedError
	if _, err := env.Engine.Authenticate(env.Ctx, emp.Email, "wrong"); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for bad password, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody@x", "secret"); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
	if _, err := env.Engine.SetPrincipalActive(env.Ctx, emp.ID, false, env.Admin.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, emp.Email, "secret"); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for deactivated principal, got %v", err)
	}
}

func TestDeactivatedActorCannotAct(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	if _, err := env.Engine.SetPrincipalActive(env.Ctx, mgr.ID, false, env.Admin.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "t", ActorID: mgr.ID})
	var ue authz.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for deactivated actor, got %v", err)
	}
}

func TestWorkItemLifecycle(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	e1 := env.seedPrincipal(t, "emp1", domain.RoleEmployee)
	e2 := env.seedPrincipal(t, "emp2", domain.RoleEmployee)

	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Title:      "Prepare quarterly report",
		AssigneeID: e1.ID,
		DueDate:    "2024-02-01",
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Status != domain.WorkItemNew {
		t.Fatalf("new item status = %s", w.Status)
	}

	w, err = env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemInProgress, e1.ID)
	if err != nil || w.Status != domain.WorkItemInProgress {
		t.Fatalf("assignee to in_progress: %v", err)
	}

	// the manager is not the assignee and may not transition
	var ue authz.UnauthorizedError
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemPending, mgr.ID); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for manager transition, got %v", err)
	}

	// reassignment moves transition rights to the new assignee
	if _, err := env.Engine.AssignWorkItem(env.Ctx, w.ID, &e2.ID, mgr.ID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemPending, e1.ID); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for former assignee, got %v", err)
	}
	w, err = env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemDone, e2.ID)
	if err != nil || w.Status != domain.WorkItemDone {
		t.Fatalf("new assignee to done: %v", err)
	}

	// done is terminal
	var inv engine.InvalidArgumentError
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemInProgress, e2.ID); !errors.As(err, &inv) {
		t.Fatalf("expected terminal lock, got %v", err)
	}
}

func TestWorkItemTransitionValidation(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	emp := env.seedPrincipal(t, "emp", domain.RoleEmployee)
	req := env.seedPrincipal(t, "req", domain.RoleRequester)

	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "t", AssigneeID: emp.ID, ActorID: mgr.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var inv engine.InvalidArgumentError
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, "archived", emp.ID); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for unknown status, got %v", err)
	}
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemNew, emp.ID); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for new target, got %v", err)
	}
	if _, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "bad date", DueDate: "01-02-2024", ActorID: mgr.ID}); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for malformed date, got %v", err)
	}
	var ue authz.UnauthorizedError
	if _, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "t2", ActorID: req.ID}); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for requester create, got %v", err)
	}
	if _, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "t3", AssigneeID: mgr.ID, ActorID: mgr.ID}); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for non-employee assignee, got %v", err)
	}
}

func TestRequestLineFiltering(t *testing.T) {
	env := newTestEnv(t)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 10, 2)

	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines: []engine.RequestLine{
			{Name: "  paper  ", Requested: 4},
			{Name: "", Requested: 3},
			{Name: "stapler", Requested: 0},
			{Name: "whiteboard marker", Unit: "pcs", Requested: 2},
		},
		ActorID: rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 items after filtering, got %d", len(req.Items))
	}
	// catalog line gets snapshots, off-catalog line does not
	paper := req.Items[0]
	if paper.Name != "paper" || paper.ProductID == nil || paper.OnHand != 10 || paper.Price != 2 || paper.Unit != "pack" {
		t.Fatalf("unexpected paper snapshot: %+v", paper)
	}
	marker := req.Items[1]
	if marker.ProductID != nil || marker.OnHand != 0 || marker.Price != 0 {
		t.Fatalf("unexpected off-catalog snapshot: %+v", marker)
	}

	var inv engine.InvalidArgumentError
	_, err = env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines:      []engine.RequestLine{{Name: "   ", Requested: 5}},
		ActorID:    rq.ID,
	})
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for all-blank request, got %v", err)
	}
}

func TestRequestDepartmentValidation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Departments = []string{"office", "warehouse"}
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)

	// a blank department is rejected before any write, not by the database
	var inv engine.InvalidArgumentError
	for _, dept := range []string{"", "   "} {
		_, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
			Department: dept,
			Lines:      []engine.RequestLine{{Name: "paper", Requested: 1}},
			ActorID:    rq.ID,
		})
		if !errors.As(err, &inv) {
			t.Fatalf("expected invalid argument for department %q, got %v", dept, err)
		}
	}
	_, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "lab",
		Lines:      []engine.RequestLine{{Name: "paper", Requested: 1}},
		ActorID:    rq.ID,
	})
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for unknown department, got %v", err)
	}
	if _, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "warehouse",
		Lines:      []engine.RequestLine{{Name: "paper", Requested: 1}},
		ActorID:    rq.ID,
	}); err != nil {
		t.Fatalf("known department rejected: %v", err)
	}
}

func TestGrantAndFinalize(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 10, 2)
	env.seedProduct(t, "pen", "pcs", 5, 1)

	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines: []engine.RequestLine{
			{Name: "paper", Requested: 4},
			{Name: "pen", Requested: 10},
		},
		ActorID: rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	paper, pen := req.Items[0], req.Items[1]

	// requester may not review grants
	var ue authz.UnauthorizedError
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, paper.ID, 4, rq.ID); !errors.As(err, &ue) {
		t.Fatalf("expected unauthorized for requester grant, got %v", err)
	}

	// grant above requested is rejected before any write
	var inv engine.InvalidArgumentError
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, pen.ID, 11, mgr.ID); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for over-grant, got %v", err)
	}

	if _, err := env.Engine.FulfillRequestItem(env.Ctx, paper.ID, 4, mgr.ID); err != nil {
		t.Fatalf("grant paper: %v", err)
	}
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, pen.ID, 5, mgr.ID); err != nil {
		t.Fatalf("grant pen: %v", err)
	}
	p, err := env.Engine.Repo.GetProductByName(env.Ctx, "paper")
	if err != nil || p.Quantity != 6 {
		t.Fatalf("paper stock = %g, err %v", p.Quantity, err)
	}
	p, err = env.Engine.Repo.GetProductByName(env.Ctx, "pen")
	if err != nil || p.Quantity != 0 {
		t.Fatalf("pen stock = %g, err %v", p.Quantity, err)
	}

	final, err := env.Engine.FinalizeRequest(env.Ctx, req.ID, mgr.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != domain.RequestPartiallyApproved {
		t.Fatalf("expected partially_approved, got %s", final.Status)
	}

	// finalized requests accept no more grants and no second finalize
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, pen.ID, 4, mgr.ID); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for grant after finalize, got %v", err)
	}
	if _, err := env.Engine.FinalizeRequest(env.Ctx, req.ID, mgr.ID); !errors.As(err, &inv) {
		t.Fatalf("expected invalid argument for double finalize, got %v", err)
	}
}

func TestFinalizeStatusDerivation(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 100, 2)

	submit := func() domain.InventoryRequest {
		req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
			Department: "office",
			Lines:      []engine.RequestLine{{Name: "paper", Requested: 3}, {Name: "paper", Requested: 2}},
			ActorID:    rq.ID,
		})
		if err != nil {
			t.Fatalf("create request: %v", err)
		}
		return req
	}

	approved := submit()
	for _, item := range approved.Items {
		if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, item.Requested, mgr.ID); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	if final, _ := env.Engine.FinalizeRequest(env.Ctx, approved.ID, mgr.ID); final.Status != domain.RequestApproved {
		t.Fatalf("expected approved, got %s", final.Status)
	}

	rejected := submit()
	if final, _ := env.Engine.FinalizeRequest(env.Ctx, rejected.ID, mgr.ID); final.Status != domain.RequestRejected {
		t.Fatalf("expected rejected, got %s", final.Status)
	}
}

func TestFinalizeSeesLatestGrants(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 10, 2)

	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines:      []engine.RequestLine{{Name: "paper", Requested: 3}},
		ActorID:    rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	item := req.Items[0]

	// the last committed grant decides the derived status, not an earlier one
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, 3, mgr.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, 0, mgr.ID); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	final, err := env.Engine.FinalizeRequest(env.Ctx, req.ID, mgr.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != domain.RequestRejected {
		t.Fatalf("expected rejected from latest grants, got %s", final.Status)
	}
}

func TestRegrantMovesStockByDelta(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 10, 2)

	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines:      []engine.RequestLine{{Name: "paper", Requested: 6}},
		ActorID:    rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	item := req.Items[0]

	if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, 6, mgr.ID); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if p, _ := env.Engine.Repo.GetProductByName(env.Ctx, "paper"); p.Quantity != 4 {
		t.Fatalf("stock after grant = %g", p.Quantity)
	}
	// lowering the grant returns the difference to stock
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, 2, mgr.ID); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if p, _ := env.Engine.Repo.GetProductByName(env.Ctx, "paper"); p.Quantity != 8 {
		t.Fatalf("stock after lowering grant = %g", p.Quantity)
	}
	// raising it again only charges the delta
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, item.ID, 5, mgr.ID); err != nil {
		t.Fatalf("raise grant: %v", err)
	}
	if p, _ := env.Engine.Repo.GetProductByName(env.Ctx, "paper"); p.Quantity != 5 {
		t.Fatalf("stock after raising grant = %g", p.Quantity)
	}
}

func TestInsufficientStockUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.DB.SetMaxOpenConns(1)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "toner", "pcs", 5, 40)

	var items []domain.InventoryRequestItem
	for i := 0; i < 2; i++ {
		req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
			Department: "office",
			Lines:      []engine.RequestLine{{Name: "toner", Requested: 4}},
			ActorID:    rq.ID,
		})
		if err != nil {
			t.Fatalf("create request: %v", err)
		}
		items = append(items, req.Items[0])
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.FulfillRequestItem(env.Ctx, items[i].ID, 4, mgr.ID)
		}(i)
	}
	wg.Wait()

	var stockErrs int
	for _, err := range errs {
		var ise engine.InsufficientStockError
		switch {
		case err == nil:
		case errors.As(err, &ise):
			stockErrs++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if stockErrs != 1 {
		t.Fatalf("expected exactly one insufficient-stock failure, got %d", stockErrs)
	}
	if p, _ := env.Engine.Repo.GetProductByName(env.Ctx, "toner"); p.Quantity != 1 {
		t.Fatalf("final stock = %g, want 1", p.Quantity)
	}
}

func TestGrantVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines:      []engine.RequestLine{{Name: "binder", Requested: 2}},
		ActorID:    rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	item := req.Items[0]

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	ok, err := env.Engine.Repo.UpdateItemGrant(env.Ctx, tx, item.ID, 1, item.Version+7)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Fatalf("stale version must not win")
	}
	ok, err = env.Engine.Repo.UpdateItemGrant(env.Ctx, tx, item.ID, 1, item.Version)
	if err != nil || !ok {
		t.Fatalf("current version update: ok=%v err=%v", ok, err)
	}
}

func TestCatalogUpsertIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.seedProduct(t, "paper", "pack", 10, 2)
	second, err := env.Engine.UpsertCatalogProduct(env.Ctx, engine.ProductUpsertOptions{
		Name:     "paper",
		Category: "stationery",
		Unit:     "pack",
		Quantity: 25,
		Price:    2.5,
		ActorID:  env.Admin.ID,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert by name created a new row")
	}
	if second.Quantity != 25 || second.Price != 2.5 || second.Category != "stationery" {
		t.Fatalf("fields not updated: %+v", second)
	}
	products, err := env.Engine.Repo.ListProducts(env.Ctx)
	if err != nil || len(products) != 1 {
		t.Fatalf("expected single product, got %d (err %v)", len(products), err)
	}
}

func TestRequestVisibility(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	r1 := env.seedPrincipal(t, "req1", domain.RoleRequester)
	r2 := env.seedPrincipal(t, "req2", domain.RoleRequester)

	for _, actor := range []string{r1.ID, r2.ID} {
		if _, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
			Department: "office",
			Lines:      []engine.RequestLine{{Name: "paper", Requested: 1}},
			ActorID:    actor,
		}); err != nil {
			t.Fatalf("create request: %v", err)
		}
	}
	own, err := env.Engine.ListRequestsFor(env.Ctx, r1.ID, "")
	if err != nil || len(own) != 1 {
		t.Fatalf("requester sees %d requests (err %v), want 1", len(own), err)
	}
	all, err := env.Engine.ListRequestsFor(env.Ctx, mgr.ID, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("manager sees %d requests (err %v), want 2", len(all), err)
	}
}

func TestSummarize(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	emp := env.seedPrincipal(t, "emp", domain.RoleEmployee)
	rq := env.seedPrincipal(t, "requester", domain.RoleRequester)
	env.seedProduct(t, "paper", "pack", 10, 2)

	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "t", AssigneeID: emp.ID, ActorID: mgr.ID})
	if err != nil {
		t.Fatalf("create work item: %v", err)
	}
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemInProgress, emp.ID); err != nil {
		t.Fatalf("transition: %v", err)
	}
	req, err := env.Engine.CreateInventoryRequest(env.Ctx, engine.RequestCreateOptions{
		Department: "office",
		Lines:      []engine.RequestLine{{Name: "paper", Requested: 4}},
		ActorID:    rq.ID,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := env.Engine.FulfillRequestItem(env.Ctx, req.Items[0].ID, 3, mgr.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	s, err := env.Engine.Summarize(env.Ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.WorkItemsByStatus[domain.WorkItemInProgress] != 1 || s.WorkItemsByStatus[domain.WorkItemNew] != 0 {
		t.Fatalf("work item counts: %+v", s.WorkItemsByStatus)
	}
	if s.PrincipalsByRole[domain.RoleAdministrator] != 1 || s.PrincipalsByRole[domain.RoleEmployee] != 1 {
		t.Fatalf("principal counts: %+v", s.PrincipalsByRole)
	}
	if s.RequestsByStatus[domain.RequestNew] != 1 {
		t.Fatalf("request counts: %+v", s.RequestsByStatus)
	}
	// totals are money: requested 4 packs at snapshot price 2, granted 3
	if s.RequestedAmount != 8 || s.GrantedAmount != 6 {
		t.Fatalf("totals: requested %g granted %g", s.RequestedAmount, s.GrantedAmount)
	}

	totals, err := env.Engine.RequestTotals(env.Ctx, req.ID)
	if err != nil || totals.RequestedAmount != 8 || totals.GrantedAmount != 6 {
		t.Fatalf("per-request totals: %+v err %v", totals, err)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.seedPrincipal(t, "manager", domain.RoleManager)
	emp := env.seedPrincipal(t, "emp", domain.RoleEmployee)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{Title: "evented", AssigneeID: emp.ID, ActorID: mgr.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.TransitionWorkItemStatus(env.Ctx, w.ID, domain.WorkItemInProgress, emp.ID); err != nil {
		t.Fatalf("transition: %v", err)
	}
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE entity_id=?`, w.ID).Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected creation and transition events, got %d", count)
	}
}
