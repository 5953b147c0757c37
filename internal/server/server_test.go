package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orgdesk/internal/config"
	"orgdesk/internal/db"
	"orgdesk/internal/domain"
	"orgdesk/internal/engine"
	"orgdesk/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL       string
	Engine    engine.Engine
	Admin     domain.Principal
	Manager   domain.Principal
	Employee  domain.Principal
	Requester domain.Principal
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("testorg"))
	ctx := context.Background()

	seed := func(name, role string) domain.Principal {
		actor := ""
		admins, err := e.Repo.ListPrincipals(ctx, domain.RoleAdministrator)
		if err != nil {
			t.Fatalf("list admins: %v", err)
		}
		if len(admins) > 0 {
			actor = admins[0].ID
		}
		p, err := e.ProvisionPrincipal(ctx, engine.PrincipalCreateOptions{
			FullName: name,
			Email:    name + "@testorg.local",
			Role:     role,
			Password: "secret",
			ActorID:  actor,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		return p
	}
	admin := seed("admin", domain.RoleAdministrator)
	manager := seed("manager", domain.RoleManager)
	employee := seed("employee", domain.RoleEmployee)
	requester := seed("requester", domain.RoleRequester)

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		Engine:    e,
		Admin:     admin,
		Manager:   manager,
		Employee:  employee,
		Requester: requester,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func asActor(p domain.Principal) map[string]string {
	return map[string]string{"X-Actor-Id": p.ID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthWithoutAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestAuthenticationRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/workitems", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/workitems", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", body.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	sign := func(subject string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte(testJWTSecret))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/principals", nil, map[string]string{
		"Authorization": "Bearer " + sign(srv.Admin.ID),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt list principals: %d %s", res.StatusCode, string(data))
	}

	// subjects that do not resolve to a live principal are rejected
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/principals", nil, map[string]string{
		"Authorization": "Bearer " + sign("ghost"),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown subject, got %d %s", res.StatusCode, string(data))
	}

	// a valid token stops working once the principal is deactivated
	if _, err := srv.Engine.SetPrincipalActive(context.Background(), srv.Requester.ID, false, srv.Admin.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/requests", nil, map[string]string{
		"Authorization": "Bearer " + sign(srv.Requester.ID),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deactivated principal, got %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	plaintext, _, err := srv.Engine.MintAPIKey(context.Background(), srv.Manager.ID, "ci", srv.Admin.ID)
	if err != nil {
		t.Fatalf("mint key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/workitems", nil, map[string]string{
		"X-Api-Key": plaintext,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/workitems", nil, map[string]string{
		"X-Api-Key": "bogus",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus key, got %d %s", res.StatusCode, string(data))
	}
}

func TestWorkItemFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workitems", map[string]any{
		"title":       "Prepare audit binder",
		"assignee_id": srv.Employee.ID,
		"due_date":    "2030-06-01",
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work item: %d %s", res.StatusCode, string(data))
	}
	var created WorkItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal work item: %v", err)
	}
	if created.Status != domain.WorkItemNew || created.DaysLeft == domain.DaysLeftNoDueDate {
		t.Fatalf("unexpected created item: %+v", created)
	}

	// requesters may not create work items
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workitems", map[string]any{
		"title": "Nope",
	}, asActor(srv.Requester))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", body.Code)
	}

	// only the assignee may transition
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/workitems/"+created.ID+"/status", map[string]any{
		"status": "in_progress",
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for manager transition, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/workitems/"+created.ID+"/status", map[string]any{
		"status": "in_progress",
	}, asActor(srv.Employee))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assignee transition: %d %s", res.StatusCode, string(data))
	}
	var updated WorkItemResponse
	_ = json.Unmarshal(data, &updated)
	if updated.Status != domain.WorkItemInProgress {
		t.Fatalf("expected in_progress, got %s", updated.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workitems/missing-id", nil, asActor(srv.Manager))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", body.Code)
	}
}

func TestRequestFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v1/catalog/products", map[string]any{
		"name":     "paper",
		"unit":     "pack",
		"quantity": 5,
		"price":    2,
	}, asActor(srv.Admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert product: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"department": "office",
		"lines": []map[string]any{
			{"name": "paper", "requested": 8},
			{"name": "", "requested": 1},
		},
	}, asActor(srv.Requester))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var req RequestResponse
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if len(req.Items) != 1 || req.Items[0].OnHand != 5 || req.Items[0].Price != 2 {
		t.Fatalf("unexpected request items: %+v", req.Items)
	}
	item := req.Items[0]

	// more than on hand conflicts, nothing is written
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/request-items/"+item.ID+"/grant", map[string]any{
		"granted": 8,
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %q", body.Code)
	}

	// more than requested is a plain validation failure
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/request-items/"+item.ID+"/grant", map[string]any{
		"granted": 9,
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "invalid_argument" {
		t.Fatalf("expected invalid_argument, got %q", body.Code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/request-items/"+item.ID+"/grant", map[string]any{
		"granted": 5,
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("grant: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+req.ID+"/finalize", nil, asActor(srv.Manager))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize: %d %s", res.StatusCode, string(data))
	}
	var final RequestResponse
	_ = json.Unmarshal(data, &final)
	if final.Status != domain.RequestPartiallyApproved {
		t.Fatalf("expected partially_approved, got %s", final.Status)
	}
}

func TestRequestVisibilityOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"department": "office",
		"lines":      []map[string]any{{"name": "binder", "requested": 2}},
	}, asActor(srv.Requester))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var req RequestResponse
	_ = json.Unmarshal(data, &req)

	other, err := srv.Engine.ProvisionPrincipal(context.Background(), engine.PrincipalCreateOptions{
		FullName: "Other Requester",
		Email:    "other@testorg.local",
		Role:     domain.RoleRequester,
		Password: "secret",
		ActorID:  srv.Admin.ID,
	})
	if err != nil {
		t.Fatalf("seed other: %v", err)
	}

	// another requester cannot see the request at all
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+req.ID, nil, asActor(other))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign request, got %d %s", res.StatusCode, string(data))
	}
	// the owner and reviewers can
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+req.ID, nil, asActor(srv.Requester))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner get: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+req.ID, nil, asActor(srv.Manager))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manager get: %d %s", res.StatusCode, string(data))
	}
}

func TestSummaryAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workitems", map[string]any{
		"title": "tracked",
	}, asActor(srv.Manager))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work item: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/summary", nil, asActor(srv.Admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary: %d %s", res.StatusCode, string(data))
	}
	var s engine.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if s.WorkItemsByStatus[domain.WorkItemNew] != 1 {
		t.Fatalf("summary counts: %+v", s.WorkItemsByStatus)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=workitem", nil, asActor(srv.Admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatalf("expected at least one workitem event")
	}
}
