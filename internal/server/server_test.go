package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"testing"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/notify"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
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
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

type hookRecorder struct {
	mu        sync.Mutex
	delivered []domain.Event
}

func (r *hookRecorder) Deliver(ctx context.Context, hook config.Hook, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, evt)
	return nil
}

func (r *hookRecorder) events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.delivered...)
}

// newNotifyingTestServer wires a dispatcher with a recording transport. The
// background poller is stopped so only direct notifications reach the hook.
func newNotifyingTestServer(t *testing.T) (*testServer, *hookRecorder, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	d := notify.NewDispatcher(e.Repo, []config.Hook{{URL: "https://hooks.test/a"}})
	recorder := &hookRecorder{}
	d.BindTransport(recorder)
	handler, err := New(Config{
		Engine:     e,
		BasePath:   "/v0",
		Dispatcher: d,
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	d.Stop()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, recorder, func() { testSrv.Close() }
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
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

var managerHeaders = map[string]string{
	"X-Actor-Id":    "mgr-1",
	"X-Actor-Email": "mgr@acme.test",
	"X-Actor-Name":  "Mana",
}

// seedTenant creates the tenant, a contractor user, and a public work order.
func seedTenant(t *testing.T, srv *testServer) domain.WorkOrder {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants", map[string]any{
		"id":   "acme",
		"name": "Acme Facilities",
	}, managerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create tenant status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"id":           "con-1",
		"name":         "Cora",
		"email":        "cora@trade.test",
		"profile_type": "contractor",
	}, managerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workorders", map[string]any{
		"tenant_id": "acme",
		"name":      "Fix the boiler",
	}, managerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	var w domain.WorkOrder
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID+"/publish", map[string]any{
		"visibility": "public",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish status %d: %s", res.StatusCode, string(data))
	}
	return w
}

func TestRequestsWithoutCredentialsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tenants", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", env.Error.Code)
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":  "dev-1",
		"email":     "dev@acme.test",
		"name":      "Dev",
		"superuser": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated list status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", res.StatusCode)
	}
}

func TestBidWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := seedTenant(t, srv)

	contractorHeaders := map[string]string{
		"X-Actor-Id":    "con-1",
		"X-Actor-Email": "cora@trade.test",
		"X-Actor-Name":  "Cora",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workorders/"+w.ID+"/bids", map[string]any{
		"cover_message":   "Done this before",
		"proposed_budget": 900,
	}, contractorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid status %d: %s", res.StatusCode, string(data))
	}
	var bid domain.Bid
	if err := json.Unmarshal(data, &bid); err != nil {
		t.Fatalf("unmarshal bid: %v", err)
	}

	// The same contractor cannot hold two live bids.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workorders/"+w.ID+"/bids", map[string]any{
		"cover_message":   "again",
		"proposed_budget": 800,
	}, contractorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate bid status %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "conflict" {
		t.Fatalf("expected code conflict, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID+"/bids/"+bid.ID, map[string]any{
		"action": "accept",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept bid status %d: %s", res.StatusCode, string(data))
	}
	var accepted AcceptBidResponse
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal accept result: %v", err)
	}
	if accepted.WorkOrder.Status != domain.StatusAssigned {
		t.Fatalf("expected Assigned, got %s", accepted.WorkOrder.Status)
	}
	if accepted.Bid.Status != domain.BidAccepted {
		t.Fatalf("bid not accepted: %s", accepted.Bid.Status)
	}
	if accepted.Membership.Status != domain.MemberActive {
		t.Fatalf("membership not active: %+v", accepted.Membership)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workorders/"+w.ID+"/events", nil, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	found := false
	for _, evt := range events {
		if evt.Action == domain.EventBidAccepted {
			found = true
		}
	}
	if !found {
		t.Fatalf("BID_ACCEPTED missing from log: %+v", events)
	}
}

func TestSeatQuotaRejectionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := seedTenant(t, srv)

	// The owner membership already holds the only seat.
	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/tenants/acme/quota", map[string]any{
		"seats_limit":          1,
		"public_listing_limit": 3,
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set quota status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workorders/"+w.ID+"/bids", map[string]any{
		"cover_message":   "ready",
		"proposed_budget": 500,
	}, map[string]string{"X-Actor-Id": "con-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid status %d: %s", res.StatusCode, string(data))
	}
	var bid domain.Bid
	if err := json.Unmarshal(data, &bid); err != nil {
		t.Fatalf("unmarshal bid: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID+"/bids/"+bid.ID, map[string]any{
		"action": "accept",
	}, managerHeaders)
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "capacity_exceeded" {
		t.Fatalf("expected code capacity_exceeded, got %q", env.Error.Code)
	}
	if env.Error.Details["resource"] != "seats" {
		t.Fatalf("expected seats resource, got %v", env.Error.Details)
	}
	if env.Error.Details["used"].(float64) != 1 || env.Error.Details["limit"].(float64) != 1 {
		t.Fatalf("expected used=1 limit=1, got %v", env.Error.Details)
	}

	// The work order must be untouched by the failed acceptance.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workorders/"+w.ID, nil, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get work order status %d", res.StatusCode)
	}
	var got domain.WorkOrder
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}
	if got.AcceptedBidID != nil || got.ExecutorID != "" {
		t.Fatalf("acceptance side effects leaked: %+v", got)
	}
}

func TestPublicListingQuotaOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w1 := seedTenant(t, srv)

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/tenants/acme/quota", map[string]any{
		"seats_limit":          5,
		"public_listing_limit": 1,
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set quota status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workorders", map[string]any{
		"tenant_id": "acme",
		"name":      "Second job",
	}, managerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	var w2 domain.WorkOrder
	if err := json.Unmarshal(data, &w2); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w2.ID+"/publish", map[string]any{
		"visibility": "public",
	}, managerHeaders)
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Details["resource"] != "public listings" {
		t.Fatalf("expected public listings resource, got %v", env.Error.Details)
	}

	// Unpublishing the first listing frees the slot.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w1.ID+"/publish", map[string]any{
		"visibility": "private",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unpublish status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w2.ID+"/publish", map[string]any{
		"visibility": "public",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish after freeing slot status %d: %s", res.StatusCode, string(data))
	}
}

func TestLifecycleTransitionsPostNotifications(t *testing.T) {
	srv, recorder, cleanup := newNotifyingTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := seedTenant(t, srv)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID, map[string]any{
		"executor_id": "con-1",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	got := recorder.events()
	if len(got) != 1 || got[0].Action != domain.EventTaskAssigned {
		t.Fatalf("expected one TASK_ASSIGNED notification, got %+v", got)
	}
	recipients, ok := got[0].Details["recipients"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "cora@trade.test" {
		t.Fatalf("executor not notified: %+v", got[0].Details)
	}

	// Decisions notify the tenant's managers.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID, map[string]any{
		"decision": "accept",
	}, managerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	got = recorder.events()
	if len(got) != 2 || got[1].Action != domain.EventTaskAccepted {
		t.Fatalf("expected a TASK_ACCEPTED notification, got %+v", got)
	}
	recipients, ok = got[1].Details["recipients"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "mgr@acme.test" {
		t.Fatalf("managers not notified: %+v", got[1].Details)
	}
}

func TestInvalidStatusEditRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	w := seedTenant(t, srv)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/workorders/"+w.ID, map[string]any{
		"status": "AtWork",
	}, managerHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Error.Code != "invalid_state" {
		t.Fatalf("expected code invalid_state, got %q", env.Error.Code)
	}
}
