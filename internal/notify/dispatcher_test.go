package notify_test

import (
	"context"
	"sync"
	"testing"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/notify"
)

type recordingTransport struct {
	mu        sync.Mutex
	delivered []domain.Event
}

func (t *recordingTransport) Deliver(ctx context.Context, hook config.Hook, evt domain.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered = append(t.delivered, evt)
	return nil
}

func (t *recordingTransport) actions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, evt := range t.delivered {
		out = append(out, evt.Action)
	}
	return out
}

func newDispatcherEnv(t *testing.T, hooks []config.Hook) (engine.Engine, *notify.Dispatcher, *recordingTransport) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	d := notify.NewDispatcher(eng.Repo, hooks)
	transport := &recordingTransport{}
	d.BindTransport(transport)
	return eng, d, transport
}

func seedWorkOrder(t *testing.T, eng engine.Engine) domain.WorkOrder {
	t.Helper()
	ctx := context.Background()
	owner := engine.Actor{ID: "owner-1", Name: "Olive", Email: "olive@acme.test", Role: domain.RoleOwner}
	if _, err := eng.CreateTenant(ctx, "acme", "Acme", owner); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	w, err := eng.CreateWorkOrder(ctx, engine.WorkOrderCreateOptions{TenantID: "acme", Name: "Fix the boiler"}, owner)
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	return w
}

func TestDispatcherDeliversNewEventsOnly(t *testing.T) {
	eng, d, transport := newDispatcherEnv(t, []config.Hook{{URL: "https://hooks.test/a"}})
	w := seedWorkOrder(t, eng)

	// First pass pins the cursor at the current tail; history is not replayed.
	d.DispatchPending()
	if n := len(transport.actions()); n != 0 {
		t.Fatalf("replayed %d historical events", n)
	}

	owner := engine.Actor{ID: "owner-1", Name: "Olive", Email: "olive@acme.test", Role: domain.RoleOwner}
	if _, err := eng.SetVisibility(context.Background(), w.ID, engine.PublicationChange{Visibility: domain.VisibilityPublic}, owner); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d.DispatchPending()
	got := transport.actions()
	if len(got) != 1 || got[0] != domain.EventPublished {
		t.Fatalf("expected one WORK_PUBLISHED delivery, got %v", got)
	}

	// A second pass with no new events delivers nothing.
	d.DispatchPending()
	if n := len(transport.actions()); n != 1 {
		t.Fatalf("redelivered events, got %d total", n)
	}
}

func TestDispatcherAppliesEventFilter(t *testing.T) {
	eng, d, transport := newDispatcherEnv(t, []config.Hook{
		{URL: "https://hooks.test/a", Events: []string{domain.EventUnpublished}},
	})
	w := seedWorkOrder(t, eng)
	d.DispatchPending()

	ctx := context.Background()
	owner := engine.Actor{ID: "owner-1", Name: "Olive", Email: "olive@acme.test", Role: domain.RoleOwner}
	if _, err := eng.SetVisibility(ctx, w.ID, engine.PublicationChange{Visibility: domain.VisibilityPublic}, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SetVisibility(ctx, w.ID, engine.PublicationChange{Visibility: domain.VisibilityPrivate}, owner); err != nil {
		t.Fatal(err)
	}
	d.DispatchPending()
	got := transport.actions()
	if len(got) != 1 || got[0] != domain.EventUnpublished {
		t.Fatalf("filter leaked events: %v", got)
	}
}

func TestNotifyFansOutToMatchingHooks(t *testing.T) {
	disabled := false
	_, d, transport := newDispatcherEnv(t, []config.Hook{
		{URL: "https://hooks.test/a"},
		{URL: "https://hooks.test/b", Events: []string{domain.EventTaskRejected}},
		{URL: "https://hooks.test/c", Enabled: &disabled},
	})

	d.Notify(domain.EventTaskAssigned, []string{"eve@field.test"},
		map[string]any{"work_order_id": "wo-1", "status": domain.StatusAssigned})

	got := transport.actions()
	if len(got) != 1 || got[0] != domain.EventTaskAssigned {
		t.Fatalf("expected one delivery to the unfiltered hook, got %v", got)
	}
	evt := transport.delivered[0]
	recipients, ok := evt.Details["recipients"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "eve@field.test" {
		t.Fatalf("recipients not carried: %+v", evt.Details)
	}
	if evt.Details["work_order_id"] != "wo-1" {
		t.Fatalf("payload not carried: %+v", evt.Details)
	}

	// The filtered hook accepts its own event.
	d.Notify(domain.EventTaskRejected, nil, map[string]any{"work_order_id": "wo-1"})
	got = transport.actions()
	if len(got) != 3 {
		t.Fatalf("expected both enabled hooks to receive TASK_REJECTED, got %v", got)
	}
}

func TestDisabledHookDeliversNothing(t *testing.T) {
	disabled := false
	eng, d, transport := newDispatcherEnv(t, []config.Hook{
		{URL: "https://hooks.test/a", Enabled: &disabled},
	})
	w := seedWorkOrder(t, eng)

	owner := engine.Actor{ID: "owner-1", Name: "Olive", Email: "olive@acme.test", Role: domain.RoleOwner}
	if _, err := eng.SetVisibility(context.Background(), w.ID, engine.PublicationChange{Visibility: domain.VisibilityPublic}, owner); err != nil {
		t.Fatal(err)
	}
	d.DispatchPending()
	if n := len(transport.actions()); n != 0 {
		t.Fatalf("disabled hook delivered %d events", n)
	}
}
