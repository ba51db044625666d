package panel

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// mockRunner records runs in the store without executing actions.
type mockRunner struct {
	app   *app.App
	store store.RunStore

	fail      bool
	triggered []any
}

func (m *mockRunner) TriggerByName(ctx context.Context, nameOrID string, payload any) (*run.Run, error) {
	automation, err := m.app.FindAutomation(nameOrID)
	if err != nil {
		return nil, err
	}
	m.triggered = append(m.triggered, payload)
	r := run.New(automation.ID, run.TriggerStep{Input: payload, Output: payload})
	if m.fail {
		_ = r.StopActionStep(run.ExecutionStep, "smtp timeout")
	} else {
		r.Succeed()
	}
	return r, m.store.Create(ctx, r)
}

func (m *mockRunner) Replay(ctx context.Context, runID string) (*run.Run, error) {
	r, err := m.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.Replaying()
	r.Succeed()
	return r, m.store.Update(ctx, r)
}

func testApp() *app.App {
	return &app.App{
		Name: "crm",
		Automations: []schema.Automation{
			{
				ID:      1,
				Name:    "welcome",
				Trigger: schema.TriggerSchema{Service: schema.TriggerServiceWebhook, Event: schema.TriggerEventReceived},
				Actions: []schema.ActionSchema{
					{Name: "greet", Service: schema.ServiceHTTP, Action: schema.ActionPost},
				},
			},
			{ID: 2, Name: "nightly", Trigger: schema.TriggerSchema{Service: schema.TriggerServiceSchedule, Event: schema.TriggerEventCronTime, CronTime: "0 0 * * *"}},
		},
	}
}

type fixture struct {
	srv    *httptest.Server
	runner *mockRunner
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	a := testApp()
	runner := &mockRunner{app: a, store: s}
	hub := streaming.NewMemoryHub()
	panel := NewPanelServer(PanelDeps{Runner: runner, Automations: a, Store: s, Hub: hub})
	srv := httptest.NewServer(panel.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, runner: runner, store: s, hub: hub}
}
