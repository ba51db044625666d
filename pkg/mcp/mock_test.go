package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/schema"
)

// mockRunner records runs in the store without executing actions.
type mockRunner struct {
	app   *app.App
	store store.RunStore

	status    schema.RunStatus
	triggered []any
	replayed  []string
}

func (m *mockRunner) TriggerByName(ctx context.Context, nameOrID string, payload any) (*run.Run, error) {
	automation, err := m.app.FindAutomation(nameOrID)
	if err != nil {
		return nil, err
	}
	m.triggered = append(m.triggered, payload)
	r := run.New(automation.ID, run.TriggerStep{Input: payload, Output: payload})
	if m.status == schema.RunStatusStopped {
		_ = r.StopActionStep(run.ExecutionStep, "mail server down")
	} else {
		r.Succeed()
	}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *mockRunner) Replay(ctx context.Context, runID string) (*run.Run, error) {
	r, err := m.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	m.replayed = append(m.replayed, runID)
	r.Replaying()
	r.Succeed()
	return r, m.store.Update(ctx, r)
}

func testApp() *app.App {
	return &app.App{
		Name: "test",
		Automations: []schema.Automation{
			{ID: 1, Name: "welcome", Trigger: schema.TriggerSchema{Service: schema.TriggerServiceWebhook, Event: schema.TriggerEventReceived}},
			{ID: 2, Name: "nightly", Trigger: schema.TriggerSchema{Service: schema.TriggerServiceSchedule, Event: schema.TriggerEventCronTime, CronTime: "0 0 * * *"}},
		},
	}
}

type fixture struct {
	server *Server
	runner *mockRunner
	store  *store.LibSQLStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	a := testApp()
	runner := &mockRunner{app: a, store: s}
	return &fixture{
		server: NewServer(ServerDeps{Runner: runner, Automations: a, Store: s}),
		runner: runner,
		store:  s,
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
