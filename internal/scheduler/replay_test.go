package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/engine"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/schema"
)

func newLibSQLStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// perItem fans out over trigger.items and multiplies each item by ten.
var perItem = schema.Automation{
	ID:      1,
	Name:    "per-item",
	Trigger: schema.TriggerSchema{Service: schema.TriggerServiceWebhook, Event: schema.TriggerEventReceived},
	Actions: []schema.ActionSchema{
		{Name: "item", Service: schema.ServiceData, Action: schema.ActionTransform, Params: map[string]any{"query": ".trigger.items"}},
		{Name: "scaled", Service: schema.ServiceData, Action: schema.ActionCompute, Params: map[string]any{"expression": "item * 10"}},
	},
}

func newExecutor(t *testing.T, s store.RunStore, a *app.App) *engine.Executor {
	t.Helper()
	reg := actions.NewRegistry()
	require.NoError(t, reg.Register(actions.NewTransformAction(expressions.NewGoJQEngine())))
	require.NoError(t, reg.Register(actions.NewComputeAction(expressions.NewExprEngine())))
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	exec, err := engine.NewExecutor(engine.ExecutorConfig{
		App:     a,
		Store:   s,
		Runner:  actions.NewRunner(reg, nil, nil),
		Filters: expressions.NewFilterEvaluator(cel, nil),
	})
	require.NoError(t, err)
	return exec
}

func TestReplayQueue_ContinuesFanOutClones(t *testing.T) {
	ctx := context.Background()
	s := newLibSQLStore(t)
	a := &app.App{Name: "test", Automations: []schema.Automation{perItem}}
	exec := newExecutor(t, s, a)

	original, err := exec.Trigger(ctx, &a.Automations[0], map[string]any{"items": []any{1.0, 2.0, 3.0}})
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusSuccess, original.Status)

	q := NewReplayQueue(s, exec, ReplayConfig{})
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	runs, err := s.ListRuns(ctx, store.RunFilter{AutomationID: 1})
	require.NoError(t, err)
	require.Len(t, runs, 3)

	var scaled []any
	for _, r := range runs {
		assert.Equal(t, schema.RunStatusSuccess, r.Status)
		assert.False(t, r.ToReplay)
		step, err := r.GetStep("scaled")
		require.NoError(t, err)
		scaled = append(scaled, step.(*run.ActionStep).Output)
	}
	assert.ElementsMatch(t, []any{10.0, 20.0, 30.0}, scaled)

	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "queue is empty")
}

func TestReplayQueue_DropsRunsOfRemovedAutomations(t *testing.T) {
	ctx := context.Background()
	s := newLibSQLStore(t)
	exec := newExecutor(t, s, &app.App{Name: "empty"})

	orphan := run.New(42, run.TriggerStep{})
	orphan.QueueReplay()
	require.NoError(t, s.Create(ctx, orphan))

	q := NewReplayQueue(s, exec, ReplayConfig{})
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := s.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.False(t, stored.ToReplay)
}

func TestReplayQueue_StartStop(t *testing.T) {
	s := newLibSQLStore(t)
	q := NewReplayQueue(s, newExecutor(t, s, &app.App{}), ReplayConfig{})

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	assert.Error(t, q.Start(ctx))
	require.NoError(t, q.Stop())
	require.NoError(t, q.Stop())
}
