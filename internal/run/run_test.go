package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/pkg/schema"
)

func newTestRun() *Run {
	return New(1, TriggerStep{
		Schema: schema.TriggerSchema{Service: schema.TriggerServiceHTTP, Event: schema.TriggerEventPost, Path: "/lead"},
		Output: map[string]any{"y": 2},
	})
}

func action(name string) schema.ActionSchema {
	return schema.ActionSchema{Name: name, Service: schema.ServiceData, Action: schema.ActionTransform}
}

func splitRef(name string) schema.ActionRef {
	return schema.ActionRef{Name: name, Service: schema.ServiceFilter, Action: schema.ActionSplitIntoPaths}
}

func pathEntries(names ...string) []*PathStep {
	out := make([]*PathStep, 0, len(names))
	for _, n := range names {
		out = append(out, NewPathStep(schema.PathSchema{Name: n}, nil, schema.FilterResult{CanContinue: true}))
	}
	return out
}

func TestNew(t *testing.T) {
	r := newTestRun()
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 1, r.AutomationID)
	assert.Equal(t, schema.RunStatusPlaying, r.Status)
	assert.Empty(t, r.Steps)
	require.NotNil(t, r.Trigger)
	assert.False(t, r.ToReplay)
}

func TestStartAndSucceedActionStep(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("foo", action("foo"), map[string]any{"a": 1}))

	assert.True(t, r.IsStepExecuted("foo"))
	assert.False(t, r.IsStepExecutedWithSuccess("foo"), "unfinished step is not a success")

	require.NoError(t, r.SuccessActionStep("foo", map[string]any{"x": 1}))
	assert.True(t, r.IsStepExecutedWithSuccess("foo"))
	assert.Equal(t, schema.RunStatusPlaying, r.Status)
}

func TestStartActionStep_Duplicate(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("foo", action("foo"), nil))
	err := r.StartActionStep("foo", action("foo"), nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestStepsOutput(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("foo", action("foo"), nil))
	require.NoError(t, r.SuccessActionStep("foo", map[string]any{"x": 1}))

	assert.Equal(t, map[string]any{
		"foo":     map[string]any{"x": 1},
		"trigger": map[string]any{"y": 2},
	}, r.StepsOutput())
}

func TestStepsOutput_NestedPaths(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("vip", "other")))
	require.NoError(t, r.StartActionStep("split.vip.send", action("send"), nil))
	require.NoError(t, r.SuccessActionStep("split.vip.send", "ok"))

	out := r.StepsOutput()
	assert.Equal(t, map[string]any{
		"vip":   map[string]any{"send": "ok"},
		"other": map[string]any{},
	}, out["split"])
}

func TestIsStepExecutedWithSuccess(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("ok", action("ok"), nil))
	require.NoError(t, r.SuccessActionStep("ok", 1))
	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("a", "b")))
	require.NoError(t, r.StartActionStep("split.a.one", action("one"), nil))
	require.NoError(t, r.SuccessActionStep("split.a.one", 1))

	assert.True(t, r.IsStepExecutedWithSuccess("ok"))
	assert.True(t, r.IsStepExecutedWithSuccess("split"))
	assert.False(t, r.IsStepExecutedWithSuccess("missing"))

	require.NoError(t, r.StartActionStep("split.b.two", action("two"), nil))
	require.NoError(t, r.StopActionStep("split.b.two", "boom"))
	assert.False(t, r.IsStepExecutedWithSuccess("split"))
	assert.False(t, r.IsStepExecutedWithSuccess("split.b.two"))
	assert.True(t, r.IsStepExecutedWithSuccess("split.a.one"))
}

func TestFilterActionStep(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("gate", action("gate"), nil))
	require.NoError(t, r.FilterActionStep("gate", schema.FilterResult{CanContinue: false}))
	assert.Equal(t, schema.RunStatusFiltered, r.Status)
	assert.True(t, r.IsStepExecutedWithSuccess("gate"))
}

func TestFilterActionStep_NoopWhenNotPlaying(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("a", action("a"), nil))
	require.NoError(t, r.StopActionStep("a", "boom"))
	require.NoError(t, r.StartActionStep("gate", action("gate"), nil))

	require.NoError(t, r.FilterActionStep("gate", schema.FilterResult{CanContinue: false}))
	assert.Equal(t, schema.RunStatusStopped, r.Status)
}

func TestStopActionStep(t *testing.T) {
	t.Run("from playing", func(t *testing.T) {
		r := newTestRun()
		require.NoError(t, r.StartActionStep("a", action("a"), nil))
		require.NoError(t, r.StopActionStep("a", "boom"))
		assert.Equal(t, schema.RunStatusStopped, r.Status)
		assert.Equal(t, "boom", r.ErrorMessage())
	})

	t.Run("from filtered", func(t *testing.T) {
		r := newTestRun()
		require.NoError(t, r.StartActionStep("gate", action("gate"), nil))
		require.NoError(t, r.FilterActionStep("gate", schema.FilterResult{}))
		require.NoError(t, r.StartActionStep("a", action("a"), nil))
		require.NoError(t, r.StopActionStep("a", "boom"))
		assert.Equal(t, schema.RunStatusStopped, r.Status)
	})

	t.Run("refused after success", func(t *testing.T) {
		r := newTestRun()
		r.Succeed()
		err := r.StopActionStep("a", "boom")
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
		assert.Equal(t, schema.RunStatusSuccess, r.Status)
	})

	t.Run("unknown path records execution step", func(t *testing.T) {
		r := newTestRun()
		require.NoError(t, r.StopActionStep(ExecutionStep, "unexpected"))
		assert.Equal(t, schema.RunStatusStopped, r.Status)
		step, err := r.GetStep(ExecutionStep)
		require.NoError(t, err)
		as := step.(*ActionStep)
		require.NotNil(t, as.Error)
		assert.Equal(t, "unexpected", as.Error.Message)
	})

	t.Run("already stopped keeps recording", func(t *testing.T) {
		r := newTestRun()
		require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("a", "b")))
		require.NoError(t, r.StartActionStep("split.a.x", action("x"), nil))
		require.NoError(t, r.StartActionStep("split.b.y", action("y"), nil))
		require.NoError(t, r.StopActionStep("split.a.x", "first"))
		require.NoError(t, r.StopActionStep("split.b.y", "second"))

		step, err := r.GetStep("split.b.y")
		require.NoError(t, err)
		assert.Equal(t, "second", step.(*ActionStep).Error.Message)
		assert.Equal(t, "first", r.ErrorMessage())
	})
}

func TestSucceed(t *testing.T) {
	r := newTestRun()
	r.Succeed()
	assert.Equal(t, schema.RunStatusSuccess, r.Status)

	filtered := newTestRun()
	require.NoError(t, filtered.StartActionStep("gate", action("gate"), nil))
	require.NoError(t, filtered.FilterActionStep("gate", schema.FilterResult{}))
	filtered.Succeed()
	assert.Equal(t, schema.RunStatusFiltered, filtered.Status)
}

func TestFilter(t *testing.T) {
	r := newTestRun()
	r.Filter()
	assert.Equal(t, schema.RunStatusFiltered, r.Status)
	r.Filter()
	assert.Equal(t, schema.RunStatusFiltered, r.Status)

	done := newTestRun()
	done.Succeed()
	done.Filter()
	assert.Equal(t, schema.RunStatusSuccess, done.Status)
}

func TestReplaying(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("a", action("a"), nil))
	require.NoError(t, r.SuccessActionStep("a", 1))
	require.NoError(t, r.StopActionStep(ExecutionStep, "crash"))
	r.QueueReplay()
	assert.True(t, r.ToReplay)

	r.Replaying()
	assert.Equal(t, schema.RunStatusPlaying, r.Status)
	assert.False(t, r.ToReplay)
	assert.True(t, r.IsStepExecutedWithSuccess("a"))
	assert.False(t, r.IsStepExecuted(ExecutionStep))
	assert.Empty(t, r.ErrorMessage())
}

func TestRemoveStep(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("a", action("a"), nil))
	require.NoError(t, r.StartActionStep("b", action("b"), nil))
	require.NoError(t, r.RemoveStep("a"))
	assert.False(t, r.IsStepExecuted("a"))
	assert.True(t, r.IsStepExecuted("b"))

	err := r.RemoveStep("a")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepNotFound))
}

func TestStartActionPathsStep_ReplacePreservesActions(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("a", "b")))
	require.NoError(t, r.StartActionStep("split.a.one", action("one"), nil))
	require.NoError(t, r.SuccessActionStep("split.a.one", "kept"))

	replacement := []*PathStep{
		NewPathStep(schema.PathSchema{Name: "a"}, nil, schema.FilterResult{CanContinue: true}),
		NewPathStep(schema.PathSchema{Name: "b"}, nil, schema.FilterResult{CanContinue: false}),
	}
	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), replacement))

	require.Len(t, r.Steps, 1)
	assert.True(t, r.IsStepExecutedWithSuccess("split.a.one"))
	step, err := r.GetStep("split")
	require.NoError(t, err)
	assert.False(t, step.(*PathsStep).Path("b").CanContinue())
}

func TestStartActionPathsStep_ConflictWithActionStep(t *testing.T) {
	r := newTestRun()
	require.NoError(t, r.StartActionStep("split", action("split"), nil))
	err := r.StartActionPathsStep("split", splitRef("split"), pathEntries("a"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestLastActionStepData(t *testing.T) {
	r := newTestRun()
	assert.Equal(t, map[string]any{"y": 2}, r.LastActionStepData())

	require.NoError(t, r.StartActionStep("a", action("a"), nil))
	require.NoError(t, r.SuccessActionStep("a", "first"))
	assert.Equal(t, "first", r.LastActionStepData())

	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("p")))
	require.NoError(t, r.StartActionStep("split.p.b", action("b"), nil))
	require.NoError(t, r.SuccessActionStep("split.p.b", "nested"))
	assert.Equal(t, "nested", r.LastActionStepData())
}

func TestErrorMessage_DepthFirst(t *testing.T) {
	r := newTestRun()
	assert.Empty(t, r.ErrorMessage())

	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("a")))
	require.NoError(t, r.StartActionStep("split.a.inner", action("inner"), nil))
	require.NoError(t, r.StopActionStep("split.a.inner", "inner failed"))
	require.NoError(t, r.StopActionStep("later", "later failed"))

	assert.Equal(t, "inner failed", r.ErrorMessage())
}

func TestClone_Independent(t *testing.T) {
	r := newTestRun()
	r.FormID = 7
	require.NoError(t, r.StartActionStep("a", action("a"), map[string]any{"k": []any{1, 2}}))
	require.NoError(t, r.SuccessActionStep("a", map[string]any{"x": 1}))
	require.NoError(t, r.StartActionPathsStep("split", splitRef("split"), pathEntries("p")))
	require.NoError(t, r.StartActionStep("split.p.b", action("b"), nil))
	r.QueueReplay()

	c := r.Clone()
	assert.NotEqual(t, r.ID, c.ID)
	assert.Equal(t, r.AutomationID, c.AutomationID)
	assert.Equal(t, 7, c.FormID)
	assert.Equal(t, r.Status, c.Status)
	assert.False(t, c.ToReplay)
	assert.Equal(t, r.StepsOutput(), c.StepsOutput())

	require.NoError(t, c.SuccessActionStep("a", "changed"))
	c.Trigger.Output.(map[string]any)["y"] = 99
	require.NoError(t, c.SuccessActionStep("split.p.b", "clone only"))
	c.Steps[0].(*ActionStep).Input["k"].([]any)[0] = 100

	assert.Equal(t, map[string]any{"x": 1}, r.StepsOutput()["a"])
	assert.Equal(t, map[string]any{"y": 2}, r.Trigger.Output)
	assert.False(t, r.IsStepExecutedWithSuccess("split.p.b"))
	assert.Equal(t, []any{1, 2}, r.Steps[0].(*ActionStep).Input["k"])
}
