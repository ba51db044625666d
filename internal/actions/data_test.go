package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/pkg/schema"
)

func stepsContext() map[string]any {
	return map[string]any{
		"trigger": map[string]any{"body": map[string]any{"plan": "pro"}},
		"fetch": map[string]any{
			"body": []any{
				map[string]any{"email": "a@x.io", "score": float64(10)},
				map[string]any{"email": "b@x.io", "score": float64(30)},
			},
		},
	}
}

func newBuiltinRunner(t *testing.T, records RecordWriter) *Runner {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{Records: records}))
	return NewRunner(reg, nil, nil)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))
	for _, name := range []string{"http.get", "http.post", "code.run-javascript", "code.run-typescript", "data.transform", "data.compute"} {
		assert.True(t, reg.Has(name), name)
	}
	assert.False(t, reg.Has("database.create-record"))

	reg = NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{Records: &fakeRecords{}}))
	assert.True(t, reg.Has("database.create-record"))
}

func TestTransformAction(t *testing.T) {
	runner := newBuiltinRunner(t, nil)

	out, err := runner.Run(context.Background(), "data.transform", ActionInput{
		Params:  map[string]any{"query": `.fetch.body | map(select(.score > 20)) | map(.email)`},
		Context: stepsContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"b@x.io"}, out)

	out, err = runner.Run(context.Background(), "data.transform", ActionInput{
		Params:  map[string]any{"query": `.name`, "input": map[string]any{"name": "explicit"}},
		Context: stepsContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", out)
}

func TestTransformAction_Errors(t *testing.T) {
	runner := newBuiltinRunner(t, nil)

	_, err := runner.Run(context.Background(), "data.transform", ActionInput{Params: map[string]any{}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = runner.Run(context.Background(), "data.transform", ActionInput{
		Params:  map[string]any{"query": `.trigger.body.plan | tonumber`},
		Context: stepsContext(),
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeActionExecution))
}

func TestComputeAction(t *testing.T) {
	runner := newBuiltinRunner(t, nil)

	out, err := runner.Run(context.Background(), "data.compute", ActionInput{
		Params: map[string]any{
			"expression": `sum(map(fetch.body, .score)) * factor`,
			"variables":  map[string]any{"factor": 2},
		},
		Context: stepsContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(80), out)

	out, err = runner.Run(context.Background(), "data.compute", ActionInput{
		Params:  map[string]any{"expression": `trigger.body.plan == "pro" ? "priority" : "standard"`},
		Context: stepsContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, "priority", out)
}

func TestDataActions_SharedEngines(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	a := NewTransformAction(jq)
	assert.Equal(t, "data.transform", a.Name())
	assert.Equal(t, "data.compute", NewComputeAction(expressions.NewExprEngine()).Name())
}
