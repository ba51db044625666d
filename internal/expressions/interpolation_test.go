package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/pkg/schema"
)

func stepsOutput() map[string]any {
	return map[string]any{
		"trigger": map[string]any{
			"body": map[string]any{"name": "Ada", "age": float64(36), "tags": []any{"vip", "beta"}},
		},
		"fetch": map[string]any{
			"items": []any{map[string]any{"id": "a1"}, map[string]any{"id": "b2"}},
		},
		"split": map[string]any{
			"vip": map[string]any{"send": map[string]any{"messageId": "m-1"}},
		},
	}
}

func TestInterpolator_NoReferences(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{"url": "https://example.com", "count": 42}, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"url": "https://example.com", "count": 42}, out)
}

func TestInterpolator_NilParams(t *testing.T) {
	out, err := NewInterpolator().Resolve(nil, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

func TestInterpolator_WholeReferenceKeepsType(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{
		"age":  "{{trigger.body.age}}",
		"tags": "{{ trigger.body.tags }}",
		"body": "{{trigger.body}}",
	}, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, float64(36), out["age"])
	assert.Equal(t, []any{"vip", "beta"}, out["tags"])
	assert.IsType(t, map[string]any{}, out["body"])
}

func TestInterpolator_EmbeddedReferences(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{
		"greeting": "Hello {{trigger.body.name}}, you are {{trigger.body.age}}",
		"tags":     "tags={{trigger.body.tags}}",
	}, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you are 36", out["greeting"])
	assert.Equal(t, `tags=["vip","beta"]`, out["tags"])
}

func TestInterpolator_NestedStructures(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{
		"records": []any{
			map[string]any{"ref": "{{fetch.items.1.id}}"},
			"{{split.vip.send.messageId}}",
		},
	}, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"ref": "b2"}, "m-1"}, out["records"])
}

func TestInterpolator_DoesNotMutateParams(t *testing.T) {
	params := map[string]any{"nested": map[string]any{"v": "{{trigger.body.name}}"}}
	_, err := NewInterpolator().Resolve(params, stepsOutput())
	require.NoError(t, err)
	assert.Equal(t, "{{trigger.body.name}}", params["nested"].(map[string]any)["v"])
}

func TestInterpolator_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing field", input: "{{trigger.body.email}}"},
		{name: "missing step", input: "{{nope.x}}"},
		{name: "index out of range", input: "{{fetch.items.5.id}}"},
		{name: "traverse scalar", input: "{{trigger.body.name.first}}"},
		{name: "unclosed", input: "hello {{trigger.body.name"},
		{name: "empty", input: "x {{ }} y"},
		{name: "empty segment", input: "{{trigger..body}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInterpolator().Resolve(map[string]any{"v": tt.input}, stepsOutput())
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation))
		})
	}
}

func TestLookup(t *testing.T) {
	v, ok := Lookup(stepsOutput(), "fetch.items.0.id")
	assert.True(t, ok)
	assert.Equal(t, "a1", v)

	_, ok = Lookup(stepsOutput(), "fetch.items.9")
	assert.False(t, ok)
}
