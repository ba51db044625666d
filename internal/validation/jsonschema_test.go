package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/pkg/schema"
)

const minimalApp = `{"name": "crm"}`

const fullApp = `{
  "name": "crm",
  "tables": [{"name": "leads", "fields": [{"name": "email", "type": "text", "required": true}]}],
  "connections": [{"name": "gmail", "service": "google-gmail", "credentials": {"token": "x"}}],
  "automations": [{
    "name": "new-lead",
    "trigger": {"service": "webhook", "event": "received", "path": "/leads"},
    "actions": [
      {"name": "check", "service": "filter", "action": "only-continue-if",
       "filter": {"and": [{"target": "trigger.email", "operator": "exists"}, {"expression": "trigger.score > 3"}]}},
      {"name": "route", "service": "filter", "action": "split-into-paths", "paths": [
        {"name": "vip", "filter": {"target": "trigger.tier", "operator": "is", "value": "vip"},
         "actions": [{"name": "mail", "service": "google-gmail", "action": "send-email", "account": "gmail"}]}
      ]}
    ]
  }]
}`

func sovriumError(t *testing.T, err error) *schema.SovriumError {
	t.Helper()
	var se *schema.SovriumError
	require.True(t, errors.As(err, &se), "want *SovriumError, got %T", err)
	return se
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.appSchema)
}

// --- ValidateDocument ---

func TestValidateDocument_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateDocument([]byte(minimalApp)))
	assert.NoError(t, v.ValidateDocument([]byte(fullApp)))
}

func TestValidateDocument_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `{nope`, "not valid JSON"},
		{"missing name", `{}`, "name"},
		{"unknown trigger service", `{"name":"a","automations":[{"name":"x","trigger":{"service":"email","event":"received"}}]}`, "/automations/0/trigger/service"},
		{"action without service", `{"name":"a","automations":[{"name":"x","trigger":{"service":"webhook","event":"received"},"actions":[{"name":"s","action":"get"}]}]}`, "service"},
		{"dotted step name", `{"name":"a","automations":[{"name":"x","trigger":{"service":"webhook","event":"received"},"actions":[{"name":"a.b","service":"http","action":"get"}]}]}`, "/automations/0/actions/0/name"},
		{"unknown operator", `{"name":"a","automations":[{"name":"x","trigger":{"service":"webhook","event":"received"},"actions":[{"name":"f","service":"filter","action":"only-continue-if","filter":{"target":"trigger.a","operator":"equals"}}]}]}`, "operator"},
		{"unknown action field", `{"name":"a","automations":[{"name":"x","trigger":{"service":"webhook","event":"received"},"actions":[{"name":"f","service":"http","action":"get","retry":3}]}]}`, "retry"},
		{"path without filter", `{"name":"a","automations":[{"name":"x","trigger":{"service":"webhook","event":"received"},"actions":[{"name":"s","service":"filter","action":"split-into-paths","paths":[{"name":"p","actions":[]}]}]}]}`, "filter"},
	}

	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument([]byte(tt.doc))
			require.Error(t, err)
			se := sovriumError(t, err)
			assert.Equal(t, schema.ErrCodeValidation, se.Code)

			text := se.Message
			if violations, ok := se.Details["violations"].([]string); ok {
				for _, vi := range violations {
					text += "\n" + vi
				}
			}
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestValidateValue_NilSlices(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	type doc struct {
		Name   string `json:"name"`
		Tables []struct {
			Name   string `json:"name"`
			Fields []any  `json:"fields"`
		} `json:"tables"`
	}
	d := doc{Name: "crm"}
	d.Tables = append(d.Tables, struct {
		Name   string `json:"name"`
		Fields []any  `json:"fields"`
	}{Name: "leads"})
	assert.NoError(t, v.ValidateValue(d), "nil slices encode as null")
}

// --- ValidateInput ---

func TestValidateInput_NilInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(nil, []byte(`{"type": "object"}`))
	se := sovriumError(t, err)
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
	assert.Contains(t, se.Message, "nil")
}

func TestValidateInput_EmptySchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, nil))
	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, []byte{}))
}

func TestValidateInput(t *testing.T) {
	httpSchema := []byte(`{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"timeout": {"type": "string"},
			"bodyEncoding": {"type": "string", "enum": ["json", "form", "text"]},
			"retries": {"type": "integer", "minimum": 0}
		}
	}`)

	tests := []struct {
		name    string
		input   map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"url": "https://example.com", "retries": 2}, false},
		{"missing required", map[string]any{"timeout": "1s"}, true},
		{"wrong type", map[string]any{"url": 42}, true},
		{"enum violation", map[string]any{"url": "https://example.com", "bodyEncoding": "xml"}, true},
		{"minimum violation", map[string]any{"url": "https://example.com", "retries": -1}, true},
	}

	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInput(tt.input, httpSchema)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateInput_MultipleErrors(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type": "object", "required": ["name", "age"]}`)
	err = v.ValidateInput(map[string]any{}, inputSchema)
	se := sovriumError(t, err)
	violations, ok := se.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{"foo": "bar"}, []byte(`{not json`))
	se := sovriumError(t, err)
	assert.Contains(t, se.Message, "invalid input schema")
}

func TestValidateInput_SchemaCaching(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type": "object", "properties": {"x": {"type": "integer"}}}`)
	require.NoError(t, v.ValidateInput(map[string]any{"x": 42}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"x": 7}, inputSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateInput_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	schema1 := []byte(`{"type": "object", "properties": {"a": {"type": "string"}}}`)
	schema2 := []byte(`{"type": "object", "properties": {"b": {"type": "integer"}}}`)

	var wg sync.WaitGroup
	errs := make([]error, 100)
	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if idx%2 == 0 {
				errs[idx] = v.ValidateInput(map[string]any{"a": "hello"}, schema1)
			} else {
				errs[idx] = v.ValidateInput(map[string]any{"b": 42}, schema2)
			}
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "goroutine %d", i)
	}
}
