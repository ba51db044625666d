package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sovrium/sovrium/pkg/schema"
)

const appSchemaURL = "https://sovrium.dev/schemas/app.json"

// appSchemaJSON is the structural schema of an app document.
const appSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://sovrium.dev/schemas/app.json",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "tables": { "type": "array", "items": { "$ref": "#/$defs/table" } },
    "connections": { "type": "array", "items": { "$ref": "#/$defs/connection" } },
    "automations": { "type": "array", "items": { "$ref": "#/$defs/automation" } }
  },
  "$defs": {
    "id": { "type": "integer", "minimum": 0 },
    "stepName": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[^.{}]+$"
    },
    "table": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string", "minLength": 1 },
        "fields": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["name", "type"],
            "properties": {
              "name": { "type": "string", "minLength": 1 },
              "type": { "type": "string", "minLength": 1 },
              "required": { "type": "boolean" }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "connection": {
      "type": "object",
      "required": ["name", "service"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string", "minLength": 1 },
        "service": { "type": "string", "minLength": 1 },
        "credentials": { "type": "object", "additionalProperties": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "automation": {
      "type": "object",
      "required": ["name", "trigger"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string", "minLength": 1 },
        "trigger": { "$ref": "#/$defs/trigger" },
        "actions": { "type": ["array", "null"], "items": { "$ref": "#/$defs/action" } }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["service", "event"],
      "properties": {
        "service": { "type": "string", "enum": ["http", "webhook", "schedule", "database"] },
        "event": { "type": "string", "minLength": 1 },
        "path": { "type": "string" },
        "cronTime": { "type": "string" },
        "timeZone": { "type": "string" },
        "table": { "type": "string" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["name", "service", "action"],
      "properties": {
        "name": { "$ref": "#/$defs/stepName" },
        "service": { "type": "string", "minLength": 1 },
        "action": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "account": { "type": "string" },
        "table": { "type": "string" },
        "filter": { "$ref": "#/$defs/filter" },
        "paths": { "type": "array", "items": { "$ref": "#/$defs/path" } }
      },
      "additionalProperties": false
    },
    "path": {
      "type": "object",
      "required": ["name", "filter"],
      "properties": {
        "name": { "$ref": "#/$defs/stepName" },
        "filter": { "$ref": "#/$defs/filter" },
        "actions": { "type": ["array", "null"], "items": { "$ref": "#/$defs/action" } }
      },
      "additionalProperties": false
    },
    "filter": {
      "type": "object",
      "properties": {
        "and": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/filter" } },
        "or": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/filter" } },
        "expression": { "type": "string", "minLength": 1 },
        "target": { "type": "string" },
        "operator": {
          "type": "string",
          "enum": [
            "exists", "does-not-exist", "is", "is-not", "contains", "does-not-contain",
            "starts-with", "ends-with", "greater-than", "less-than",
            "is-true", "is-false", "is-empty", "is-not-empty"
          ]
        },
        "value": {}
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates app documents and action params with JSON
// Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	appSchema *jsonschema.Schema

	// mu guards the cache of compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the app schema
// compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(appSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal app schema: %w", err)
	}
	if err := c.AddResource(appSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add app schema resource: %w", err)
	}
	compiled, err := c.Compile(appSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile app schema: %w", err)
	}

	return &JSONSchemaValidator{
		appSchema: compiled,
		cache:     make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a raw app document.
func (v *JSONSchemaValidator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "app document is not valid JSON: %v", err).WithCause(err)
	}
	if err := v.appSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateValue validates any value that encodes to an app document.
func (v *JSONSchemaValidator) ValidateValue(value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize app").WithCause(err)
	}
	return v.ValidateDocument(b)
}

// ValidateInput validates input against a JSON Schema given as raw bytes.
// Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// One compiler per schema: resources never collide.
	url := fmt.Sprintf("sovrium://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toValidationError flattens a jsonschema.ValidationError into one
// VALIDATION_ERROR listing every violation in details.
func toValidationError(err error) *schema.SovriumError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations returns the leaf messages of a ValidationError tree,
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
