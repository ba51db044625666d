package validation

import (
	"errors"
	"fmt"
	"os"

	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/pkg/schema"
)

// AppValidator runs the two-stage validation of an app:
// 1. Structural (JSON Schema)
// 2. Semantic (scopes, references, action kinds, cron and CEL)
type AppValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
	cel        *expressions.CELEngine
}

// NewAppValidator creates an AppValidator. lookup and cel may be nil to skip
// the registry and CEL compile checks.
func NewAppValidator(lookup ActionLookup, cel *expressions.CELEngine) (*AppValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &AppValidator{jsonSchema: jsv, actions: lookup, cel: cel}, nil
}

// Validate checks an already parsed app. Structural errors skip the
// semantic stage.
func (v *AppValidator) Validate(a *app.App) *schema.ValidationResult {
	if a == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "app is nil")
		return r
	}
	result := structural(v.jsonSchema.ValidateValue(a))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(a, v.actions, v.cel))
	return result
}

// ValidateDocument checks a raw app document and parses it. The app is nil
// when the document is structurally invalid.
func (v *AppValidator) ValidateDocument(data []byte) (*app.App, *schema.ValidationResult) {
	result := structural(v.jsonSchema.ValidateDocument(data))
	if !result.Valid() {
		return nil, result
	}
	a, err := app.Parse(data)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, schema.Message(err))
		return nil, result
	}
	result.Merge(validateSemantic(a, v.actions, v.cel))
	return a, result
}

// Load reads, validates and parses an app file. Warnings are returned with
// the app; errors fail the load.
func (v *AppValidator) Load(path string) (*app.App, *schema.ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read app file: %w", err)
	}
	a, result := v.ValidateDocument(data)
	if err := result.ToError(); err != nil {
		return nil, result, err
	}
	return a, result, nil
}

// ValidateApp satisfies the Validator interface.
func (v *AppValidator) ValidateApp(a *app.App) error {
	return v.Validate(a).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (v *AppValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return v.jsonSchema.ValidateInput(input, inputSchema)
}

// structural converts a JSONSchemaValidator error into a ValidationResult,
// one issue per violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var se *schema.SovriumError
	if !errors.As(err, &se) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := se.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}
