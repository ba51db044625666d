package actions

import (
	"context"
	"encoding/json"

	"github.com/sovrium/sovrium/pkg/schema"
)

// Action is one executable (service, action) pair. Built-in actions are
// registered as "service.action" (e.g. "http.get"); integrations the same way
// (e.g. "notion.create-page").
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the input contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	// Params are the action's declared params, already interpolated.
	Params map[string]any `json:"params"`
	// Context is the run's steps output at dispatch time.
	Context map[string]any `json:"context,omitempty"`
	// Connection is set for integration actions.
	Connection *schema.Connection `json:"-"`
	// Table is set for database actions.
	Table *schema.Table `json:"-"`
}

// ActionOutput is the result of an action execution.
type ActionOutput struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Key returns the registry name of a (service, action) pair.
func Key(service, action string) string {
	return service + "." + action
}

// jsonOutput marshals v into an ActionOutput.
func jsonOutput(name string, v any) (*ActionOutput, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: failed to marshal output", name).WithCause(err)
	}
	return &ActionOutput{Data: data}, nil
}
