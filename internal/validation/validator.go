package validation

import "github.com/sovrium/sovrium/internal/app"

// Validator checks app definitions before the engine runs them, and action
// params against their input schemas.
type Validator interface {
	ValidateApp(a *app.App) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether an action is registered under a
// "service.action" key. *actions.Registry satisfies it.
type ActionLookup interface {
	Has(name string) bool
}
