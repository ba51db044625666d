package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/sovrium/sovrium/pkg/schema"
)

// Registry is the concrete thread-safe ActionRegistry implementation.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return action, nil
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterIntegration registers the actions of one integration service.
// Each action is exposed as "service.action" and must be one of the actions
// the service declares in schema.IntegrationActions.
func (r *Registry) RegisterIntegration(service string, acts []Action) (int, error) {
	if !schema.IsIntegrationService(service) {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "unknown integration %q", service)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, a := range acts {
		if _, err := schema.ParseActionKind(service, a.Name()); err != nil {
			return registered, err
		}
		name := Key(service, a.Name())
		if _, exists := r.actions[name]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "integration action %q already registered", name)
		}
		r.actions[name] = &integrationAction{inner: a, name: name}
		registered++
	}
	return registered, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// integrationAction exposes an integration action under its service prefix
// and refuses to run without a connection.
type integrationAction struct {
	inner Action
	name  string
}

func (p *integrationAction) Name() string                         { return p.name }
func (p *integrationAction) Schema() ActionSchema                 { return p.inner.Schema() }
func (p *integrationAction) Validate(params map[string]any) error { return p.inner.Validate(params) }

func (p *integrationAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if input.Connection == nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: no connection", p.name)
	}
	return p.inner.Execute(ctx, input)
}
