package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

// ParamValidator validates params against a JSON Schema.
type ParamValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Runner executes registered actions and decodes their output into
// JSON-shaped values.
type Runner struct {
	registry  *Registry
	validator ParamValidator
	logger    *slog.Logger
}

// NewRunner creates a Runner. validator may be nil to skip schema checks.
func NewRunner(registry *Registry, validator ParamValidator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, validator: validator, logger: logger}
}

// Registry returns the registry the runner executes from.
func (r *Runner) Registry() *Registry { return r.registry }

// Run validates input.Params and executes the action registered as name.
func (r *Runner) Run(ctx context.Context, name string, input ActionInput) (any, error) {
	action, err := r.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if input.Params == nil {
		input.Params = map[string]any{}
	}
	if err := action.Validate(input.Params); err != nil {
		return nil, err
	}
	if r.validator != nil {
		if s := action.Schema().InputSchema; len(s) > 0 {
			if err := r.validator.ValidateInput(input.Params, s); err != nil {
				return nil, err
			}
		}
	}

	start := time.Now()
	out, err := action.Execute(ctx, input)
	r.logger.DebugContext(ctx, "action executed",
		slog.String("action", name),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil))
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Data) == 0 {
		return nil, nil
	}

	var data any
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: invalid output", name).WithCause(err)
	}
	return data, nil
}
