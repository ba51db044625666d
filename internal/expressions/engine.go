package expressions

import "context"

// Engine evaluates expressions against a run's accumulated step outputs.
// Three implementations: CEL (filter conditions), GoJQ (data transforms),
// Expr (data computations).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
