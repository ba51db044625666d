package expressions

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/sovrium/sovrium/pkg/schema"
)

// FilterEvaluator decides condition sets against a run's steps output.
type FilterEvaluator struct {
	cel    *CELEngine
	interp *Interpolator
}

// NewFilterEvaluator creates a FilterEvaluator. Expression conditions are
// evaluated with cel.
func NewFilterEvaluator(cel *CELEngine, interp *Interpolator) *FilterEvaluator {
	if interp == nil {
		interp = NewInterpolator()
	}
	return &FilterEvaluator{cel: cel, interp: interp}
}

// Evaluate returns whether f holds for data. An error means the condition
// could not be decided (bad operands, CEL failure, malformed filter); it is
// not a "false" decision.
func (fe *FilterEvaluator) Evaluate(ctx context.Context, f schema.Filter, data map[string]any) (bool, error) {
	switch {
	case len(f.And) > 0:
		for i, sub := range f.And {
			ok, err := fe.Evaluate(ctx, sub, data)
			if err != nil {
				return false, fmt.Errorf("and[%d]: %w", i, err)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case len(f.Or) > 0:
		for i, sub := range f.Or {
			ok, err := fe.Evaluate(ctx, sub, data)
			if err != nil {
				return false, fmt.Errorf("or[%d]: %w", i, err)
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case f.Expression != "":
		return fe.evaluateExpression(ctx, f.Expression, data)

	case f.Operator != "":
		return fe.evaluateCondition(f, data)

	default:
		return false, schema.NewError(schema.ErrCodeFilter, "empty filter: set and, or, expression or operator")
	}
}

// Decide wraps Evaluate into a FilterResult, recording an evaluation error as
// a negative decision.
func (fe *FilterEvaluator) Decide(ctx context.Context, f schema.Filter, data map[string]any) schema.FilterResult {
	ok, err := fe.Evaluate(ctx, f, data)
	if err != nil {
		return schema.FilterResult{CanContinue: false, Error: schema.Message(err)}
	}
	return schema.FilterResult{CanContinue: ok}
}

func (fe *FilterEvaluator) evaluateExpression(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if fe.cel == nil {
		return false, schema.NewError(schema.ErrCodeFilter, "expression filters are not available: no CEL engine")
	}
	out, err := fe.cel.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeFilter,
			"expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (fe *FilterEvaluator) evaluateCondition(f schema.Filter, data map[string]any) (bool, error) {
	if f.Target == "" {
		return false, schema.NewErrorf(schema.ErrCodeFilter, "operator %q has no target", f.Operator)
	}
	target, found := Lookup(data, unwrapReference(f.Target))

	value, err := fe.interp.ResolveValue(f.Value, data)
	if err != nil {
		return false, err
	}

	switch f.Operator {
	case schema.OperatorExists:
		return found && target != nil, nil
	case schema.OperatorDoesNotExist:
		return !found || target == nil, nil
	case schema.OperatorIs:
		return found && equalValues(target, value), nil
	case schema.OperatorIsNot:
		return !found || !equalValues(target, value), nil
	case schema.OperatorContains:
		return contains(target, value), nil
	case schema.OperatorDoesNotContain:
		return !contains(target, value), nil
	case schema.OperatorStartsWith:
		s, ok := target.(string)
		return ok && strings.HasPrefix(s, stringify(value)), nil
	case schema.OperatorEndsWith:
		s, ok := target.(string)
		return ok && strings.HasSuffix(s, stringify(value)), nil
	case schema.OperatorGreaterThan, schema.OperatorLessThan:
		a, aok := toFloat(target)
		b, bok := toFloat(value)
		if !aok || !bok {
			return false, schema.NewErrorf(schema.ErrCodeFilter,
				"operator %q needs numbers, got %T and %T", f.Operator, target, value).
				WithDetails(map[string]any{"target": f.Target})
		}
		if f.Operator == schema.OperatorGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case schema.OperatorIsTrue:
		b, ok := toBool(target)
		return ok && b, nil
	case schema.OperatorIsFalse:
		b, ok := toBool(target)
		return ok && !b, nil
	case schema.OperatorIsEmpty:
		return isEmpty(target), nil
	case schema.OperatorIsNotEmpty:
		return !isEmpty(target), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeFilter, "unknown operator %q", f.Operator)
	}
}

// unwrapReference accepts both "trigger.email" and "{{trigger.email}}".
func unwrapReference(target string) string {
	if ref, ok := wholeReference(strings.TrimSpace(target)); ok {
		return ref
	}
	return target
}

func equalValues(a, b any) bool {
	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			return fa == fb
		}
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr || bStr {
		return stringify(a) == stringify(b)
	}
	return reflect.DeepEqual(a, b)
}

func contains(target, value any) bool {
	switch t := target.(type) {
	case string:
		return strings.Contains(t, stringify(value))
	case []any:
		for _, e := range t {
			if equalValues(e, value) {
				return true
			}
		}
	case map[string]any:
		_, ok := t[stringify(value)]
		return ok
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// toNumber converts numeric Go values only.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// toFloat also parses numeric strings.
func toFloat(v any) (float64, bool) {
	if f, ok := toNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}
