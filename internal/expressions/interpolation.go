package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sovrium/sovrium/pkg/schema"
)

// Interpolator resolves {{...}} references in action params against a run's
// steps output ("trigger" plus one entry per executed step).
//
// A reference is a dotted path: {{trigger.body.email}}, {{fetch.items.0.id}},
// {{split.vip.send.messageId}}. When a string is exactly one reference the
// resolved value keeps its type; references embedded in a longer string are
// stringified in place.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve returns a copy of params with every string value resolved. Maps and
// slices are walked recursively; other values are copied as is.
func (interp *Interpolator) Resolve(params map[string]any, data map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	out, err := interp.ResolveValue(params, data)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// ResolveValue resolves a single value of any JSON shape.
func (interp *Interpolator) ResolveValue(v any, data map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return interp.resolveString(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := interp.ResolveValue(e, data)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := interp.ResolveValue(e, data)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (interp *Interpolator) resolveString(input string, data map[string]any) (any, error) {
	if !HasInterpolation(input) {
		return input, nil
	}

	trimmed := strings.TrimSpace(input)
	if ref, ok := wholeReference(trimmed); ok {
		return interp.resolveRef(ref, data)
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}
		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "unclosed {{ in %q", input)
		}
		end += start

		val, err := interp.resolveRef(input[start:end], data)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(val))
		i = end + 2
	}

	return result.String(), nil
}

func (interp *Interpolator) resolveRef(raw string, data map[string]any) (any, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty reference {{}}")
	}
	if strings.Contains(ref, "{{") {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"nested reference not allowed in {{%s}}", ref)
	}

	val, err := traversePath(data, ref)
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Lookup reads the value at a dotted path. The boolean is false when any
// segment is missing.
func Lookup(data map[string]any, path string) (any, bool) {
	val, err := traversePath(data, strings.TrimSpace(path))
	if err != nil {
		return nil, false
	}
	return val, true
}

// traversePath walks maps by key and slices by numeric index.
func traversePath(root map[string]any, path string) (any, error) {
	segments := strings.Split(path, ".")
	var current any = root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in %q at position %d", path, i).
				WithDetails(map[string]any{"reference": path})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				available := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in {{%s}}; available: [%s]", seg, path, strings.Join(available, ", ")).
					WithDetails(map[string]any{"reference": path, "available_fields": available})
			}
			current = val
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(v) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"index %q out of range in {{%s}} (length %d)", seg, path, len(v)).
					WithDetails(map[string]any{"reference": path})
			}
			current = v[n]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in {{%s}} (type: %T)", seg, path, current).
				WithDetails(map[string]any{"reference": path})
		}
	}

	return current, nil
}

// wholeReference reports whether s is exactly one {{...}} reference.
func wholeReference(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") || len(s) < 4 {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}

// stringify renders a resolved value inside a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation reports whether s contains a {{...}} reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "{{")
}
