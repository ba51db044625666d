package run

import (
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

func cloneSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		switch st := s.(type) {
		case *ActionStep:
			out = append(out, &ActionStep{
				Schema:     st.Schema,
				Input:      copyMap(st.Input),
				Output:     copyValue(st.Output),
				Error:      copyError(st.Error),
				StartedAt:  st.StartedAt,
				FinishedAt: copyTime(st.FinishedAt),
			})
		case *PathsStep:
			paths := make([]*PathStep, 0, len(st.Paths))
			for _, p := range st.Paths {
				var output *schema.FilterResult
				if p.Output != nil {
					o := *p.Output
					output = &o
				}
				paths = append(paths, &PathStep{
					Schema:  p.Schema,
					Input:   copyValue(p.Input),
					Output:  output,
					Actions: cloneSteps(p.Actions),
				})
			}
			out = append(out, &PathsStep{
				Schema:     st.Schema,
				Paths:      paths,
				StartedAt:  st.StartedAt,
				FinishedAt: copyTime(st.FinishedAt),
			})
		}
	}
	return out
}

// copyValue deep-copies JSON-shaped values (maps, slices, scalars).
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyError(e *StepError) *StepError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
