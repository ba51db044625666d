package run

import (
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

// Step is one node of a run's step tree. It is either an *ActionStep or a
// *PathsStep; no other implementations exist.
type Step interface {
	StepName() string
	isStep()
}

// StepError is the failure recorded on a step.
type StepError struct {
	Message string `json:"message"`
}

// TriggerStep is step 0 of every run. It is produced once at run creation.
type TriggerStep struct {
	Schema schema.TriggerSchema `json:"schema"`
	Input  any                  `json:"input,omitempty"`
	Output any                  `json:"output,omitempty"`
}

// ActionStep records one dispatched action.
type ActionStep struct {
	Schema     schema.ActionSchema `json:"schema"`
	Input      map[string]any      `json:"input,omitempty"`
	Output     any                 `json:"output,omitempty"`
	Error      *StepError          `json:"error,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}

func (s *ActionStep) StepName() string { return s.Schema.Name }
func (*ActionStep) isStep()            {}

// Finished reports whether the step reached success, filter or stop.
func (s *ActionStep) Finished() bool { return s.FinishedAt != nil }

// PathsStep records a split-into-paths action: one entry per declared path.
type PathsStep struct {
	Schema     schema.ActionRef `json:"schema"`
	Paths      []*PathStep      `json:"paths"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}

func (s *PathsStep) StepName() string { return s.Schema.Name }
func (*PathsStep) isStep()            {}

// Path returns the entry named name, or nil.
func (s *PathsStep) Path(name string) *PathStep {
	for _, p := range s.Paths {
		if p.Schema.Name == name {
			return p
		}
	}
	return nil
}

// PathSchema is the part of a path definition recorded on the run.
type PathSchema struct {
	Name   string        `json:"name"`
	Filter schema.Filter `json:"filter"`
}

// PathStep is one branch of a PathsStep. Actions holds the steps executed
// inside the branch and may itself contain nested paths steps.
type PathStep struct {
	Schema  PathSchema           `json:"schema"`
	Input   any                  `json:"input,omitempty"`
	Output  *schema.FilterResult `json:"output,omitempty"`
	Actions []Step               `json:"actions"`
}

// NewPathStep builds a path entry with an empty actions list.
func NewPathStep(def schema.PathSchema, input any, output schema.FilterResult) *PathStep {
	return &PathStep{
		Schema:  PathSchema{Name: def.Name, Filter: def.Filter},
		Input:   input,
		Output:  &output,
		Actions: []Step{},
	}
}

// CanContinue reports whether the path's filter let the branch run.
func (p *PathStep) CanContinue() bool {
	return p.Output != nil && p.Output.CanContinue
}

// hasError reports whether any action below steps recorded an error.
func hasError(steps []Step) bool {
	for _, s := range steps {
		switch st := s.(type) {
		case *ActionStep:
			if st.Error != nil {
				return true
			}
		case *PathsStep:
			for _, p := range st.Paths {
				if hasError(p.Actions) {
					return true
				}
			}
		}
	}
	return false
}

// firstError returns the first recorded error message below steps, depth first.
func firstError(steps []Step) string {
	for _, s := range steps {
		switch st := s.(type) {
		case *ActionStep:
			if st.Error != nil {
				return st.Error.Message
			}
		case *PathsStep:
			for _, p := range st.Paths {
				if msg := firstError(p.Actions); msg != "" {
					return msg
				}
			}
		}
	}
	return ""
}

// outputs builds the name -> output mapping of steps.
func outputs(steps []Step) map[string]any {
	out := make(map[string]any, len(steps))
	for _, s := range steps {
		switch st := s.(type) {
		case *ActionStep:
			out[st.Schema.Name] = st.Output
		case *PathsStep:
			paths := make(map[string]any, len(st.Paths))
			for _, p := range st.Paths {
				paths[p.Schema.Name] = outputs(p.Actions)
			}
			out[st.Schema.Name] = paths
		}
	}
	return out
}

// lastLeaf returns the most recently appended leaf step, descending into the
// last path of a trailing paths step.
func lastLeaf(steps []Step) Step {
	if len(steps) == 0 {
		return nil
	}
	last := steps[len(steps)-1]
	ps, ok := last.(*PathsStep)
	if !ok || len(ps.Paths) == 0 {
		return last
	}
	if leaf := lastLeaf(ps.Paths[len(ps.Paths)-1].Actions); leaf != nil {
		return leaf
	}
	return last
}
