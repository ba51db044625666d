// Package run holds the state of one automation execution: the trigger step,
// the tree of action and paths steps recorded so far, and the run status.
//
// A Run is owned by the single orchestration driving it; its methods do no
// locking.
package run

import (
	"time"

	"github.com/google/uuid"

	"github.com/sovrium/sovrium/pkg/schema"
)

// ExecutionStep is the name of the synthetic step recorded when a run is
// stopped by an error that belongs to no dispatched action.
const ExecutionStep = "execution"

// TriggerName is the key of the trigger output in StepsOutput.
const TriggerName = "trigger"

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

// Run is one execution instance of an automation.
type Run struct {
	ID           string
	AutomationID int
	FormID       int
	Status       schema.RunStatus
	Trigger      *TriggerStep
	Steps        []Step
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ToReplay     bool
}

// New creates a playing run for the given automation and trigger step.
func New(automationID int, trigger TriggerStep) *Run {
	ts := now()
	return &Run{
		ID:           uuid.New().String(),
		AutomationID: automationID,
		Status:       schema.RunStatusPlaying,
		Trigger:      &trigger,
		Steps:        []Step{},
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

// validTransitions lists the status changes a run accepts. Replaying is the
// only way back to playing and bypasses this table.
var validTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPlaying:  {schema.RunStatusSuccess, schema.RunStatusStopped, schema.RunStatusFiltered},
	schema.RunStatusFiltered: {schema.RunStatusStopped},
	schema.RunStatusStopped:  {},
	schema.RunStatusSuccess:  {},
}

func canTransition(from, to schema.RunStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (r *Run) touch() { r.UpdatedAt = now() }

// StartActionStep appends an unfinished action step at path.
func (r *Run) StartActionStep(path string, def schema.ActionSchema, input map[string]any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	list, err := container(&r.Steps, segs, path)
	if err != nil {
		return err
	}
	name := segs[len(segs)-1]
	if findIndex(*list, name) >= 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already started", path).WithStep(path)
	}
	*list = append(*list, &ActionStep{
		Schema:    def,
		Input:     input,
		StartedAt: now(),
	})
	r.touch()
	return nil
}

// StartActionPathsStep records a paths step at path with the given entries.
// If a paths step already exists there (a split being re-executed on replay),
// it is replaced in place and each entry keeps the actions already recorded
// under the same-named path.
func (r *Run) StartActionPathsStep(path string, ref schema.ActionRef, paths []*PathStep) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	list, err := container(&r.Steps, segs, path)
	if err != nil {
		return err
	}
	ts := now()
	step := &PathsStep{
		Schema:     ref,
		Paths:      paths,
		StartedAt:  ts,
		FinishedAt: &ts,
	}
	for _, p := range step.Paths {
		if p.Actions == nil {
			p.Actions = []Step{}
		}
	}

	idx := findIndex(*list, segs[len(segs)-1])
	if idx < 0 {
		*list = append(*list, step)
		r.touch()
		return nil
	}
	prev, ok := (*list)[idx].(*PathsStep)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already started as an action step", path).WithStep(path)
	}
	for _, p := range step.Paths {
		if old := prev.Path(p.Schema.Name); old != nil {
			p.Actions = old.Actions
		}
	}
	(*list)[idx] = step
	r.touch()
	return nil
}

// LookupStep returns the step at path, if any.
func (r *Run) LookupStep(path string) (Step, bool) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	s := lookup(r.Steps, segs)
	return s, s != nil
}

// GetStep returns the step at path or a STEP_NOT_FOUND error.
func (r *Run) GetStep(path string) (Step, error) {
	s, ok := r.LookupStep(path)
	if !ok {
		return nil, stepNotFound(path, "no such step")
	}
	return s, nil
}

// IsStepExecuted reports whether a step was recorded at path, finished or not.
func (r *Run) IsStepExecuted(path string) bool {
	_, ok := r.LookupStep(path)
	return ok
}

// IsStepExecutedWithSuccess reports whether the step at path completed
// without error. An action step must be finished with no error; a paths step
// must have no error in any nested action.
func (r *Run) IsStepExecutedWithSuccess(path string) bool {
	s, ok := r.LookupStep(path)
	if !ok {
		return false
	}
	switch st := s.(type) {
	case *ActionStep:
		return st.Finished() && st.Error == nil
	case *PathsStep:
		for _, p := range st.Paths {
			if hasError(p.Actions) {
				return false
			}
		}
		return true
	}
	return false
}

// RemoveStep deletes the step at path. The trigger step is not addressable
// and cannot be removed.
func (r *Run) RemoveStep(path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	list, err := container(&r.Steps, segs, path)
	if err != nil {
		return err
	}
	idx := findIndex(*list, segs[len(segs)-1])
	if idx < 0 {
		return stepNotFound(path, "no such step")
	}
	*list = append((*list)[:idx], (*list)[idx+1:]...)
	r.touch()
	return nil
}

func (r *Run) actionStep(path string) (*ActionStep, error) {
	s, err := r.GetStep(path)
	if err != nil {
		return nil, err
	}
	as, ok := s.(*ActionStep)
	if !ok {
		return nil, stepNotFound(path, "not an action step")
	}
	return as, nil
}

// SuccessActionStep marks the action step at path finished with output.
func (r *Run) SuccessActionStep(path string, output any) error {
	as, err := r.actionStep(path)
	if err != nil {
		return err
	}
	ts := now()
	as.Output = output
	as.FinishedAt = &ts
	r.touch()
	return nil
}

// FilterActionStep marks the action step at path finished with output and
// moves the run to filtered. Only a playing run changes status: the first
// terminal event wins.
func (r *Run) FilterActionStep(path string, output any) error {
	as, err := r.actionStep(path)
	if err != nil {
		return err
	}
	ts := now()
	as.Output = output
	as.FinishedAt = &ts
	if r.Status == schema.RunStatusPlaying {
		r.Status = schema.RunStatusFiltered
	}
	r.touch()
	return nil
}

// StopActionStep records message as the error of the action step at path and
// moves the run to stopped (from playing or filtered). When no action step
// exists at path a synthetic "execution" step carries the error. A successful
// run refuses to stop; an already stopped run still records the error.
func (r *Run) StopActionStep(path string, message string) error {
	if r.Status == schema.RunStatusSuccess {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot stop run in status %s", r.Status).WithStep(path)
	}
	ts := now()
	as, err := r.actionStep(path)
	if err != nil {
		as = &ActionStep{
			Schema:    schema.ActionSchema{Name: ExecutionStep},
			StartedAt: ts,
		}
		r.Steps = append(r.Steps, as)
	}
	as.Error = &StepError{Message: message}
	as.FinishedAt = &ts
	if canTransition(r.Status, schema.RunStatusStopped) {
		r.Status = schema.RunStatusStopped
	}
	r.touch()
	return nil
}

// Filter moves a playing run to filtered without touching any step. It is
// used when a split-into-paths lets no path through.
func (r *Run) Filter() {
	if canTransition(r.Status, schema.RunStatusFiltered) {
		r.Status = schema.RunStatusFiltered
		r.touch()
	}
}

// Succeed moves a playing run to success. Other statuses are left alone.
func (r *Run) Succeed() {
	if canTransition(r.Status, schema.RunStatusSuccess) {
		r.Status = schema.RunStatusSuccess
		r.touch()
	}
}

// Replaying reopens the run for another execution. Recorded steps are kept
// so already-succeeded work is skipped; only the synthetic execution step of
// a previous top-level failure is dropped.
func (r *Run) Replaying() {
	if idx := findIndex(r.Steps, ExecutionStep); idx >= 0 {
		r.Steps = append(r.Steps[:idx], r.Steps[idx+1:]...)
	}
	r.Status = schema.RunStatusPlaying
	r.ToReplay = false
	r.touch()
}

// QueueReplay flags the run for the replay queue.
func (r *Run) QueueReplay() {
	r.ToReplay = true
	r.touch()
}

// StepsOutput builds the template context of the run: each step name maps to
// its output (paths steps map to pathName -> nested outputs) and "trigger"
// maps to the trigger output.
func (r *Run) StepsOutput() map[string]any {
	out := outputs(r.Steps)
	if r.Trigger != nil {
		out[TriggerName] = r.Trigger.Output
	} else {
		out[TriggerName] = nil
	}
	return out
}

// LastActionStep returns the most recently appended leaf step, or nil.
func (r *Run) LastActionStep() Step {
	return lastLeaf(r.Steps)
}

// LastActionStepData returns the output of LastActionStep. With no steps the
// trigger output is returned.
func (r *Run) LastActionStepData() any {
	switch st := r.LastActionStep().(type) {
	case *ActionStep:
		return st.Output
	case *PathsStep:
		return outputs([]Step{st})[st.Schema.Name]
	}
	if r.Trigger != nil {
		return r.Trigger.Output
	}
	return nil
}

// ErrorMessage returns the first recorded error of the run, depth first.
func (r *Run) ErrorMessage() string {
	return firstError(r.Steps)
}

// Clone deep-copies the run under a new id and timestamps. The automation,
// form and status are preserved; the clone shares no mutable state.
func (r *Run) Clone() *Run {
	ts := now()
	c := &Run{
		ID:           uuid.New().String(),
		AutomationID: r.AutomationID,
		FormID:       r.FormID,
		Status:       r.Status,
		Steps:        cloneSteps(r.Steps),
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if r.Trigger != nil {
		c.Trigger = &TriggerStep{
			Schema: r.Trigger.Schema,
			Input:  copyValue(r.Trigger.Input),
			Output: copyValue(r.Trigger.Output),
		}
	}
	return c
}
