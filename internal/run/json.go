package run

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

// Step type discriminators in the serialized run.
const (
	stepTypeTrigger = "trigger"
	stepTypeAction  = "action"
	stepTypePaths   = "paths"
)

type runJSON struct {
	ID           string            `json:"id"`
	AutomationID int               `json:"automation_id"`
	FormID       int               `json:"form_id,omitempty"`
	Status       schema.RunStatus  `json:"status"`
	Steps        []json.RawMessage `json:"steps"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	ToReplay     bool              `json:"toReplay"`
}

type triggerJSON struct {
	Type string `json:"type"`
	TriggerStep
}

type actionJSON struct {
	Type string `json:"type"`
	*actionAlias
}

type actionAlias ActionStep

type pathsJSON struct {
	Type string `json:"type"`
	*pathsAlias
}

type pathsAlias PathsStep

// MarshalJSON writes the run with the trigger as the first entry of steps.
func (r *Run) MarshalJSON() ([]byte, error) {
	out := runJSON{
		ID:           r.ID,
		AutomationID: r.AutomationID,
		FormID:       r.FormID,
		Status:       r.Status,
		Steps:        make([]json.RawMessage, 0, len(r.Steps)+1),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ToReplay:     r.ToReplay,
	}
	if r.Trigger != nil {
		raw, err := json.Marshal(triggerJSON{Type: stepTypeTrigger, TriggerStep: *r.Trigger})
		if err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, raw)
	}
	for _, s := range r.Steps {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a run written by MarshalJSON. The first step must be
// the trigger.
func (r *Run) UnmarshalJSON(data []byte) error {
	var in runJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Run{
		ID:           in.ID,
		AutomationID: in.AutomationID,
		FormID:       in.FormID,
		Status:       in.Status,
		Steps:        []Step{},
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
		ToReplay:     in.ToReplay,
	}
	if len(in.Steps) == 0 {
		return fmt.Errorf("run %s: missing trigger step", in.ID)
	}
	var head triggerJSON
	if err := json.Unmarshal(in.Steps[0], &head); err != nil {
		return fmt.Errorf("run %s: trigger step: %w", in.ID, err)
	}
	if head.Type != stepTypeTrigger {
		return fmt.Errorf("run %s: first step has type %q, want %q", in.ID, head.Type, stepTypeTrigger)
	}
	trigger := head.TriggerStep
	r.Trigger = &trigger

	steps, err := decodeSteps(in.Steps[1:])
	if err != nil {
		return fmt.Errorf("run %s: %w", in.ID, err)
	}
	r.Steps = steps
	return nil
}

func (s *ActionStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionJSON{Type: stepTypeAction, actionAlias: (*actionAlias)(s)})
}

func (s *PathsStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(pathsJSON{Type: stepTypePaths, pathsAlias: (*pathsAlias)(s)})
}

// UnmarshalJSON decodes the polymorphic actions list of a path.
func (p *PathStep) UnmarshalJSON(data []byte) error {
	var in struct {
		Schema  PathSchema           `json:"schema"`
		Input   any                  `json:"input,omitempty"`
		Output  *schema.FilterResult `json:"output,omitempty"`
		Actions []json.RawMessage    `json:"actions"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	actions, err := decodeSteps(in.Actions)
	if err != nil {
		return fmt.Errorf("path %s: %w", in.Schema.Name, err)
	}
	*p = PathStep{Schema: in.Schema, Input: in.Input, Output: in.Output, Actions: actions}
	return nil
}

func decodeSteps(raws []json.RawMessage) ([]Step, error) {
	steps := make([]Step, 0, len(raws))
	for i, raw := range raws {
		s, err := decodeStep(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func decodeStep(raw json.RawMessage) (Step, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case stepTypeAction:
		s := &ActionStep{}
		if err := json.Unmarshal(raw, (*actionAlias)(s)); err != nil {
			return nil, err
		}
		return s, nil
	case stepTypePaths:
		s := &PathsStep{}
		if err := json.Unmarshal(raw, (*pathsAlias)(s)); err != nil {
			return nil, err
		}
		if s.Paths == nil {
			s.Paths = []*PathStep{}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", head.Type)
	}
}
