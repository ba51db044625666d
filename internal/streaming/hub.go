package streaming

import (
	"context"

	"github.com/sovrium/sovrium/pkg/schema"
)

// RunEvent is a run state change published after the run was persisted.
type RunEvent struct {
	RunID        string           `json:"run_id"`
	AutomationID int              `json:"automation_id"`
	EventType    string           `json:"event_type"`
	Status       schema.RunStatus `json:"status"`
	StepPath     string           `json:"step_path,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// EventFilter selects the events a subscriber receives. Zero fields match
// everything.
type EventFilter struct {
	RunID        string   `json:"run_id,omitempty"`
	AutomationID int      `json:"automation_id,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
}

// EventHub is the pub/sub of run updates.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
