package store

import (
	"encoding/json"
	"time"

	"github.com/sovrium/sovrium/pkg/schema"
)

// RunEvent is an entry of a run's history. One event is appended per
// persisted state change, with a per-run sequence.
type RunEvent struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	Type      string           `json:"event_type"`
	Status    schema.RunStatus `json:"status"`
	StepCount int              `json:"step_count"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Sequence  int64            `json:"sequence"`
}

// Record is a row of a user table written by database actions.
type Record struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
}
