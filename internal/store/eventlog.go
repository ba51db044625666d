package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

func newRunEvent(eventType string, r *run.Run) *RunEvent {
	return &RunEvent{
		RunID:     r.ID,
		Type:      eventType,
		Status:    r.Status,
		StepCount: len(r.Steps),
		Error:     r.ErrorMessage(),
		Timestamp: timeOrNow(r.UpdatedAt),
	}
}

// appendRunEvent appends event inside tx with the next per-run sequence.
// The caller's transaction holds the write lock (runs row written first), so
// the sequence read and insert cannot interleave with another writer.
func appendRunEvent(ctx context.Context, tx *sql.Tx, event *RunEvent) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return storeError("get next sequence", err)
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, status, step_count, error, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Type, string(event.Status), event.StepCount, nullStr(event.Error), event.Timestamp, seq,
	)
	if err != nil {
		return storeError("insert run event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetRunEvents returns the events of a run with sequence > since, ordered by
// sequence.
func (s *LibSQLStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, status, step_count, error, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, storeError("get run events", err)
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &status, &e.StepCount, &errMsg, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Status = schema.RunStatus(status)
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RunHistory returns the full event history of a run. A gap in the sequence
// is reported as a STORE_ERROR.
func (s *LibSQLStore) RunHistory(ctx context.Context, runID string) ([]*RunEvent, error) {
	events, err := s.GetRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}
	return events, nil
}
