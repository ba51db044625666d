package store

import (
	"context"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// RunStore persists runs. Implementations must round-trip the full step tree
// and apply Update calls atomically, in the order they are issued.
type RunStore interface {
	// Create persists a new run. A run with the same id is a CONFLICT.
	Create(ctx context.Context, r *run.Run) error
	// Update replaces the stored state of an existing run.
	Update(ctx context.Context, r *run.Run) error
	// Get loads a run. A missing run is NOT_FOUND.
	Get(ctx context.Context, id string) (*run.Run, error)
	// ListRuns returns runs matching filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*run.Run, error)
	Close() error
}

// RunFilter selects runs for ListRuns. Zero fields match everything.
type RunFilter struct {
	AutomationID int
	Status       schema.RunStatus
	ToReplay     *bool
	Limit        int
}

func (f RunFilter) match(r *run.Run) bool {
	if f.AutomationID != 0 && r.AutomationID != f.AutomationID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ToReplay != nil && r.ToReplay != *f.ToReplay {
		return false
	}
	return true
}

func storeNotFound(resource, id string) *schema.SovriumError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.SovriumError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}
