package engine

import (
	"context"
	"log/slog"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// recorder persists run state and publishes every persisted change. Store
// errors are returned; publish errors are only logged.
type recorder struct {
	store  store.RunStore
	hub    streaming.EventHub
	logger *slog.Logger
}

func (rc *recorder) create(ctx context.Context, r *run.Run) error {
	if err := rc.store.Create(ctx, r); err != nil {
		return err
	}
	rc.publish(ctx, r, schema.EventRunCreated, "")
	return nil
}

func (rc *recorder) update(ctx context.Context, r *run.Run, stepPath string) error {
	if err := rc.store.Update(ctx, r); err != nil {
		return err
	}
	eventType := schema.EventRunUpdated
	if r.Status.Terminal() {
		eventType = schema.EventRunFinished
	}
	rc.publish(ctx, r, eventType, stepPath)
	return nil
}

func (rc *recorder) publish(ctx context.Context, r *run.Run, eventType, stepPath string) {
	if rc.hub == nil {
		return
	}
	event := streaming.RunEvent{
		RunID:        r.ID,
		AutomationID: r.AutomationID,
		EventType:    eventType,
		Status:       r.Status,
		StepPath:     stepPath,
		Error:        r.ErrorMessage(),
	}
	if err := rc.hub.Publish(ctx, event); err != nil {
		rc.logger.WarnContext(ctx, "publish run event failed", slog.String("error", err.Error()))
	}
}
