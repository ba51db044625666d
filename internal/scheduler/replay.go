package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sovrium/sovrium/internal/logging"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/schema"
)

// Replayer is the part of the executor the replay queue drives. Satisfied by
// *engine.Executor.
type Replayer interface {
	Replay(ctx context.Context, runID string) (*run.Run, error)
}

// ReplayConfig configures a ReplayQueue.
type ReplayConfig struct {
	// Interval between polls. Defaults to 5s.
	Interval time.Duration
	// Batch caps the runs replayed per poll. Defaults to 50.
	Batch  int
	Logger *slog.Logger
}

const (
	defaultReplayInterval = 5 * time.Second
	defaultReplayBatch    = 50
)

// ReplayQueue replays the runs flagged toReplay, oldest first. Fan-out
// clones are queued this way.
type ReplayQueue struct {
	store    store.RunStore
	replayer Replayer
	interval time.Duration
	batch    int
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewReplayQueue creates a ReplayQueue.
func NewReplayQueue(s store.RunStore, replayer Replayer, cfg ReplayConfig) *ReplayQueue {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReplayInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultReplayBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReplayQueue{
		store:    s,
		replayer: replayer,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		logger:   cfg.Logger,
	}
}

// Start launches the polling loop. The queue is drained once immediately.
func (q *ReplayQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.done != nil {
		q.mu.Unlock()
		return fmt.Errorf("replay queue already started")
	}
	qctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.loop(qctx)
	q.logger.Info("replay queue started", slog.Duration("interval", q.interval))
	return nil
}

func (q *ReplayQueue) loop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		if _, err := q.Drain(ctx); err != nil && ctx.Err() == nil {
			q.logger.ErrorContext(ctx, "drain replay queue failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain replays the queued runs of one batch and returns how many were
// replayed. A run whose automation no longer exists is dropped from the
// queue.
func (q *ReplayQueue) Drain(ctx context.Context) (int, error) {
	queued := true
	runs, err := q.store.ListRuns(ctx, store.RunFilter{ToReplay: &queued, Limit: q.batch})
	if err != nil {
		return 0, fmt.Errorf("list queued runs: %w", err)
	}

	replayed := 0
	for i := len(runs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		r := runs[i]
		rctx := logging.WithRun(ctx, r.ID, r.AutomationID)

		if _, err := q.replayer.Replay(rctx, r.ID); err != nil {
			if schema.IsCode(err, schema.ErrCodeNotFound) {
				q.drop(rctx, r, err)
				continue
			}
			q.logger.ErrorContext(rctx, "replay failed", slog.String("error", err.Error()))
			continue
		}
		replayed++
	}
	return replayed, nil
}

func (q *ReplayQueue) drop(ctx context.Context, r *run.Run, cause error) {
	q.logger.WarnContext(ctx, "dropping queued run", slog.String("reason", schema.Message(cause)))
	r.ToReplay = false
	if err := q.store.Update(ctx, r); err != nil {
		q.logger.ErrorContext(ctx, "unqueue run failed", slog.String("error", err.Error()))
	}
}

// Stop ends the polling loop.
func (q *ReplayQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel == nil {
		return nil
	}
	q.cancel()
	<-q.done
	q.cancel = nil
	q.done = nil

	q.logger.Info("replay queue stopped")
	return nil
}
