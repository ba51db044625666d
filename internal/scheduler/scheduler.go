// Package scheduler fires schedule triggers and drains the replay queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sovrium/sovrium/internal/logging"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// Trigger is the part of the executor the scheduler drives. Satisfied by
// *engine.Executor.
type Trigger interface {
	Trigger(ctx context.Context, automation *schema.Automation, payload any) (*run.Run, error)
}

// Config configures a Scheduler.
type Config struct {
	// Interval between due checks. Defaults to 15s.
	Interval time.Duration
	Logger   *slog.Logger
}

const defaultInterval = 15 * time.Second

// job is one scheduled automation and its next due time.
type job struct {
	automation *schema.Automation
	schedule   cron.Schedule
	nextRun    time.Time
}

// Scheduler triggers automations whose trigger is a schedule. Each due
// automation runs in its own goroutine; an automation still running when it
// is due again is skipped.
type Scheduler struct {
	trigger  Trigger
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	jobs   []*job
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	wg     sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[int]struct{} // automation ids currently running
}

// NewScheduler creates a Scheduler for the schedule automations among
// automations. Other automations are ignored; an invalid cron expression is
// a VALIDATION_ERROR.
func NewScheduler(automations []*schema.Automation, trigger Trigger, cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scheduler{
		trigger:  trigger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   cfg.Logger,
		interval: cfg.Interval,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[int]struct{}),
	}

	from := s.now()
	for _, au := range automations {
		if au.Trigger.Service != schema.TriggerServiceSchedule {
			continue
		}
		sched, err := s.parse(au.Trigger)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "automation %q: %v", au.Name, err).WithCause(err)
		}
		s.jobs = append(s.jobs, &job{automation: au, schedule: sched, nextRun: sched.Next(from)})
	}
	return s, nil
}

func (s *Scheduler) parse(t schema.TriggerSchema) (cron.Schedule, error) {
	spec := t.CronTime
	if t.TimeZone != "" {
		spec = "CRON_TZ=" + t.TimeZone + " " + spec
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// Jobs returns the number of scheduled automations.
func (s *Scheduler) Jobs() int { return len(s.jobs) }

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("automations", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every due automation and computes its next due time.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		if j.nextRun.After(now) {
			continue
		}
		scheduled := j.nextRun
		j.nextRun = j.schedule.Next(now)
		if !s.tryAcquire(j.automation.ID) {
			s.logger.WarnContext(ctx, "scheduled automation still running, skipping",
				slog.String("automation", j.automation.Name))
			continue
		}
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			defer s.release(j.automation.ID)
			s.runJob(ctx, j.automation, scheduled)
		}(j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, au *schema.Automation, scheduled time.Time) {
	ctx = logging.WithAutomationID(ctx, au.ID)
	payload := map[string]any{
		"timestamp": scheduled.Format(time.RFC3339),
		"cronTime":  au.Trigger.CronTime,
	}
	if au.Trigger.TimeZone != "" {
		payload["timeZone"] = au.Trigger.TimeZone
	}

	s.logger.InfoContext(ctx, "running scheduled automation", slog.String("automation", au.Name))
	if _, err := s.trigger.Trigger(ctx, au, payload); err != nil {
		s.logger.ErrorContext(ctx, "scheduled trigger failed",
			slog.String("automation", au.Name),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) tryAcquire(id int) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun returns the next due time of the automation with the given id.
func (s *Scheduler) NextRun(automationID int) (time.Time, bool) {
	for _, j := range s.jobs {
		if j.automation.ID == automationID {
			return j.nextRun, true
		}
	}
	return time.Time{}, false
}

// CalculateNextRun computes the next time a cron expression fires after
// from, in timeZone when set.
func (s *Scheduler) CalculateNextRun(cronExpr, timeZone string, from time.Time) (time.Time, error) {
	sched, err := s.parse(schema.TriggerSchema{CronTime: cronExpr, TimeZone: timeZone})
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Stop ends the loop and waits for running automations.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
