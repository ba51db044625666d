package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/internal/alerting"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/logging"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// ExecutorConfig holds the collaborators of an Executor. App, Store, Runner
// and Filters are required.
type ExecutorConfig struct {
	App     AppContext
	Store   store.RunStore
	Runner  *actions.Runner
	Filters *expressions.FilterEvaluator
	// Alerter is notified when a run stops. Defaults to a LogAlerter.
	Alerter alerting.Alerter
	// Hub receives every persisted run change. Optional.
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// Executor is the automation orchestrator. It executes an automation's
// actions in order on a run, branching into paths and finalizing the run.
//
// Actions run strictly one after another, sibling paths included. A run must
// be executed by a single Executor call at a time.
type Executor struct {
	app        AppContext
	store      store.RunStore
	recorder   *recorder
	dispatcher *Dispatcher
	alerter    alerting.Alerter
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.App == nil || cfg.Store == nil || cfg.Runner == nil || cfg.Filters == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor needs app, store, runner and filters")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = alerting.NewLogAlerter(cfg.Logger)
	}
	rec := &recorder{store: cfg.Store, hub: cfg.Hub, logger: cfg.Logger}
	return &Executor{
		app:        cfg.App,
		store:      cfg.Store,
		recorder:   rec,
		dispatcher: newDispatcher(cfg.App, cfg.Runner, cfg.Filters, rec, cfg.Logger),
		alerter:    cfg.Alerter,
		logger:     cfg.Logger,
	}, nil
}

// Trigger creates a run of automation whose trigger produced payload,
// persists it and executes it.
func (e *Executor) Trigger(ctx context.Context, automation *schema.Automation, payload any) (*run.Run, error) {
	r := run.New(automation.ID, run.TriggerStep{
		Schema: automation.Trigger,
		Input:  payload,
		Output: payload,
	})
	ctx = logging.WithRun(ctx, r.ID, automation.ID)
	if err := e.recorder.create(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	e.logger.InfoContext(ctx, "run started", slog.String("automation", automation.Name))
	return r, e.Execute(ctx, automation, r)
}

// TriggerByName looks the automation up by name or id and triggers it.
func (e *Executor) TriggerByName(ctx context.Context, nameOrID string, payload any) (*run.Run, error) {
	automation, err := e.app.FindAutomation(nameOrID)
	if err != nil {
		return nil, err
	}
	return e.Trigger(ctx, automation, payload)
}

// Replay reopens a stored run and executes it again. Steps that already
// succeeded are skipped.
func (e *Executor) Replay(ctx context.Context, runID string) (*run.Run, error) {
	r, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	automation, err := e.app.FindAutomation(strconv.Itoa(r.AutomationID))
	if err != nil {
		return nil, err
	}
	ctx = logging.WithRun(ctx, r.ID, automation.ID)

	r.Replaying()
	if err := e.recorder.update(ctx, r, ""); err != nil {
		return nil, fmt.Errorf("reopen run: %w", err)
	}
	e.logger.InfoContext(ctx, "run replaying", slog.String("automation", automation.Name))
	return r, e.Execute(ctx, automation, r)
}

// Execute runs the automation's actions on r and finalizes it: success when
// every action went through, stopped with an alert on a failure. Failures
// never escape, panics included; the returned error only reports that the
// final state could not be persisted.
func (e *Executor) Execute(ctx context.Context, automation *schema.Automation, r *run.Run) (err error) {
	ctx = logging.WithRun(ctx, r.ID, automation.ID)

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorContext(ctx, "run panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = e.abort(ctx, automation, r, schema.NewErrorf(schema.ErrCodeActionExecution, "panic: %v", rec))
		}
	}()

	cont, err := e.executeActions(ctx, automation, r, automation.Actions, "")
	if err != nil {
		return e.abort(ctx, automation, r, err)
	}
	if !cont {
		e.logger.InfoContext(ctx, "run finished", slog.String("status", string(r.Status)))
		return nil
	}

	r.Succeed()
	if err := e.recorder.update(ctx, r, ""); err != nil {
		return e.abort(ctx, automation, r, err)
	}
	e.logger.InfoContext(ctx, "run finished", slog.String("status", string(r.Status)))
	return nil
}

// abort records the failure, persists the run and alerts. An action failure
// is already on its step; anything else is recorded on the execution step,
// except on a filtered run, which keeps its status.
func (e *Executor) abort(ctx context.Context, automation *schema.Automation, r *run.Run, cause error) error {
	var failure *ActionFailure
	var message string
	switch {
	case errors.As(cause, &failure):
		message = fmt.Sprintf("Automation %q stopped at action %q: %s", automation.Name, failure.Path, schema.Message(failure.Err))
	case r.Status == schema.RunStatusFiltered:
		e.logger.ErrorContext(ctx, "filtered run failed", slog.String("error", cause.Error()))
		message = fmt.Sprintf("Automation %q failed after it was filtered: %s", automation.Name, schema.Message(cause))
	default:
		e.logger.ErrorContext(ctx, "run execution failed", slog.String("error", cause.Error()))
		if err := r.StopActionStep(run.ExecutionStep, schema.Message(cause)); err != nil {
			e.logger.ErrorContext(ctx, "cannot stop run", slog.String("error", err.Error()))
		}
		message = fmt.Sprintf("Automation %q stopped during execution: %s", automation.Name, schema.Message(cause))
	}

	var persistErr error
	if err := e.recorder.update(ctx, r, ""); err != nil {
		e.logger.ErrorContext(ctx, "persist stopped run failed", slog.String("error", err.Error()))
		persistErr = err
	}
	e.logger.InfoContext(ctx, "run stopped", slog.String("status", string(r.Status)), slog.String("reason", message))

	if err := e.alerter.SendAlert(ctx, r, automation, message); err != nil {
		e.logger.ErrorContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
	return persistErr
}

// executeActions runs defs in order under prefix ("" for the top level, a
// split path such as "split.vip" for a branch). It stops at the first action
// that does not let the run continue and reports false; failures are
// returned.
func (e *Executor) executeActions(ctx context.Context, automation *schema.Automation, r *run.Run, defs []schema.ActionSchema, prefix string) (bool, error) {
	for _, def := range defs {
		path := def.Name
		if prefix != "" {
			path = run.JoinPath(prefix, def.Name)
		}
		cont, err := e.executeAction(ctx, automation, r, def, path)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) executeAction(ctx context.Context, automation *schema.Automation, r *run.Run, def schema.ActionSchema, path string) (bool, error) {
	if kind, _ := def.Kind(); kind == schema.KindSplitIntoPaths {
		return e.executeSplit(ctx, automation, r, def, path)
	}

	if r.IsStepExecutedWithSuccess(path) && !stoppedProgress(r, path) {
		e.logger.DebugContext(logging.WithStepPath(ctx, path), "action already succeeded, skipping")
		return true, nil
	}
	if r.IsStepExecuted(path) {
		if err := r.RemoveStep(path); err != nil {
			return false, err
		}
	}

	res, err := e.dispatcher.Dispatch(ctx, r, def, path)
	if err != nil {
		return false, err
	}
	if res.Err != nil {
		return false, &ActionFailure{Path: path, Err: res.Err}
	}
	return res.CanContinue, nil
}

// executeSplit dispatches a split-into-paths action, unless it was recorded
// without any branch error, then runs every path whose filter let it through.
// All paths are attempted before the first failure is returned.
func (e *Executor) executeSplit(ctx context.Context, automation *schema.Automation, r *run.Run, def schema.ActionSchema, path string) (bool, error) {
	var entries []*run.PathStep
	if step, ok := r.LookupStep(path); ok && r.IsStepExecutedWithSuccess(path) {
		ps, isPaths := step.(*run.PathsStep)
		if !isPaths {
			return false, schema.NewErrorf(schema.ErrCodeStepNotFound, "step %q is not a paths step", path).WithStep(path)
		}
		entries = ps.Paths
	} else {
		res, err := e.dispatcher.Dispatch(ctx, r, def, path)
		if err != nil {
			return false, err
		}
		if res.Err != nil {
			return false, &ActionFailure{Path: path, Err: res.Err}
		}
		entries = res.Paths
	}

	canContinue := false
	halted := false
	var failures []error
	for _, entry := range entries {
		if !entry.CanContinue() {
			continue
		}
		canContinue = true
		if r.Status == schema.RunStatusFiltered {
			// a sibling filtered the run; nothing else is dispatched
			continue
		}

		branch := findPath(def.Paths, entry.Schema.Name)
		if branch == nil {
			return false, schema.NewErrorf(schema.ErrCodeStepNotFound,
				"path %q is not declared by %q", entry.Schema.Name, def.Name).WithStep(path)
		}
		branchPath := run.JoinPath(path, branch.Name)
		cont, err := e.executeActions(ctx, automation, r, branch.Actions, branchPath)
		switch {
		case err != nil:
			e.logger.WarnContext(logging.WithStepPath(ctx, branchPath), "path failed", slog.String("error", err.Error()))
			failures = append(failures, err)
		case !cont:
			e.logger.InfoContext(logging.WithStepPath(ctx, branchPath), "path halted", slog.String("status", string(r.Status)))
			halted = true
		}
	}

	if len(failures) > 0 {
		return false, &PathFailure{Path: path, Failures: failures}
	}
	if halted {
		return false, nil
	}
	if !canContinue {
		r.Filter()
		e.logger.InfoContext(logging.WithStepPath(ctx, path), "run filtered: no path can continue")
		return false, e.recorder.update(ctx, r, path)
	}
	return true, nil
}

func findPath(paths []schema.PathSchema, name string) *schema.PathSchema {
	for i := range paths {
		if paths[i].Name == name {
			return &paths[i]
		}
	}
	return nil
}

// stoppedProgress reports whether the finished step at path ended the run's
// progression without an error: an only-continue-if that denied continuation
// or an action that returned no items. Such steps are dispatched again on
// replay.
func stoppedProgress(r *run.Run, path string) bool {
	step, ok := r.LookupStep(path)
	if !ok {
		return false
	}
	as, ok := step.(*run.ActionStep)
	if !ok {
		return false
	}
	switch out := as.Output.(type) {
	case schema.FilterResult:
		return !out.CanContinue
	case *schema.FilterResult:
		return out != nil && !out.CanContinue
	case []any:
		return len(out) == 0
	case map[string]any:
		if kind, _ := as.Schema.Kind(); kind == schema.KindOnlyContinueIf {
			b, _ := out["canContinue"].(bool)
			return !b
		}
	}
	return false
}
