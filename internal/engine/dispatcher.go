package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/logging"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// AppContext is the read-only view of the application the engine resolves
// action targets against. *app.App satisfies it.
type AppContext interface {
	FindTable(nameOrID string) (*schema.Table, error)
	FindConnection(nameOrID string) (*schema.Connection, error)
	FindAutomation(nameOrID string) (*schema.Automation, error)
}

// DispatchResult is the outcome of one dispatched action.
type DispatchResult struct {
	// CanContinue is false when the action filtered the run or failed.
	CanContinue bool
	// Paths holds the recorded path entries of a split-into-paths action.
	Paths []*run.PathStep
	// Err is the action failure recorded on the step, if any.
	Err error
}

// Dispatcher executes exactly one action of a run: it records the attempt,
// resolves params against the run's steps output, invokes the matching
// service and records the normalized result. It never retries.
type Dispatcher struct {
	app      AppContext
	runner   *actions.Runner
	filters  *expressions.FilterEvaluator
	interp   *expressions.Interpolator
	recorder *recorder
	logger   *slog.Logger
}

// newDispatcher creates a Dispatcher.
func newDispatcher(app AppContext, runner *actions.Runner, filters *expressions.FilterEvaluator, rec *recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		app:      app,
		runner:   runner,
		filters:  filters,
		interp:   expressions.NewInterpolator(),
		recorder: rec,
		logger:   logger,
	}
}

// Dispatch runs def at path on r. Action failures are recorded on the step
// and returned in DispatchResult.Err; the returned error is reserved for
// failures to record or persist the run.
func (d *Dispatcher) Dispatch(ctx context.Context, r *run.Run, def schema.ActionSchema, path string) (DispatchResult, error) {
	ctx = logging.WithStepPath(ctx, path)

	kind, err := def.Kind()
	if err != nil {
		return d.fail(ctx, r, def, path, def.Params, err)
	}
	if kind == schema.KindSplitIntoPaths {
		return d.splitIntoPaths(ctx, r, def, path)
	}

	data := r.StepsOutput()
	params, resolveErr := d.resolveParams(kind, def.Params, data)
	if resolveErr != nil {
		return d.fail(ctx, r, def, path, def.Params, resolveErr)
	}

	if err := r.StartActionStep(path, def, params); err != nil {
		return DispatchResult{}, err
	}
	if err := d.recorder.update(ctx, r, path); err != nil {
		return DispatchResult{}, err
	}
	d.logger.DebugContext(ctx, "action started", slog.String("kind", kind.String()))

	var output any
	switch kind {
	case schema.KindOnlyContinueIf:
		return d.onlyContinueIf(ctx, r, def, path, data)
	case schema.KindRunJavascript, schema.KindRunTypescript,
		schema.KindHTTPGet, schema.KindHTTPPost:
		output, err = d.invoke(ctx, def, actions.ActionInput{Params: params})
	case schema.KindDataTransform, schema.KindDataCompute:
		output, err = d.invoke(ctx, def, actions.ActionInput{Params: params, Context: data})
	case schema.KindCreateRecord:
		output, err = d.createRecord(ctx, def, params)
	case schema.KindIntegration:
		output, err = d.integration(ctx, def, params)
	default:
		panic(fmt.Sprintf("engine: unhandled action kind %s for %s/%s", kind, def.Service, def.Action))
	}
	if err != nil {
		return d.stop(ctx, r, path, err)
	}
	return d.succeed(ctx, r, path, output)
}

// resolveParams interpolates params. The source of code actions is passed
// through untouched so {{...}} inside scripts is not rewritten.
func (d *Dispatcher) resolveParams(kind schema.ActionKind, params, data map[string]any) (map[string]any, error) {
	if kind != schema.KindRunJavascript && kind != schema.KindRunTypescript {
		return d.interp.Resolve(params, data)
	}
	rest := make(map[string]any, len(params))
	for k, v := range params {
		if k != "code" {
			rest[k] = v
		}
	}
	resolved, err := d.interp.Resolve(rest, data)
	if err != nil {
		return nil, err
	}
	if code, ok := params["code"]; ok {
		resolved["code"] = code
	}
	return resolved, nil
}

func (d *Dispatcher) invoke(ctx context.Context, def schema.ActionSchema, input actions.ActionInput) (any, error) {
	return d.runner.Run(ctx, actions.Key(def.Service, def.Action), input)
}

func (d *Dispatcher) createRecord(ctx context.Context, def schema.ActionSchema, params map[string]any) (any, error) {
	table, err := d.app.FindTable(def.Table)
	if err != nil {
		return nil, err
	}
	return d.invoke(ctx, def, actions.ActionInput{Params: params, Table: table})
}

func (d *Dispatcher) integration(ctx context.Context, def schema.ActionSchema, params map[string]any) (any, error) {
	conn, err := d.app.FindConnection(def.Account)
	if err != nil {
		return nil, err
	}
	if conn.Service != def.Service {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution,
			"connection %q is for %s, not %s", conn.Name, conn.Service, def.Service)
	}
	return d.invoke(ctx, def, actions.ActionInput{Params: params, Connection: conn})
}

func (d *Dispatcher) onlyContinueIf(ctx context.Context, r *run.Run, def schema.ActionSchema, path string, data map[string]any) (DispatchResult, error) {
	if def.Filter == nil {
		return d.stop(ctx, r, path, schema.NewErrorf(schema.ErrCodeValidation, "action %q has no filter", def.Name))
	}
	ok, err := d.filters.Evaluate(ctx, *def.Filter, data)
	if err != nil {
		return d.stop(ctx, r, path, err)
	}
	result := schema.FilterResult{CanContinue: ok}
	if ok {
		if err := r.SuccessActionStep(path, result); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{CanContinue: true}, d.recorder.update(ctx, r, path)
	}
	if err := r.FilterActionStep(path, result); err != nil {
		return DispatchResult{}, err
	}
	d.logger.InfoContext(ctx, "run filtered")
	return DispatchResult{}, d.recorder.update(ctx, r, path)
}

// splitIntoPaths decides every declared path independently and records one
// paths step. A path whose filter fails to evaluate is kept with
// canContinue false and the error message.
func (d *Dispatcher) splitIntoPaths(ctx context.Context, r *run.Run, def schema.ActionSchema, path string) (DispatchResult, error) {
	data := r.StepsOutput()
	entries := make([]*run.PathStep, 0, len(def.Paths))
	canContinue := false
	for _, p := range def.Paths {
		decision := d.decide(ctx, p.Filter, data)
		if decision.Error != "" {
			d.logger.WarnContext(ctx, "path filter failed",
				slog.String("path", p.Name),
				slog.String("error", decision.Error))
		}
		canContinue = canContinue || decision.CanContinue
		entries = append(entries, run.NewPathStep(p, nil, decision))
	}

	if err := r.StartActionPathsStep(path, def.Ref(), entries); err != nil {
		return DispatchResult{}, err
	}
	if err := d.recorder.update(ctx, r, path); err != nil {
		return DispatchResult{}, err
	}

	// Replaying a split keeps the actions recorded under each path.
	step, err := r.GetStep(path)
	if err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{CanContinue: canContinue, Paths: step.(*run.PathsStep).Paths}, nil
}

// decide evaluates one path filter. A panic inside an engine is contained to
// the path.
func (d *Dispatcher) decide(ctx context.Context, f schema.Filter, data map[string]any) (result schema.FilterResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = schema.FilterResult{CanContinue: false, Error: fmt.Sprintf("filter panicked: %v", rec)}
		}
	}()
	return d.filters.Decide(ctx, f, data)
}

// succeed records output. An array output fans out: the first item stays on
// r, each further item is recorded on a clone of r persisted as a new run
// queued for replay. An empty array filters the run.
func (d *Dispatcher) succeed(ctx context.Context, r *run.Run, path string, output any) (DispatchResult, error) {
	items, isArray := output.([]any)
	if !isArray {
		if err := r.SuccessActionStep(path, output); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{CanContinue: true}, d.recorder.update(ctx, r, path)
	}

	if len(items) == 0 {
		if err := r.FilterActionStep(path, items); err != nil {
			return DispatchResult{}, err
		}
		d.logger.InfoContext(ctx, "run filtered: action returned no items")
		return DispatchResult{}, d.recorder.update(ctx, r, path)
	}

	if err := r.SuccessActionStep(path, items[0]); err != nil {
		return DispatchResult{}, err
	}
	if err := d.recorder.update(ctx, r, path); err != nil {
		return DispatchResult{}, err
	}
	for _, item := range items[1:] {
		clone := r.Clone()
		if err := clone.SuccessActionStep(path, item); err != nil {
			return DispatchResult{}, err
		}
		clone.QueueReplay()
		if err := d.recorder.create(ctx, clone); err != nil {
			return DispatchResult{}, err
		}
	}
	if len(items) > 1 {
		d.logger.InfoContext(ctx, "run fanned out", slog.Int("clones", len(items)-1))
	}
	return DispatchResult{CanContinue: true}, nil
}

// stop records err on the step at path and stops the run.
func (d *Dispatcher) stop(ctx context.Context, r *run.Run, path string, err error) (DispatchResult, error) {
	msg := schema.Message(err)
	d.logger.WarnContext(ctx, "action failed", slog.String("error", msg))
	if serr := r.StopActionStep(path, msg); serr != nil {
		return DispatchResult{}, serr
	}
	return DispatchResult{Err: err}, d.recorder.update(ctx, r, path)
}

// fail records an attempt that could not start (unknown kind, unresolvable
// params) and stops it.
func (d *Dispatcher) fail(ctx context.Context, r *run.Run, def schema.ActionSchema, path string, params map[string]any, err error) (DispatchResult, error) {
	if serr := r.StartActionStep(path, def, params); serr != nil {
		return DispatchResult{}, serr
	}
	return d.stop(ctx, r, path, err)
}
