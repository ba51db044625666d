package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/sovrium/sovrium/pkg/schema"
)

// CodeConfig configures the code actions.
type CodeConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

const defaultCodeTimeout = 10 * time.Second

// entryPoint is the name of the function user code is wrapped in.
const entryPoint = "__sovriumMain"

const codeInputSchema = `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1},
    "inputData": {"type": "object"}
  },
  "required": ["code"]
}`

// CodeAction implements code/run-javascript and code/run-typescript.
//
// The code param is the body of a function receiving inputData; its return
// value is the step output. TypeScript is transpiled with esbuild first.
// A returned Promise must already be settled when the body returns.
type CodeAction struct {
	typescript bool
	config     CodeConfig
}

// NewJavascriptAction creates the code.run-javascript action.
func NewJavascriptAction(cfg CodeConfig) *CodeAction {
	return newCodeAction(false, cfg)
}

// NewTypescriptAction creates the code.run-typescript action.
func NewTypescriptAction(cfg CodeConfig) *CodeAction {
	return newCodeAction(true, cfg)
}

func newCodeAction(typescript bool, cfg CodeConfig) *CodeAction {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCodeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CodeAction{typescript: typescript, config: cfg}
}

func (a *CodeAction) Name() string {
	if a.typescript {
		return Key(schema.ServiceCode, schema.ActionRunTypescript)
	}
	return Key(schema.ServiceCode, schema.ActionRunJavascript)
}

func (a *CodeAction) Schema() ActionSchema {
	lang := "JavaScript"
	if a.typescript {
		lang = "TypeScript"
	}
	return ActionSchema{
		Description: fmt.Sprintf("Run a %s function body with inputData in scope.", lang),
		InputSchema: json.RawMessage(codeInputSchema),
	}
}

func (a *CodeAction) Validate(params map[string]any) error {
	if strings.TrimSpace(stringParam(params, "code", "")) == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'code'", a.Name())
	}
	return nil
}

func (a *CodeAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	src, err := a.source(stringParam(input.Params, "code", ""))
	if err != nil {
		return nil, err
	}
	inputData := mapParam(input.Params, "inputData")
	if inputData == nil {
		inputData = map[string]any{}
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := a.installConsole(ctx, vm); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt(runCtx.Err())
	})
	defer stop()

	if _, err := vm.RunString(src); err != nil {
		return nil, a.scriptError(runCtx, err)
	}
	fn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: entry point not defined", a.Name())
	}
	val, err := fn(goja.Undefined(), vm.ToValue(inputData))
	if err != nil {
		return nil, a.scriptError(runCtx, err)
	}

	result, err := a.settle(val)
	if err != nil {
		return nil, err
	}
	return jsonOutput(a.Name(), result)
}

// source wraps code into the entry point function and transpiles TypeScript.
func (a *CodeAction) source(code string) (string, error) {
	param := "inputData"
	if a.typescript {
		param = "inputData: any"
	}
	src := fmt.Sprintf("function %s(%s) {\n%s\n}\n", entryPoint, param, code)
	if !a.typescript {
		return src, nil
	}

	res := api.Transform(src, api.TransformOptions{
		Loader: api.LoaderTS,
		Target: api.ES2017,
	})
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, m := range res.Errors {
			msgs = append(msgs, m.Text)
		}
		return "", schema.NewErrorf(schema.ErrCodeActionExecution, "%s: typescript: %s", a.Name(), strings.Join(msgs, "; "))
	}
	return string(res.Code), nil
}

// settle unwraps a returned Promise and exports the value.
func (a *CodeAction) settle(val goja.Value) (any, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	if p, ok := val.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return a.settle(p.Result())
		case goja.PromiseStateRejected:
			return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: %s", a.Name(), p.Result().String())
		default:
			return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: returned promise did not settle", a.Name())
		}
	}
	return val.Export(), nil
}

func (a *CodeAction) scriptError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s: interrupted: %v", a.Name(), ctx.Err()).WithCause(err)
	}
	msg := err.Error()
	if ex, ok := err.(*goja.Exception); ok {
		msg = ex.Value().String()
	}
	return schema.NewErrorf(schema.ErrCodeActionExecution, "%s: %s", a.Name(), msg).WithCause(err)
}

func (a *CodeAction) installConsole(ctx context.Context, vm *goja.Runtime) error {
	logger := a.config.Logger.With(slog.String("action", a.Name()))
	logFn := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			logger.Log(ctx, level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	console := vm.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		if err := console.Set(name, logFn(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
