package actions

import (
	"context"
	"encoding/json"

	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/pkg/schema"
)

const transformInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {"type": "object"}
  },
  "required": ["query"]
}`

const computeInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "variables": {"type": "object"}
  },
  "required": ["expression"]
}`

// TransformAction implements data/transform: a jq query over the run's steps
// output, or over the input param when one is given. A query producing
// several values yields an array, which fans the run out.
type TransformAction struct {
	jq *expressions.GoJQEngine
}

// NewTransformAction creates the data.transform action.
func NewTransformAction(jq *expressions.GoJQEngine) *TransformAction {
	return &TransformAction{jq: jq}
}

func (a *TransformAction) Name() string { return Key(schema.ServiceData, schema.ActionTransform) }

func (a *TransformAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Reshape step outputs with a jq query.",
		InputSchema: json.RawMessage(transformInputSchema),
	}
}

func (a *TransformAction) Validate(params map[string]any) error {
	if stringParam(params, "query", "") == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'query'", a.Name())
	}
	return nil
}

func (a *TransformAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	data := input.Context
	if in := mapParam(input.Params, "input"); in != nil {
		data = in
	}
	out, err := a.jq.Evaluate(ctx, stringParam(input.Params, "query", ""), data)
	if err != nil {
		return nil, err
	}
	return jsonOutput(a.Name(), out)
}

// ComputeAction implements data/compute: an expr-lang expression evaluated
// with every step output (and "trigger") plus the variables param in scope.
type ComputeAction struct {
	expr *expressions.ExprEngine
}

// NewComputeAction creates the data.compute action.
func NewComputeAction(expr *expressions.ExprEngine) *ComputeAction {
	return &ComputeAction{expr: expr}
}

func (a *ComputeAction) Name() string { return Key(schema.ServiceData, schema.ActionCompute) }

func (a *ComputeAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Compute a value with an expr-lang expression.",
		InputSchema: json.RawMessage(computeInputSchema),
	}
}

func (a *ComputeAction) Validate(params map[string]any) error {
	if stringParam(params, "expression", "") == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'expression'", a.Name())
	}
	return nil
}

func (a *ComputeAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	env := make(map[string]any, len(input.Context))
	for k, v := range input.Context {
		env[k] = v
	}
	for k, v := range mapParam(input.Params, "variables") {
		env[k] = v
	}
	out, err := a.expr.Evaluate(ctx, stringParam(input.Params, "expression", ""), env)
	if err != nil {
		return nil, err
	}
	return jsonOutput(a.Name(), out)
}
