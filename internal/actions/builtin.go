package actions

import "github.com/sovrium/sovrium/internal/expressions"

// BuiltinConfig wires the collaborators of the built-in actions.
type BuiltinConfig struct {
	HTTP    HTTPConfig
	Code    CodeConfig
	JQ      *expressions.GoJQEngine
	Expr    *expressions.ExprEngine
	Records RecordWriter
}

// RegisterBuiltins registers all built-in actions in the given registry.
// database.create-record is only registered when a RecordWriter is set.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.JQ == nil {
		cfg.JQ = expressions.NewGoJQEngine()
	}
	if cfg.Expr == nil {
		cfg.Expr = expressions.NewExprEngine()
	}

	all := []Action{
		NewHTTPGetAction(cfg.HTTP),
		NewHTTPPostAction(cfg.HTTP),
		NewJavascriptAction(cfg.Code),
		NewTypescriptAction(cfg.Code),
		NewTransformAction(cfg.JQ),
		NewComputeAction(cfg.Expr),
	}
	if cfg.Records != nil {
		all = append(all, NewCreateRecordAction(cfg.Records))
	}

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
