package actions

import (
	"context"
	"encoding/json"

	"github.com/sovrium/sovrium/pkg/schema"
)

// RecordWriter persists table records for database actions.
type RecordWriter interface {
	CreateRecord(ctx context.Context, table schema.Table, fields map[string]any) (map[string]any, error)
}

const createRecordInputSchema = `{
  "type": "object",
  "properties": {
    "fields": {"type": "object"}
  },
  "required": ["fields"]
}`

// CreateRecordAction implements database/create-record. Required fields of
// the target table must be present; fields the table does not declare are
// rejected.
type CreateRecordAction struct {
	writer RecordWriter
}

// NewCreateRecordAction creates the database.create-record action.
func NewCreateRecordAction(writer RecordWriter) *CreateRecordAction {
	return &CreateRecordAction{writer: writer}
}

func (a *CreateRecordAction) Name() string {
	return Key(schema.ServiceDatabase, schema.ActionCreateRecord)
}

func (a *CreateRecordAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Create a record in a table.",
		InputSchema: json.RawMessage(createRecordInputSchema),
	}
}

func (a *CreateRecordAction) Validate(params map[string]any) error {
	if mapParam(params, "fields") == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'fields'", a.Name())
	}
	return nil
}

func (a *CreateRecordAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if input.Table == nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: no table", a.Name())
	}
	fields := mapParam(input.Params, "fields")

	declared := make(map[string]bool, len(input.Table.Fields))
	for _, f := range input.Table.Fields {
		declared[f.Name] = true
		if v, ok := fields[f.Name]; f.Required && (!ok || v == nil) {
			return nil, schema.NewErrorf(schema.ErrCodeActionExecution,
				"%s: field %q is required in table %q", a.Name(), f.Name, input.Table.Name)
		}
	}
	for name := range fields {
		if !declared[name] {
			return nil, schema.NewErrorf(schema.ErrCodeActionExecution,
				"%s: table %q has no field %q", a.Name(), input.Table.Name, name)
		}
	}

	record, err := a.writer.CreateRecord(ctx, *input.Table, fields)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s: %s", a.Name(), schema.Message(err)).WithCause(err)
	}
	return jsonOutput(a.Name(), record)
}
