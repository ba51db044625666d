package schema

// Automation is a user-defined workflow: one trigger followed by an ordered
// list of actions. Automations are read-only blueprints for the engine.
type Automation struct {
	ID      int            `json:"id"`
	Name    string         `json:"name"`
	Trigger TriggerSchema  `json:"trigger"`
	Actions []ActionSchema `json:"actions"`
}

// TriggerSchema describes the event that creates a run.
type TriggerSchema struct {
	Service string `json:"service"` // http | webhook | schedule | database
	Event   string `json:"event"`

	Path     string `json:"path,omitempty"`     // http, webhook
	CronTime string `json:"cronTime,omitempty"` // schedule
	TimeZone string `json:"timeZone,omitempty"` // schedule
	Table    string `json:"table,omitempty"`    // database
}

// Trigger services and events.
const (
	TriggerServiceHTTP     = "http"
	TriggerServiceWebhook  = "webhook"
	TriggerServiceSchedule = "schedule"
	TriggerServiceDatabase = "database"

	TriggerEventPost          = "post"
	TriggerEventGet           = "get"
	TriggerEventReceived      = "received"
	TriggerEventCronTime      = "cron-time"
	TriggerEventRecordCreated = "record-created"
	TriggerEventRecordUpdated = "record-updated"
	TriggerEventRecordDeleted = "record-deleted"
)

// ActionSchema is the definition of one action. Name is unique within its
// containing scope (the automation, or the path holding it).
type ActionSchema struct {
	Name    string         `json:"name"`
	Service string         `json:"service"`
	Action  string         `json:"action"`
	Params  map[string]any `json:"params,omitempty"`

	// Account names the connection used by integration actions.
	Account string `json:"account,omitempty"`
	// Table names the target table of database actions.
	Table string `json:"table,omitempty"`
	// Filter is the condition set of an only-continue-if action.
	Filter *Filter `json:"filter,omitempty"`
	// Paths are the branches of a split-into-paths action.
	Paths []PathSchema `json:"paths,omitempty"`
}

// Ref returns the reduced schema recorded on a paths step.
func (a ActionSchema) Ref() ActionRef {
	return ActionRef{Name: a.Name, Service: a.Service, Action: a.Action}
}

// Kind resolves the action's (service, action) pair.
func (a ActionSchema) Kind() (ActionKind, error) {
	return ParseActionKind(a.Service, a.Action)
}

// ActionRef is the name/service/action triple of an action.
type ActionRef struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Action  string `json:"action"`
}

// PathSchema is one named branch of a split-into-paths action.
type PathSchema struct {
	Name    string         `json:"name"`
	Filter  Filter         `json:"filter"`
	Actions []ActionSchema `json:"actions"`
}

// Filter is a condition set. Exactly one of And, Or, Expression or a leaf
// condition (Operator with Target and Value) is set.
type Filter struct {
	And        []Filter `json:"and,omitempty"`
	Or         []Filter `json:"or,omitempty"`
	Expression string   `json:"expression,omitempty"` // CEL

	Target   string `json:"target,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// Filter operators for leaf conditions.
const (
	OperatorExists         = "exists"
	OperatorDoesNotExist   = "does-not-exist"
	OperatorIs             = "is"
	OperatorIsNot          = "is-not"
	OperatorContains       = "contains"
	OperatorDoesNotContain = "does-not-contain"
	OperatorStartsWith     = "starts-with"
	OperatorEndsWith       = "ends-with"
	OperatorGreaterThan    = "greater-than"
	OperatorLessThan       = "less-than"
	OperatorIsTrue         = "is-true"
	OperatorIsFalse        = "is-false"
	OperatorIsEmpty        = "is-empty"
	OperatorIsNotEmpty     = "is-not-empty"
)

// Table is a database table exposed to database actions.
type Table struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field is a column of a Table.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Connection holds the credentials an integration action runs with.
type Connection struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// FilterResult is the decision of a filter evaluation. It is not an error:
// CanContinue false ends progression without failing the run. Error is set
// when the evaluation itself failed.
type FilterResult struct {
	CanContinue bool   `json:"canContinue"`
	Error       string `json:"error,omitempty"`
}
