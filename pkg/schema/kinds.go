package schema

import "sort"

// ActionKind is the closed set of (service, action) pairs the dispatcher knows.
type ActionKind int

const (
	KindUnknown ActionKind = iota
	KindOnlyContinueIf
	KindSplitIntoPaths
	KindRunJavascript
	KindRunTypescript
	KindHTTPGet
	KindHTTPPost
	KindCreateRecord
	KindDataTransform
	KindDataCompute
	KindIntegration
)

// Services and actions of the built-in families.
const (
	ServiceFilter   = "filter"
	ServiceCode     = "code"
	ServiceHTTP     = "http"
	ServiceDatabase = "database"
	ServiceData     = "data"

	ActionOnlyContinueIf = "only-continue-if"
	ActionSplitIntoPaths = "split-into-paths"
	ActionRunJavascript  = "run-javascript"
	ActionRunTypescript  = "run-typescript"
	ActionGet            = "get"
	ActionPost           = "post"
	ActionCreateRecord   = "create-record"
	ActionTransform      = "transform"
	ActionCompute        = "compute"
)

var builtinKinds = map[string]map[string]ActionKind{
	ServiceFilter: {
		ActionOnlyContinueIf: KindOnlyContinueIf,
		ActionSplitIntoPaths: KindSplitIntoPaths,
	},
	ServiceCode: {
		ActionRunJavascript: KindRunJavascript,
		ActionRunTypescript: KindRunTypescript,
	},
	ServiceHTTP: {
		ActionGet:  KindHTTPGet,
		ActionPost: KindHTTPPost,
	},
	ServiceDatabase: {
		ActionCreateRecord: KindCreateRecord,
	},
	ServiceData: {
		ActionTransform: KindDataTransform,
		ActionCompute:   KindDataCompute,
	},
}

// IntegrationActions lists, per integration service, the actions the
// integration runner may be asked to perform.
var IntegrationActions = map[string][]string{
	"airtable":      {"create-record", "list-records", "update-record"},
	"calendly":      {"list-users", "list-webhook-subscriptions", "create-webhook-subscription"},
	"facebook-ads":  {"get-leads"},
	"google-gmail":  {"send-email"},
	"google-sheets": {"append-values"},
	"linkedin-ads":  {"get-lead-form-responses"},
	"notion":        {"create-page", "query-database"},
	"qonto":         {"create-client", "list-clients"},
}

// ParseActionKind resolves a (service, action) pair. Unknown pairs are a
// validation error.
func ParseActionKind(service, action string) (ActionKind, error) {
	if actions, ok := builtinKinds[service]; ok {
		if k, ok := actions[action]; ok {
			return k, nil
		}
		return KindUnknown, NewErrorf(ErrCodeValidation, "unknown action %q for service %q", action, service)
	}
	if actions, ok := IntegrationActions[service]; ok {
		for _, a := range actions {
			if a == action {
				return KindIntegration, nil
			}
		}
		return KindUnknown, NewErrorf(ErrCodeValidation, "unknown action %q for integration %q", action, service)
	}
	return KindUnknown, NewErrorf(ErrCodeValidation, "unknown service %q", service)
}

// IsIntegrationService reports whether service is a known integration.
func IsIntegrationService(service string) bool {
	_, ok := IntegrationActions[service]
	return ok
}

// Services returns every known service name, sorted.
func Services() []string {
	out := make([]string, 0, len(builtinKinds)+len(IntegrationActions))
	for s := range builtinKinds {
		out = append(out, s)
	}
	for s := range IntegrationActions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (k ActionKind) String() string {
	switch k {
	case KindOnlyContinueIf:
		return "filter/only-continue-if"
	case KindSplitIntoPaths:
		return "filter/split-into-paths"
	case KindRunJavascript:
		return "code/run-javascript"
	case KindRunTypescript:
		return "code/run-typescript"
	case KindHTTPGet:
		return "http/get"
	case KindHTTPPost:
		return "http/post"
	case KindCreateRecord:
		return "database/create-record"
	case KindDataTransform:
		return "data/transform"
	case KindDataCompute:
		return "data/compute"
	case KindIntegration:
		return "integration"
	default:
		return "unknown"
	}
}
