package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// triggerEvents lists the events each trigger service emits.
var triggerEvents = map[string][]string{
	schema.TriggerServiceHTTP:     {schema.TriggerEventPost, schema.TriggerEventGet},
	schema.TriggerServiceWebhook:  {schema.TriggerEventReceived},
	schema.TriggerServiceSchedule: {schema.TriggerEventCronTime},
	schema.TriggerServiceDatabase: {schema.TriggerEventRecordCreated, schema.TriggerEventRecordUpdated, schema.TriggerEventRecordDeleted},
}

// cronParser accepts the five-field syntax and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// semanticChecker validates what JSON Schema cannot express: unique names
// per scope, known (service, action) pairs, references to tables and
// connections, cron expressions, CEL expressions and template references.
type semanticChecker struct {
	app     *app.App
	actions ActionLookup
	cel     *expressions.CELEngine
	result  *schema.ValidationResult
}

// validateSemantic checks a. lookup and cel may be nil to skip registry and
// CEL compile checks.
func validateSemantic(a *app.App, lookup ActionLookup, cel *expressions.CELEngine) *schema.ValidationResult {
	c := &semanticChecker{app: a, actions: lookup, cel: cel, result: &schema.ValidationResult{}}

	c.uniqueNames("tables", len(a.Tables), func(i int) string { return a.Tables[i].Name })
	c.uniqueNames("connections", len(a.Connections), func(i int) string { return a.Connections[i].Name })
	c.uniqueNames("automations", len(a.Automations), func(i int) string { return a.Automations[i].Name })

	ids := make(map[int]bool, len(a.Automations))
	for i := range a.Automations {
		au := &a.Automations[i]
		path := fmt.Sprintf("automations[%d]", i)
		if au.ID != 0 {
			if ids[au.ID] {
				c.result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate automation id %d", au.ID))
			}
			ids[au.ID] = true
		}
		c.checkTrigger(au.Trigger, path+".trigger")
		if len(au.Actions) == 0 {
			c.result.AddWarning(path+".actions", schema.ErrCodeValidation,
				fmt.Sprintf("automation %q has no actions; its runs succeed immediately", au.Name))
		}
		c.checkActions(au.Actions, path+".actions", scope{known: map[string]bool{run.TriggerName: true}})
	}
	return c.result
}

func (c *semanticChecker) uniqueNames(path string, n int, name func(int) string) {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		nm := name(i)
		if seen[nm] {
			c.result.AddError(fmt.Sprintf("%s[%d].name", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate name %q", nm))
		}
		seen[nm] = true
	}
}

func (c *semanticChecker) checkTrigger(t schema.TriggerSchema, path string) {
	events, ok := triggerEvents[t.Service]
	if !ok {
		c.result.AddError(path+".service", schema.ErrCodeValidation, fmt.Sprintf("unknown trigger service %q", t.Service))
		return
	}
	if !contains(events, t.Event) {
		c.result.AddError(path+".event", schema.ErrCodeValidation,
			fmt.Sprintf("trigger %q has no event %q (want one of %s)", t.Service, t.Event, strings.Join(events, ", ")))
	}

	switch t.Service {
	case schema.TriggerServiceHTTP, schema.TriggerServiceWebhook:
		if t.Path == "" {
			c.result.AddWarning(path+".path", schema.ErrCodeValidation, "trigger has no path; it can only be fired by name")
		}
	case schema.TriggerServiceSchedule:
		if t.CronTime == "" {
			c.result.AddError(path+".cronTime", schema.ErrCodeValidation, "schedule trigger needs a cronTime")
		} else if _, err := cronParser.Parse(t.CronTime); err != nil {
			c.result.AddError(path+".cronTime", schema.ErrCodeValidation, fmt.Sprintf("invalid cron expression %q: %v", t.CronTime, err))
		}
		if t.TimeZone != "" {
			if _, err := time.LoadLocation(t.TimeZone); err != nil {
				c.result.AddError(path+".timeZone", schema.ErrCodeValidation, fmt.Sprintf("unknown time zone %q", t.TimeZone))
			}
		}
	case schema.TriggerServiceDatabase:
		if _, err := c.app.FindTable(t.Table); err != nil {
			c.result.AddError(path+".table", schema.ErrCodeValidation, fmt.Sprintf("table %q not found", t.Table))
		}
	}
}

// scope tracks the step names a template may reference: the trigger and the
// top-level actions dispatched before the current one.
type scope struct {
	known map[string]bool
}

func (s scope) with(name string) scope {
	known := make(map[string]bool, len(s.known)+1)
	for k := range s.known {
		known[k] = true
	}
	known[name] = true
	return scope{known: known}
}

// checkActions validates one list of sibling actions. Top-level actions add
// their name to the scope of later siblings; path actions are only reachable
// through their split, which is already in scope.
func (c *semanticChecker) checkActions(defs []schema.ActionSchema, path string, sc scope) {
	topLevel := !strings.Contains(path, ".paths[")
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		def := &defs[i]
		p := fmt.Sprintf("%s[%d]", path, i)

		c.checkName(def.Name, p+".name")
		if seen[def.Name] {
			c.result.AddError(p+".name", schema.ErrCodeValidation, fmt.Sprintf("duplicate action name %q in the same scope", def.Name))
		}
		seen[def.Name] = true

		c.checkReferences(def.Params, p+".params", sc)
		c.checkAction(def, p, sc)
		if topLevel {
			sc = sc.with(def.Name)
		}
	}
}

func (c *semanticChecker) checkName(name, path string) {
	switch {
	case name == "":
		c.result.AddError(path, schema.ErrCodeValidation, "name is required")
	case strings.Contains(name, "."):
		c.result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("name %q must not contain '.'", name))
	case name == run.TriggerName || name == run.ExecutionStep:
		c.result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("name %q is reserved", name))
	}
}

func (c *semanticChecker) checkAction(def *schema.ActionSchema, path string, sc scope) {
	kind, err := def.Kind()
	if err != nil {
		c.result.AddError(path, schema.ErrCodeValidation, schema.Message(err))
		return
	}

	switch kind {
	case schema.KindOnlyContinueIf:
		if def.Filter == nil {
			c.result.AddError(path+".filter", schema.ErrCodeValidation, "only-continue-if needs a filter")
			return
		}
		c.checkFilter(*def.Filter, path+".filter", sc)

	case schema.KindSplitIntoPaths:
		if len(def.Paths) == 0 {
			c.result.AddError(path+".paths", schema.ErrCodeValidation, "split-into-paths needs at least one path")
			return
		}
		names := make(map[string]bool, len(def.Paths))
		inner := sc.with(def.Name)
		for j := range def.Paths {
			pp := fmt.Sprintf("%s.paths[%d]", path, j)
			pathDef := &def.Paths[j]
			c.checkName(pathDef.Name, pp+".name")
			if names[pathDef.Name] {
				c.result.AddError(pp+".name", schema.ErrCodeValidation, fmt.Sprintf("duplicate path name %q", pathDef.Name))
			}
			names[pathDef.Name] = true
			c.checkFilter(pathDef.Filter, pp+".filter", sc)
			c.checkActions(pathDef.Actions, pp+".actions", inner)
		}

	case schema.KindRunJavascript, schema.KindRunTypescript:
		if code, _ := def.Params["code"].(string); strings.TrimSpace(code) == "" {
			c.result.AddError(path+".params.code", schema.ErrCodeValidation, "code action needs a non-empty code param")
		}
		c.checkRegistered(def, path)

	case schema.KindHTTPGet, schema.KindHTTPPost:
		if u, _ := def.Params["url"].(string); u == "" {
			c.result.AddError(path+".params.url", schema.ErrCodeValidation, "http action needs a url param")
		}
		c.checkRegistered(def, path)

	case schema.KindCreateRecord:
		if _, err := c.app.FindTable(def.Table); err != nil {
			c.result.AddError(path+".table", schema.ErrCodeValidation, fmt.Sprintf("table %q not found", def.Table))
		}
		c.checkRegistered(def, path)

	case schema.KindDataTransform, schema.KindDataCompute:
		c.checkRegistered(def, path)

	case schema.KindIntegration:
		conn, err := c.app.FindConnection(def.Account)
		switch {
		case err != nil:
			c.result.AddError(path+".account", schema.ErrCodeValidation, fmt.Sprintf("connection %q not found", def.Account))
		case conn.Service != def.Service:
			c.result.AddError(path+".account", schema.ErrCodeValidation,
				fmt.Sprintf("connection %q is for %s, not %s", conn.Name, conn.Service, def.Service))
		}
		c.checkRegistered(def, path)
	}
}

func (c *semanticChecker) checkRegistered(def *schema.ActionSchema, path string) {
	if c.actions == nil {
		return
	}
	key := def.Service + "." + def.Action
	if !c.actions.Has(key) {
		c.result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("action %q not registered", key))
	}
}

// checkFilter requires exactly one form per condition set.
func (c *semanticChecker) checkFilter(f schema.Filter, path string, sc scope) {
	forms := 0
	for _, set := range []bool{len(f.And) > 0, len(f.Or) > 0, f.Expression != "", f.Operator != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		c.result.AddError(path, schema.ErrCodeValidation, "filter must set exactly one of and, or, expression or operator")
		return
	}

	switch {
	case len(f.And) > 0:
		for i, sub := range f.And {
			c.checkFilter(sub, fmt.Sprintf("%s.and[%d]", path, i), sc)
		}
	case len(f.Or) > 0:
		for i, sub := range f.Or {
			c.checkFilter(sub, fmt.Sprintf("%s.or[%d]", path, i), sc)
		}
	case f.Expression != "":
		if c.cel != nil {
			if err := c.cel.Compile(f.Expression); err != nil {
				c.result.AddError(path+".expression", schema.ErrCodeValidation, schema.Message(err))
			}
		}
	default:
		if f.Target == "" {
			c.result.AddError(path+".target", schema.ErrCodeValidation, fmt.Sprintf("operator %q needs a target", f.Operator))
			return
		}
		target := strings.TrimSpace(f.Target)
		if !expressions.HasInterpolation(target) {
			target = "{{" + target + "}}"
		}
		c.checkReferences(map[string]any{"target": target, "value": f.Value}, path, sc)
	}
}

// checkReferences warns about {{...}} references whose root is not the
// trigger or an earlier step. They fail at run time.
func (c *semanticChecker) checkReferences(v any, path string, sc scope) {
	for _, ref := range references(v) {
		root, _, _ := strings.Cut(ref, ".")
		if !sc.known[root] {
			c.result.AddWarning(path, schema.ErrCodeInterpolation,
				fmt.Sprintf("reference {{%s}} does not match the trigger or an earlier step", ref))
		}
	}
}

// references collects the trimmed {{...}} references found in the strings
// of v.
func references(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		s := t
		for {
			start := strings.Index(s, "{{")
			if start < 0 {
				break
			}
			end := strings.Index(s[start+2:], "}}")
			if end < 0 {
				break
			}
			if ref := strings.TrimSpace(s[start+2 : start+2+end]); ref != "" {
				out = append(out, ref)
			}
			s = s[start+2+end+2:]
		}
	case map[string]any:
		for k, e := range t {
			if k == "code" {
				continue
			}
			out = append(out, references(e)...)
		}
	case []any:
		for _, e := range t {
			out = append(out, references(e)...)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
