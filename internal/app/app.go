// Package app holds the read-only application context automations run in:
// tables, connections and the automations themselves.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/sovrium/sovrium/pkg/schema"
)

// App is a loaded application definition.
type App struct {
	Name        string              `json:"name"`
	Tables      []schema.Table      `json:"tables,omitempty"`
	Connections []schema.Connection `json:"connections,omitempty"`
	Automations []schema.Automation `json:"automations,omitempty"`
}

// Load reads and parses an app file.
func Load(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an app document. Entities without an id are numbered after
// the highest explicit id of their kind.
func Parse(data []byte) (*App, error) {
	a := &App{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse app: %v", err).WithCause(err)
	}
	a.assignIDs()
	return a, nil
}

func (a *App) assignIDs() {
	next := 0
	for _, t := range a.Tables {
		next = max(next, t.ID)
	}
	for i := range a.Tables {
		if a.Tables[i].ID == 0 {
			next++
			a.Tables[i].ID = next
		}
	}

	next = 0
	for _, c := range a.Connections {
		next = max(next, c.ID)
	}
	for i := range a.Connections {
		if a.Connections[i].ID == 0 {
			next++
			a.Connections[i].ID = next
		}
	}

	next = 0
	for _, au := range a.Automations {
		next = max(next, au.ID)
	}
	for i := range a.Automations {
		if a.Automations[i].ID == 0 {
			next++
			a.Automations[i].ID = next
		}
	}
}

// FindTable looks a table up by name or numeric id.
func (a *App) FindTable(nameOrID string) (*schema.Table, error) {
	id, _ := strconv.Atoi(nameOrID)
	for i := range a.Tables {
		if a.Tables[i].Name == nameOrID || (id != 0 && a.Tables[i].ID == id) {
			return &a.Tables[i], nil
		}
	}
	return nil, notFound("table", nameOrID)
}

// FindConnection looks a connection up by name or numeric id.
func (a *App) FindConnection(nameOrID string) (*schema.Connection, error) {
	id, _ := strconv.Atoi(nameOrID)
	for i := range a.Connections {
		if a.Connections[i].Name == nameOrID || (id != 0 && a.Connections[i].ID == id) {
			return &a.Connections[i], nil
		}
	}
	return nil, notFound("connection", nameOrID)
}

// FindAutomation looks an automation up by name or numeric id.
func (a *App) FindAutomation(nameOrID string) (*schema.Automation, error) {
	id, _ := strconv.Atoi(nameOrID)
	for i := range a.Automations {
		if a.Automations[i].Name == nameOrID || (id != 0 && a.Automations[i].ID == id) {
			return &a.Automations[i], nil
		}
	}
	return nil, notFound("automation", nameOrID)
}

// AutomationByID returns the automation with the given id.
func (a *App) AutomationByID(id int) (*schema.Automation, error) {
	return a.FindAutomation(strconv.Itoa(id))
}

// AutomationsByTrigger returns the automations whose trigger uses service.
func (a *App) AutomationsByTrigger(service string) []*schema.Automation {
	var out []*schema.Automation
	for i := range a.Automations {
		if a.Automations[i].Trigger.Service == service {
			out = append(out, &a.Automations[i])
		}
	}
	return out
}

// ListAutomations returns every automation in declaration order.
func (a *App) ListAutomations() []*schema.Automation {
	out := make([]*schema.Automation, len(a.Automations))
	for i := range a.Automations {
		out[i] = &a.Automations[i]
	}
	return out
}

func notFound(kind, nameOrID string) *schema.SovriumError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, nameOrID)
}
