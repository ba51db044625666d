package diagram

import (
	"fmt"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

const (
	triggerID = "__trigger__"
	endID     = "__end__"
)

// Build constructs a DiagramModel from an automation. When r is set, every
// node carries the status recorded on the run.
func Build(automation *schema.Automation, r *run.Run) (*DiagramModel, error) {
	if automation == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: automation is nil")
	}
	if r != nil && r.AutomationID != automation.ID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"diagram: run %s belongs to automation %d, not %d", r.ID, r.AutomationID, automation.ID)
	}

	trigger := &Node{
		ID:    triggerID,
		Label: fmt.Sprintf("%s %s", automation.Trigger.Service, automation.Trigger.Event),
		Kind:  NodeKindTrigger,
	}
	if r != nil {
		trigger.Status = &StatusOverlay{Status: StatusSuccess}
	}
	end := &Node{ID: endID, Label: "End", Kind: NodeKindEnd}

	body, edges := buildChain(automation.Actions, "", r)

	nodes := make([]*Node, 0, len(body)+2)
	nodes = append(nodes, trigger)
	nodes = append(nodes, body...)
	nodes = append(nodes, end)

	first, last := triggerID, triggerID
	if len(body) > 0 {
		first, last = body[0].ID, body[len(body)-1].ID
		edges = append([]Edge{{From: triggerID, To: first}}, edges...)
	}
	edges = append(edges, Edge{From: last, To: endID})

	return &DiagramModel{
		Title: title(automation, r),
		Nodes: nodes,
		Edges: edges,
	}, nil
}

// buildChain maps a list of actions to nodes linked in order.
func buildChain(defs []schema.ActionSchema, prefix string, r *run.Run) ([]*Node, []Edge) {
	nodes := make([]*Node, 0, len(defs))
	var edges []Edge
	for i, def := range defs {
		id := def.Name
		if prefix != "" {
			id = run.JoinPath(prefix, def.Name)
		}
		node := &Node{ID: id, Label: nodeLabel(def), Kind: kindOf(def)}
		node.Status = stepStatus(r, id)
		if node.Kind == NodeKindSplit {
			node.Children = buildPaths(def, id, r)
		}
		nodes = append(nodes, node)
		if i > 0 {
			edges = append(edges, Edge{From: nodes[i-1].ID, To: id})
		}
	}
	return nodes, edges
}

func buildPaths(def schema.ActionSchema, id string, r *run.Run) []*SubGraph {
	var recorded *run.PathsStep
	if r != nil {
		if step, ok := r.LookupStep(id); ok {
			recorded, _ = step.(*run.PathsStep)
		}
	}

	graphs := make([]*SubGraph, 0, len(def.Paths))
	for _, p := range def.Paths {
		pathID := run.JoinPath(id, p.Name)
		nodes, edges := buildChain(p.Actions, pathID, r)
		sg := &SubGraph{ID: pathID, Label: p.Name, Nodes: nodes, Edges: edges}
		if recorded != nil {
			if ps := recorded.Path(p.Name); ps != nil {
				sg.Status = pathStatus(ps)
			}
		}
		graphs = append(graphs, sg)
	}
	return graphs
}

func kindOf(def schema.ActionSchema) NodeKind {
	kind, err := def.Kind()
	if err != nil {
		return NodeKindAction
	}
	switch kind {
	case schema.KindOnlyContinueIf:
		return NodeKindFilter
	case schema.KindSplitIntoPaths:
		return NodeKindSplit
	default:
		return NodeKindAction
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(def schema.ActionSchema) string {
	return fmt.Sprintf("%s\n(%s/%s)", def.Name, def.Service, def.Action)
}

// stepStatus reads the state of the step at path, nil when not recorded.
func stepStatus(r *run.Run, path string) *StatusOverlay {
	if r == nil {
		return nil
	}
	step, ok := r.LookupStep(path)
	if !ok {
		return nil
	}
	switch st := step.(type) {
	case *run.PathsStep:
		return &StatusOverlay{Status: StatusSuccess}
	case *run.ActionStep:
		switch {
		case st.Error != nil:
			return &StatusOverlay{Status: StatusFailed, Error: st.Error.Message}
		case !st.Finished():
			return &StatusOverlay{Status: StatusRunning}
		case denied(st):
			return &StatusOverlay{Status: StatusFiltered}
		default:
			return &StatusOverlay{Status: StatusSuccess}
		}
	}
	return nil
}

func pathStatus(ps *run.PathStep) *StatusOverlay {
	if ps.CanContinue() {
		return &StatusOverlay{Status: StatusSuccess}
	}
	overlay := &StatusOverlay{Status: StatusSkipped}
	if ps.Output != nil {
		overlay.Error = ps.Output.Error
	}
	return overlay
}

// denied reports steps that stopped progression: a negative filter decision
// or an empty item list.
func denied(st *run.ActionStep) bool {
	switch out := st.Output.(type) {
	case schema.FilterResult:
		return !out.CanContinue
	case *schema.FilterResult:
		return out != nil && !out.CanContinue
	case []any:
		return len(out) == 0
	case map[string]any:
		if kind, _ := st.Schema.Kind(); kind == schema.KindOnlyContinueIf {
			b, _ := out["canContinue"].(bool)
			return !b
		}
	}
	return false
}

func title(automation *schema.Automation, r *run.Run) string {
	if r == nil {
		return automation.Name
	}
	return fmt.Sprintf("%s (run %s: %s)", automation.Name, r.ID, r.Status)
}
