package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ")
	}
	writeMermaidEdges(&b, model.Edges, "    ")

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef filtered fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		writeMermaidClasses(&b, node)
	}
	return b.String()
}

// writeMermaidNode writes a node and, for a split, one subgraph per path.
func writeMermaidNode(b *strings.Builder, node *Node, indent string) {
	b.WriteString(indent + mermaidNodeDef(node) + "\n")
	for _, sg := range node.Children {
		b.WriteString(fmt.Sprintf("%ssubgraph %s[%q]\n", indent, mermaidSafeID(sg.ID), sg.Label))
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, indent+"    ")
		}
		writeMermaidEdges(b, sg.Edges, indent+"    ")
		b.WriteString(indent + "end\n")

		to := sg.ID
		if len(sg.Nodes) > 0 {
			to = sg.Nodes[0].ID
		}
		writeMermaidEdges(b, []Edge{{From: node.ID, To: to, Label: sg.Label}}, indent)
	}
}

func writeMermaidEdges(b *strings.Builder, edges []Edge, indent string) {
	for _, edge := range edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("%s%s -->%s %s\n",
			indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}
}

func writeMermaidClasses(b *strings.Builder, node *Node) {
	if node.Status != nil {
		b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status))
	}
	for _, sg := range node.Children {
		if sg.Status != nil && sg.Status.Status == StatusSkipped {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(sg.ID), StatusSkipped))
		}
		for _, sub := range sg.Nodes {
			writeMermaidClasses(b, sub)
		}
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindFilter:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindSplit:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindTrigger:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a step path to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "__", "-", "_", " ", "_")
	return r.Replace(id)
}
