package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case StatusSuccess:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusRunning:
		return "[RUN]"
	case StatusFiltered:
		return "[STOP]"
	case StatusSkipped:
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one box per
// top-level action, split paths listed below their box.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for i, node := range model.Nodes {
		renderBox(&b, makeBox(node))
		for _, sg := range node.Children {
			renderSubGraph(&b, sg, "  ")
		}
		if i < len(model.Nodes)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}
	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := strings.Split(node.Label, "\n")
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.Error != "" {
			contentLines = append(contentLines, node.Status.Error)
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return asciiBox{lines: lines}
}

func renderBox(b *strings.Builder, box asciiBox) {
	for _, line := range box.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// renderSubGraph lists the actions of a path, nested paths indented.
func renderSubGraph(b *strings.Builder, sg *SubGraph, indent string) {
	header := fmt.Sprintf("%s[%s]", indent, sg.Label)
	if sg.Status != nil {
		header += " " + statusTag(sg.Status.Status)
		if sg.Status.Error != "" {
			header += " " + sg.Status.Error
		}
	}
	b.WriteString(header + "\n")

	for _, node := range sg.Nodes {
		line := fmt.Sprintf("%s  %s %s", indent, "→", strings.ReplaceAll(node.Label, "\n", " "))
		if node.Status != nil {
			line += " " + statusTag(node.Status.Status)
			if node.Status.Error != "" {
				line += " " + node.Status.Error
			}
		}
		b.WriteString(line + "\n")
		for _, child := range node.Children {
			renderSubGraph(b, child, indent+"    ")
		}
	}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
