package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders the model as plain text for terminals: one line per
// level with each node drawn in its kind's brackets, then the edge list.
//
//	=== Pipeline ===
//
//	 0 | (t)  [note]
//	 1 | /Prompt/ ok 12ms
//	   v
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for depth, level := range model.Levels {
		cells := make([]string, 0, len(level))
		for _, id := range level {
			if n := model.node(id); n != nil {
				cells = append(cells, asciiCell(n))
			}
		}
		if len(cells) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%2d | %s\n", depth, strings.Join(cells, "  "))
		if depth < len(model.Levels)-1 {
			b.WriteString("   v\n")
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- edges ---\n")
		for _, e := range model.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s\n", model.labelFor(e.From), model.labelFor(e.To))
		}
	}
	if model.Cyclic {
		b.WriteString("\n(graph contains a cycle; nodes listed in declaration order)\n")
	}
	return b.String()
}

func asciiCell(n *Node) string {
	br := shapeOf(n.Kind).ascii
	cell := br[0] + displayLabel(n.Label) + br[1]
	if st, ok := styleFor(n.Status); ok {
		cell += " " + st.tag
		if n.Status.DurationMs > 0 {
			cell += fmt.Sprintf(" %dms", n.Status.DurationMs)
		}
	}
	return cell
}
