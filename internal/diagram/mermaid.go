package diagram

import (
	"fmt"
	"strings"
)

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders the model as a top-down Mermaid flowchart with a
// class per node status.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, n := range model.Nodes {
		b.WriteString("    ")
		fmt.Fprintf(&b, shapeOf(n.Kind).mermaid, mermaidSafeID(n.ID), displayLabel(n.Label))
		b.WriteByte('\n')
	}
	for _, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += "|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	b.WriteByte('\n')
	for _, st := range classDefs {
		fmt.Fprintf(&b, "    classDef %s fill:%s,stroke:%s,color:#fff\n", st.class, st.fill, st.stroke)
	}
	for _, n := range model.Nodes {
		if st, ok := styleFor(n.Status); ok {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), st.class)
		}
	}
	return b.String()
}

// mermaidSafeID prefixes and sanitizes a node ID so it is a valid Mermaid
// identifier.
func mermaidSafeID(id string) string {
	return "n_" + mermaidIDReplacer.Replace(id)
}
