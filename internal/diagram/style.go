package diagram

import (
	"strings"

	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/flowforge/pkg/schema"
)

// statusStyle is how every renderer paints one overlay status.
type statusStyle struct {
	class  string // mermaid classDef name
	tag    string // ascii marker
	fill   string
	stroke string
}

var (
	styleSuccess = statusStyle{class: "success", tag: "ok", fill: "#2d6a2d", stroke: "#1a4a1a"}
	styleError   = statusStyle{class: "error", tag: "failed", fill: "#8b1a1a", stroke: "#5c0e0e"}
	styleRunning = statusStyle{class: "running", tag: "running", fill: "#1a5276", stroke: "#0e3a52"}
)

// classDefs is the order mermaid class definitions are emitted in.
var classDefs = []statusStyle{styleSuccess, styleError, styleRunning}

func styleFor(o *StatusOverlay) (statusStyle, bool) {
	if o == nil {
		return statusStyle{}, false
	}
	switch o.Status {
	case string(schema.NodeRunSucceeded):
		return styleSuccess, true
	case string(schema.NodeRunFailed):
		return styleError, true
	case string(schema.NodeRunRunning), StatusExecuting:
		return styleRunning, true
	}
	return statusStyle{}, false
}

// kindShape is the outline a node kind gets in mermaid and graphviz. The
// mermaid template takes the node ID and the quoted label.
type kindShape struct {
	mermaid  string
	graphviz cgraph.Shape
	ascii    [2]string
}

var shapes = map[NodeKind]kindShape{
	NodeKindTrigger: {mermaid: "%s((%q))", graphviz: cgraph.CircleShape, ascii: [2]string{"(", ")"}},
	NodeKindInput:   {mermaid: "%s[/%q/]", graphviz: cgraph.ParallelogramShape, ascii: [2]string{"/", "/"}},
	NodeKindModel:   {mermaid: "%s{{%q}}", graphviz: cgraph.HexagonShape, ascii: [2]string{"{", "}"}},
	NodeKindCode:    {mermaid: "%s[[%q]]", graphviz: cgraph.BoxShape, ascii: [2]string{"[[", "]]"}},
	NodeKindOutput:  {mermaid: "%s([%q])", graphviz: cgraph.EllipseShape, ascii: [2]string{"(", ")"}},
	NodeKindProcess: {mermaid: "%s[%q]", graphviz: cgraph.BoxShape, ascii: [2]string{"[", "]"}},
}

func shapeOf(k NodeKind) kindShape {
	if s, ok := shapes[k]; ok {
		return s
	}
	return shapes[NodeKindProcess]
}

// displayLabel keeps only the first line of a label.
func displayLabel(s string) string {
	first, _, _ := strings.Cut(s, "\n")
	return first
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// labelFor returns a node's display label, or id for unknown nodes.
func (m *DiagramModel) labelFor(id string) string {
	if n := m.node(id); n != nil {
		return displayLabel(n.Label)
	}
	return id
}
