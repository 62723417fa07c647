package schema

// NodeType identifies the behavior a node runs when executed.
type NodeType string

const (
	NodeTypeTrigger         NodeType = "trigger"
	NodeTypeTextInput       NodeType = "textInput"
	NodeTypeNumberInput     NodeType = "numberInput"
	NodeTypeImageInput      NodeType = "imageInput"
	NodeTypeToggleInput     NodeType = "toggleInput"
	NodeTypeSliderInput     NodeType = "sliderInput"
	NodeTypeOutput          NodeType = "output"
	NodeTypeImageOutput     NodeType = "imageOutput"
	NodeTypeImageGeneration NodeType = "imageGeneration"
	NodeTypeCustomCode      NodeType = "customCode"
	NodeTypeDefault         NodeType = "default"
)

// KnownNodeTypes lists every node type with a dedicated behavior.
var KnownNodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeTextInput,
	NodeTypeNumberInput,
	NodeTypeImageInput,
	NodeTypeToggleInput,
	NodeTypeSliderInput,
	NodeTypeOutput,
	NodeTypeImageOutput,
	NodeTypeImageGeneration,
	NodeTypeCustomCode,
	NodeTypeDefault,
}

// IsKnown reports whether t has a dedicated behavior.
func (t NodeType) IsKnown() bool {
	for _, k := range KnownNodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Position is a node's canvas coordinate. Presentation only.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a unit of work on the canvas.
type Node struct {
	ID          string     `json:"id"`
	Type        NodeType   `json:"type"`
	Position    Position   `json:"position"`
	Label       string     `json:"label,omitempty"`
	Description string     `json:"description,omitempty"`
	Config      NodeConfig `json:"config,omitempty"`
	// Executing is transient run state and is cleared whenever a graph is loaded.
	Executing bool `json:"executing,omitempty"`
}

// Name returns the label, or the ID when the node is unlabeled.
func (n Node) Name() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	n.Config = n.Config.Clone()
	return n
}

// Edge is a directed data dependency from Source to Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the ordered node and edge collections of a workflow.
// Declaration order is significant: it decides root order, edge
// traversal order and fan-in input numbering.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// IsEmpty reports whether the graph has no nodes.
func (g Graph) IsEmpty() bool {
	return len(g.Nodes) == 0
}

// Clone returns a deep copy. Runs execute against a clone so edits made
// during a run never leak into it.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, g.Edges)
	return out
}

// NodeIndex maps node IDs to their position in Nodes.
func (g Graph) NodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// Node returns the node with the given ID.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// HasNode reports whether a node with the given ID exists.
func (g Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// ClearExecuting resets the transient executing flag on every node.
func (g *Graph) ClearExecuting() {
	for i := range g.Nodes {
		g.Nodes[i].Executing = false
	}
}
