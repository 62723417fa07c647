package diagram

// NodeKind groups node types that share a shape.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"
	NodeKindInput   NodeKind = "input"
	NodeKindProcess NodeKind = "process"
	NodeKindModel   NodeKind = "model"
	NodeKindCode    NodeKind = "code"
	NodeKindOutput  NodeKind = "output"
)

// Overlay statuses beyond schema.NodeRunStatus.
const (
	StatusExecuting = "executing"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string  `json:"title"`
	Nodes []*Node `json:"nodes"`
	Edges []Edge  `json:"edges"`
	// Levels groups node IDs by depth. A cyclic graph gets one node per
	// level in declaration order.
	Levels [][]string `json:"levels"`
	Cyclic bool       `json:"cyclic,omitempty"`
}

// Node is one canvas node.
type Node struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Type   string         `json:"type"`
	Kind   NodeKind       `json:"kind"`
	Status *StatusOverlay `json:"status,omitempty"`
}

// StatusOverlay carries the latest run state of a node.
type StatusOverlay struct {
	Status     string `json:"status"` // schema.NodeRunStatus or StatusExecuting
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Edge is a data dependency between two nodes.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}
