package diagram

import (
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/pkg/schema"
)

// Build constructs a DiagramModel from a graph and, optionally, the node
// executions of its latest run. Nodes flagged as executing in the graph
// override the recorded state.
func Build(title string, g schema.Graph, execs []*schema.NodeExecution) *DiagramModel {
	if title == "" {
		title = "Workflow"
	}

	// Later executions of the same node win.
	states := make(map[string]*schema.NodeExecution, len(execs))
	for _, ex := range execs {
		states[ex.NodeID] = ex
	}

	model := &DiagramModel{
		Title: title,
		Nodes: make([]*Node, 0, len(g.Nodes)),
		Edges: make([]Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		node := &Node{
			ID:    n.ID,
			Label: n.Name(),
			Type:  string(n.Type),
			Kind:  kindOf(n.Type),
		}
		overlayStatus(node, states[n.ID])
		if n.Executing {
			node.Status = &StatusOverlay{Status: StatusExecuting}
		}
		model.Nodes = append(model.Nodes, node)
	}

	for _, e := range g.Edges {
		if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target})
	}

	levels, err := engine.Levels(g)
	if err != nil {
		model.Cyclic = true
		for _, n := range g.Nodes {
			levels = append(levels, []string{n.ID})
		}
	}
	model.Levels = levels
	return model
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeTrigger:
		return NodeKindTrigger
	case schema.NodeTypeTextInput, schema.NodeTypeNumberInput, schema.NodeTypeImageInput,
		schema.NodeTypeToggleInput, schema.NodeTypeSliderInput:
		return NodeKindInput
	case schema.NodeTypeImageGeneration:
		return NodeKindModel
	case schema.NodeTypeCustomCode:
		return NodeKindCode
	case schema.NodeTypeOutput, schema.NodeTypeImageOutput:
		return NodeKindOutput
	default:
		return NodeKindProcess
	}
}

func overlayStatus(node *Node, ex *schema.NodeExecution) {
	if ex == nil {
		return
	}
	node.Status = &StatusOverlay{
		Status:     string(ex.Status),
		DurationMs: ex.Duration().Milliseconds(),
		Error:      ex.Error,
	}
}
