package validation

import (
	"fmt"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/pkg/schema"
)

// validateReachability reports structural traits that do not block a run
// but change what it does. Cycles are legal (each node still runs at most
// once), so every finding here is a warning.
func validateReachability(g schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g.IsEmpty() {
		return result
	}

	if _, err := engine.TopologicalOrder(g); err != nil {
		result.AddWarning("edges", schema.ErrCodeCycleDetected,
			"graph contains a cycle; nodes on it run at most once and fan-in order is best-effort")
	}

	roots := engine.RootNodes(g)
	if len(roots) == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			"no trigger nodes; all nodes run in declaration order")
		return result
	}

	reachable := make(map[string]bool, len(g.Nodes))
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		reachable[r.ID] = true
		queue = append(queue, r.ID)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range engine.OutgoingEdges(g, id) {
			if !reachable[e.Target] && g.HasNode(e.Target) {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	for i, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is not reachable from any root and will not run", n.Name()))
		}
	}
	return result
}
