package engine

import (
	"github.com/rendis/flowforge/pkg/schema"
)

// RootNodes returns the nodes with no incoming edge, in declaration order.
// A graph whose every node has an incoming edge has no roots.
func RootNodes(g schema.Graph) []schema.Node {
	hasIncoming := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		hasIncoming[e.Target] = true
	}
	roots := make([]schema.Node, 0)
	for _, n := range g.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n)
		}
	}
	return roots
}

// IncomingEdges returns the edges targeting nodeID, in edge order.
// Edge order decides fan-in input numbering.
func IncomingEdges(g schema.Graph, nodeID string) []schema.Edge {
	var out []schema.Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns the edges leaving nodeID, in edge order.
func OutgoingEdges(g schema.Graph, nodeID string) []schema.Edge {
	var out []schema.Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// adjacency is the precomputed edge index of a graph snapshot. Edges whose
// endpoints are missing from the node set are ignored.
type adjacency struct {
	nodes    map[string]schema.Node
	incoming map[string][]schema.Edge
	outgoing map[string][]schema.Edge
}

func buildAdjacency(g schema.Graph) *adjacency {
	adj := &adjacency{
		nodes:    make(map[string]schema.Node, len(g.Nodes)),
		incoming: make(map[string][]schema.Edge, len(g.Nodes)),
		outgoing: make(map[string][]schema.Edge, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		adj.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		if _, ok := adj.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := adj.nodes[e.Target]; !ok {
			continue
		}
		adj.outgoing[e.Source] = append(adj.outgoing[e.Source], e)
		adj.incoming[e.Target] = append(adj.incoming[e.Target], e)
	}
	return adj
}

// TopologicalOrder returns node IDs such that every edge source precedes
// its target. Ties break by declaration order. Returns CYCLE_DETECTED when
// the graph is cyclic.
func TopologicalOrder(g schema.Graph) ([]string, error) {
	adj := buildAdjacency(g)

	// Kahn's algorithm over declaration order.
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = len(adj.incoming[n.ID])
	}

	queue := make([]string, 0)
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	sorted := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, e := range adj.outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if len(sorted) != len(g.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle")
	}
	return sorted, nil
}

// Levels groups nodes by their longest distance from a root. Nodes in the
// same level have no edges between them. Cyclic graphs return an error.
func Levels(g schema.Graph) ([][]string, error) {
	sorted, err := TopologicalOrder(g)
	if err != nil {
		return nil, err
	}
	adj := buildAdjacency(g)

	depth := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, id := range sorted {
		d := 0
		for _, e := range adj.incoming[id] {
			if depth[e.Source]+1 > d {
				d = depth[e.Source] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	if len(sorted) == 0 {
		return nil, nil
	}
	levels := make([][]string, maxLevel+1)
	for _, id := range sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels, nil
}
