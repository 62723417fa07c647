package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage lays the model out left to right with graphviz dot and
// returns PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: graph: %w", err)
	}
	defer g.Close()
	g.SetRankDir(cgraph.LRRank)
	if model.Title != "" {
		g.SetLabel(model.Title)
	}

	placed := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, n := range model.Nodes {
		gn, err := g.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: node %s: %w", n.ID, err)
		}
		gn.SetLabel(displayLabel(n.Label))
		gn.SetShape(shapeOf(n.Kind).graphviz)
		paint(gn, n.Status)
		placed[n.ID] = gn
	}
	for _, e := range model.Edges {
		from, to := placed[e.From], placed[e.To]
		if from == nil || to == nil {
			continue
		}
		ge, err := g.CreateEdgeByName("", from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: edge %s->%s: %w", e.From, e.To, err)
		}
		if e.Label != "" {
			ge.SetLabel(e.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render: %w", err)
	}
	return buf.Bytes(), nil
}

// paint fills nodes that have run; nodes with no status keep the default
// outline.
func paint(gn *cgraph.Node, status *StatusOverlay) {
	st, ok := styleFor(status)
	if !ok {
		return
	}
	gn.SetStyle(cgraph.FilledNodeStyle)
	gn.SetFillColor(st.fill)
	gn.SetColor(st.stroke)
	gn.SetFontColor("white")
}
