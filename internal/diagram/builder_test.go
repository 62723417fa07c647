package diagram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func pipelineGraph() schema.Graph {
	return schema.Graph{
		Nodes: []schema.Node{
			{ID: "t", Type: schema.NodeTypeTrigger},
			{ID: "prompt", Type: schema.NodeTypeTextInput, Label: "Prompt"},
			{ID: "gen", Type: schema.NodeTypeImageGeneration, Label: "Flux"},
			{ID: "show", Type: schema.NodeTypeImageOutput, Label: "Show"},
			{ID: "note", Type: "sticky"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t", Target: "prompt"},
			{ID: "e2", Source: "prompt", Target: "gen"},
			{ID: "e3", Source: "gen", Target: "show"},
			{ID: "e4", Source: "gen", Target: "missing"},
		},
	}
}

func cyclicGraph() schema.Graph {
	return schema.Graph{
		Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeDefault}, {ID: "b", Type: schema.NodeTypeDefault}},
		Edges: []schema.Edge{{ID: "e1", Source: "a", Target: "b"}, {ID: "e2", Source: "b", Target: "a"}},
	}
}

func TestBuildLevelsAndKinds(t *testing.T) {
	model := Build("Pipeline", pipelineGraph(), nil)

	assert.Equal(t, "Pipeline", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindTrigger, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindInput, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindModel, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindOutput, model.Nodes[3].Kind)
	assert.Equal(t, NodeKindProcess, model.Nodes[4].Kind)
	assert.Equal(t, "t", model.Nodes[0].Label, "unlabeled nodes show their ID")

	// The dangling edge is dropped.
	assert.Len(t, model.Edges, 3)
	assert.False(t, model.Cyclic)
	assert.Equal(t, [][]string{{"t", "note"}, {"prompt"}, {"gen"}, {"show"}}, model.Levels)
}

func TestBuildCyclicFallsBackToDeclarationOrder(t *testing.T) {
	model := Build("", cyclicGraph(), nil)
	assert.Equal(t, "Workflow", model.Title)
	assert.True(t, model.Cyclic)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, model.Levels)
}

func TestBuildStatusOverlay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	done := start.Add(1500 * time.Millisecond)
	g := pipelineGraph()
	g.Nodes[3].Executing = true

	model := Build("", g, []*schema.NodeExecution{
		{NodeID: "prompt", Status: schema.NodeRunSucceeded, StartedAt: start, CompletedAt: &done},
		{NodeID: "gen", Status: schema.NodeRunFailed, Error: "No image URL returned", StartedAt: start, CompletedAt: &done},
	})

	require.NotNil(t, model.Nodes[1].Status)
	assert.Equal(t, "success", model.Nodes[1].Status.Status)
	assert.Equal(t, int64(1500), model.Nodes[1].Status.DurationMs)
	assert.Equal(t, "No image URL returned", model.Nodes[2].Status.Error)
	assert.Equal(t, StatusExecuting, model.Nodes[3].Status.Status)
	assert.Nil(t, model.Nodes[0].Status)
}

func TestRenderMermaid(t *testing.T) {
	start := time.Now()
	model := Build("Pipeline", pipelineGraph(), []*schema.NodeExecution{
		{NodeID: "gen", Status: schema.NodeRunFailed, StartedAt: start, CompletedAt: &start},
	})
	out := RenderMermaid(model)

	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, "%% Pipeline")
	assert.Contains(t, out, `n_t(("t"))`)
	assert.Contains(t, out, `n_prompt[/"Prompt"/]`)
	assert.Contains(t, out, `n_gen{{"Flux"}}`)
	assert.Contains(t, out, `n_show(["Show"])`)
	assert.Contains(t, out, "n_prompt --> n_gen")
	assert.Contains(t, out, "class n_gen error")
	assert.NotContains(t, out, "missing")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "n_a_b_c_d", mermaidSafeID("a.b-c d"))
}

func TestRenderASCII(t *testing.T) {
	out := RenderASCII(Build("Pipeline", pipelineGraph(), nil))
	assert.Contains(t, out, "=== Pipeline ===")
	assert.Contains(t, out, "Flux")
	assert.Contains(t, out, "Prompt ─→ Flux")
	assert.Contains(t, out, " 1 | /Prompt/\n")

	start := time.Now()
	done := start.Add(20 * time.Millisecond)
	ran := RenderASCII(Build("Pipeline", pipelineGraph(), []*schema.NodeExecution{
		{NodeID: "gen", Status: schema.NodeRunFailed, StartedAt: start, CompletedAt: &done},
	}))
	assert.Contains(t, ran, "{Flux} failed 20ms")

	cyc := RenderASCII(Build("", cyclicGraph(), nil))
	assert.Contains(t, cyc, "contains a cycle")
}

func TestRenderImage(t *testing.T) {
	png, err := RenderImage(context.Background(), Build("Pipeline", pipelineGraph(), nil))
	require.NoError(t, err)
	require.Greater(t, len(png), 8)

	// PNG magic bytes.
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}
