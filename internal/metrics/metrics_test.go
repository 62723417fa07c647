package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRun(schema.RunStatusCompleted, 2*time.Second)
	c.ObserveRun(schema.RunStatusCompleted, time.Second)
	c.ObserveRun(schema.RunStatusFailed, time.Second)
	c.ObserveNode(schema.NodeTypeImageGeneration, schema.NodeRunSucceeded, 3*time.Second)
	c.ObserveNode(schema.NodeTypeImageGeneration, schema.NodeRunFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeRuns.WithLabelValues("imageGeneration", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeRuns.WithLabelValues("imageGeneration", "error")))

	n, err := testutil.GatherAndCount(reg, "flowforge_run_duration_seconds", "flowforge_node_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCollectorRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func entry(runID string, at time.Time, sev schema.LogSeverity, msg, nodeID string) schema.LogEntry {
	return schema.LogEntry{RunID: runID, Timestamp: at, Severity: sev, Message: msg, NodeID: nodeID}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil, []schema.Node{{ID: "a", Type: schema.NodeTypeTrigger}})
	assert.Zero(t, sum.TotalExecutions)
	assert.Zero(t, sum.SuccessRate)
	assert.Zero(t, sum.AvgExecutionTime)
	require.Len(t, sum.NodePerformance, 1)
	assert.Equal(t, "a", sum.NodePerformance[0].Name)
	assert.Equal(t, []StatusCount{{"Success", 0}, {"Failed", 0}}, sum.StatusDistribution)
}

func TestSummarizeRuns(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	entries := []schema.LogEntry{
		// Run 1: two nodes, both succeed, 3s total.
		entry("r1", at(0), schema.LogInfo, "Workflow execution started", ""),
		entry("r1", at(0), schema.LogInfo, "Executing workflow with 2 nodes", ""),
		entry("r1", at(0), schema.LogInfo, "Executing node: Text", "text"),
		entry("r1", at(500), schema.LogSuccess, "Node Text completed", "text"),
		entry("r1", at(500), schema.LogInfo, "Executing node: Gen", "gen"),
		entry("r1", at(2500), schema.LogSuccess, "Node Gen completed", "gen"),
		entry("r1", at(3000), schema.LogSuccess, "Workflow completed successfully in 3.00s", ""),
		// Run 2: the generator fails after 1s.
		entry("r2", at(10000), schema.LogInfo, "Workflow execution started", ""),
		entry("r2", at(10000), schema.LogInfo, "Executing node: Text", "text"),
		entry("r2", at(10500), schema.LogSuccess, "Node Text completed", "text"),
		entry("r2", at(10500), schema.LogInfo, "Executing node: Gen", "gen"),
		entry("r2", at(11500), schema.LogError, "Error executing node Gen: boom", "gen"),
		entry("r2", at(11500), schema.LogError, "Workflow execution failed: boom", ""),
	}
	nodes := []schema.Node{
		{ID: "text", Type: schema.NodeTypeTextInput, Label: "Text"},
		{ID: "gen", Type: schema.NodeTypeImageGeneration, Label: "Gen"},
		{ID: "idle", Type: schema.NodeTypeOutput},
	}

	sum := Summarize(entries, nodes)
	assert.Equal(t, 2, sum.TotalExecutions)
	// 4 success and 2 error entries out of 13.
	assert.Equal(t, 30.8, sum.SuccessRate)
	assert.Equal(t, 15.4, sum.FailureRate)
	assert.Equal(t, []StatusCount{{"Success", 4}, {"Failed", 2}}, sum.StatusDistribution)
	// Runs took 3s and 1.5s.
	assert.Equal(t, 2.25, sum.AvgExecutionTime)

	require.Len(t, sum.NodePerformance, 3)
	text, gen, idle := sum.NodePerformance[0], sum.NodePerformance[1], sum.NodePerformance[2]
	assert.Equal(t, NodePerformance{NodeID: "text", Name: "Text", Type: "textInput", Executions: 2, AvgSeconds: 0.5}, text)
	assert.Equal(t, 1, gen.Executions)
	assert.Equal(t, 1, gen.Failures)
	assert.Equal(t, 1.5, gen.AvgSeconds)
	assert.Equal(t, "idle", idle.Name)
	assert.Zero(t, idle.Executions)
}
