// Package metrics exports run and node timings to Prometheus and derives
// the performance summary shown next to a workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rendis/flowforge/pkg/schema"
)

// Collector records engine timings. It satisfies engine.MetricsRecorder.
type Collector struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	nodeRuns     *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
}

// NewCollector registers the flowforge collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowforge_runs_total",
			Help: "Workflow runs that reached a terminal state, by status.",
		}, []string{"status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowforge_run_duration_seconds",
			Help:    "Wall-clock duration of workflow runs.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		nodeRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowforge_node_executions_total",
			Help: "Node executions, by node type and outcome.",
		}, []string{"type", "status"}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowforge_node_duration_seconds",
			Help:    "Duration of single node executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// ObserveRun counts a finished run.
func (c *Collector) ObserveRun(status schema.RunStatus, d time.Duration) {
	c.runs.WithLabelValues(string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveNode counts a finished node execution.
func (c *Collector) ObserveNode(nodeType schema.NodeType, status schema.NodeRunStatus, d time.Duration) {
	c.nodeRuns.WithLabelValues(string(nodeType), string(status)).Inc()
	c.nodeDuration.WithLabelValues(string(nodeType)).Observe(d.Seconds())
}
