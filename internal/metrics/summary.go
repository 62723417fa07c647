package metrics

import (
	"math"
	"strings"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// NodePerformance is the per-node slice of a Summary.
type NodePerformance struct {
	NodeID     string  `json:"node_id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Executions int     `json:"executions"`
	Failures   int     `json:"failures"`
	AvgSeconds float64 `json:"avg_seconds"`
}

// StatusCount is one bar of the status distribution.
type StatusCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Summary is the performance view derived from execution log entries.
type Summary struct {
	TotalExecutions    int               `json:"total_executions"`
	SuccessRate        float64           `json:"success_rate"`
	FailureRate        float64           `json:"failure_rate"`
	AvgExecutionTime   float64           `json:"avg_execution_seconds"`
	NodePerformance    []NodePerformance `json:"node_performance"`
	StatusDistribution []StatusCount     `json:"status_distribution"`
}

// Summarize derives a Summary from log entries, possibly spanning several
// runs, and the workflow's nodes.
//
// A run counts once per "execution started" entry. Success and failure
// rates are the share of success and error entries among all entries.
// Node timings pair each node's start entry with the next success or
// error entry tagged with the same node in the same run.
func Summarize(entries []schema.LogEntry, nodes []schema.Node) Summary {
	sum := Summary{NodePerformance: make([]NodePerformance, 0, len(nodes))}

	var successes, failures int
	for _, e := range entries {
		switch e.Severity {
		case schema.LogSuccess:
			successes++
		case schema.LogError:
			failures++
		}
		if e.NodeID == "" && strings.Contains(e.Message, "execution started") {
			sum.TotalExecutions++
		}
	}
	if len(entries) > 0 {
		sum.SuccessRate = percent(successes, len(entries))
		sum.FailureRate = percent(failures, len(entries))
	}
	sum.StatusDistribution = []StatusCount{
		{Name: "Success", Value: successes},
		{Name: "Failed", Value: failures},
	}
	sum.AvgExecutionTime = avgRunSeconds(entries)

	timings := nodeTimings(entries)
	for _, n := range nodes {
		t, ok := timings[n.ID]
		if !ok {
			t = &nodeTiming{}
		}
		np := NodePerformance{
			NodeID:     n.ID,
			Name:       n.Name(),
			Type:       string(n.Type),
			Executions: t.successes,
			Failures:   t.failures,
		}
		if t.samples > 0 {
			np.AvgSeconds = roundTo(t.total.Seconds()/float64(t.samples), 3)
		}
		sum.NodePerformance = append(sum.NodePerformance, np)
	}
	return sum
}

type nodeTiming struct {
	successes int
	failures  int
	samples   int
	total     time.Duration
}

func nodeTimings(entries []schema.LogEntry) map[string]*nodeTiming {
	out := make(map[string]*nodeTiming)
	type key struct{ run, node string }
	started := make(map[key]time.Time)

	for _, e := range entries {
		if e.NodeID == "" {
			continue
		}
		t, ok := out[e.NodeID]
		if !ok {
			t = &nodeTiming{}
			out[e.NodeID] = t
		}
		k := key{e.RunID, e.NodeID}
		switch e.Severity {
		case schema.LogInfo:
			started[k] = e.Timestamp
		case schema.LogSuccess, schema.LogError:
			if e.Severity == schema.LogSuccess {
				t.successes++
			} else {
				t.failures++
			}
			if at, ok := started[k]; ok {
				t.samples++
				t.total += e.Timestamp.Sub(at)
				delete(started, k)
			}
		}
	}
	return out
}

// avgRunSeconds averages first-to-last entry spans per run.
func avgRunSeconds(entries []schema.LogEntry) float64 {
	type span struct{ first, last time.Time }
	spans := make(map[string]*span)
	var order []string
	for _, e := range entries {
		s, ok := spans[e.RunID]
		if !ok {
			spans[e.RunID] = &span{first: e.Timestamp, last: e.Timestamp}
			order = append(order, e.RunID)
			continue
		}
		if e.Timestamp.Before(s.first) {
			s.first = e.Timestamp
		}
		if e.Timestamp.After(s.last) {
			s.last = e.Timestamp
		}
	}
	if len(order) == 0 {
		return 0
	}
	var total time.Duration
	for _, id := range order {
		total += spans[id].last.Sub(spans[id].first)
	}
	return roundTo(total.Seconds()/float64(len(order)), 3)
}

func percent(part, whole int) float64 {
	return roundTo(float64(part)/float64(whole)*100, 1)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
