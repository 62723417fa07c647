package schema

import "time"

// RunStatus is the lifecycle state of the execution engine.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further execution happens in this state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	}
	return false
}

// NodeRunStatus is the outcome of one node within a run.
type NodeRunStatus string

const (
	NodeRunRunning   NodeRunStatus = "running"
	NodeRunSucceeded NodeRunStatus = "success"
	NodeRunFailed    NodeRunStatus = "error"
)

// NodeExecution records a node's execution within a run.
type NodeExecution struct {
	RunID       string        `json:"run_id"`
	NodeID      string        `json:"node_id"`
	NodeName    string        `json:"node_name"`
	NodeType    NodeType      `json:"node_type"`
	Status      NodeRunStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Duration returns the elapsed execution time, zero while running.
func (e NodeExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	Ordering   string     `json:"ordering,omitempty"`
	NodeCount  int        `json:"node_count"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the run's elapsed time, zero while running.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stream event types published to observers.
const (
	EventLogAppended     = "log.appended"
	EventNodeState       = "node.state"
	EventNodeUpdated     = "node.updated"
	EventNodeHighlighted = "node.highlighted"
	EventRunState        = "run.state"
	EventGraphChanged    = "graph.changed"
	EventGraphSaved      = "graph.saved"
	EventSaveFailed      = "graph.save_failed"
)
