package schema

import "time"

// LogSeverity classifies an execution log entry.
type LogSeverity string

const (
	LogInfo    LogSeverity = "info"
	LogWarning LogSeverity = "warning"
	LogError   LogSeverity = "error"
	LogSuccess LogSeverity = "success"
)

// LogEntry is one line of a run's execution log.
type LogEntry struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id,omitempty"`
	RunID      string      `json:"run_id,omitempty"`
	Seq        int64       `json:"seq"`
	Timestamp  time.Time   `json:"timestamp"`
	Message    string      `json:"message"`
	Severity   LogSeverity `json:"type"`
	NodeID     string      `json:"node_id,omitempty"`
	NodeName   string      `json:"node_name,omitempty"`
}
