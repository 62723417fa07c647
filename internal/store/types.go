package store

import (
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// Workflow is a persisted graph.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Graph       schema.Graph `json:"graph"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ScheduledJob runs a saved workflow on a cron schedule.
type ScheduledJob struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow. Nil fields are
// left unchanged.
type WorkflowUpdate struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Graph       *schema.Graph `json:"graph,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u WorkflowUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Graph == nil
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string           `json:"workflow_id,omitempty"`
	Status     schema.RunStatus `json:"status,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// LogFilter specifies criteria for listing run log entries.
type LogFilter struct {
	RunID      string `json:"run_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	// SinceSeq returns only entries with a greater sequence number.
	SinceSeq int64 `json:"since_seq,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
