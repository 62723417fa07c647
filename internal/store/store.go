package store

import (
	"context"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Run history
	CreateRun(ctx context.Context, run *schema.RunRecord) error
	FinishRun(ctx context.Context, runID string, status schema.RunStatus, errMsg string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*schema.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error)
	RecordNodeExecution(ctx context.Context, exec *schema.NodeExecution) error
	ListNodeExecutions(ctx context.Context, runID string) ([]*schema.NodeExecution, error)

	// Run logs (append-only)
	AppendRunLog(ctx context.Context, entry *schema.LogEntry) error
	ListRunLogs(ctx context.Context, filter LogFilter) ([]*schema.LogEntry, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
