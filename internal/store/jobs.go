package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

const jobCols = `id, workflow_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at`

// CreateScheduledJob inserts job. A job for an unknown workflow is
// NOT_FOUND.
func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = s.stamp(job.CreatedAt)
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_jobs (`+jobCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, sqlBool(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), job.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return notFound("workflow", job.WorkflowID)
	}
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	return one(s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM scheduled_jobs WHERE id = ?`, id),
		scanJob, "scheduled job", id)
}

// UpdateScheduledJob applies the set fields of update. An empty update is
// a no-op, even for an unknown id.
func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var set clauses
	if update.Enabled != nil {
		set.add("enabled = ?", sqlBool(*update.Enabled))
	}
	if update.LastRunAt != nil {
		set.add("last_run_at = ?", *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		set.add("next_run_at = ?", *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		set.add("last_run_status = ?", update.LastRunStatus)
	}
	if set.empty() {
		return nil
	}
	res, err := s.db.ExecContext(ctx, "UPDATE scheduled_jobs SET "+set.set()+" WHERE id = ?", append(set.args, id)...)
	return mustAffect(res, err, "scheduled job", id)
}

// ListScheduledJobs returns jobs in creation order.
func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where clauses
	if filter.Enabled != nil {
		where.add("enabled = ?", sqlBool(*filter.Enabled))
	}
	if filter.WorkflowID != "" {
		where.add("workflow_id = ?", filter.WorkflowID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM scheduled_jobs`+where.where()+` ORDER BY created_at, rowid`+page(filter.Limit, 0),
		where.args...)
	return collect(rows, err, scanJob)
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return mustAffect(res, err, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	var (
		j          ScheduledJob
		last, next sql.NullTime
		lastStatus sql.NullString
	)
	if err := row.Scan(&j.ID, &j.WorkflowID, &j.CronExpression, &j.Enabled, &last, &next, &lastStatus, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.LastRunAt, j.NextRunAt, j.LastRunStatus = timePtr(last), timePtr(next), lastStatus.String
	return &j, nil
}

// sqlBool encodes b for the INTEGER enabled column.
func sqlBool(b bool) int {
	if b {
		return 1
	}
	return 0
}
