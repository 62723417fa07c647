package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/pkg/schema"
)

const (
	runCols  = `id, workflow_id, status, ordering, node_count, error, started_at, finished_at`
	execCols = `run_id, node_id, node_name, node_type, status, error, started_at, completed_at`
	logCols  = `id, run_id, workflow_id, seq, timestamp, severity, message, node_id, node_name`
)

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.StartedAt = s.stamp(run.StartedAt)
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (`+runCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, string(run.Status), nullStr(run.Ordering), run.NodeCount,
		nullStr(run.Error), run.StartedAt, nullTime(run.FinishedAt))
	return err
}

func (s *LibSQLStore) FinishRun(ctx context.Context, runID string, status schema.RunStatus, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullStr(errMsg), s.stamp(finishedAt), runID)
	return mustAffect(res, err, "run", runID)
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.RunRecord, error) {
	return one(s.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id = ?`, id), scanRun, "run", id)
}

// ListRuns returns runs, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error) {
	var where clauses
	if filter.WorkflowID != "" {
		where.add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		where.add("status = ?", string(filter.Status))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runCols+` FROM runs`+where.where()+` ORDER BY started_at DESC, rowid DESC`+page(filter.Limit, 0),
		where.args...)
	return collect(rows, err, scanRun)
}

func scanRun(row rowScanner) (*schema.RunRecord, error) {
	var (
		r               schema.RunRecord
		ordering, fault sql.NullString
		finished        sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.Status, &ordering, &r.NodeCount, &fault, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.Ordering, r.Error, r.FinishedAt = ordering.String, fault.String, timePtr(finished)
	return &r, nil
}

func (s *LibSQLStore) RecordNodeExecution(ctx context.Context, exec *schema.NodeExecution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO node_executions (`+execCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.NodeID, nullStr(exec.NodeName), string(exec.NodeType), string(exec.Status),
		nullStr(exec.Error), s.stamp(exec.StartedAt), nullTime(exec.CompletedAt))
	return err
}

// ListNodeExecutions returns a run's node executions in the order they
// were recorded.
func (s *LibSQLStore) ListNodeExecutions(ctx context.Context, runID string) ([]*schema.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+execCols+` FROM node_executions WHERE run_id = ? ORDER BY id`, runID)
	return collect(rows, err, func(row rowScanner) (*schema.NodeExecution, error) {
		var (
			e           schema.NodeExecution
			name, fault sql.NullString
			completed   sql.NullTime
		)
		if err := row.Scan(&e.RunID, &e.NodeID, &name, &e.NodeType, &e.Status, &fault, &e.StartedAt, &completed); err != nil {
			return nil, err
		}
		e.NodeName, e.Error, e.CompletedAt = name.String, fault.String, timePtr(completed)
		return &e, nil
	})
}

func (s *LibSQLStore) AppendRunLog(ctx context.Context, entry *schema.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO run_logs (`+logCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, nullStr(entry.WorkflowID), entry.Seq, s.stamp(entry.Timestamp),
		string(entry.Severity), entry.Message, nullStr(entry.NodeID), nullStr(entry.NodeName))
	return err
}

// ListRunLogs returns log entries in append order.
func (s *LibSQLStore) ListRunLogs(ctx context.Context, filter LogFilter) ([]*schema.LogEntry, error) {
	var where clauses
	if filter.RunID != "" {
		where.add("run_id = ?", filter.RunID)
	}
	if filter.WorkflowID != "" {
		where.add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.SinceSeq > 0 {
		where.add("seq > ?", filter.SinceSeq)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logCols+` FROM run_logs`+where.where()+` ORDER BY timestamp, seq`+page(filter.Limit, 0),
		where.args...)
	return collect(rows, err, func(row rowScanner) (*schema.LogEntry, error) {
		var (
			e                    schema.LogEntry
			wf, nodeID, nodeName sql.NullString
		)
		if err := row.Scan(&e.ID, &e.RunID, &wf, &e.Seq, &e.Timestamp, &e.Severity, &e.Message, &nodeID, &nodeName); err != nil {
			return nil, err
		}
		e.WorkflowID, e.NodeID, e.NodeName = wf.String, nodeID.String, nodeName.String
		return &e, nil
	})
}
