package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/pkg/schema"
)

const workflowCols = `id, name, description, graph, created_at, updated_at`

// CreateWorkflow inserts wf, assigning an ID and timestamps when unset.
func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.CreatedAt = s.stamp(wf.CreatedAt)
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	doc, err := encodeGraph(wf.Graph)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflows (`+workflowCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), doc, wf.CreatedAt, wf.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return one(s.db.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id = ?`, id),
		scanWorkflow, "workflow", id)
}

// UpdateWorkflow applies the non-nil fields of update, bumps updated_at
// and returns the stored result.
func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*Workflow, error) {
	if update.IsEmpty() {
		return s.GetWorkflow(ctx, id)
	}
	var set clauses
	if update.Name != nil {
		set.add("name = ?", *update.Name)
	}
	if update.Description != nil {
		set.add("description = ?", nullStr(*update.Description))
	}
	if update.Graph != nil {
		doc, err := encodeGraph(*update.Graph)
		if err != nil {
			return nil, err
		}
		set.add("graph = ?", doc)
	}
	set.add("updated_at = ?", s.now())

	res, err := s.db.ExecContext(ctx, "UPDATE workflows SET "+set.set()+" WHERE id = ?", append(set.args, id)...)
	if err := mustAffect(res, err, "workflow", id); err != nil {
		return nil, err
	}
	return s.GetWorkflow(ctx, id)
}

// ListWorkflows returns workflows, most recently updated first.
func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowCols+` FROM workflows ORDER BY updated_at DESC, rowid DESC`+
		page(filter.Limit, filter.Offset))
	return collect(rows, err, scanWorkflow)
}

// workflowChildren are deleted with their workflow, children first.
var workflowChildren = []struct{ what, stmt string }{
	{"scheduled jobs", `DELETE FROM scheduled_jobs WHERE workflow_id = ?`},
	{"node executions", `DELETE FROM node_executions WHERE run_id IN (SELECT id FROM runs WHERE workflow_id = ?)`},
	{"run logs", `DELETE FROM run_logs WHERE workflow_id = ?`},
	{"runs", `DELETE FROM runs WHERE workflow_id = ?`},
}

// DeleteWorkflow removes the workflow with its run history and schedules.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, child := range workflowChildren {
		if _, err := tx.ExecContext(ctx, child.stmt, id); err != nil {
			return fmt.Errorf("delete %s: %w", child.what, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err := mustAffect(res, err, "workflow", id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var (
		wf   Workflow
		desc sql.NullString
		doc  string
	)
	if err := row.Scan(&wf.ID, &wf.Name, &desc, &doc, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Description = desc.String
	if err := json.Unmarshal([]byte(doc), &wf.Graph); err != nil {
		return nil, fmt.Errorf("workflow %s: decode graph: %w", wf.ID, err)
	}
	return &wf, nil
}

// encodeGraph stores g without transient executing flags and with empty
// collections as [] rather than null.
func encodeGraph(g schema.Graph) (string, error) {
	g = g.Clone()
	g.ClearExecuting()
	if g.Nodes == nil {
		g.Nodes = []schema.Node{}
	}
	if g.Edges == nil {
		g.Edges = []schema.Edge{}
	}
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encode graph: %w", err)
	}
	return string(data), nil
}
