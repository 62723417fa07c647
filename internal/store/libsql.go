package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowforge/pkg/schema"
)

// pragmas tune the embedded database for a single writer. Some of them
// return a row, so each is run as a query.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// LibSQLStore is the Store backed by an embedded libSQL database.
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLStore opens the database at dsn, a file URI such as
// "file:/home/me/.flowforge/flowforge.db".
func NewLibSQLStore(dsn string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *LibSQLStore) DB() *sql.DB  { return s.db }
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded migrations that have not run yet.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// stamp fills a missing timestamp with the store clock.
func (s *LibSQLStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// clauses accumulates "col = ?" fragments with their arguments, for either
// a WHERE or a SET list.
type clauses struct {
	parts []string
	args  []any
}

func (c *clauses) add(fragment string, arg any) {
	c.parts = append(c.parts, fragment)
	c.args = append(c.args, arg)
}

func (c *clauses) empty() bool { return len(c.parts) == 0 }

func (c *clauses) where() string {
	if c.empty() {
		return ""
	}
	return " WHERE " + strings.Join(c.parts, " AND ")
}

func (c *clauses) set() string { return strings.Join(c.parts, ", ") }

func page(limit, offset int) string {
	switch {
	case limit <= 0:
		return ""
	case offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// collect scans every row of a query with scan.
func collect[T any](rows *sql.Rows, err error, scan func(rowScanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// one scans a single row, turning sql.ErrNoRows into NOT_FOUND.
func one[T any](row *sql.Row, scan func(rowScanner) (T, error), resource, id string) (T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return v, notFound(resource, id)
	}
	return v, err
}

func notFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// mustAffect reports NOT_FOUND when a write touched no rows.
func mustAffect(res sql.Result, err error, resource, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
