package builder

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

// WorkflowStore is the slice of store.Store the manager reads and saves
// workflows through.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (*store.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) (*store.Workflow, error)
}

// Manager owns one Session per open workflow. Sessions are opened lazily
// from the store.
type Manager struct {
	store  WorkflowStore
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. deps.Saver is replaced by the store.
func NewManager(s WorkflowStore, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Saver = s
	return &Manager{
		store:    s,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for a workflow, loading it on first use.
func (m *Manager) Open(ctx context.Context, workflowID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[workflowID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have opened it while we were loading.
	if s, ok := m.sessions[workflowID]; ok {
		return s, nil
	}
	s := NewSession(wf.ID, wf.Name, wf.Graph, m.deps)
	m.sessions[workflowID] = s
	m.logger.Debug("session opened", slog.String("workflow_id", workflowID), slog.Int("nodes", len(wf.Graph.Nodes)))
	return s, nil
}

// Lookup returns an already open session.
func (m *Manager) Lookup(workflowID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[workflowID]
	return s, ok
}

// Sessions lists the IDs of open sessions, sorted.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunSaved runs a stored workflow to completion. It backs scheduled runs.
func (m *Manager) RunSaved(ctx context.Context, workflowID string) (schema.RunStatus, error) {
	s, err := m.Open(ctx, workflowID)
	if err != nil {
		return "", err
	}
	res, err := s.Run(ctx)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

// CloseSession flushes pending edits and closes a session.
func (m *Manager) CloseSession(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	s, ok := m.sessions[workflowID]
	delete(m.sessions, workflowID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := s.Flush(ctx)
	s.Close(ctx)
	return err
}

// Forget closes a session without saving, as when its workflow was
// deleted.
func (m *Manager) Forget(ctx context.Context, workflowID string) {
	m.mu.Lock()
	s, ok := m.sessions[workflowID]
	delete(m.sessions, workflowID)
	m.mu.Unlock()
	if ok {
		s.Close(ctx)
	}
}

// Flush persists pending edits of every session. Every session is
// attempted; failures are combined.
func (m *Manager) Flush(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range m.snapshot() {
		if err := s.Flush(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Shutdown flushes and closes every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Flush(ctx)

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
	return err
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
