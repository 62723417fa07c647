package builder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

type memWorkflowStore struct {
	mu        sync.Mutex
	workflows map[string]*store.Workflow
	loads     int
	failSave  error
}

func newMemWorkflowStore(wfs ...*store.Workflow) *memWorkflowStore {
	m := &memWorkflowStore{workflows: map[string]*store.Workflow{}}
	for _, wf := range wfs {
		m.workflows[wf.ID] = wf
	}
	return m
}

func (m *memWorkflowStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *wf
	cp.Graph = wf.Graph.Clone()
	return &cp, nil
}

func (m *memWorkflowStore) UpdateWorkflow(_ context.Context, id string, u store.WorkflowUpdate) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return nil, m.failSave
	}
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	if u.Graph != nil {
		wf.Graph = u.Graph.Clone()
	}
	if u.Name != nil {
		wf.Name = *u.Name
	}
	return wf, nil
}

func (m *memWorkflowStore) graph(id string) schema.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workflows[id].Graph.Clone()
}

func sampleWorkflow(id string) *store.Workflow {
	return &store.Workflow{
		ID:   id,
		Name: "Sample " + id,
		Graph: schema.Graph{
			Nodes: []schema.Node{
				{ID: "t", Type: schema.NodeTypeTrigger},
				{ID: "in", Type: schema.NodeTypeTextInput, Executing: true, Config: schema.NodeConfig{schema.ConfigInputText: "hi"}},
				{ID: "out", Type: schema.NodeTypeOutput},
			},
			Edges: []schema.Edge{{ID: "e1", Source: "t", Target: "in"}, {ID: "e2", Source: "in", Target: "out"}},
		},
	}
}

func newTestManager(t *testing.T, st *memWorkflowStore) *Manager {
	t.Helper()
	deps, _, _ := testDeps(t, nil)
	m := NewManager(st, deps)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManagerOpensLazilyOnce(t *testing.T) {
	st := newMemWorkflowStore(sampleWorkflow("wf-a"))
	m := newTestManager(t, st)

	s1, err := m.Open(context.Background(), "wf-a")
	require.NoError(t, err)
	s2, err := m.Open(context.Background(), "wf-a")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, st.loads)
	assert.Equal(t, "Sample wf-a", s1.Name())
	assert.Equal(t, []string{"wf-a"}, m.Sessions())

	// Loading clears transient executing flags.
	for _, n := range s1.Graph().Nodes {
		assert.False(t, n.Executing)
	}

	_, err = m.Open(context.Background(), "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestManagerRunSaved(t *testing.T) {
	st := newMemWorkflowStore(sampleWorkflow("wf-a"))
	m := newTestManager(t, st)

	status, err := m.RunSaved(context.Background(), "wf-a")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, status)

	// The output node's write-back reaches the store.
	require.NoError(t, m.Flush(context.Background()))
	require.Eventually(t, func() bool {
		n, ok := st.graph("wf-a").Node("out")
		return ok && n.Config.String(schema.ConfigOutputText) == "hi"
	}, time.Second, 5*time.Millisecond)
}

func TestManagerFlushCombinesFailures(t *testing.T) {
	st := newMemWorkflowStore(sampleWorkflow("wf-a"), sampleWorkflow("wf-b"))
	m := newTestManager(t, st)
	// A long quiet period keeps the saves pending until Flush.
	m.deps.AutosaveDelay = time.Hour

	for _, id := range []string{"wf-a", "wf-b"} {
		s, err := m.Open(context.Background(), id)
		require.NoError(t, err)
		_, err = s.MoveNode("t", schema.Position{X: 1})
		require.NoError(t, err)
	}

	st.mu.Lock()
	st.failSave = schema.NewError(schema.ErrCodeStore, "read-only database")
	st.mu.Unlock()

	err := m.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "read-only database")

	st.mu.Lock()
	st.failSave = nil
	st.mu.Unlock()
}

func TestManagerCloseAndForget(t *testing.T) {
	st := newMemWorkflowStore(sampleWorkflow("wf-a"), sampleWorkflow("wf-b"))
	m := newTestManager(t, st)
	m.deps.AutosaveDelay = time.Hour

	s, err := m.Open(context.Background(), "wf-a")
	require.NoError(t, err)
	_, err = s.MoveNode("t", schema.Position{X: 7})
	require.NoError(t, err)
	require.NoError(t, m.CloseSession(context.Background(), "wf-a"))

	n, _ := st.graph("wf-a").Node("t")
	assert.Equal(t, 7.0, n.Position.X, "close flushes")

	s, err = m.Open(context.Background(), "wf-b")
	require.NoError(t, err)
	_, err = s.MoveNode("t", schema.Position{X: 9})
	require.NoError(t, err)
	m.Forget(context.Background(), "wf-b")

	n, _ = st.graph("wf-b").Node("t")
	assert.Equal(t, 0.0, n.Position.X, "forget drops pending edits")
	assert.Empty(t, m.Sessions())
	_, ok := m.Lookup("wf-b")
	assert.False(t, ok)
}
