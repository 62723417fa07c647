package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/internal/nodes"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	mu        sync.Mutex
	workflows map[string]*store.Workflow
	runs      []*schema.RunRecord
	execs     map[string][]*schema.NodeExecution
	logs      []*schema.LogEntry
}

func newMockStore() *mockStore {
	return &mockStore{
		workflows: make(map[string]*store.Workflow),
		execs:     make(map[string][]*schema.NodeExecution),
	}
}

func (m *mockStore) CreateWorkflow(_ context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.ID == "" {
		wf.ID = "wf-generated"
	}
	if _, ok := m.workflows[wf.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID)
	}
	wf.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cp := *wf
	cp.Graph = wf.Graph.Clone()
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
	}
	cp := *wf
	cp.Graph = wf.Graph.Clone()
	return &cp, nil
}

func (m *mockStore) UpdateWorkflow(_ context.Context, id string, u store.WorkflowUpdate) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
	}
	if u.Graph != nil {
		wf.Graph = u.Graph.Clone()
	}
	if u.Name != nil {
		wf.Name = *u.Name
	}
	return wf, nil
}

func (m *mockStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*store.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*schema.RunRecord, error) {
	var out []*schema.RunRecord
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].WorkflowID == filter.WorkflowID {
			out = append(out, m.runs[i])
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) ListNodeExecutions(_ context.Context, runID string) ([]*schema.NodeExecution, error) {
	return m.execs[runID], nil
}

func (m *mockStore) ListRunLogs(_ context.Context, filter store.LogFilter) ([]*schema.LogEntry, error) {
	var out []*schema.LogEntry
	for _, e := range m.logs {
		if e.RunID == filter.RunID && e.Seq > filter.SinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(t *testing.T, ms *mockStore) *FlowServer {
	t.Helper()
	gv, err := validation.NewGraphValidator()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := builder.NewManager(ms, builder.Deps{
		Dispatch:      nodes.NewBuiltinRegistry(nodes.Deps{SimulatedWork: -1}),
		Validator:     gv,
		AutosaveDelay: 10 * time.Millisecond,
		Logger:        logger,
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	return NewFlowServer(FlowServerDeps{
		Store:    ms,
		Sessions: mgr,
		Checker:  gv,
		Logger:   logger,
	})
}

func sampleGraph() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "t", "type": "trigger"},
			map[string]any{"id": "in", "type": "textInput", "config": map[string]any{"inputText": "hello"}},
			map[string]any{"id": "out", "type": "output"},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "t", "target": "in"},
			map[string]any{"id": "e2", "source": "in", "target": "out"},
		},
	}
}

func defineSample(t *testing.T, s *FlowServer, id string) {
	t.Helper()
	result, err := s.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{
		"name":        "Sample",
		"workflow_id": id,
		"graph":       sampleGraph(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

// --- Tests ---

func TestDefineTool(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)

	result, err := s.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{
		"name":        "Greeting",
		"description": "says hello",
		"graph":       sampleGraph(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp map[string]any
	unmarshalResult(t, result, &resp)
	assert.Equal(t, "wf-generated", resp["workflow_id"])
	assert.EqualValues(t, 3, resp["nodes"])

	stored := ms.workflows["wf-generated"]
	require.NotNil(t, stored)
	assert.Equal(t, "says hello", stored.Description)
	assert.Len(t, stored.Graph.Edges, 2)
}

func TestDefineToolRejectsInvalidGraph(t *testing.T) {
	s := newTestServer(t, newMockStore())

	g := sampleGraph()
	g["edges"] = append(g["edges"].([]any), map[string]any{"id": "e3", "source": "out", "target": "ghost"})
	result, err := s.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{
		"name":  "Broken",
		"graph": g,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "ghost")
}

func TestDefineToolMissingArgs(t *testing.T) {
	s := newTestServer(t, newMockStore())

	result, err := s.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{"graph": sampleGraph()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{"name": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTool(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)
	defineSample(t, s, "wf-a")
	defineSample(t, s, "wf-b")

	result, err := s.handleList(context.Background(), buildRequest("flow.list", map[string]any{"limit": float64(1)}))
	require.NoError(t, err)

	var list []workflowSummary
	unmarshalResult(t, result, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "wf-a", list[0].ID)
	assert.Equal(t, 3, list[0].Nodes)
	assert.Equal(t, "2026-01-02T03:04:05Z", list[0].UpdatedAt)
}

func TestRunToolWaits(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)
	defineSample(t, s, "wf-a")

	result, err := s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{"workflow_id": "wf-a"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp map[string]any
	unmarshalResult(t, result, &resp)
	assert.Equal(t, string(schema.RunStatusCompleted), resp["status"])
	assert.Equal(t, []any{"t", "in", "out"}, resp["executed"])

	// The log of the finished run is readable.
	result, err = s.handleLogs(context.Background(), buildRequest("flow.logs", map[string]any{"workflow_id": "wf-a"}))
	require.NoError(t, err)
	var entries []schema.LogEntry
	unmarshalResult(t, result, &entries)
	require.NotEmpty(t, entries)
	assert.Equal(t, resp["run_id"], entries[0].RunID)
}

func TestRunToolAsync(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)
	defineSample(t, s, "wf-a")

	result, err := s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{
		"workflow_id": "wf-a",
		"wait":        false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var resp map[string]any
	unmarshalResult(t, result, &resp)
	assert.NotEmpty(t, resp["run_id"])

	require.Eventually(t, func() bool {
		result, err := s.handleStatus(context.Background(), buildRequest("flow.status", map[string]any{"workflow_id": "wf-a"}))
		if err != nil || result.IsError {
			return false
		}
		var st map[string]any
		if json.Unmarshal([]byte(mcp.GetTextFromContent(result.Content[0])), &st) != nil {
			return false
		}
		return st["state"] == string(schema.RunStatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunToolUnknownWorkflow(t *testing.T) {
	s := newTestServer(t, newMockStore())

	result, err := s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{"workflow_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStopToolIdle(t *testing.T) {
	s := newTestServer(t, newMockStore())
	defineSample(t, s, "wf-a")

	// Never opened.
	result, err := s.handleStop(context.Background(), buildRequest("flow.stop", map[string]any{"workflow_id": "wf-a"}))
	require.NoError(t, err)
	var resp map[string]any
	unmarshalResult(t, result, &resp)
	assert.Equal(t, false, resp["stopped"])

	// Opened but idle.
	_, err = s.handleStatus(context.Background(), buildRequest("flow.status", map[string]any{"workflow_id": "wf-a"}))
	require.NoError(t, err)
	result, err = s.handleStop(context.Background(), buildRequest("flow.stop", map[string]any{"workflow_id": "wf-a"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &resp)
	assert.Equal(t, false, resp["stopped"])
}

func TestLogsToolPastRun(t *testing.T) {
	ms := newMockStore()
	ms.logs = []*schema.LogEntry{
		{RunID: "r1", Seq: 1, Message: "first"},
		{RunID: "r1", Seq: 2, Message: "second"},
		{RunID: "r2", Seq: 1, Message: "other"},
	}
	s := newTestServer(t, ms)

	result, err := s.handleLogs(context.Background(), buildRequest("flow.logs", map[string]any{
		"workflow_id": "wf-a",
		"run_id":      "r1",
		"since":       float64(1),
	}))
	require.NoError(t, err)
	var entries []schema.LogEntry
	unmarshalResult(t, result, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Message)
}

func TestDiagramTool(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)
	defineSample(t, s, "wf-a")
	ms.runs = []*schema.RunRecord{{ID: "r1", WorkflowID: "wf-a"}}
	ms.execs["r1"] = []*schema.NodeExecution{{RunID: "r1", NodeID: "in", Status: schema.NodeRunSucceeded}}

	result, err := s.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"workflow_id": "wf-a",
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := extractText(t, result)
	assert.True(t, strings.HasPrefix(text, "graph TD"))
	assert.Contains(t, text, "class n_in success")

	result, err = s.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"workflow_id": "wf-a",
		"format":      "ascii",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "Sample")

	result, err = s.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"workflow_id": "wf-a",
		"format":      "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	result, err = s.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"workflow_id": "wf-a",
		"format":      "svg",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
