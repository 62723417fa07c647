// Package builder holds the working copy of each open workflow: node and
// edge edits, selection, autosave, and the engine that runs it.
package builder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/internal/debugger"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/runlog"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// DefaultAutosaveDelay is the quiet period before an edit is persisted.
const DefaultAutosaveDelay = time.Second

// GraphSaver persists a session's working copy.
type GraphSaver interface {
	UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) (*store.Workflow, error)
}

// NodeTemplate describes a node to add. Empty Label and nil Config take
// the palette defaults of Type.
type NodeTemplate struct {
	Type        schema.NodeType   `json:"type" validate:"required"`
	Position    schema.Position   `json:"position"`
	Label       string            `json:"label,omitempty"`
	Description string            `json:"description,omitempty"`
	Config      schema.NodeConfig `json:"config,omitempty"`
}

// Deps are the collaborators a session is built from. Only Dispatch is
// required.
type Deps struct {
	Dispatch      engine.Dispatcher
	Publisher     engine.EventPublisher
	Saver         GraphSaver
	Validator     validation.Validator
	Recorder      engine.RunRecorder
	Metrics       engine.MetricsRecorder
	LogPersister  runlog.Persister
	Ordering      engine.Ordering
	AutosaveDelay time.Duration
	Logger        *slog.Logger
}

// Session is one open workflow. Edits apply to the working copy; runs
// execute a snapshot of it, and node changes made by a run are merged
// back by ID.
type Session struct {
	id        string
	deps      Deps
	logger    *slog.Logger
	engine    *engine.Engine
	sink      *runlog.Sink
	debug     *debugger.Debugger
	autosave  *Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	runWG     sync.WaitGroup
	publisher engine.EventPublisher

	mu       sync.Mutex
	name     string
	graph    schema.Graph
	selected string
	running  bool
}

// NewSession opens a session over graph. Transient executing flags are
// cleared on load.
func NewSession(id, name string, graph schema.Graph, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AutosaveDelay <= 0 {
		deps.AutosaveDelay = DefaultAutosaveDelay
	}

	g := graph.Clone()
	g.ClearExecuting()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		deps:      deps,
		logger:    deps.Logger.With(slog.String("workflow_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		publisher: deps.Publisher,
		name:      name,
		graph:     g,
	}

	sinkOpts := []runlog.Option{runlog.WithLogger(deps.Logger)}
	if deps.Publisher != nil {
		sinkOpts = append(sinkOpts, runlog.WithPublisher(deps.Publisher))
	}
	if deps.LogPersister != nil {
		sinkOpts = append(sinkOpts, runlog.WithPersister(deps.LogPersister))
	}
	s.sink = runlog.NewSink(sinkOpts...)

	engOpts := []engine.Option{engine.WithObserver(s), engine.WithLogger(deps.Logger)}
	if deps.Publisher != nil {
		engOpts = append(engOpts, engine.WithPublisher(deps.Publisher))
	}
	if deps.Recorder != nil {
		engOpts = append(engOpts, engine.WithRecorder(deps.Recorder))
	}
	if deps.Metrics != nil {
		engOpts = append(engOpts, engine.WithMetrics(deps.Metrics))
	}
	s.engine = engine.NewEngine(deps.Dispatch, s.sink, engine.Config{Ordering: deps.Ordering}, engOpts...)

	s.debug = debugger.New(s.nodes, s.highlight)
	s.autosave = NewDebouncer(deps.AutosaveDelay, s.save, s.saveFailed)
	return s
}

// ID returns the workflow ID.
func (s *Session) ID() string { return s.id }

// Name returns the workflow name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Graph returns a snapshot of the working copy.
func (s *Session) Graph() schema.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Clone()
}

func (s *Session) nodes() []schema.Node {
	return s.Graph().Nodes
}

// Replace swaps the working copy, as when importing a document. The
// graph is validated first and selection is cleared.
func (s *Session) Replace(g schema.Graph) error {
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateGraph(g); err != nil {
			return err
		}
	}
	g = g.Clone()
	g.ClearExecuting()

	s.mu.Lock()
	s.graph = g
	s.selected = ""
	s.mu.Unlock()

	s.changed("replaced", "")
	return nil
}

// AddNode appends a node built from tmpl with a fresh ID.
func (s *Session) AddNode(tmpl NodeTemplate) (schema.Node, error) {
	if tmpl.Type == "" {
		return schema.Node{}, schema.NewError(schema.ErrCodeValidation, "node type is required")
	}
	n := schema.Node{
		ID:          uuid.NewString(),
		Type:        tmpl.Type,
		Position:    tmpl.Position,
		Label:       tmpl.Label,
		Description: tmpl.Description,
		Config:      schema.DefaultConfig(tmpl.Type).Merge(tmpl.Config),
	}
	if n.Label == "" {
		n.Label = schema.DefaultLabel(tmpl.Type)
	}

	s.mu.Lock()
	s.graph.Nodes = append(s.graph.Nodes, n)
	s.mu.Unlock()

	s.changed("node_added", n.ID)
	return n.Clone(), nil
}

// DeleteNode removes a node and every edge touching it. A selected node
// is deselected.
func (s *Session) DeleteNode(id string) error {
	s.mu.Lock()
	i, ok := s.graph.NodeIndex()[id]
	if !ok {
		s.mu.Unlock()
		return nodeNotFound(id)
	}
	s.graph.Nodes = append(s.graph.Nodes[:i:i], s.graph.Nodes[i+1:]...)

	edges := make([]schema.Edge, 0, len(s.graph.Edges))
	for _, e := range s.graph.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	s.graph.Edges = edges
	if s.selected == id {
		s.selected = ""
	}
	s.mu.Unlock()

	s.debug.RemoveBreakpoint(id)
	s.changed("node_deleted", id)
	return nil
}

// Connect adds an edge from source to target. Both nodes must exist and
// the pair must not already be connected.
func (s *Session) Connect(source, target string) (schema.Edge, error) {
	s.mu.Lock()
	if !s.graph.HasNode(source) {
		s.mu.Unlock()
		return schema.Edge{}, nodeNotFound(source)
	}
	if !s.graph.HasNode(target) {
		s.mu.Unlock()
		return schema.Edge{}, nodeNotFound(target)
	}
	for _, e := range s.graph.Edges {
		if e.Source == source && e.Target == target {
			s.mu.Unlock()
			return schema.Edge{}, schema.NewErrorf(schema.ErrCodeConflict, "%s is already connected to %s", source, target)
		}
	}
	e := schema.Edge{ID: uuid.NewString(), Source: source, Target: target}
	s.graph.Edges = append(s.graph.Edges, e)
	s.mu.Unlock()

	s.changed("edge_added", "")
	return e, nil
}

// DeleteEdge removes an edge.
func (s *Session) DeleteEdge(id string) error {
	s.mu.Lock()
	idx := -1
	for i, e := range s.graph.Edges {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", id)
	}
	s.graph.Edges = append(s.graph.Edges[:idx:idx], s.graph.Edges[idx+1:]...)
	s.mu.Unlock()

	s.changed("edge_deleted", "")
	return nil
}

// UpdateNodeConfig merges patch into a node's config.
func (s *Session) UpdateNodeConfig(id string, patch schema.NodeConfig) (schema.Node, error) {
	return s.editNode(id, "node_updated", func(n *schema.Node) {
		n.Config = n.Config.Merge(patch)
	})
}

// MoveNode sets a node's canvas position.
func (s *Session) MoveNode(id string, pos schema.Position) (schema.Node, error) {
	return s.editNode(id, "node_moved", func(n *schema.Node) {
		n.Position = pos
	})
}

// RelabelNode sets a node's label and description.
func (s *Session) RelabelNode(id, label, description string) (schema.Node, error) {
	return s.editNode(id, "node_updated", func(n *schema.Node) {
		n.Label = label
		n.Description = description
	})
}

func (s *Session) editNode(id, change string, edit func(n *schema.Node)) (schema.Node, error) {
	s.mu.Lock()
	i, ok := s.graph.NodeIndex()[id]
	if !ok {
		s.mu.Unlock()
		return schema.Node{}, nodeNotFound(id)
	}
	edit(&s.graph.Nodes[i])
	n := s.graph.Nodes[i].Clone()
	s.mu.Unlock()

	s.changed(change, id)
	return n, nil
}

// Select marks a node as selected. An empty id clears the selection.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && !s.graph.HasNode(id) {
		return nodeNotFound(id)
	}
	s.selected = id
	return nil
}

// Selected returns the selected node ID, or "".
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Rename changes the workflow name and persists it immediately.
func (s *Session) Rename(ctx context.Context, name string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if s.deps.Saver != nil {
		if _, err := s.deps.Saver.UpdateWorkflow(ctx, s.id, store.WorkflowUpdate{Name: &name}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

// Run executes a snapshot of the working copy and blocks until it ends.
func (s *Session) Run(ctx context.Context) (*engine.RunResult, error) {
	if err := s.acquireRun(); err != nil {
		return nil, err
	}
	defer s.releaseRun()
	return s.run(ctx, "")
}

// RunAsync starts a run in the background and returns its run ID. The
// run outlives ctx; use Stop to end it.
func (s *Session) RunAsync(ctx context.Context) (string, error) {
	if err := s.acquireRun(); err != nil {
		return "", err
	}
	runID := uuid.NewString()
	if s.Graph().IsEmpty() {
		// Rejected immediately; report it to the caller.
		defer s.releaseRun()
		_, err := s.run(ctx, runID)
		return "", err
	}
	runCtx := logging.WithIDs(s.ctx, s.id, runID, "")

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer s.releaseRun()
		if _, err := s.run(runCtx, runID); err != nil {
			logging.LogWith(runCtx, s.logger).Warn("background run rejected", slog.String("error", err.Error()))
		}
	}()
	logging.LogWith(ctx, s.logger).Info("run dispatched", slog.String("run_id", runID))
	return runID, nil
}

func (s *Session) run(ctx context.Context, runID string) (*engine.RunResult, error) {
	return s.engine.Run(ctx, engine.RunRequest{
		WorkflowID: s.id,
		RunID:      runID,
		Graph:      s.Graph(),
	})
}

func (s *Session) acquireRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return schema.NewError(schema.ErrCodeConflict, "a run is already in progress")
	}
	s.running = true
	return nil
}

func (s *Session) releaseRun() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop stops the current run. It returns false when nothing was running.
func (s *Session) Stop(ctx context.Context) (bool, error) {
	return s.engine.Stop(ctx)
}

// Status reports the engine state.
func (s *Session) Status() engine.Status {
	return s.engine.Status()
}

// Logs returns the current run's log entries after seq.
func (s *Session) Logs(sinceSeq int64) []schema.LogEntry {
	return s.sink.Since(sinceSeq)
}

// Debugger returns the session's step-through debugger.
func (s *Session) Debugger() *debugger.Debugger {
	return s.debug
}

// NodeExecuting mirrors the engine's executing flag into the working copy.
func (s *Session) NodeExecuting(_, nodeID string, executing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.graph.NodeIndex()[nodeID]; ok {
		s.graph.Nodes[i].Executing = executing
	}
}

// NodePatched merges a run's config patch into the working copy. Nodes
// deleted during the run are skipped.
func (s *Session) NodePatched(_, nodeID string, patch schema.NodeConfig) {
	s.mu.Lock()
	i, ok := s.graph.NodeIndex()[nodeID]
	if ok {
		s.graph.Nodes[i].Config = s.graph.Nodes[i].Config.Merge(patch)
	}
	s.mu.Unlock()

	if ok {
		s.autosave.Schedule()
	}
}

// Flush persists pending edits now.
func (s *Session) Flush(ctx context.Context) error {
	return s.autosave.Flush(ctx)
}

// Close stops any run, waits for background runs, and releases the
// engine. Pending saves are dropped; call Flush first to keep them.
func (s *Session) Close(ctx context.Context) {
	if _, err := s.engine.Stop(ctx); err != nil {
		s.logger.Warn("stop on close failed", slog.String("error", err.Error()))
	}
	s.cancel()
	s.runWG.Wait()
	s.autosave.Close()
	s.engine.Close()
}

func (s *Session) changed(change, nodeID string) {
	s.publish(schema.EventGraphChanged, nodeID, map[string]any{"change": change})
	s.autosave.Schedule()
}

func (s *Session) save(ctx context.Context) error {
	if s.deps.Saver == nil {
		return nil
	}
	g := s.Graph()
	if _, err := s.deps.Saver.UpdateWorkflow(ctx, s.id, store.WorkflowUpdate{Graph: &g}); err != nil {
		return err
	}
	s.publish(schema.EventGraphSaved, "", map[string]any{"nodes": len(g.Nodes), "edges": len(g.Edges)})
	return nil
}

func (s *Session) saveFailed(err error) {
	s.logger.Warn("autosave failed", slog.String("error", err.Error()))
	s.publish(schema.EventSaveFailed, "", map[string]any{"error": schema.Message(err)})
}

func (s *Session) highlight(nodeID string) {
	s.publish(schema.EventNodeHighlighted, nodeID, map[string]any{"node_id": nodeID})
}

func (s *Session) publish(eventType, nodeID string, payload any) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(s.ctx, streaming.StreamEvent{
		WorkflowID: s.id,
		NodeID:     nodeID,
		EventType:  eventType,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Debug("publish failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}

func nodeNotFound(id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id).WithNode(id)
}
