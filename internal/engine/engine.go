package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/nodes"
	"github.com/rendis/flowforge/internal/runlog"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// Ordering selects how the engine walks the graph.
type Ordering string

const (
	// OrderDepthFirst runs each root and then its dependents depth-first in
	// edge order. A fan-in node may run before every source has.
	OrderDepthFirst Ordering = "depth_first"
	// OrderTopological runs nodes in dependency order so fan-in nodes see
	// all their sources. Cyclic graphs fall back to depth-first.
	OrderTopological Ordering = "topological"
)

// ParseOrdering maps a config value to an Ordering, defaulting to depth-first.
func ParseOrdering(s string) Ordering {
	if Ordering(s) == OrderTopological {
		return OrderTopological
	}
	return OrderDepthFirst
}

// Dispatcher executes a single node. Satisfied by *nodes.Registry.
type Dispatcher interface {
	Execute(ctx context.Context, node schema.Node, in nodes.Input) (*nodes.Outcome, error)
}

// NodeObserver is told about node changes as they happen so a holder of
// the authoritative graph can mirror them.
type NodeObserver interface {
	NodeExecuting(workflowID, nodeID string, executing bool)
	NodePatched(workflowID, nodeID string, patch schema.NodeConfig)
}

// RunRecorder persists run history. Failures are logged and ignored.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *schema.RunRecord) error
	RecordNodeExecution(ctx context.Context, exec *schema.NodeExecution) error
	FinishRun(ctx context.Context, runID string, status schema.RunStatus, errMsg string, finishedAt time.Time) error
}

// MetricsRecorder receives run and node timings.
type MetricsRecorder interface {
	ObserveRun(status schema.RunStatus, d time.Duration)
	ObserveNode(nodeType schema.NodeType, status schema.NodeRunStatus, d time.Duration)
}

// Config holds engine tunables.
type Config struct {
	Ordering Ordering
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where node and run events are published.
func WithPublisher(p EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithObserver sets the node observer.
func WithObserver(o NodeObserver) Option { return func(e *Engine) { e.observer = o } }

// WithRecorder sets the run history recorder.
func WithRecorder(r RunRecorder) Option { return func(e *Engine) { e.recorder = r } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// RunRequest starts a run over a graph.
type RunRequest struct {
	WorkflowID string
	// RunID is generated when empty.
	RunID string
	Graph schema.Graph
}

// RunResult is the outcome of a finished run.
type RunResult struct {
	WorkflowID  string                    `json:"workflow_id"`
	RunID       string                    `json:"run_id"`
	Status      schema.RunStatus          `json:"status"`
	Error       *schema.FlowError         `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	Executed    []string                  `json:"executed"`
	Results     map[string]*schema.Result `json:"results"`
	// Graph is the run's snapshot with every node patch applied.
	Graph schema.Graph `json:"graph"`
}

// Duration is the run's wall-clock time.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Status is a point-in-time view of the engine.
type Status struct {
	State      schema.RunStatus `json:"state"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	Executing  string           `json:"executing_node_id,omitempty"`
	Completed  int              `json:"completed_nodes"`
	Total      int              `json:"total_nodes"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
}

var errStopped = errors.New("run stopped")

// activeRun is the state of the in-flight run. graph, executing and
// stopped are guarded by Engine.mu.
type activeRun struct {
	workflowID string
	runID      string
	graph      schema.Graph
	index      map[string]int
	results    *ResultStore
	executed   []string
	executing  string
	stopped    bool
	startedAt  time.Time
}

// Engine simulates a graph run. It runs one graph at a time, one node at a
// time, and never mutates the graph it is given.
type Engine struct {
	cfg      Config
	dispatch Dispatcher
	sink     *runlog.Sink
	fsm      *RunFSM
	pool     *WorkerPool

	publisher EventPublisher
	observer  NodeObserver
	recorder  RunRecorder
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *activeRun
	last    *activeRun
}

// NewEngine creates an idle engine that logs into sink.
func NewEngine(dispatch Dispatcher, sink *runlog.Sink, cfg Config, opts ...Option) *Engine {
	if cfg.Ordering == "" {
		cfg.Ordering = OrderDepthFirst
	}
	e := &Engine{
		cfg:      cfg,
		dispatch: dispatch,
		sink:     sink,
		pool:     NewWorkerPool(1),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.fsm = NewRunFSM(e.publisher)
	return e
}

// FSM exposes the run state machine for hook registration.
func (e *Engine) FSM() *RunFSM { return e.fsm }

// Sink returns the engine's log sink.
func (e *Engine) Sink() *runlog.Sink { return e.sink }

// Run executes req.Graph to completion, failure or stop and blocks until
// then. A node failure is reported in the result, not as an error; errors
// are returned for an empty graph (VALIDATION_ERROR) or when a run is
// already in progress (CONFLICT).
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx = logging.WithIDs(ctx, req.WorkflowID, req.RunID, "")
	log := logging.LogWith(ctx, e.logger)

	run, err := e.begin(req)
	if err != nil {
		return nil, err
	}
	defer e.end(run)

	e.sink.Reset(req.WorkflowID, req.RunID)

	if req.Graph.IsEmpty() {
		e.sink.Error(ctx, "Cannot execute an empty workflow: add at least one node")
		if err := e.fsm.Transition(ctx, req.WorkflowID, req.RunID, schema.RunStatusFailed); err != nil {
			return nil, err
		}
		e.sink.Seal()
		log.Warn("run rejected: empty graph")
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	if err := e.fsm.Transition(ctx, req.WorkflowID, req.RunID, schema.RunStatusRunning); err != nil {
		return nil, err
	}
	e.recordRunStart(ctx, run)

	e.sink.Info(ctx, "Workflow execution started")
	e.sink.Info(ctx, fmt.Sprintf("Executing workflow with %d nodes", len(run.graph.Nodes)))
	log.Info("run started", "nodes", len(run.graph.Nodes), "ordering", e.cfg.Ordering)

	runErr := e.traverse(ctx, run)
	if runErr != nil && isCancellation(runErr) {
		e.stop(context.WithoutCancel(ctx), run, "Workflow execution cancelled")
	}
	return e.finish(ctx, run, runErr), nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) begin(req RunRequest) (*activeRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is already running (run %s)", e.current.workflowID, e.current.runID)
	}
	g := req.Graph.Clone()
	run := &activeRun{
		workflowID: req.WorkflowID,
		runID:      req.RunID,
		graph:      g,
		index:      g.NodeIndex(),
		results:    NewResultStore(),
		startedAt:  e.now(),
	}
	e.current = run
	return run, nil
}

func (e *Engine) end(run *activeRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == run {
		e.current = nil
	}
	e.last = run
}

// finish settles the run's terminal state. A run stopped meanwhile stays
// stopped.
func (e *Engine) finish(ctx context.Context, run *activeRun, runErr error) *RunResult {
	ctx = context.WithoutCancel(ctx)
	log := logging.LogWith(ctx, e.logger)
	done := e.now()
	elapsed := done.Sub(run.startedAt)

	res := &RunResult{
		WorkflowID: run.workflowID,
		RunID:      run.runID,
		StartedAt:  run.startedAt,
	}

	switch {
	case runErr == nil:
		e.sink.Success(ctx, fmt.Sprintf("Workflow completed successfully in %.2fs", elapsed.Seconds()))
		if ok, _ := e.fsm.TransitionIf(ctx, run.workflowID, run.runID, schema.RunStatusRunning, schema.RunStatusCompleted); ok {
			res.Status = schema.RunStatusCompleted
		}
	case errors.Is(runErr, errStopped) || isCancellation(runErr):
	default:
		var fe *schema.FlowError
		if !errors.As(runErr, &fe) {
			fe = schema.NewError(schema.ErrCodeExecution, runErr.Error()).WithCause(runErr)
		}
		res.Error = fe
		e.sink.Error(ctx, "Workflow execution failed: "+schema.Message(runErr))
		if ok, _ := e.fsm.TransitionIf(ctx, run.workflowID, run.runID, schema.RunStatusRunning, schema.RunStatusFailed); ok {
			res.Status = schema.RunStatusFailed
		}
	}
	if res.Status == "" {
		res.Status = e.fsm.State()
	}
	e.sink.Seal()

	e.mu.Lock()
	res.CompletedAt = done
	res.Executed = append([]string(nil), run.executed...)
	res.Results = run.results.Snapshot()
	res.Graph = run.graph.Clone()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveRun(res.Status, elapsed)
	}
	if e.recorder != nil {
		msg := ""
		if res.Error != nil {
			msg = res.Error.Message
		}
		if err := e.recorder.FinishRun(ctx, run.runID, res.Status, msg, done); err != nil {
			log.Warn("record run finish failed", "error", err)
		}
	}
	log.Info("run finished", "status", res.Status, "duration", elapsed, "executed", len(res.Executed))
	return res
}

// traverse walks the graph from its roots. Without roots every node is a
// starting point, in declaration order.
func (e *Engine) traverse(ctx context.Context, run *activeRun) error {
	starts := RootNodes(run.graph)
	if len(starts) == 0 {
		e.sink.Warning(ctx, "No trigger nodes found, executing all nodes in order")
		starts = run.graph.Nodes
	}

	if e.cfg.Ordering == OrderTopological {
		if order, err := TopologicalOrder(run.graph); err == nil {
			for _, id := range order {
				if err := e.executeNode(ctx, run, id); err != nil {
					return err
				}
			}
			return nil
		}
	}

	for _, n := range starts {
		if err := e.executeNodeAndDependents(ctx, run, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// executeNodeAndDependents runs id and then its dependents depth-first,
// pre-order, following outgoing edges in edge order. Nodes that already
// have a result are skipped, which is what terminates cycles.
func (e *Engine) executeNodeAndDependents(ctx context.Context, run *activeRun, id string) error {
	stack := []string{id}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if run.results.Has(next) {
			continue
		}
		if err := e.executeNode(ctx, run, next); err != nil {
			return err
		}

		out := OutgoingEdges(run.graph, next)
		for i := len(out) - 1; i >= 0; i-- {
			if _, ok := run.index[out[i].Target]; ok {
				stack = append(stack, out[i].Target)
			}
		}
	}
	return nil
}

// executeNode dispatches one node and stores its result. It is a no-op
// for a node that already ran.
func (e *Engine) executeNode(ctx context.Context, run *activeRun, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.results.Has(id) {
		return nil
	}

	node, err := e.markExecuting(ctx, run, id)
	if err != nil {
		return err
	}
	nctx := logging.WithNodeID(ctx, id)

	incoming := IncomingEdges(run.graph, id)
	upstream := make([]*schema.Result, len(incoming))
	for i, edge := range incoming {
		upstream[i], _ = run.results.Get(edge.Source)
	}

	started := e.now()
	var out *nodes.Outcome
	execErr := e.pool.Do(nctx, func(ctx context.Context) error {
		var err error
		out, err = e.dispatch.Execute(ctx, node, nodes.Combine(upstream))
		return err
	})
	elapsed := e.now().Sub(started)

	if execErr != nil {
		e.clearExecuting(nctx, run, id)
		if isCancellation(execErr) {
			return execErr
		}
		msg := schema.Message(execErr)
		e.sink.Error(nctx, fmt.Sprintf("Error executing node %s: %s", node.Name(), msg), runlog.ForNode(node))
		e.observeNode(nctx, run, node, started, elapsed, execErr)
		if schema.IsCode(execErr, schema.ErrCodeNodeFailed) {
			return execErr
		}
		return schema.NewError(schema.ErrCodeNodeFailed, msg).WithNode(id).WithCause(execErr)
	}

	run.results.Set(id, out.Result)
	for _, w := range out.Warnings {
		e.sink.Warning(nctx, w, runlog.ForNode(node))
	}
	if len(out.Patch) > 0 {
		e.applyPatch(nctx, run, id, out.Patch)
	}

	e.mu.Lock()
	run.executed = append(run.executed, id)
	e.mu.Unlock()
	e.clearExecuting(nctx, run, id)
	e.sink.Success(nctx, fmt.Sprintf("Node %s completed", node.Name()), runlog.ForNode(node))
	e.observeNode(nctx, run, node, started, elapsed, nil)
	return nil
}

// markExecuting flags id as executing and logs its start, unless the run
// was stopped. Both happen under the engine lock so a concurrent Stop sees
// either none or all of it.
func (e *Engine) markExecuting(ctx context.Context, run *activeRun, id string) (schema.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run.stopped {
		return schema.Node{}, errStopped
	}
	i := run.index[id]
	run.graph.Nodes[i].Executing = true
	run.executing = id
	node := run.graph.Nodes[i].Clone()

	e.sink.Info(ctx, "Executing node: "+node.Name(), runlog.ForNode(node))
	e.notifyExecuting(ctx, run, id, true)
	return node, nil
}

func (e *Engine) clearExecuting(ctx context.Context, run *activeRun, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := run.index[id]
	if !run.graph.Nodes[i].Executing {
		return
	}
	run.graph.Nodes[i].Executing = false
	if run.executing == id {
		run.executing = ""
	}
	e.notifyExecuting(ctx, run, id, false)
}

// notifyExecuting must be called with e.mu held.
func (e *Engine) notifyExecuting(ctx context.Context, run *activeRun, id string, executing bool) {
	if e.observer != nil {
		e.observer.NodeExecuting(run.workflowID, id, executing)
	}
	e.publish(ctx, run, id, schema.EventNodeState, map[string]any{"executing": executing})
}

func (e *Engine) applyPatch(ctx context.Context, run *activeRun, id string, patch schema.NodeConfig) {
	e.mu.Lock()
	i := run.index[id]
	run.graph.Nodes[i].Config = run.graph.Nodes[i].Config.Merge(patch)
	e.mu.Unlock()

	if e.observer != nil {
		e.observer.NodePatched(run.workflowID, id, patch.Clone())
	}
	e.publish(ctx, run, id, schema.EventNodeUpdated, map[string]any{"config": patch.Clone()})
}

func (e *Engine) publish(ctx context.Context, run *activeRun, nodeID, eventType string, payload any) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		WorkflowID: run.workflowID,
		RunID:      run.runID,
		NodeID:     nodeID,
		EventType:  eventType,
		Payload:    payload,
	})
}

func (e *Engine) observeNode(ctx context.Context, run *activeRun, node schema.Node, started time.Time, elapsed time.Duration, err error) {
	status := schema.NodeRunSucceeded
	if err != nil {
		status = schema.NodeRunFailed
	}
	if e.metrics != nil {
		e.metrics.ObserveNode(node.Type, status, elapsed)
	}
	if e.recorder == nil {
		return
	}
	completed := started.Add(elapsed)
	exec := &schema.NodeExecution{
		RunID:       run.runID,
		NodeID:      node.ID,
		NodeName:    node.Name(),
		NodeType:    node.Type,
		Status:      status,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if err != nil {
		exec.Error = schema.Message(err)
	}
	if rerr := e.recorder.RecordNodeExecution(context.WithoutCancel(ctx), exec); rerr != nil {
		logging.LogWith(ctx, e.logger).Warn("record node execution failed", "error", rerr)
	}
}

func (e *Engine) recordRunStart(ctx context.Context, run *activeRun) {
	if e.recorder == nil {
		return
	}
	rec := &schema.RunRecord{
		ID:         run.runID,
		WorkflowID: run.workflowID,
		Status:     schema.RunStatusRunning,
		Ordering:   string(e.cfg.Ordering),
		NodeCount:  len(run.graph.Nodes),
		StartedAt:  run.startedAt,
	}
	if err := e.recorder.CreateRun(context.WithoutCancel(ctx), rec); err != nil {
		logging.LogWith(ctx, e.logger).Warn("record run start failed", "error", err)
	}
}

// Stop requests cooperative cancellation of the current run. The node in
// flight finishes, but no further node starts. It returns false when no
// run was in progress.
func (e *Engine) Stop(ctx context.Context) (bool, error) {
	e.mu.Lock()
	run := e.current
	e.mu.Unlock()
	if run == nil {
		return false, nil
	}
	return e.stop(ctx, run, "Workflow execution stopped by user"), nil
}

func (e *Engine) stop(ctx context.Context, run *activeRun, message string) bool {
	ok, err := e.fsm.TransitionIf(ctx, run.workflowID, run.runID, schema.RunStatusRunning, schema.RunStatusStopped)
	if err != nil || !ok {
		return false
	}

	e.mu.Lock()
	run.stopped = true
	for i := range run.graph.Nodes {
		if run.graph.Nodes[i].Executing {
			run.graph.Nodes[i].Executing = false
			e.notifyExecuting(ctx, run, run.graph.Nodes[i].ID, false)
		}
	}
	run.executing = ""
	e.sink.Warning(ctx, message)
	e.sink.Seal()
	e.mu.Unlock()

	logging.LogWith(ctx, e.logger).Info("run stopped", "workflow_id", run.workflowID, "run_id", run.runID)
	return true
}

// Status reports the engine state and progress of the current or last run.
func (e *Engine) Status() Status {
	st := Status{State: e.fsm.State()}
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.current
	if run == nil {
		run = e.last
	}
	if run == nil {
		return st
	}
	started := run.startedAt
	st.WorkflowID = run.workflowID
	st.RunID = run.runID
	st.Executing = run.executing
	st.Completed = len(run.executed)
	st.Total = len(run.graph.Nodes)
	st.StartedAt = &started
	return st
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Close shuts down the worker pool.
func (e *Engine) Close() {
	e.pool.Shutdown()
}
