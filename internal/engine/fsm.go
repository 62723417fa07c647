package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

// EventPublisher pushes engine events to observers.
type EventPublisher interface {
	Publish(ctx context.Context, event streaming.StreamEvent) error
}

type hookKey struct {
	from, to schema.RunStatus
}

// ValidRunTransitions defines the allowed run state transitions. A run never
// enters Running on a configuration error: it goes straight to Failed.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:      {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusStopped, schema.RunStatusFailed},
	schema.RunStatusCompleted: {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusStopped:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusFailed:    {schema.RunStatusRunning, schema.RunStatusFailed},
}

// RunFSM guards the engine's run state. It owns the current state, so
// callers only name the target.
type RunFSM struct {
	mu        sync.Mutex
	state     schema.RunStatus
	publisher EventPublisher
	before    map[hookKey][]TransitionHook
	after     map[hookKey][]TransitionHook
}

// NewRunFSM creates an idle FSM. publisher may be nil.
func NewRunFSM(publisher EventPublisher) *RunFSM {
	return &RunFSM{
		state:     schema.RunStatusIdle,
		publisher: publisher,
		before:    make(map[hookKey][]TransitionHook),
		after:     make(map[hookKey][]TransitionHook),
	}
}

// State returns the current run state.
func (f *RunFSM) State() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves the FSM to `to` if allowed from the current state, runs
// hooks around the change and publishes a run.state event.
func (f *RunFSM) Transition(ctx context.Context, workflowID, runID string, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionLocked(ctx, workflowID, runID, to)
}

// TransitionIf moves to `to` only when the current state is `from`.
// Returns false without error when the state has already moved on.
func (f *RunFSM) TransitionIf(ctx context.Context, workflowID, runID string, from, to schema.RunStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return false, nil
	}
	if err := f.transitionLocked(ctx, workflowID, runID, to); err != nil {
		return false, err
	}
	return true, nil
}

func (f *RunFSM) transitionLocked(ctx context.Context, workflowID, runID string, to schema.RunStatus) error {
	from := f.state
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": workflowID, "run_id": runID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.state = to

	if f.publisher != nil {
		_ = f.publisher.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
			WorkflowID: workflowID,
			RunID:      runID,
			EventType:  schema.EventRunState,
			Payload:    map[string]any{"from": string(from), "to": string(to)},
		})
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}
