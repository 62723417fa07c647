package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

type mockPublisher struct {
	mu     sync.Mutex
	events []streaming.StreamEvent
}

func (m *mockPublisher) Publish(_ context.Context, event streaming.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Events(eventType string) []streaming.StreamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []streaming.StreamEvent
	for _, e := range m.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestRunFSM_HappyPath(t *testing.T) {
	pub := &mockPublisher{}
	fsm := NewRunFSM(pub)
	ctx := context.Background()

	assert.Equal(t, schema.RunStatusIdle, fsm.State())
	require.NoError(t, fsm.Transition(ctx, "wf", "r1", schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "wf", "r1", schema.RunStatusCompleted))
	assert.Equal(t, schema.RunStatusCompleted, fsm.State())

	events := pub.Events(schema.EventRunState)
	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"from": "running", "to": "completed"}, events[1].Payload)
	assert.Equal(t, "r1", events[1].RunID)
}

func TestRunFSM_ConfigurationErrorSkipsRunning(t *testing.T) {
	fsm := NewRunFSM(nil)
	require.NoError(t, fsm.Transition(context.Background(), "wf", "r1", schema.RunStatusFailed))
	assert.Equal(t, schema.RunStatusFailed, fsm.State())
}

func TestRunFSM_InvalidTransitions(t *testing.T) {
	fsm := NewRunFSM(nil)
	ctx := context.Background()

	err := fsm.Transition(ctx, "wf", "r1", schema.RunStatusCompleted)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))

	err = fsm.Transition(ctx, "wf", "r1", schema.RunStatusStopped)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	assert.Equal(t, schema.RunStatusIdle, fsm.State())
}

func TestRunFSM_TerminalStatesAllowRerun(t *testing.T) {
	for _, terminal := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusStopped, schema.RunStatusFailed} {
		fsm := NewRunFSM(nil)
		ctx := context.Background()
		require.NoError(t, fsm.Transition(ctx, "wf", "r1", schema.RunStatusRunning))
		require.NoError(t, fsm.Transition(ctx, "wf", "r1", terminal))
		assert.NoError(t, fsm.Transition(ctx, "wf", "r2", schema.RunStatusRunning), "rerun from %s", terminal)
	}
}

func TestRunFSM_TransitionIf(t *testing.T) {
	fsm := NewRunFSM(nil)
	ctx := context.Background()
	require.NoError(t, fsm.Transition(ctx, "wf", "r1", schema.RunStatusRunning))

	ok, err := fsm.TransitionIf(ctx, "wf", "r1", schema.RunStatusRunning, schema.RunStatusStopped)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsm.TransitionIf(ctx, "wf", "r1", schema.RunStatusRunning, schema.RunStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok, "stop won the race, completion is a no-op")
	assert.Equal(t, schema.RunStatusStopped, fsm.State())
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(nil)
	ctx := context.Background()

	var order []string
	fsm.OnBefore(schema.RunStatusIdle, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		order = append(order, "before:"+string(from))
		return nil
	})
	fsm.OnAfter(schema.RunStatusIdle, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		order = append(order, "after:"+string(to))
		return nil
	})
	require.NoError(t, fsm.Transition(ctx, "wf", "r1", schema.RunStatusRunning))
	assert.Equal(t, []string{"before:idle", "after:running"}, order)
}

func TestRunFSM_BeforeHookErrorBlocksTransition(t *testing.T) {
	fsm := NewRunFSM(nil)
	blocked := errors.New("blocked")
	fsm.OnBefore(schema.RunStatusIdle, schema.RunStatusRunning, func(_, _ schema.RunStatus) error { return blocked })

	err := fsm.Transition(context.Background(), "wf", "r1", schema.RunStatusRunning)
	assert.ErrorIs(t, err, blocked)
	assert.Equal(t, schema.RunStatusIdle, fsm.State())
}

func TestRunTransitionTable_AllStatusesPresent(t *testing.T) {
	for _, s := range []schema.RunStatus{
		schema.RunStatusIdle, schema.RunStatusRunning, schema.RunStatusCompleted,
		schema.RunStatusStopped, schema.RunStatusFailed,
	} {
		_, ok := ValidRunTransitions[s]
		assert.True(t, ok, "missing transitions for %s", s)
	}
}
