package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return StreamEvent{}
}

func assertQuiet(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventFilter_Matches(t *testing.T) {
	ev := StreamEvent{WorkflowID: "wf-1", EventType: "log.appended"}

	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"zero filter", EventFilter{}, true},
		{"same workflow", EventFilter{WorkflowID: "wf-1"}, true},
		{"other workflow", EventFilter{WorkflowID: "wf-2"}, false},
		{"listed type", EventFilter{EventTypes: []string{"run.state", "log.appended"}}, true},
		{"unlisted type", EventFilter{EventTypes: []string{"run.state"}}, false},
		{"both must hold", EventFilter{WorkflowID: "wf-2", EventTypes: []string{"log.appended"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(ev))
		})
	}
}

func TestMemoryHub_DeliversMatchingEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	logs, cancelLogs, err := hub.Subscribe(ctx, EventFilter{WorkflowID: "wf-1", EventTypes: []string{"log.appended"}})
	require.NoError(t, err)
	defer cancelLogs()
	all, cancelAll, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancelAll()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-2", EventType: "log.appended"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", EventType: "node.state", NodeID: "n1"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", RunID: "r1", EventType: "log.appended", Payload: "hello"}))

	got := recv(t, logs)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, "hello", got.Payload)
	assertQuiet(t, logs)

	for _, want := range []string{"wf-2", "wf-1", "wf-1"} {
		assert.Equal(t, want, recv(t, all).WorkflowID)
	}
}

func TestMemoryHub_CancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.SubscriberCount())
	assert.NoError(t, hub.Publish(context.Background(), StreamEvent{WorkflowID: "wf-1"}))
}

func TestMemoryHub_ContextEndsSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	cancelCtx()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription outlived its context")
	}
	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	const extra = 10
	for i := 0; i < SubscriberBuffer+extra; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", EventType: "tick"}))
	}

	assert.Len(t, ch, SubscriberBuffer)
	assert.Equal(t, uint64(extra), hub.Dropped())
}

func TestMemoryHub_RejectsDoneContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryHub_ConcurrentPublishAndChurn(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", EventType: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			subCtx, stop := context.WithTimeout(ctx, 10*time.Millisecond)
			defer stop()
			ch, cancel, err := hub.Subscribe(subCtx, EventFilter{WorkflowID: "wf-1"})
			if err != nil {
				return
			}
			defer cancel()
			for range ch {
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, hub.SubscriberCount())
}
