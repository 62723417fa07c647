package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestWatchRegistry_WatchAndList(t *testing.T) {
	r := NewWatchRegistry()

	r.Watch("wf-1", "session-b")
	r.Watch("wf-1", "session-a")
	r.Watch("wf-1", "session-a")

	assert.Equal(t, []string{"session-a", "session-b"}, r.Watchers("wf-1"))
	assert.Empty(t, r.Watchers("wf-2"))
}

func TestWatchRegistry_Remove(t *testing.T) {
	r := NewWatchRegistry()

	r.Watch("wf-1", "session-abc")
	r.Watch("wf-2", "session-abc")
	r.Watch("wf-2", "session-xyz")

	r.Remove("session-abc")

	assert.Empty(t, r.Watchers("wf-1"))
	assert.Equal(t, []string{"session-xyz"}, r.Watchers("wf-2"))
}

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type fakeClients struct {
	mu   sync.Mutex
	sent []sentNotification
	gone map[string]bool
}

func (f *fakeClients) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[sessionID] {
		return server.ErrSessionNotFound
	}
	f.sent = append(f.sent, sentNotification{sessionID, method, params})
	return nil
}

func (f *fakeClients) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRunNotifier_NotifyDropsMissingSessions(t *testing.T) {
	clients := &fakeClients{gone: map[string]bool{"stale": true}}
	watchers := NewWatchRegistry()
	watchers.Watch("wf-1", "live")
	watchers.Watch("wf-1", "stale")

	n := NewRunNotifier(clients, watchers, nil)
	n.Notify(streaming.StreamEvent{
		WorkflowID: "wf-1",
		RunID:      "run-1",
		EventType:  schema.EventRunState,
		Payload:    map[string]any{"from": "running", "to": "completed"},
	})

	require.Len(t, clients.sent, 1)
	assert.Equal(t, "live", clients.sent[0].sessionID)
	assert.Equal(t, "notifications/message", clients.sent[0].method)
	data := clients.sent[0].params["data"].(map[string]any)
	assert.Equal(t, "run-1", data["run_id"])
	assert.Equal(t, []string{"live"}, watchers.Watchers("wf-1"))
}

func TestRunNotifier_ForwardRelaysRunState(t *testing.T) {
	clients := &fakeClients{}
	watchers := NewWatchRegistry()
	watchers.Watch("wf-1", "s1")
	hub := streaming.NewMemoryHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewRunNotifier(clients, watchers, nil).Forward(ctx, hub)
	}()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{WorkflowID: "wf-1", EventType: schema.EventLogAppended}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{WorkflowID: "wf-1", EventType: schema.EventRunState}))

	require.Eventually(t, func() bool { return clients.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}
