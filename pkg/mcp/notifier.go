package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// ClientNotifier pushes a notification to one MCP client session.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// RunNotifier forwards run state changes to the sessions watching each
// workflow.
type RunNotifier struct {
	clients  ClientNotifier
	watchers *WatchRegistry
	logger   *slog.Logger
}

// NewRunNotifier creates a notifier that pushes through the MCP server.
func NewRunNotifier(clients ClientNotifier, watchers *WatchRegistry, logger *slog.Logger) *RunNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNotifier{clients: clients, watchers: watchers, logger: logger}
}

// Forward relays run.state events from hub until ctx is done.
func (n *RunNotifier) Forward(ctx context.Context, hub streaming.EventHub) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: []string{schema.EventRunState}})
	if err != nil {
		n.logger.Warn("run notifications disabled", slog.String("error", err.Error()))
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.Notify(ev)
		}
	}
}

// Notify sends one event to its workflow's watchers.
// Best-effort: sessions that went away are dropped silently.
func (n *RunNotifier) Notify(ev streaming.StreamEvent) {
	params := map[string]any{
		"level":  "info",
		"logger": "flowforge",
		"data": map[string]any{
			"workflow_id": ev.WorkflowID,
			"run_id":      ev.RunID,
			"event":       ev.EventType,
			"payload":     ev.Payload,
		},
	}
	for _, sid := range n.watchers.Watchers(ev.WorkflowID) {
		err := n.clients.SendNotificationToSpecificClient(sid, "notifications/message", params)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.watchers.Remove(sid)
			continue
		}
		if err != nil {
			n.logger.Debug("run notification failed", slog.String("session_id", sid), slog.String("error", err.Error()))
		}
	}
}
