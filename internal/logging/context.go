// Package logging carries run correlation IDs through contexts and builds
// the process logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// correlation is the set of IDs a context can carry. Empty fields are not
// logged.
type correlation struct {
	workflow, run, node string
}

type ctxKey struct{}

func from(ctx context.Context) correlation {
	c, _ := ctx.Value(ctxKey{}).(correlation)
	return c
}

func (c correlation) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 3)
	for _, kv := range [...][2]string{{"workflow_id", c.workflow}, {"run_id", c.run}, {"node_id", c.node}} {
		if kv[1] != "" {
			out = append(out, slog.String(kv[0], kv[1]))
		}
	}
	return out
}

func with(ctx context.Context, edit func(*correlation)) context.Context {
	c := from(ctx)
	edit(&c)
	return context.WithValue(ctx, ctxKey{}, c)
}

func WithWorkflowID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.workflow = id })
}

func WithRunID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.run = id })
}

func WithNodeID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.node = id })
}

// WithIDs replaces all three IDs at once.
func WithIDs(ctx context.Context, workflowID, runID, nodeID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, correlation{workflow: workflowID, run: runID, node: nodeID})
}

func WorkflowID(ctx context.Context) string { return from(ctx).workflow }
func RunID(ctx context.Context) string      { return from(ctx).run }
func NodeID(ctx context.Context) string     { return from(ctx).node }

// LogWith returns logger with the context's IDs bound as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := from(ctx).attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the context's IDs to every record, so plain
// logger.InfoContext(ctx, ...) calls are correlated.
type CorrelationHandler struct {
	next slog.Handler
}

func NewCorrelationHandler(next slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{next: next}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(from(ctx).attrs()...)
	return h.next.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewCorrelationHandler(h.next.WithAttrs(attrs))
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return NewCorrelationHandler(h.next.WithGroup(name))
}

// ParseLevel maps a config level name to an slog level. Unknown names
// resolve to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger: text on w, correlated, gated by a
// level that can change at runtime.
func NewLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(NewCorrelationHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
