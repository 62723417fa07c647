// Package runlog is the append-only execution log of a workflow run.
package runlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// Publisher pushes appended entries to observers.
type Publisher interface {
	Publish(ctx context.Context, event streaming.StreamEvent) error
}

// Persister stores appended entries. Persistence is best-effort: a failing
// Persister is logged and never fails the append.
type Persister interface {
	AppendRunLog(ctx context.Context, entry *schema.LogEntry) error
}

// Option configures a Sink.
type Option func(*Sink)

// WithPublisher pushes every entry as a log.appended event.
func WithPublisher(p Publisher) Option {
	return func(s *Sink) { s.publisher = p }
}

// WithPersister stores every entry through p.
func WithPersister(p Persister) Option {
	return func(s *Sink) { s.persister = p }
}

// WithLogger sets the process logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// EntryOption decorates an entry before it is appended.
type EntryOption func(*schema.LogEntry)

// ForNode tags an entry with the node it concerns.
func ForNode(n schema.Node) EntryOption {
	return func(e *schema.LogEntry) {
		e.NodeID = n.ID
		e.NodeName = n.Name()
	}
}

// Sink is the ordered log of one run. Reset starts a new run; Seal makes
// every later append a no-op until the next Reset.
type Sink struct {
	mu         sync.RWMutex
	workflowID string
	runID      string
	seq        int64
	entries    []schema.LogEntry
	sealed     bool

	publisher Publisher
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// NewSink creates an empty sink.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reset clears the log for a new run.
func (s *Sink) Reset(workflowID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowID = workflowID
	s.runID = runID
	s.seq = 0
	s.entries = nil
	s.sealed = false
}

// Seal stops further appends for the current run.
func (s *Sink) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether the current run's log is closed.
func (s *Sink) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Append adds an entry and notifies observers. It returns false when the
// sink is sealed and the entry was dropped.
func (s *Sink) Append(ctx context.Context, severity schema.LogSeverity, message string, opts ...EntryOption) (schema.LogEntry, bool) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return schema.LogEntry{}, false
	}
	s.seq++
	entry := schema.LogEntry{
		ID:         uuid.NewString(),
		WorkflowID: s.workflowID,
		RunID:      s.runID,
		Seq:        s.seq,
		Timestamp:  s.now().UTC(),
		Message:    message,
		Severity:   severity,
	}
	for _, o := range opts {
		o(&entry)
	}
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	// Observers run outside the lock so a slow consumer never blocks appends.
	ctx = context.WithoutCancel(ctx)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, streaming.StreamEvent{
			WorkflowID: entry.WorkflowID,
			RunID:      entry.RunID,
			NodeID:     entry.NodeID,
			EventType:  schema.EventLogAppended,
			Payload:    entry,
		})
	}
	if s.persister != nil {
		if err := s.persister.AppendRunLog(ctx, &entry); err != nil {
			s.logger.WarnContext(ctx, "persist run log entry", "seq", entry.Seq, "error", err)
		}
	}
	return entry, true
}

// Info appends an info entry.
func (s *Sink) Info(ctx context.Context, message string, opts ...EntryOption) {
	s.Append(ctx, schema.LogInfo, message, opts...)
}

// Warning appends a warning entry.
func (s *Sink) Warning(ctx context.Context, message string, opts ...EntryOption) {
	s.Append(ctx, schema.LogWarning, message, opts...)
}

// Error appends an error entry.
func (s *Sink) Error(ctx context.Context, message string, opts ...EntryOption) {
	s.Append(ctx, schema.LogError, message, opts...)
}

// Success appends a success entry.
func (s *Sink) Success(ctx context.Context, message string, opts ...EntryOption) {
	s.Append(ctx, schema.LogSuccess, message, opts...)
}

// Entries returns a copy of the current run's log.
func (s *Sink) Entries() []schema.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Since returns the entries with Seq greater than seq.
func (s *Sink) Since(seq int64) []schema.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Seq starts at 1 and is dense, so it indexes the slice directly.
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(s.entries)) {
		return nil
	}
	out := make([]schema.LogEntry, len(s.entries)-int(seq))
	copy(out, s.entries[seq:])
	return out
}

// Len returns the number of entries in the current run.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RunID returns the run the sink is currently recording.
func (s *Sink) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}
