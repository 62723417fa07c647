// Package debugger steps through a graph one node at a time in
// declaration order, highlighting the current node on the canvas.
package debugger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// NodeSource returns the current nodes of the graph being debugged.
type NodeSource func() []schema.Node

// HighlightFunc is told which node to highlight. An empty ID clears the
// highlight.
type HighlightFunc func(nodeID string)

// Entry is one line of the debug log.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
	NodeName  string    `json:"node_name"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Breakpoint marks a node. Toggling an existing breakpoint flips Enabled
// rather than removing it.
type Breakpoint struct {
	NodeID  string `json:"node_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// State is a snapshot of the debug session.
type State struct {
	Active bool         `json:"active"`
	Step   int          `json:"step"`
	Total  int          `json:"total"`
	Node   *schema.Node `json:"node,omitempty"`
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithClock overrides the log timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Debugger) { d.now = now }
}

// Debugger is a step-through session over a graph. It never executes
// behaviors; it only walks and highlights.
type Debugger struct {
	nodes     NodeSource
	highlight HighlightFunc
	now       func() time.Time

	mu          sync.Mutex
	active      bool
	index       int
	breakpoints []Breakpoint
	logs        []Entry
}

// New creates an inactive debugger. highlight may be nil.
func New(nodes NodeSource, highlight HighlightFunc, opts ...Option) *Debugger {
	d := &Debugger{
		nodes:     nodes,
		highlight: highlight,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start begins a session at the first node and clears the debug log.
func (d *Debugger) Start() (State, error) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return State{}, schema.NewError(schema.ErrCodeConflict, "debug session already active")
	}
	d.active = true
	d.index = 0
	d.logs = nil

	nodes := d.nodes()
	highlight := ""
	if len(nodes) > 0 {
		highlight = nodes[0].ID
		d.appendLocked(nodes[0].ID, nodes[0].Name(), "Debug started")
	}
	st := d.stateLocked(nodes)
	d.mu.Unlock()

	if highlight != "" {
		d.notify(highlight)
	}
	return st, nil
}

// Step advances to the next node. Stepping past the last node ends the
// session.
func (d *Debugger) Step() (State, error) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return State{}, schema.NewError(schema.ErrCodeInvalidTransition, "debug session is not active")
	}

	nodes := d.nodes()
	if d.index >= len(nodes)-1 {
		st := d.stopLocked(nodes)
		d.mu.Unlock()
		d.notify("")
		return st, nil
	}

	d.index++
	next := nodes[d.index]
	d.appendLocked(next.ID, next.Name(), fmt.Sprintf("Executing step %d", d.index+1))
	st := d.stateLocked(nodes)
	d.mu.Unlock()

	d.notify(next.ID)
	return st, nil
}

// Continue steps until the current node has an enabled breakpoint or the
// session ends.
func (d *Debugger) Continue() (State, error) {
	for {
		st, err := d.Step()
		if err != nil || !st.Active {
			return st, err
		}
		if st.Node != nil && d.hasEnabledBreakpoint(st.Node.ID) {
			d.mu.Lock()
			d.appendLocked(st.Node.ID, st.Node.Name(), "Breakpoint hit")
			d.mu.Unlock()
			return st, nil
		}
	}
}

// Stop ends the session and clears the highlight. It returns false when
// no session was active.
func (d *Debugger) Stop() bool {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return false
	}
	d.stopLocked(d.nodes())
	d.mu.Unlock()

	d.notify("")
	return true
}

// ToggleBreakpoint adds an enabled breakpoint on nodeID, or flips an
// existing one.
func (d *Debugger) ToggleBreakpoint(nodeID string) (Breakpoint, error) {
	var node *schema.Node
	for _, n := range d.nodes() {
		if n.ID == nodeID {
			node = &n
			break
		}
	}
	if node == nil {
		return Breakpoint{}, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", nodeID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.breakpoints {
		if d.breakpoints[i].NodeID == nodeID {
			d.breakpoints[i].Enabled = !d.breakpoints[i].Enabled
			return d.breakpoints[i], nil
		}
	}
	bp := Breakpoint{NodeID: nodeID, Name: node.Name(), Enabled: true}
	d.breakpoints = append(d.breakpoints, bp)
	return bp, nil
}

// RemoveBreakpoint drops the breakpoint on nodeID, if any.
func (d *Debugger) RemoveBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.breakpoints[:0]
	for _, bp := range d.breakpoints {
		if bp.NodeID != nodeID {
			out = append(out, bp)
		}
	}
	d.breakpoints = out
}

// Breakpoints returns the breakpoints in the order they were added.
func (d *Debugger) Breakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Breakpoint(nil), d.breakpoints...)
}

// Logs returns the debug log.
func (d *Debugger) Logs() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Entry(nil), d.logs...)
}

// Current returns the session state.
func (d *Debugger) Current() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked(d.nodes())
}

func (d *Debugger) hasEnabledBreakpoint(nodeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, bp := range d.breakpoints {
		if bp.NodeID == nodeID {
			return bp.Enabled
		}
	}
	return false
}

func (d *Debugger) stopLocked(nodes []schema.Node) State {
	d.active = false
	d.index = 0
	d.appendLocked("", "System", "Debug stopped")
	return d.stateLocked(nodes)
}

func (d *Debugger) stateLocked(nodes []schema.Node) State {
	st := State{Active: d.active, Total: len(nodes)}
	if !d.active || d.index >= len(nodes) {
		return st
	}
	n := nodes[d.index]
	st.Step = d.index + 1
	st.Node = &n
	return st
}

func (d *Debugger) appendLocked(nodeID, nodeName, message string) {
	d.logs = append(d.logs, Entry{
		Timestamp: d.now(),
		NodeID:    nodeID,
		NodeName:  nodeName,
		Message:   message,
	})
}

// notify runs outside d.mu so the callback may call back into the
// debugger.
func (d *Debugger) notify(nodeID string) {
	if d.highlight != nil {
		d.highlight(nodeID)
	}
}
