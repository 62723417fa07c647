package nodes

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
)

// Registry is the thread-safe set of behaviors keyed by node type. Types
// without a registered behavior dispatch to the fallback.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[schema.NodeType]Behavior
	fallback  Behavior
}

// NewRegistry creates an empty registry. fallback runs for unregistered
// node types and must not be nil.
func NewRegistry(fallback Behavior) *Registry {
	return &Registry{
		behaviors: make(map[schema.NodeType]Behavior),
		fallback:  fallback,
	}
}

// Register adds a behavior. Returns CONFLICT on a duplicate type.
func (r *Registry) Register(b Behavior) error {
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "behavior is nil")
	}
	t := b.Type()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "behavior type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.behaviors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "behavior for %q already registered", t)
	}
	r.behaviors[t] = b
	return nil
}

// Lookup returns the behavior for t, or the fallback.
func (r *Registry) Lookup(t schema.NodeType) Behavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.behaviors[t]; ok {
		return b
	}
	return r.fallback
}

// Has reports whether t has a dedicated behavior.
func (r *Registry) Has(t schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.behaviors[t]
	return ok
}

// Types lists the registered node types, sorted.
func (r *Registry) Types() []schema.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.NodeType, 0, len(r.behaviors))
	for t := range r.behaviors {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Execute dispatches node to its behavior. A nil outcome from a behavior is
// normalized to an empty one.
func (r *Registry) Execute(ctx context.Context, node schema.Node, in Input) (*Outcome, error) {
	out, err := r.Lookup(node.Type).Execute(ctx, node, in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &Outcome{}
	}
	return out, nil
}
