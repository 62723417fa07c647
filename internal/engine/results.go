package engine

import (
	"maps"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
)

// ResultStore holds the results of one run, keyed by node ID. Presence of a
// key marks the node as executed even when its result is nil, which is what
// guarantees at-most-once execution per node per run.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*schema.Result
}

// NewResultStore returns an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]*schema.Result)}
}

// Get returns the result recorded for nodeID and whether the node has run.
func (s *ResultStore) Get(nodeID string) (*schema.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[nodeID]
	return r, ok
}

// Set records nodeID as executed with result r, which may be nil.
func (s *ResultStore) Set(nodeID string, r *schema.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[nodeID] = r
}

// Has reports whether nodeID has run.
func (s *ResultStore) Has(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[nodeID]
	return ok
}

// Len returns the number of executed nodes.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Snapshot returns a copy of all recorded results.
func (s *ResultStore) Snapshot() map[string]*schema.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.results)
}
