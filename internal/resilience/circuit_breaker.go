// Package resilience holds the retry and circuit-breaker policies used by
// outbound collaborator clients.
package resilience

import (
	"sync"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// State is where a breaker sits in the closed, open, half-open cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// BreakerConfig tunes every breaker in a Breakers set.
type BreakerConfig struct {
	Threshold int           // consecutive failures that open the breaker
	Cooldown  time.Duration // time open before probing
	Probes    int           // calls let through while half-open
}

// DefaultBreakerConfig opens after five straight failures and probes once
// after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Key      string `json:"key"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
}

type breaker struct {
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// Breakers keeps one breaker per upstream key, for example an image model.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu  sync.Mutex
	set map[string]*breaker
}

func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breakers{cfg: cfg, now: time.Now, set: map[string]*breaker{}}
}

// lookup returns the breaker for key with r.mu held, moving an open breaker
// to half-open once its cooldown has passed.
func (r *Breakers) lookup(key string) *breaker {
	b, ok := r.set[key]
	if !ok {
		b = &breaker{}
		r.set[key] = b
	}
	if b.state == Open && r.now().Sub(b.openedAt) >= r.cfg.Cooldown {
		b.state, b.probes = HalfOpen, 0
	}
	return b
}

// Allow returns a CIRCUIT_OPEN error when calls to key must not be made.
func (r *Breakers) Allow(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.lookup(key)
	switch b.state {
	case Open:
		wait := r.cfg.Cooldown - r.now().Sub(b.openedAt)
		return schema.NewErrorf(schema.ErrCodeCircuitOpen, "%s is failing, retry in %s", key, wait.Round(time.Second)).
			WithDetails(map[string]any{"key": key, "consecutive_failures": b.failures, "retry_in": wait.String()})
	case HalfOpen:
		if b.probes >= r.cfg.Probes {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "%s is being probed", key)
		}
		b.probes++
	}
	return nil
}

// Succeeded closes the breaker for key.
func (r *Breakers) Succeeded(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.lookup(key) = breaker{}
}

// Failed counts a failure and returns the resulting state. A failed probe
// reopens the breaker at once.
func (r *Breakers) Failed(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.lookup(key)
	b.failures++
	if b.state == HalfOpen || b.failures >= r.cfg.Threshold {
		b.state, b.openedAt = Open, r.now()
	}
	return b.state
}

func (r *Breakers) State(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(key).state
}

func (r *Breakers) Stats(key string) BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.lookup(key)
	return BreakerStats{Key: key, State: b.state.String(), Failures: b.failures}
}
