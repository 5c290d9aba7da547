// Package breaker implements named circuit breakers for downstream
// dependencies. Per-call backoff alone does not stop a fleet of independent
// callers from hammering a dependency that is down; a shared circuit does.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a call is short-circuited. It is distinct from a
// genuine call failure so callers can message "service temporarily
// unavailable" instead of "request failed".
var ErrOpen = errors.New("circuit open")

// Default thresholds for Options fields left zero.
const (
	DefaultFailureThreshold = 5
	DefaultResetAfter       = 60 * time.Second
)

// Options tunes a single circuit.
type Options struct {
	FailureThreshold int           // consecutive failures before the circuit opens
	ResetAfter       time.Duration // cooldown before a half-open probe is allowed
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold == 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.ResetAfter == 0 {
		o.ResetAfter = DefaultResetAfter
	}
	return o
}

// State is a point-in-time snapshot of one circuit.
type State struct {
	Name          string
	Failures      int
	LastFailureAt time.Time
	Open          bool
}

// Registry owns a set of named circuits. It is injected into the components
// that perform external calls rather than living as package state, so
// unrelated features cannot cross-contaminate each other's health signals
// through an ambient map.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*Breaker
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		circuits: make(map[string]*Breaker),
		now:      time.Now,
	}
}

// Get returns the circuit for name, creating it lazily on first use. Options
// are applied only on creation; later calls with different options get the
// existing circuit unchanged.
func (r *Registry) Get(name string, opts Options) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.circuits[name]; ok {
		return b
	}
	b := &Breaker{name: name, opts: opts.withDefaults(), now: r.now}
	r.circuits[name] = b
	return b
}

// States returns a snapshot of every circuit in the registry.
func (r *Registry) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]State, 0, len(r.circuits))
	for _, b := range r.circuits {
		states = append(states, b.State())
	}
	return states
}

// Breaker is one named circuit. Read-modify-write on its counters is guarded
// by a mutex so concurrent callers see a consistent failure count.
type Breaker struct {
	name string
	opts Options
	now  func() time.Time

	mu            sync.Mutex
	failures      int
	lastFailureAt time.Time
	open          bool
}

// Do executes op unless the circuit is open and still cooling down. When
// short-circuited it returns fallback if one was supplied, otherwise an error
// wrapping ErrOpen. Half-open is implicit: once the cooldown elapses the
// circuit provisionally closes and the next call's outcome decides the new
// state.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error, fallback func() error) error {
	if !b.allow() {
		if fallback != nil {
			return fallback()
		}
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	err := op(ctx)
	b.record(err)
	if err != nil && fallback != nil {
		return fallback()
	}
	return err
}

// allow reports whether a call may proceed, provisionally closing the circuit
// when the cooldown has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailureAt) > b.opts.ResetAfter {
		slog.Debug("circuit half-open", "name", b.name)
		b.open = false
		b.failures = 0
		return true
	}
	return false
}

// record folds one call outcome into the circuit state.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailureAt = b.now()
	if !b.open && b.failures >= b.opts.FailureThreshold {
		b.open = true
		slog.Warn("circuit opened", "name", b.name, "failures", b.failures)
	}
}

// State returns a snapshot of the circuit.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Name:          b.name,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		Open:          b.open,
	}
}

// Reset closes the circuit and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}
