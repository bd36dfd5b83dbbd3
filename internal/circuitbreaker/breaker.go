// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions. The risk client keys it
// by remote endpoint so a failing assessment API stops being hammered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paykrypt",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
	}, []string{"key", "from_state", "to_state"})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paykrypt",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Current circuit state by key (0 closed, 1 open, 2 half-open).",
	}, []string{"key"})
)

func init() {
	prometheus.MustRegister(stateTransitions, stateGauge)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
	probeAt     time.Time // when the half-open probe was let through
}

// Breaker tracks consecutive failures per key and trips open at the
// threshold. After openDuration the circuit goes half-open and allows
// one probe request. A probe that never reports back is replaced after
// another openDuration.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Execute runs fn if the circuit for key allows it and records the outcome.
// It returns ErrOpen without calling fn when the circuit is open.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// Allow reports whether a request to key should go ahead.
// An open circuit whose openDuration has elapsed moves to half-open.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	now := b.now()
	switch e.state {
	case StateOpen:
		if now.Sub(e.lastFailure) < b.openDuration {
			return false
		}
		b.transition(e, key, StateHalfOpen)
		e.probeAt = now
		return true
	case StateHalfOpen:
		if now.Sub(e.probeAt) < b.openDuration {
			return false // probe in flight
		}
		e.probeAt = now
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failed request and trips the circuit when the
// threshold is reached. A failed probe reopens it.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, key, StateOpen)
	}
}

// State returns the current state for a key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	stateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(key).Set(float64(to))
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
