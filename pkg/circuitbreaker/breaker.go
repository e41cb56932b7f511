// Package circuitbreaker implements the circuit breaker pattern.
//
// A circuit breaker prevents cascading failures by tracking the failure ratio
// of recent calls and temporarily blocking requests to a failing dependency.
//
// States:
//   - Closed: normal operation, requests allowed
//   - Open: failure ratio crossed the threshold, requests blocked
//   - HalfOpen: cool-down elapsed, one trial request allowed
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the state of a circuit breaker.
type State int32

const (
	Closed   State = iota // Normal operation, requests allowed
	Open                  // Failing, requests blocked
	HalfOpen              // Testing if recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Window           int           // Size of the sliding outcome window (default: 5)
	FailureThreshold float64       // Failure ratio over the window that opens the circuit (default: 0.5)
	Cooldown         time.Duration // Time before half-open (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:           5,
		FailureThreshold: 0.5,
		Cooldown:         time.Minute,
	}
}

// TransitionListener observes breaker state changes. Listeners run on the
// goroutine that caused the transition; keep them short.
type TransitionListener func(from, to State)

// Breaker implements the circuit breaker pattern for a single dependency.
// State transitions use compare-and-set so concurrent dispatchers never block
// each other on state checks.
type Breaker struct {
	window    int
	threshold float64
	cooldown  time.Duration

	state    atomic.Int32
	openedAt atomic.Int64
	probe    atomic.Bool

	mu       sync.Mutex
	outcomes []bool // true marks a failure
	next     int
	filled   int

	listenerMu sync.RWMutex
	listeners  []TransitionListener
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	b := &Breaker{
		window:    cfg.Window,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		outcomes:  make([]bool, cfg.Window),
	}
	b.state.Store(int32(Closed))
	return b
}

// OnTransition registers fn to be notified of every state change.
func (b *Breaker) OnTransition(fn TransitionListener) {
	if fn == nil {
		return
	}
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Allow reports whether a request should be attempted. After the cool-down it
// promotes an open breaker to half-open and admits a single trial call.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true

	case Open:
		opened := time.Unix(0, b.openedAt.Load())
		if time.Since(opened) < b.cooldown {
			return false
		}
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probe.Store(true)
			b.notify(Open, HalfOpen)
			return true
		}
		// Another caller won the transition; only its probe goes through.
		return false

	case HalfOpen:
		// Admit exactly one trial call per half-open episode.
		return b.probe.CompareAndSwap(false, true)

	default:
		return true
	}
}

// RecordSuccess records a successful request. A half-open success closes the
// breaker and clears the outcome window.
func (b *Breaker) RecordSuccess() {
	if b.state.CompareAndSwap(int32(HalfOpen), int32(Closed)) {
		b.probe.Store(false)
		b.resetWindow()
		b.notify(HalfOpen, Closed)
		return
	}
	if State(b.state.Load()) == Closed {
		b.record(false)
	}
}

// RecordFailure records a failed request. A half-open failure reopens the
// breaker; a closed breaker opens once the windowed failure ratio reaches the
// threshold.
func (b *Breaker) RecordFailure() {
	if b.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
		b.openedAt.Store(time.Now().UnixNano())
		b.probe.Store(false)
		b.notify(HalfOpen, Open)
		return
	}
	if State(b.state.Load()) != Closed {
		return
	}
	ratio := b.record(true)
	if ratio < b.threshold {
		return
	}
	if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
		b.openedAt.Store(time.Now().UnixNano())
		b.resetWindow()
		b.notify(Closed, Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// record appends an outcome to the sliding window and returns the failure
// ratio measured against the window capacity.
func (b *Breaker) record(failure bool) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes[b.next] = failure
	b.next = (b.next + 1) % b.window
	if b.filled < b.window {
		b.filled++
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.window)
}

func (b *Breaker) resetWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next = 0
	b.filled = 0
}

func (b *Breaker) notify(from, to State) {
	b.listenerMu.RLock()
	listeners := make([]TransitionListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(from, to)
	}
}
