package resilientbridge

import (
	"sync"
	"time"

	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

// CircuitState is the breaker state.
type CircuitState int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed CircuitState = iota
	// StateOpen rejects calls without contacting the remote target.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerSettings configures a CircuitBreaker.
type CircuitBreakerSettings struct {
	// Threshold is the failure count that opens the breaker (default 5).
	Threshold int
	// FailureWindow restarts the failure count when the previous failure is
	// older than this. Zero counts failures until a success resets them.
	FailureWindow time.Duration
	// ResetTimeout is how long the breaker stays open before a probe (default 60s).
	ResetTimeout time.Duration
}

// CircuitStats is a snapshot of breaker state.
type CircuitStats struct {
	State       CircuitState
	Failures    int
	LastFailure time.Time
	NextAttempt time.Time

	TotalFailures   int64
	TotalRejections int64
}

// CircuitBreaker isolates a failing remote dependency.
//
// The open → half_open transition is evaluated lazily by Allow; nothing
// happens on a timer. State is mutated only through Allow, RecordSuccess and
// RecordFailure, which the retry executor calls around each attempt.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	settings CircuitBreakerSettings
	clock    clock.Clock
	emitter  *Emitter

	mu            sync.Mutex
	state         CircuitState
	failures      int
	lastFailure   time.Time
	nextAttempt   time.Time
	probeInFlight bool

	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(settings CircuitBreakerSettings, clk clock.Clock, emitter *Emitter) *CircuitBreaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		settings: settings,
		clock:    clock.OrReal(clk),
		emitter:  emitter,
		state:    StateClosed,
	}
}

// Allow gates one attempt. It returns a *CircuitOpenError while open, and while
// half-open once the single probe slot is taken.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return nil

	case StateOpen:
		now := cb.clock.Now()
		if now.Before(cb.nextAttempt) {
			cb.totalRejections++
			err := &CircuitOpenError{State: StateOpen, NextAttempt: cb.nextAttempt}
			cb.mu.Unlock()
			return err
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		cb.mu.Unlock()
		cb.emit(EventCircuitHalfOpen, now)
		return nil

	default: // StateHalfOpen
		if cb.probeInFlight {
			cb.totalRejections++
			cb.mu.Unlock()
			return &CircuitOpenError{State: StateHalfOpen}
		}
		cb.probeInFlight = true
		cb.mu.Unlock()
		return nil
	}
}

// RecordSuccess resets the failure count; a successful probe closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	if cb.state != StateHalfOpen {
		cb.mu.Unlock()
		return
	}
	cb.state = StateClosed
	cb.probeInFlight = false
	cb.nextAttempt = time.Time{}
	now := cb.clock.Now()
	cb.mu.Unlock()

	cb.emit(EventCircuitClosed, now)
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// immediately when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	now := cb.clock.Now()
	cb.totalFailures++

	if w := cb.settings.FailureWindow; w > 0 && !cb.lastFailure.IsZero() && now.Sub(cb.lastFailure) > w {
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.trip(now)
	case StateClosed:
		if cb.failures < cb.settings.Threshold {
			cb.mu.Unlock()
			return
		}
		cb.trip(now)
	default:
		// A call admitted before the breaker opened finished late.
		cb.mu.Unlock()
		return
	}
	cb.mu.Unlock()

	cb.emit(EventCircuitOpen, now)
}

// Abandon releases an admitted attempt that ended without an outcome, such as
// one cancelled by its caller. A half-open probe slot becomes free again.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// trip moves to open. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.nextAttempt = now.Add(cb.settings.ResetTimeout)
}

// State returns the stored state. An open breaker whose reset timeout has
// elapsed still reports open until the next Allow.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitStats{
		State:           cb.state,
		Failures:        cb.failures,
		LastFailure:     cb.lastFailure,
		NextAttempt:     cb.nextAttempt,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
	}
}

// Reset forces the breaker closed, emitting circuitbreaker:closed if it was not.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
	cb.nextAttempt = time.Time{}
	now := cb.clock.Now()
	cb.mu.Unlock()

	if prev != StateClosed {
		cb.emit(EventCircuitClosed, now)
	}
}

func (cb *CircuitBreaker) emit(t EventType, now time.Time) {
	cb.emitter.Emit(Event{Type: t, Time: now})
}
