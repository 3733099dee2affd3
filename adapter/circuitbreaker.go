package adapter

import (
	"sync"
	"time"

	"github.com/detectforge/runbookcore/core"
)

// breakerState is one node of the circuit breaker's state machine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures one per-adapter breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	ResetTimeout     time.Duration // time in open before trying half-open
}

// DefaultCircuitBreakerConfig matches the engine's out-of-the-box
// per-adapter breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a per-adapter fail-fast guard. In closed state,
// each failure increments a counter and each success clears it; at
// FailureThreshold consecutive failures the breaker opens. In open
// state every call is rejected until ResetTimeout elapses, after which
// the next call is let through as a half-open probe. In half-open,
// SuccessThreshold consecutive successes closes the breaker; any
// single failure reopens it.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	halfOpenSuccess int
	openedAt        time.Time
}

// NewCircuitBreaker returns a closed breaker for the named adapter.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{name: name, config: config, state: breakerClosed}
}

// Allow reports whether a call may proceed, transitioning open ->
// half-open when ResetTimeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(cb.openedAt) >= cb.config.ResetTimeout {
			cb.state = breakerHalfOpen
			cb.halfOpenSuccess = 0
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess clears the failure streak, and in half-open counts
// toward closing the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
			cb.state = breakerClosed
			cb.consecutiveFail = 0
		}
	default:
		cb.consecutiveFail = 0
	}
}

// RecordFailure increments the failure streak, opening the breaker
// when the threshold is reached. Any failure in half-open reopens it
// immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerHalfOpen:
		cb.state = breakerOpen
		cb.openedAt = time.Now()
	default:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.config.FailureThreshold {
			cb.state = breakerOpen
			cb.openedAt = time.Now()
		}
	}
}

// State returns the current state name: "closed", "open", or
// "half-open".
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// ErrOpen is returned by callers that check Allow() themselves and
// want a standard sentinel to propagate.
var ErrOpen = core.ErrCircuitOpen
