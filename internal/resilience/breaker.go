// Package resilience implements the circuit breaker and retry executor that
// gate and bound calls to a fallible upstream operation.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sertdev/tubestatus/internal/clock"
)

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// RefusedError is returned when the breaker is Open and refuses to run the
// operation at all. It does NOT increment the failure counter — only
// FailedError does.
type RefusedError struct {
	RetryAfter time.Duration
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter)
}

// FailedError wraps the underlying error returned by the wrapped operation.
// Every FailedError increments the breaker's consecutive-failure counter.
type FailedError struct {
	Cause error
}

func (e *FailedError) Error() string { return e.Cause.Error() }
func (e *FailedError) Unwrap() error { return e.Cause }

// IsRefused reports whether err is (or wraps) a RefusedError.
func IsRefused(err error) bool {
	var r *RefusedError
	return errors.As(err, &r)
}

// BreakerOpts configures a CircuitBreaker.
type BreakerOpts struct {
	// FailureThreshold is the number of consecutive failures required to
	// trip the breaker from Closed to Open. Default 5.
	FailureThreshold int
	// OpenDuration is how long the breaker stays Open before allowing a
	// probe request in HalfOpen. Default 30s.
	OpenDuration time.Duration
	// HalfOpenMaxRequests is the number of probe requests allowed through
	// while HalfOpen. Default 1.
	HalfOpenMaxRequests int
	// Clock is the time source; defaults to clock.Real.
	Clock clock.Clock
}

func (o BreakerOpts) withDefaults() BreakerOpts {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	if o.HalfOpenMaxRequests <= 0 {
		o.HalfOpenMaxRequests = 1
	}
	if o.Clock == nil {
		o.Clock = clock.Real
	}
	return o
}

// CircuitBreaker gates a fallible thunk behind a CLOSED/OPEN/HALF_OPEN state
// machine. All mutations are serialized by a single mutex; the breaker is
// safe for concurrent callers.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	halfOpenCount int
	openedAt      time.Time
	opts          BreakerOpts
}

// NewCircuitBreaker creates a CircuitBreaker with the given options.
func NewCircuitBreaker(opts BreakerOpts) *CircuitBreaker {
	return &CircuitBreaker{
		state: StateClosed,
		opts:  opts.withDefaults(),
	}
}

// State returns the current state, transitioning Open→HalfOpen internally
// if OpenDuration has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// currentStateLocked must be called with mu held.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.opts.Clock.Now().Sub(cb.openedAt) >= cb.opts.OpenDuration {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
	}
	return cb.state
}

// OpenedAt returns the instant the breaker last opened (zero value if it
// has never opened).
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

// allow checks whether a call may proceed, reserving a HalfOpen slot if
// necessary. Returns a RefusedError if the call must not proceed.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateClosed:
		return nil
	case StateOpen:
		retryAfter := cb.opts.OpenDuration - cb.opts.Clock.Now().Sub(cb.openedAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &RefusedError{RetryAfter: retryAfter}
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.opts.HalfOpenMaxRequests {
			retryAfter := cb.opts.OpenDuration
			return &RefusedError{RetryAfter: retryAfter}
		}
		cb.halfOpenCount++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) report(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
		}
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.opts.FailureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.opts.Clock.Now()
		cb.halfOpenCount = 0
	}
}

// Execute runs fn if the breaker allows it. A RefusedError is returned
// without running fn and without affecting the failure counter. Any error
// fn returns is wrapped in FailedError and counted as a failure; a nil
// error resets the counter (and, from HalfOpen, closes the breaker).
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.allow(); err != nil {
		return zero, err
	}

	result, err := fn()
	if err != nil {
		cb.report(false)
		return zero, &FailedError{Cause: err}
	}

	cb.report(true)
	return result, nil
}
