package concurrency

import (
	"sync"
	"time"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed indicates the circuit is closed and operations are allowed
	StateClosed CircuitBreakerState = iota

	// StateOpen indicates the circuit is open and operations are rejected
	StateOpen

	// StateHalfOpen indicates the circuit lets probes through to test recovery
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops submitting work to a failing backend, such as a
// remote transport that keeps timing out.
type CircuitBreaker struct {
	mu sync.Mutex

	state                CircuitBreakerState
	consecutiveFailures  int64
	consecutiveSuccesses int64
	lastFailure          time.Time

	failureThreshold int64
	resetTimeout     time.Duration
	closeAfter       int64
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		closeAfter:       3,
		now:              time.Now,
	}
}

// Allow returns ErrCircuitOpen while the circuit rejects operations.
// A nil breaker allows everything.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return perrors.ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.consecutiveSuccesses = 0
	}
	return nil
}

// IsOpen reports whether operations are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.Allow() != nil
}

// Record records the outcome of an operation.
func (cb *CircuitBreaker) Record(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	// Cancellation says nothing about the backend.
	if perrors.IsCanceled(err) {
		return
	}
	cb.RecordFailure()
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.closeAfter {
			cb.state = StateClosed
			cb.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	cb.lastFailure = cb.now()
	cb.consecutiveFailures++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset closes the circuit and clears all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.lastFailure = time.Time{}
}
