package dispatch

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns string representation of BreakerState
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a per-backend failure-tracking state machine.
// Closed admits everything; threshold consecutive failures open it;
// after the recovery timeout it half-opens and admits a bounded number
// of probe calls until one of them settles the state.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailure   time.Time
	halfOpenCalls int

	now func() time.Time // overridable in tests
}

// BreakerStatus is a read-only snapshot of a breaker's state
type BreakerStatus struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure_time,omitempty"`
}

// NewCircuitBreaker creates a breaker in the closed state
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may go through. An open breaker whose
// recovery timeout has elapsed transitions to half-open here; a
// half-open breaker admits up to halfOpenMaxCalls probes, each
// admission counted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenCalls = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure counter; a success while half-open
// closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.failureCount = 0
	case BreakerClosed:
		cb.failureCount = 0
	}
}

// RecordFailure increments the failure counter and opens the breaker
// when the threshold is reached. A failure while half-open reopens
// immediately regardless of the counter.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
		return
	}

	if cb.state == BreakerClosed && cb.failureCount >= cb.failureThreshold {
		cb.state = BreakerOpen
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a snapshot for monitoring
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
	}
}
