package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker fails fast.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is probing whether the service
	// recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects against cascading failures by failing fast when a
// dependency is down. It is an explicit Closed/Open/HalfOpen state machine:
// the circuit opens after FailureThreshold consecutive failures, stays open
// for Cooldown, then admits one probe at a time and closes again only after
// RecoveryAttempts consecutive probe successes.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	recoveryAttempts int

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	probing     bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the number of failures before opening the circuit.
func WithFailureThreshold(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = n
	}
}

// WithCooldown sets the time to wait before attempting recovery.
func WithCooldown(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.cooldown = d
	}
}

// WithRecoveryAttempts sets the number of consecutive half-open successes
// required to fully close the circuit.
func WithRecoveryAttempts(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.recoveryAttempts = n
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Defaults: 5 failures, 30 second cooldown, 1 recovery success.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		recoveryAttempts: 1,
		state:            StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.observedState()
}

// observedState folds cooldown expiry into the reported state.
// Must be called with the lock held.
func (cb *CircuitBreaker) observedState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow reports whether a request would currently be admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.observedState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return !cb.probing
	default:
		return true
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn when the circuit fails fast.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.settle(err)
	return err
}

// admit decides whether a call may proceed, transitioning to half-open when
// the cooldown has elapsed. Half-open admits a single probe at a time.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.observedState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return nil
	default:
		return nil
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		if err != nil {
			cb.state = StateOpen
			cb.successes = 0
			cb.failures++
			cb.lastFailure = time.Now()
			return
		}
		cb.successes++
		if cb.successes >= cb.recoveryAttempts {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}

	default: // StateClosed
		if err != nil {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.failureThreshold {
				cb.state = StateOpen
			}
			return
		}
		cb.failures = 0
	}
}

// ExecuteWithFallback runs fn through the circuit breaker, calling fallback
// when the circuit fails fast or fn fails.
func ExecuteWithFallback[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		return fallback()
	}

	result, err := fn()
	cb.settle(err)
	if err != nil {
		return fallback()
	}
	return result, nil
}
