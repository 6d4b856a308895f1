package retry

import (
	"fmt"
	"sync"
	"time"

	udperrors "udpterm/internal/errors"
)

// State represents the circuit breaker's operational state.
type State int

const (
	// StateClosed is normal operation: calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls without running them.
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

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

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	// the circuit (default 5).
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before moving to
	// half-open (default 30s).
	ResetTimeout time.Duration
	// HalfOpenMax is the number of consecutive successes in half-open
	// state required to close the circuit (default 2).
	HalfOpenMax int
	// OnStateChange is called whenever the state transitions.  It runs
	// under the lock, so keep it fast.
	OnStateChange func(from, to State)
}

// DefaultCircuitBreakerConfig returns the thresholds used to guard
// session spawning.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  2,
	}
}

// CircuitBreaker stops calling an operation that keeps failing.  The
// server wraps PTY allocation and child spawn in one, so a host that
// has run out of terminals answers NewSession floods cheaply instead
// of hammering /dev/ptmx.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	lastFailure   time.Time
	onStateChange func(from, to State)
	now           func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig()
	}
	maxF := cfg.MaxFailures
	if maxF <= 0 {
		maxF = 5
	}
	rt := cfg.ResetTimeout
	if rt <= 0 {
		rt = 30 * time.Second
	}
	hom := cfg.HalfOpenMax
	if hom <= 0 {
		hom = 2
	}
	return &CircuitBreaker{
		state:         StateClosed,
		maxFailures:   maxF,
		resetTimeout:  rt,
		halfOpenMax:   hom,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Execute runs fn through the circuit breaker.  When the circuit is
// open, fn is not called and an error wrapping ErrCircuitOpen is
// returned immediately.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the circuit breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	elapsed := cb.now().Sub(cb.lastFailure)
	if elapsed > cb.resetTimeout {
		cb.transition(StateHalfOpen)
		return nil
	}
	remaining := cb.resetTimeout - elapsed
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		udperrors.ErrCircuitOpen, cb.failures, remaining.Truncate(time.Second))
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = cb.now()

		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.halfOpenMax {
			cb.failures = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
