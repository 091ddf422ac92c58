package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/authchain/auth"
)

// ErrCircuitOpen is returned while the circuit is open. It matches
// auth.ErrStoreUnavailable.
var ErrCircuitOpen = fmt.Errorf("store: circuit open: %w", auth.ErrStoreUnavailable)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed means calls reach the store.
	CircuitClosed CircuitState = iota
	// CircuitOpen means calls fail fast.
	CircuitOpen
	// CircuitHalfOpen means a probe call is testing recovery.
	CircuitHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitConfig configures the circuit breaker.
type CircuitConfig struct {
	// MaxFailures is the number of consecutive failures before opening.
	// Default: 5
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to CircuitState) `yaml:"-"`
}

// circuitBreaker trips after consecutive store outages. Only one probe is
// let through while half-open.
type circuitBreaker struct {
	config CircuitConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

func newCircuitBreaker(config CircuitConfig) *circuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &circuitBreaker{config: config, now: time.Now}
}

func (cb *circuitBreaker) execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := op(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *circuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *circuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if isContextError(err) {
		if cb.state == CircuitHalfOpen {
			cb.probing = false
		}
		return
	}
	failed := isOutage(err)
	switch cb.state {
	case CircuitClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.failures >= cb.config.MaxFailures {
			cb.setStateLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.probing = false
		if failed {
			cb.lastFailure = cb.now()
			cb.setStateLocked(CircuitOpen)
			return
		}
		cb.failures = 0
		cb.setStateLocked(CircuitClosed)
	}
}

func (cb *circuitBreaker) currentStateLocked() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.probing = false
		cb.setStateLocked(CircuitHalfOpen)
	}
	return cb.state
}

func (cb *circuitBreaker) setStateLocked(state CircuitState) {
	from := cb.state
	cb.state = state
	if from != state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, state)
	}
}
