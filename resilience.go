package ldapauth

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateCircuitClosed CircuitBreakerState = iota
	StateCircuitOpen
	StateCircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateCircuitClosed:
		return "CLOSED"
	case StateCircuitOpen:
		return "OPEN"
	case StateCircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the per-host circuit breakers
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive dial failures before opening the circuit
	MaxFailures int64 `mapstructure:"max_failures" validate:"gte=1"`
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// DefaultCircuitBreakerConfig returns a sensible default configuration
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     30 * time.Second,
	}
}

// CircuitBreaker tracks the health of one directory host.
//
// An open breaker does not forbid dialing; the connection manager only moves the
// host to the end of the attempt order while the breaker is open.
type CircuitBreaker struct {
	config    *CircuitBreakerConfig
	logger    *slog.Logger
	name      string
	mu        sync.RWMutex
	state     atomic.Int32
	failures  atomic.Int64
	nextRetry time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *CircuitBreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := &CircuitBreaker{
		config: config,
		logger: logger,
		name:   name,
		now:    time.Now,
	}
	cb.state.Store(int32(StateCircuitClosed))
	return cb
}

// State returns the current state, moving OPEN to HALF_OPEN once the timeout elapsed.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	current := CircuitBreakerState(cb.state.Load())
	if current != StateCircuitOpen {
		return current
	}

	cb.mu.RLock()
	nextRetry := cb.nextRetry
	cb.mu.RUnlock()

	if cb.now().After(nextRetry) {
		if cb.state.CompareAndSwap(int32(StateCircuitOpen), int32(StateCircuitHalfOpen)) {
			cb.logger.Info("circuit_breaker_transition",
				slog.String("name", cb.name),
				slog.String("from", "OPEN"),
				slog.String("to", "HALF_OPEN"))
		}
		return CircuitBreakerState(cb.state.Load())
	}

	return StateCircuitOpen
}

// Allow reports whether the host should be tried in its configured position.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != StateCircuitOpen
}

// RecordResult records the outcome of a dial.
func (cb *CircuitBreaker) RecordResult(err error) {
	if err == nil {
		cb.failures.Store(0)
		if CircuitBreakerState(cb.state.Swap(int32(StateCircuitClosed))) != StateCircuitClosed {
			cb.logger.Info("circuit_breaker_closed",
				slog.String("name", cb.name),
				slog.String("reason", "successful_dial"))
		}
		return
	}

	failureCount := cb.failures.Add(1)

	switch CircuitBreakerState(cb.state.Load()) {
	case StateCircuitClosed:
		if failureCount >= cb.config.MaxFailures {
			cb.openCircuit()
		}
	case StateCircuitHalfOpen:
		cb.openCircuit()
	}
}

// openCircuit transitions the circuit to open state
func (cb *CircuitBreaker) openCircuit() {
	cb.state.Store(int32(StateCircuitOpen))

	cb.mu.Lock()
	cb.nextRetry = cb.now().Add(cb.config.Timeout)
	nextRetry := cb.nextRetry
	cb.mu.Unlock()

	cb.logger.Warn("circuit_breaker_opened",
		slog.String("name", cb.name),
		slog.Int64("failures", cb.failures.Load()),
		slog.Time("next_retry", nextRetry))
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.state.Store(int32(StateCircuitClosed))
	cb.failures.Store(0)

	cb.logger.Info("circuit_breaker_reset", slog.String("name", cb.name))
}

// breakerSet lazily creates one breaker per host URL.
type breakerSet struct {
	config   *CircuitBreakerConfig
	logger   *slog.Logger
	breakers sync.Map
}

func (s *breakerSet) get(host string) *CircuitBreaker {
	if cb, ok := s.breakers.Load(host); ok {
		return cb.(*CircuitBreaker)
	}
	cb, _ := s.breakers.LoadOrStore(host, NewCircuitBreaker(host, s.config, s.logger))
	return cb.(*CircuitBreaker)
}
