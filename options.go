package ldapauth

import (
	"log/slog"
	"time"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger used by the bridge and everything it creates.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	bridge, err := NewBridge(provider, store, WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTimeout bounds the directory part of each Authenticate call.
// Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// WithDialer replaces the go-ldap dialer, mainly for tests.
func WithDialer(dialer Dialer) Option {
	return func(b *Bridge) {
		if dialer != nil {
			b.dialer = dialer
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(b *Bridge) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// WithCircuitBreaker enables per-host circuit breakers. A nil config selects
// DefaultCircuitBreakerConfig.
//
// Example:
//
//	bridge, err := NewBridge(provider, store, WithCircuitBreaker(&CircuitBreakerConfig{
//	    MaxFailures: 5,
//	    Timeout:     time.Minute,
//	}))
func WithCircuitBreaker(config *CircuitBreakerConfig) Option {
	return func(b *Bridge) {
		if config == nil {
			config = DefaultCircuitBreakerConfig()
		}
		b.breakerConfig = config
	}
}

// WithFailureListener registers a listener for rejected logins.
func WithFailureListener(listener FailureListener) Option {
	return func(b *Bridge) {
		if listener != nil {
			b.listeners = append(b.listeners, listener)
		}
	}
}

// WithUIDAttribute overrides the uid attribute of every DirectoryConfig the bridge sees.
func WithUIDAttribute(attribute string) Option {
	return func(b *Bridge) {
		b.uidAttribute = attribute
	}
}
