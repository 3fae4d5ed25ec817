// Package metrics exports bridge and directory measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// Namespace prefixes every metric name.
const Namespace = "ldap_bridge"

// Metrics implements ldapauth.MetricsRecorder on Prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// ConnectAttempts counts dials by host and result
	ConnectAttempts *prometheus.CounterVec

	// Failovers counts connections established on a host other than the first tried
	Failovers *prometheus.CounterVec

	// Binds counts binds by kind ("privileged", "user") and result
	Binds *prometheus.CounterVec

	// DirectoryDecisions counts directory logins by decision
	DirectoryDecisions *prometheus.CounterVec

	// DirectoryDuration tracks directory login latency
	DirectoryDuration prometheus.Histogram

	// BridgeDecisions counts bridge outcomes by reason
	BridgeDecisions *prometheus.CounterVec

	// LocalFallbacks counts local password checks run by the service
	LocalFallbacks *prometheus.CounterVec
}

var _ ldapauth.MetricsRecorder = (*Metrics)(nil)

// New creates and registers the metrics with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "connect_attempts_total",
				Help:      "Directory dial attempts by host and result",
			},
			[]string{"host", "result"},
		),
		Failovers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "failovers_total",
				Help:      "Connections established on a host other than the preferred one",
			},
			[]string{"from", "to"},
		),
		Binds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "binds_total",
				Help:      "Directory binds by kind and result",
			},
			[]string{"kind", "result"},
		),
		DirectoryDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "directory_decisions_total",
				Help:      "Directory login decisions",
			},
			[]string{"decision"},
		),
		DirectoryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "directory_login_duration_seconds",
				Help:      "Directory login duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BridgeDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "decisions_total",
				Help:      "Bridge decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		LocalFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "local_fallbacks_total",
				Help:      "Local password checks after a directory fallback, by result",
			},
			[]string{"result"},
		),
	}
}

// ConnectAttempt implements ldapauth.MetricsRecorder.
func (m *Metrics) ConnectAttempt(host, result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(host, result).Inc()
}

// Failover implements ldapauth.MetricsRecorder.
func (m *Metrics) Failover(from, to string) {
	if m == nil {
		return
	}
	m.Failovers.WithLabelValues(from, to).Inc()
}

// BindResult implements ldapauth.MetricsRecorder.
func (m *Metrics) BindResult(kind string, success bool) {
	if m == nil {
		return
	}
	m.Binds.WithLabelValues(kind, resultLabel(success)).Inc()
}

// DirectoryDecision implements ldapauth.MetricsRecorder.
func (m *Metrics) DirectoryDecision(kind ldapauth.AuthDecisionKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.DirectoryDecisions.WithLabelValues(kind.String()).Inc()
	m.DirectoryDuration.Observe(duration.Seconds())
}

// BridgeDecision implements ldapauth.MetricsRecorder.
func (m *Metrics) BridgeDecision(outcome ldapauth.Outcome, reason ldapauth.Reason) {
	if m == nil {
		return
	}
	m.BridgeDecisions.WithLabelValues(outcome.String(), reason.String()).Inc()
}

// LocalFallback records the result of a local password check.
func (m *Metrics) LocalFallback(success bool) {
	if m == nil {
		return
	}
	m.LocalFallbacks.WithLabelValues(resultLabel(success)).Inc()
}

// RegisterRateLimiter exports the limiter's tracked and locked identifier counts.
func RegisterRateLimiter(reg prometheus.Registerer, limiter *ldapauth.RateLimiter) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rate_limiter_tracked_identifiers",
			Help:      "Identifiers with recent login failures",
		},
		func() float64 {
			tracked, _ := limiter.Stats()
			return float64(tracked)
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rate_limiter_locked_identifiers",
			Help:      "Identifiers currently locked out",
		},
		func() float64 {
			_, locked := limiter.Stats()
			return float64(locked)
		},
	)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
