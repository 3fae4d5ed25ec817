package ldapauth

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionManager opens directory connections with ordered failover.
//
// The first host that accepts a connection is remembered per host set and tried
// first on subsequent calls. Connections are never pooled: each call returns a
// fresh link that the caller must Release.
type ConnectionManager struct {
	dialer   Dialer
	logger   *slog.Logger
	metrics  MetricsRecorder
	breakers *breakerSet

	mu        sync.Mutex
	preferred map[string]string
}

// NewConnectionManager creates a connection manager.
// A nil dialer selects StandardDialer, a nil logger slog.Default().
func NewConnectionManager(dialer Dialer, logger *slog.Logger) *ConnectionManager {
	if dialer == nil {
		dialer = StandardDialer{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnectionManager{
		dialer:    dialer,
		logger:    logger,
		metrics:   noopMetrics{},
		preferred: make(map[string]string),
	}
}

// SetMetrics installs a metrics recorder. Nil restores the no-op recorder.
func (m *ConnectionManager) SetMetrics(metrics MetricsRecorder) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	m.metrics = metrics
}

// EnableCircuitBreakers turns on per-host circuit breakers.
func (m *ConnectionManager) EnableCircuitBreakers(config *CircuitBreakerConfig) {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	m.breakers = &breakerSet{config: config, logger: m.logger}
}

// HostOrder returns the hosts in the order the next Connect will try them.
func (m *ConnectionManager) HostOrder(config *DirectoryConfig) []string {
	order := m.promotedOrder(config)

	if m.breakers == nil {
		return order
	}

	healthy := make([]string, 0, len(order))
	var tripped []string
	for _, h := range order {
		hostURL, err := config.hostURL(h)
		if err == nil && !m.breakers.get(hostURL).Allow() {
			tripped = append(tripped, h)
			continue
		}
		healthy = append(healthy, h)
	}

	return append(healthy, tripped...)
}

// promotedOrder moves the remembered host to the front, keeping the rest in
// configured order.
func (m *ConnectionManager) promotedOrder(config *DirectoryConfig) []string {
	m.mu.Lock()
	preferred, ok := m.preferred[config.hostSetKey()]
	m.mu.Unlock()

	order := make([]string, 0, len(config.Hosts))
	if ok {
		order = append(order, preferred)
	}
	for _, h := range config.Hosts {
		if ok && h == preferred {
			continue
		}
		order = append(order, h)
	}
	return order
}

func (m *ConnectionManager) promote(config *DirectoryConfig, host string) {
	m.mu.Lock()
	m.preferred[config.hostSetKey()] = host
	m.mu.Unlock()
}

// Connect opens a connection to the first reachable host.
//
// Returns a *ConnectionError wrapping ErrAllHostsUnreachable when every host fails
// or the context expires before a host answers.
func (m *ConnectionManager) Connect(ctx context.Context, config *DirectoryConfig) (*Connection, error) {
	start := time.Now()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	order := m.HostOrder(config)
	connErr := &ConnectionError{}

	for i, host := range order {
		if err := ctx.Err(); err != nil {
			connErr.Attempts = append(connErr.Attempts, HostAttempt{Host: host, Err: err})
			break
		}

		hostURL, err := config.hostURL(host)
		if err != nil {
			connErr.Attempts = append(connErr.Attempts, HostAttempt{Host: host, Err: err})
			continue
		}

		conn, err := m.dial(ctx, config, hostURL)
		if m.breakers != nil {
			m.breakers.get(hostURL).RecordResult(err)
		}
		if err != nil {
			m.metrics.ConnectAttempt(hostURL, "failure")
			m.logger.Warn("ldap_connect_failed",
				slog.String("host", hostURL),
				slog.Int("attempt", i+1),
				slog.Int("hosts", len(order)),
				slog.String("error", err.Error()))
			connErr.Attempts = append(connErr.Attempts, HostAttempt{Host: host, Err: err})
			continue
		}

		m.metrics.ConnectAttempt(hostURL, "success")
		m.promote(config, host)

		if i > 0 {
			m.metrics.Failover(order[0], host)
			m.logger.Info("ldap_failover",
				slog.String("from", order[0]),
				slog.String("to", host))
		}

		m.logger.Debug("ldap_connection_established",
			slog.String("host", hostURL),
			slog.Duration("duration", time.Since(start)))

		return &Connection{conn: conn, host: hostURL, logger: m.logger}, nil
	}

	m.logger.Error("ldap_all_hosts_unreachable",
		slog.Int("hosts", len(order)),
		slog.String("error", connErr.Error()),
		slog.Duration("duration", time.Since(start)))

	return nil, connErr
}

// dial connects to one host URL, honouring the dial timeout and the context
// deadline, and upgrades with StartTLS when configured.
func (m *ConnectionManager) dial(ctx context.Context, config *DirectoryConfig, hostURL string) (Conn, error) {
	dialer := &net.Dialer{Timeout: config.dialTimeout()}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if u, err := url.Parse(hostURL); err == nil {
		tlsConfig.ServerName = u.Hostname()
	}

	conn, err := m.dialer.DialURL(hostURL,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, dialError(hostURL, err)
	}

	conn.SetTimeout(requestTimeout(ctx, config.operationTimeout()))

	if config.StartTLS && !isLDAPS(hostURL) {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, WrapDirectoryError("starttls", hostURL, err)
		}
	}

	return conn, nil
}

// requestTimeout caps the per-request timeout at the time left on ctx.
func requestTimeout(ctx context.Context, limit time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return limit
	}
	if remaining := time.Until(deadline); remaining < limit {
		if remaining <= 0 {
			return time.Millisecond
		}
		return remaining
	}
	return limit
}

func isLDAPS(hostURL string) bool {
	u, err := url.Parse(hostURL)
	return err == nil && u.Scheme == "ldaps"
}
