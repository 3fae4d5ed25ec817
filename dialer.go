package ldapauth

import (
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn the authenticator relies on.
type Conn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	StartTLS(config *tls.Config) error
	SetTimeout(timeout time.Duration)
	Unbind() error
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer opens a connection to a single directory URL.
type Dialer interface {
	DialURL(addr string, opts ...ldap.DialOpt) (Conn, error)
}

// StandardDialer dials with go-ldap.
type StandardDialer struct{}

// DialURL dials addr using ldap.DialURL.
func (StandardDialer) DialURL(addr string, opts ...ldap.DialOpt) (Conn, error) {
	conn, err := ldap.DialURL(addr, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connection is a directory link owned by exactly one authentication attempt.
// Release must be called when the attempt completes; it is safe to call more than once.
type Connection struct {
	conn   Conn
	host   string
	logger *slog.Logger
	once   sync.Once
}

// Host returns the URL of the directory host this connection is bound to.
func (c *Connection) Host() string {
	return c.host
}

// Conn exposes the underlying link.
func (c *Connection) Conn() Conn {
	return c.conn
}

// Release unbinds and closes the link.
func (c *Connection) Release() {
	c.once.Do(func() {
		if err := c.conn.Unbind(); err != nil {
			c.logger.Debug("ldap_unbind_failed",
				slog.String("host", c.host),
				slog.String("error", err.Error()))
		}
		// Close after Unbind is a no-op on go-ldap but required when Unbind failed.
		_ = c.conn.Close()

		c.logger.Debug("ldap_connection_released", slog.String("host", c.host))
	})
}
