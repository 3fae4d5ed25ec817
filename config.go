package ldapauth

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultUIDAttribute is the attribute used for both the search filter and the bind RDN.
	DefaultUIDAttribute = "uid"

	// DefaultDialTimeout bounds a single dial to one directory host.
	DefaultDialTimeout = 5 * time.Second

	// DefaultOperationTimeout bounds a single bind or search request.
	DefaultOperationTimeout = 10 * time.Second
)

// DirectoryConfig contains the connection parameters for the directory servers.
//
// Hosts are tried in list order. Each entry is either a bare host name, which is
// combined with Port, or a full LDAP URL (ldap:// or ldaps://) used as is.
type DirectoryConfig struct {
	Hosts              []string
	Port               int
	BaseDN             string
	PrivilegedDN       string
	PrivilegedPassword string

	// UIDAttribute names the attribute matched against the username.
	// Defaults to "uid".
	UIDAttribute string

	// Attributes restricts the profile attributes requested from the directory.
	// Empty means all user attributes.
	Attributes []string

	// StartTLS upgrades plain ldap:// connections before any bind.
	StartTLS bool

	// InsecureSkipVerify disables certificate verification for ldaps:// and StartTLS.
	InsecureSkipVerify bool

	DialTimeout      time.Duration
	OperationTimeout time.Duration

	// RequirePrivilegedBind makes a failing privileged bind abort the attempt
	// instead of being logged and ignored.
	RequirePrivilegedBind bool
}

// Validate checks the configuration for missing or malformed fields.
// It returns a *ConfigError so callers can report the offending field.
func (c *DirectoryConfig) Validate() error {
	if c == nil {
		return NewConfigError("config", "configuration is nil", ErrMissingField)
	}

	if len(c.Hosts) == 0 {
		return NewConfigError("hosts", "at least one directory host is required", ErrMissingField)
	}

	for i, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			return NewConfigError(fmt.Sprintf("hosts[%d]", i), "host cannot be empty", ErrMissingField)
		}
	}

	if strings.TrimSpace(c.BaseDN) == "" {
		return NewConfigError("base_dn", "base DN is required", ErrMissingField)
	}

	if c.Port < 0 || c.Port > 65535 {
		return NewConfigError("port", fmt.Sprintf("port %d out of range", c.Port), nil)
	}

	if c.PrivilegedPassword != "" && c.PrivilegedDN == "" {
		return NewConfigError("privileged_dn", "privileged password set without a privileged DN", ErrMissingField)
	}

	if c.RequirePrivilegedBind && c.PrivilegedDN == "" {
		return NewConfigError("privileged_dn", "privileged bind required but no privileged DN configured", ErrMissingField)
	}

	for _, h := range c.Hosts {
		if _, err := c.hostURL(h); err != nil {
			return NewConfigError("hosts", err.Error(), nil)
		}
	}

	return nil
}

// uidAttribute returns the configured uid attribute or the default.
func (c *DirectoryConfig) uidAttribute() string {
	if c.UIDAttribute == "" {
		return DefaultUIDAttribute
	}
	return c.UIDAttribute
}

func (c *DirectoryConfig) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

func (c *DirectoryConfig) operationTimeout() time.Duration {
	if c.OperationTimeout <= 0 {
		return DefaultOperationTimeout
	}
	return c.OperationTimeout
}

// hostURL turns a configured host into a dialable LDAP URL.
func (c *DirectoryConfig) hostURL(host string) (string, error) {
	host = strings.TrimSpace(host)

	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("invalid host URL %q: %w", host, err)
		}
		if u.Scheme != "ldap" && u.Scheme != "ldaps" {
			return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, host)
		}
		if u.Port() == "" && c.Port > 0 {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.Port))
		}
		return u.String(), nil
	}

	// A port written on the host wins over the shared Port setting.
	raw, port := host, c.Port
	if h, p, err := net.SplitHostPort(host); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("invalid port in host %q", host)
		}
		host, port = h, n
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}

	if host == "" {
		return "", fmt.Errorf("empty host name in %q", raw)
	}

	scheme := "ldap"
	if port == 636 {
		scheme = "ldaps"
	}

	if port > 0 {
		return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port))), nil
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s", scheme, host), nil
}

// hostSetKey identifies a host list for failover promotion.
func (c *DirectoryConfig) hostSetKey() string {
	return strings.Join(c.Hosts, ",") + "|" + strconv.Itoa(c.Port)
}

// ConfigurationProvider supplies directory settings for one authentication attempt.
type ConfigurationProvider interface {
	DirectoryConfig(ctx context.Context) (*DirectoryConfig, error)
}

// StaticConfigProvider serves a fixed configuration.
type StaticConfigProvider struct {
	Config *DirectoryConfig
}

// DirectoryConfig returns the wrapped configuration.
func (p StaticConfigProvider) DirectoryConfig(_ context.Context) (*DirectoryConfig, error) {
	if p.Config == nil {
		return nil, NewConfigError("config", "no directory configuration", ErrMissingField)
	}
	return p.Config, nil
}

// ParseHosts splits a comma separated host list, dropping blanks.
func ParseHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}
