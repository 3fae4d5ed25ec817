package ldapauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors for the authentication flow.
var (
	// Connection errors
	ErrAllHostsUnreachable = errors.New("ldapauth: all directory hosts unreachable")

	// Bind errors
	ErrInvalidCredentials = errors.New("ldapauth: invalid credentials")

	// Search errors
	ErrAmbiguousOrMissing = errors.New("ldapauth: user not found or not unique")
	ErrEmptyUsername      = errors.New("ldapauth: username cannot be empty")

	// Configuration errors
	ErrMissingField = errors.New("ldapauth: missing configuration field")

	// Bridge errors
	ErrAccessDenied      = errors.New("access denied")
	ErrLocalUserNotFound = errors.New("ldapauth: local user not found")
)

// DirectoryError wraps a failure returned by the directory with the operation
// context needed for diagnostics.
type DirectoryError struct {
	// Op is the operation name (e.g., "bind", "search")
	Op string
	// Host is the directory URL the operation ran against
	Host string
	// DN is the distinguished name involved in the operation (if applicable)
	DN string
	// Code is the LDAP result code (if applicable)
	Code int
	// Err is the underlying error
	Err error
	// Timestamp indicates when the error occurred
	Timestamp time.Time
}

// Error implements the error interface.
func (e *DirectoryError) Error() string {
	if e.DN != "" {
		return fmt.Sprintf("ldap %s failed for DN %q on %q: %v", e.Op, e.DN, e.Host, e.Err)
	}
	return fmt.Sprintf("ldap %s failed on %q: %v", e.Op, e.Host, e.Err)
}

// Unwrap returns the underlying error.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Is reports sentinel equivalence for well-known result codes.
func (e *DirectoryError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Code == int(ldap.LDAPResultInvalidCredentials)
	}
	return false
}

// NewDirectoryError creates a DirectoryError for op against host.
func NewDirectoryError(op, host string, err error) *DirectoryError {
	return &DirectoryError{
		Op:        op,
		Host:      host,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithDN attaches a distinguished name.
func (e *DirectoryError) WithDN(dn string) *DirectoryError {
	e.DN = dn
	return e
}

// WrapDirectoryError classifies err as returned by go-ldap and attaches context.
// Nil in, nil out.
func WrapDirectoryError(op, host string, err error) error {
	if err == nil {
		return nil
	}

	dirErr := NewDirectoryError(op, host, err)

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		dirErr.Code = int(ldapErr.ResultCode)
	}

	return dirErr
}

// ConnectionError reports that no configured host accepted a connection.
type ConnectionError struct {
	Attempts []HostAttempt
}

// HostAttempt records one failed dial.
type HostAttempt struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllHostsUnreachable.Error()
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Host, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrAllHostsUnreachable, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrAllHostsUnreachable).
func (e *ConnectionError) Unwrap() error {
	return ErrAllHostsUnreachable
}

// SearchError reports a uid search that did not match exactly one entry.
type SearchError struct {
	Username string
	Matches  int
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s: %d entries matched", ErrAmbiguousOrMissing, e.Matches)
}

// Unwrap allows errors.Is(err, ErrAmbiguousOrMissing).
func (e *SearchError) Unwrap() error {
	return ErrAmbiguousOrMissing
}

// Ambiguous reports whether more than one entry matched.
func (e *SearchError) Ambiguous() bool {
	return e.Matches > 1
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field %s: %s", c.Field, c.Message)
}

func (c *ConfigError) Unwrap() error {
	return c.Err
}

// NewConfigError creates a ConfigError. err may be nil.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// IsConnectionError reports whether err means no directory host was reachable.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrAllHostsUnreachable)
}

// IsNotFoundError reports whether err means the user could not be resolved
// to exactly one entry.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrAmbiguousOrMissing) || errors.Is(err, ErrLocalUserNotFound)
}

// IsAuthenticationError reports whether err is a credential rejection.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccessDenied)
}

// IsConfigError reports whether err stems from configuration validation.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// GetLDAPResultCode extracts the LDAP result code from err, or 0.
func GetLDAPResultCode(err error) int {
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) && dirErr.Code != 0 {
		return dirErr.Code
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return int(ldapErr.ResultCode)
	}

	return 0
}
