package ldapauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Authenticator performs binds and uid searches over a Connection.
// It converts every directory failure into a boolean or typed error; raw
// protocol errors never leave this type.
type Authenticator struct {
	logger       *slog.Logger
	metrics      MetricsRecorder
	uidAttribute string
	attributes   []string
}

// NewAuthenticator creates an authenticator matching usernames against uidAttribute.
// An empty uidAttribute selects DefaultUIDAttribute.
func NewAuthenticator(uidAttribute string, logger *slog.Logger) *Authenticator {
	if uidAttribute == "" {
		uidAttribute = DefaultUIDAttribute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		logger:       logger,
		metrics:      noopMetrics{},
		uidAttribute: uidAttribute,
	}
}

// WithAttributes returns a copy requesting only the given profile attributes.
func (a *Authenticator) WithAttributes(attributes []string) *Authenticator {
	clone := *a
	clone.attributes = append([]string(nil), attributes...)
	return &clone
}

// SetMetrics installs a metrics recorder. Nil restores the no-op recorder.
func (a *Authenticator) SetMetrics(metrics MetricsRecorder) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	a.metrics = metrics
}

// UIDAttribute returns the attribute usernames are matched against.
func (a *Authenticator) UIDAttribute() string {
	return a.uidAttribute
}

// PrivilegedBind binds with the service account to check it is functional.
// Returns false if no privileged DN is configured or the bind fails.
func (a *Authenticator) PrivilegedBind(ctx context.Context, conn *Connection, config *DirectoryConfig) bool {
	if config.PrivilegedDN == "" {
		a.logger.Debug("ldap_privileged_bind_skipped", slog.String("reason", "no privileged DN configured"))
		return false
	}

	if err := ctx.Err(); err != nil {
		a.logger.Debug("ldap_privileged_bind_cancelled", slog.String("error", err.Error()))
		return false
	}

	start := time.Now()
	if err := conn.Conn().Bind(config.PrivilegedDN, config.PrivilegedPassword); err != nil {
		bindErr := bindError(conn.Host(), config.PrivilegedDN, err)
		a.metrics.BindResult("privileged", false)
		a.logger.Error("ldap_privileged_bind_failed",
			slog.String("host", conn.Host()),
			slog.String("dn", config.PrivilegedDN),
			slog.Int("code", GetLDAPResultCode(bindErr)),
			slog.String("error", bindErr.Error()),
			slog.Duration("duration", time.Since(start)))
		return false
	}

	a.metrics.BindResult("privileged", true)
	a.logger.Debug("ldap_privileged_bind_succeeded",
		slog.String("host", conn.Host()),
		slog.Duration("duration", time.Since(start)))
	return true
}

// FindUser searches baseDN for the entry whose uid attribute equals username.
//
// Returns ErrEmptyUsername without touching the network for an empty username,
// and a *SearchError unless exactly one entry matched.
func (a *Authenticator) FindUser(ctx context.Context, conn *Connection, baseDN, username string) (*ldap.Entry, error) {
	if username == "" {
		a.logger.Debug("ldap_search_rejected", slog.String("reason", "empty username"))
		return nil, ErrEmptyUsername
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	username = NormalizeUsername(username)
	filter := EqualityFilter(a.uidAttribute, username)

	attributes := a.attributes
	if len(attributes) == 0 {
		attributes = []string{"*"}
	}

	// Two entries are enough to tell a unique match from an ambiguous one.
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		2,
		0,
		false,
		filter,
		attributes,
		nil,
	)

	start := time.Now()
	result, err := conn.Conn().Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		searchErr := searchFailedError(conn.Host(), filter, err)
		a.logger.Error("ldap_search_failed",
			slog.String("host", conn.Host()),
			slog.String("base_dn", baseDN),
			slog.String("username_masked", maskSensitiveData(username)),
			slog.Int("code", GetLDAPResultCode(err)),
			slog.String("error", searchErr.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, &SearchError{Username: username}
	}

	matches := 0
	if result != nil {
		matches = len(result.Entries)
	}
	if err != nil {
		// Size limit exceeded: at least one more entry exists than returned.
		matches++
	}

	if matches != 1 {
		a.logger.Debug("ldap_search_not_unique",
			slog.String("username_masked", maskSensitiveData(username)),
			slog.Int("matches", matches),
			slog.Duration("duration", time.Since(start)))
		return nil, &SearchError{Username: username, Matches: matches}
	}

	a.logger.Debug("ldap_user_found",
		slog.String("username_masked", maskSensitiveData(username)),
		slog.String("dn", result.Entries[0].DN),
		slog.Duration("duration", time.Since(start)))

	return result.Entries[0], nil
}

// VerifyCredentials binds as "<uid>=<username>,<baseDN>" with password.
// Empty username or password return false without a network call.
func (a *Authenticator) VerifyCredentials(ctx context.Context, conn *Connection, baseDN, username, password string) bool {
	if username == "" || password == "" {
		a.logger.Debug("ldap_user_bind_rejected", slog.String("reason", "empty username or password"))
		return false
	}

	if err := ctx.Err(); err != nil {
		a.logger.Debug("ldap_user_bind_cancelled", slog.String("error", err.Error()))
		return false
	}

	dn := UserDN(a.uidAttribute, NormalizeUsername(username), baseDN)

	start := time.Now()
	if err := conn.Conn().Bind(dn, password); err != nil {
		bindErr := bindError(conn.Host(), dn, err)
		a.metrics.BindResult("user", false)
		a.logger.Warn("ldap_user_bind_failed",
			slog.String("host", conn.Host()),
			slog.String("username_masked", maskSensitiveData(username)),
			slog.Int("code", GetLDAPResultCode(bindErr)),
			slog.Bool("invalid_credentials", IsAuthenticationError(bindErr)),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return false
	}

	a.metrics.BindResult("user", true)
	a.logger.Debug("ldap_user_bind_succeeded",
		slog.String("host", conn.Host()),
		slog.String("username_masked", maskSensitiveData(username)),
		slog.Duration("duration", time.Since(start)))
	return true
}

// FetchProfile returns the full entry of username as a Profile.
func (a *Authenticator) FetchProfile(ctx context.Context, conn *Connection, baseDN, username string) (*Profile, error) {
	entry, err := a.FindUser(ctx, conn, baseDN, username)
	if err != nil {
		return nil, err
	}
	return NewProfile(entry, a.uidAttribute), nil
}
