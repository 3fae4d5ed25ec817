package ldapauth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Directory runs complete login attempts against the configured directory.
// Each Login opens its own connection and releases it before returning.
type Directory struct {
	connections  *ConnectionManager
	logger       *slog.Logger
	metrics      MetricsRecorder
	uidAttribute string
}

// NewDirectory creates a directory client on top of connections.
func NewDirectory(connections *ConnectionManager, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if connections == nil {
		connections = NewConnectionManager(nil, logger)
	}
	return &Directory{
		connections: connections,
		logger:      logger,
		metrics:     noopMetrics{},
	}
}

// SetMetrics installs a metrics recorder on the directory and its connection manager.
func (d *Directory) SetMetrics(metrics MetricsRecorder) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	d.metrics = metrics
	d.connections.SetMetrics(metrics)
}

// Connections returns the underlying connection manager.
func (d *Directory) Connections() *ConnectionManager {
	return d.connections
}

// authenticator returns an Authenticator for config. An attribute set on the
// directory overrides the one in config.
func (d *Directory) authenticator(config *DirectoryConfig) *Authenticator {
	uid := d.uidAttribute
	if uid == "" {
		uid = config.uidAttribute()
	}
	a := NewAuthenticator(uid, d.logger).WithAttributes(config.Attributes)
	a.SetMetrics(d.metrics)
	return a
}

// Login verifies username and password against the directory described by config.
//
// The returned decision is DecisionAuthenticated with the user's profile,
// DecisionRejected when the credential bind fails, or DecisionUnavailable when
// no host could be reached. Directory errors never escape as return values.
func (d *Directory) Login(ctx context.Context, config *DirectoryConfig, username, password string) (decision AuthDecision) {
	start := time.Now()
	defer func() {
		d.metrics.DirectoryDecision(decision.Kind, time.Since(start))
	}()

	if username == "" || password == "" {
		return AuthDecision{Kind: DecisionRejected, Err: ErrInvalidCredentials}
	}

	conn, err := d.connections.Connect(ctx, config)
	if err != nil {
		if !errors.Is(err, ErrAllHostsUnreachable) {
			d.logger.Error("directory_login_aborted",
				slog.String("username_masked", maskSensitiveData(username)),
				slog.String("error", err.Error()))
		}
		return AuthDecision{Kind: DecisionUnavailable, Err: err}
	}
	defer conn.Release()

	auth := d.authenticator(config)

	if config.PrivilegedDN != "" {
		if !auth.PrivilegedBind(ctx, conn, config) && config.RequirePrivilegedBind {
			return AuthDecision{
				Kind: DecisionUnavailable,
				Host: conn.Host(),
				Err:  NewDirectoryError("bind", conn.Host(), ErrInvalidCredentials).WithDN(config.PrivilegedDN),
			}
		}
	}

	if !auth.VerifyCredentials(ctx, conn, config.BaseDN, username, password) {
		return AuthDecision{Kind: DecisionRejected, Host: conn.Host(), Err: ErrInvalidCredentials}
	}

	profile, err := auth.FetchProfile(ctx, conn, config.BaseDN, username)
	if err != nil {
		// The bind DN is unique, so the credentials stand without the entry.
		d.logger.Warn("directory_profile_unavailable",
			slog.String("host", conn.Host()),
			slog.String("username_masked", maskSensitiveData(username)),
			slog.String("error", err.Error()))
		profile = minimalProfile(auth.UIDAttribute(), NormalizeUsername(username), config.BaseDN)
	}

	d.logger.Info("directory_login_succeeded",
		slog.String("host", conn.Host()),
		slog.String("dn", profile.DN),
		slog.Duration("duration", time.Since(start)))

	return AuthDecision{Kind: DecisionAuthenticated, Profile: profile, Host: conn.Host()}
}

func minimalProfile(uidAttribute, username, baseDN string) *Profile {
	return &Profile{
		DN:           UserDN(uidAttribute, username, baseDN),
		Attributes:   map[string][]string{uidAttribute: {username}},
		uidAttribute: uidAttribute,
	}
}
