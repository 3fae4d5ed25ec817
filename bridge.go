package ldapauth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds the directory part of one Authenticate call.
const DefaultTimeout = 10 * time.Second

// UserStore is the host application's account database.
type UserStore interface {
	// FindLocalUserByUsername returns ErrLocalUserNotFound when no account exists.
	FindLocalUserByUsername(ctx context.Context, username string) (*Identity, error)
	// NotifyLoginFailed records a login rejected by the bridge.
	NotifyLoginFailed(ctx context.Context, username string) error
}

// FailureListener receives the same login-failure signal as the UserStore.
type FailureListener interface {
	LoginFailed(ctx context.Context, username string)
}

// Bridge decides the outcome of a login by consulting the directory first and
// mapping a verified directory user onto a local account.
//
// A Bridge is safe for concurrent use.
type Bridge struct {
	provider  ConfigurationProvider
	store     UserStore
	directory *Directory

	logger    *slog.Logger
	metrics   MetricsRecorder
	timeout   time.Duration
	listeners []FailureListener

	dialer        Dialer
	breakerConfig *CircuitBreakerConfig
	uidAttribute  string
}

// NewBridge creates a bridge reading directory settings from provider and local
// accounts from store.
func NewBridge(provider ConfigurationProvider, store UserStore, opts ...Option) (*Bridge, error) {
	if provider == nil {
		return nil, NewConfigError("provider", "configuration provider is required", ErrMissingField)
	}
	if store == nil {
		return nil, NewConfigError("store", "user store is required", ErrMissingField)
	}

	b := &Bridge{
		provider: provider,
		store:    store,
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		timeout:  DefaultTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	connections := NewConnectionManager(b.dialer, b.logger)
	if b.breakerConfig != nil {
		connections.EnableCircuitBreakers(b.breakerConfig)
	}

	b.directory = NewDirectory(connections, b.logger)
	b.directory.uidAttribute = b.uidAttribute
	b.directory.SetMetrics(b.metrics)

	return b, nil
}

// Directory returns the directory client used by the bridge.
func (b *Bridge) Directory() *Directory {
	return b.directory
}

// Authenticate runs one login through the bridge.
//
// current is the identity the host already resolved for this request, if any;
// when set the call is a no-op returning Accepted. The directory connection is
// released before Authenticate returns.
func (b *Bridge) Authenticate(ctx context.Context, username, password string, current *Identity) Decision {
	start := time.Now()

	d := b.authenticate(ctx, username, password, current)

	b.metrics.BridgeDecision(d.Outcome, d.Reason)
	b.logger.Info("auth_decision",
		slog.String("username_masked", maskSensitiveData(username)),
		slog.String("outcome", d.Outcome.String()),
		slog.String("reason", d.Reason.String()),
		slog.Duration("duration", time.Since(start)))

	return d
}

func (b *Bridge) authenticate(ctx context.Context, username, password string, current *Identity) Decision {
	if current != nil {
		return Decision{Outcome: Accepted, Reason: ReasonAlreadyAuthenticated, Identity: current}
	}

	// Lookup, audit and listeners must all see the same key.
	username = NormalizeUsername(username)

	dirCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	config, err := b.provider.DirectoryConfig(dirCtx)
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		b.logger.Error("directory_config_unusable", slog.String("error", err.Error()))
		return Decision{Outcome: FallbackToLocal, Reason: ReasonDirectoryUnavailable}
	}

	result := b.directory.Login(dirCtx, config, username, password)

	switch result.Kind {
	case DecisionUnavailable:
		return Decision{Outcome: FallbackToLocal, Reason: ReasonDirectoryUnavailable}
	case DecisionRejected:
		return Decision{Outcome: FallbackToLocal, Reason: ReasonDirectoryRejected}
	}

	identity, err := b.store.FindLocalUserByUsername(ctx, username)
	if err != nil {
		reason := ReasonNoLocalAccount
		if !errors.Is(err, ErrLocalUserNotFound) {
			reason = ReasonLocalLookupFailed
			b.logger.Error("local_user_lookup_failed",
				slog.String("username_masked", maskSensitiveData(username)),
				slog.String("error", err.Error()))
		}
		b.loginFailed(ctx, username)
		return Decision{Outcome: Rejected, Reason: reason, Err: ErrAccessDenied}
	}

	return Decision{Outcome: Accepted, Reason: ReasonVerified, Identity: identity, Profile: result.Profile}
}

// loginFailed emits the failure signal once to the store and once to each listener.
// Delivery survives cancellation of the request context.
func (b *Bridge) loginFailed(ctx context.Context, username string) {
	ctx = context.WithoutCancel(ctx)

	if err := b.store.NotifyLoginFailed(ctx, username); err != nil {
		b.logger.Warn("login_failed_notification_error",
			slog.String("username_masked", maskSensitiveData(username)),
			slog.String("error", err.Error()))
	}

	for _, l := range b.listeners {
		l.LoginFailed(ctx, username)
	}
}
