package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/internal/config"
	"github.com/netresearch/ldap-auth-bridge/userstore"
)

// InitLogger builds the slog handler selected by the logging section and
// installs it as the default logger.
func InitLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

// setup loads the configuration and initializes logging.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}

	logger, err := InitLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*userstore.Store, error) {
	store, err := userstore.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}
	return store, nil
}

// bridgeOptions translates the service configuration into bridge options.
func bridgeOptions(cfg *config.Config, logger *slog.Logger) []ldapauth.Option {
	opts := []ldapauth.Option{
		ldapauth.WithLogger(logger),
		ldapauth.WithTimeout(cfg.Bridge.Timeout),
		ldapauth.WithUIDAttribute(cfg.Directory.UIDAttribute),
	}

	if cfg.CircuitBreaker.Enabled {
		breaker := cfg.CircuitBreaker.CircuitBreakerConfig
		opts = append(opts, ldapauth.WithCircuitBreaker(&breaker))
	}

	return opts
}
