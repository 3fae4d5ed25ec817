package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/internal/metrics"
	"github.com/netresearch/ldap-auth-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP authentication service",
	Long: `Run the HTTP authentication service in the foreground.

Endpoints:
  POST /v1/authenticate   {"username": "...", "password": "..."}
  GET  /healthz
  GET  /metrics

Examples:
  # Start with a config file
  ldap-auth-bridge serve --config /etc/ldap-auth-bridge/config.yaml

  # Override settings from the environment
  LDAPBRIDGE_LOGGING_LEVEL=DEBUG ldap-auth-bridge serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := append(bridgeOptions(cfg, logger), ldapauth.WithMetrics(m))

	var limiter *ldapauth.RateLimiter
	if cfg.RateLimiter.Enabled {
		limiterConfig := cfg.RateLimiter.RateLimiterConfig
		limiter = ldapauth.NewRateLimiter(&limiterConfig, logger)
		defer limiter.Close()

		metrics.RegisterRateLimiter(reg, limiter)
		opts = append(opts, ldapauth.WithFailureListener(limiter))
	}

	bridge, err := ldapauth.NewBridge(cfg.DirectoryProvider(store), store, opts...)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Listen:          cfg.Server.Listen,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Dependencies{
		Bridge:   bridge,
		Store:    store,
		Limiter:  limiter,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("service_starting",
		"version", Version,
		"directory_source", cfg.Directory.Source,
		"rate_limiter", cfg.RateLimiter.Enabled,
		"circuit_breaker", cfg.CircuitBreaker.Enabled)

	return srv.Start(ctx)
}
