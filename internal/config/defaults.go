package config

import (
	"strings"
	"time"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/userstore"
)

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: userstore.Config{
			Driver: "sqlite",
			DSN:    "ldap-auth-bridge.db",
		},
		Directory: DirectoryConfig{
			Source:           SourceFile,
			UIDAttribute:     ldapauth.DefaultUIDAttribute,
			DialTimeout:      ldapauth.DefaultDialTimeout,
			OperationTimeout: ldapauth.DefaultOperationTimeout,
		},
		Bridge: BridgeConfig{
			Timeout: ldapauth.DefaultTimeout,
		},
		CircuitBreaker: CircuitBreakerConfig{
			CircuitBreakerConfig: *ldapauth.DefaultCircuitBreakerConfig(),
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RateLimiterConfig: *ldapauth.DefaultRateLimiterConfig(),
		},
	}
}

// ApplyDefaults fills zero values left after unmarshalling.
func ApplyDefaults(cfg *Config) {
	d := Default()

	applyLoggingDefaults(&cfg.Logging, d.Logging)
	applyServerDefaults(&cfg.Server, d.Server)
	applyDatabaseDefaults(&cfg.Database, d.Database)
	applyDirectoryDefaults(&cfg.Directory, d.Directory)

	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = d.Bridge.Timeout
	}
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = d.CircuitBreaker.MaxFailures
	}
	if cfg.CircuitBreaker.Timeout == 0 {
		cfg.CircuitBreaker.Timeout = d.CircuitBreaker.Timeout
	}

	applyRateLimiterDefaults(&cfg.RateLimiter, d.RateLimiter)
}

func applyLoggingDefaults(cfg *LoggingConfig, d LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = d.Level
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = d.Format
	}
	cfg.Format = strings.ToLower(cfg.Format)
}

func applyServerDefaults(cfg *ServerConfig, d ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = d.Listen
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
}

func applyDatabaseDefaults(cfg *userstore.Config, d userstore.Config) {
	if cfg.Driver == "" {
		cfg.Driver = d.Driver
	}
	if cfg.DSN == "" {
		cfg.DSN = d.DSN
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig, d DirectoryConfig) {
	if cfg.Source == "" {
		cfg.Source = d.Source
	}
	cfg.Source = strings.ToLower(cfg.Source)

	if cfg.UIDAttribute == "" {
		cfg.UIDAttribute = d.UIDAttribute
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = d.OperationTimeout
	}
}

func applyRateLimiterDefaults(cfg *RateLimiterConfig, d RateLimiterConfig) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.Window == 0 {
		cfg.Window = d.Window
	}
	if cfg.LockoutDuration == 0 {
		cfg.LockoutDuration = d.LockoutDuration
	}
	if cfg.MaxLockoutDuration == 0 {
		cfg.MaxLockoutDuration = d.MaxLockoutDuration
	}
	if cfg.ViolationResetTime == 0 {
		cfg.ViolationResetTime = d.ViolationResetTime
	}
}
