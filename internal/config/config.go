// Package config loads the service configuration for ldap-auth-bridge.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LDAPBRIDGE_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/userstore"
)

// EnvPrefix is the prefix for environment overrides, e.g. LDAPBRIDGE_SERVER_LISTEN.
const EnvPrefix = "LDAPBRIDGE"

// Directory settings sources.
const (
	SourceFile     = "file"
	SourceDatabase = "database"
)

// Config is the root service configuration.
type Config struct {
	Logging        LoggingConfig        `mapstructure:"logging"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       userstore.Config     `mapstructure:"database"`
	Directory      DirectoryConfig      `mapstructure:"directory"`
	Bridge         BridgeConfig         `mapstructure:"bridge"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimiter    RateLimiterConfig    `mapstructure:"rate_limiter"`
}

// LoggingConfig controls the slog handler built by the CLI.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR"`

	// Format is "text" or "json"
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DirectoryConfig holds the directory settings when Source is "file".
// With Source "database" the settings table is read on every attempt and
// only the connection tuning fields below Source are used.
type DirectoryConfig struct {
	Source string `mapstructure:"source" validate:"oneof=file database"`

	Hosts              []string `mapstructure:"hosts" validate:"required_if=Source file,dive,required"`
	Port               int      `mapstructure:"port" validate:"gte=0,lte=65535"`
	BaseDN             string   `mapstructure:"base_dn" validate:"required_if=Source file"`
	PrivilegedDN       string   `mapstructure:"privileged_dn"`
	PrivilegedPassword string   `mapstructure:"privileged_password"`

	UIDAttribute          string        `mapstructure:"uid_attribute" validate:"omitempty,printascii,excludesall=()*"`
	Attributes            []string      `mapstructure:"attributes"`
	StartTLS              bool          `mapstructure:"start_tls"`
	InsecureSkipVerify    bool          `mapstructure:"insecure_skip_verify"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
	OperationTimeout      time.Duration `mapstructure:"operation_timeout" validate:"gte=0"`
	RequirePrivilegedBind bool          `mapstructure:"require_privileged_bind"`
}

// BridgeConfig tunes the authentication bridge.
type BridgeConfig struct {
	// Timeout bounds the directory part of one attempt
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// CircuitBreakerConfig enables per-host circuit breakers.
type CircuitBreakerConfig struct {
	Enabled                       bool `mapstructure:"enabled"`
	ldapauth.CircuitBreakerConfig `mapstructure:",squash"`
}

// RateLimiterConfig enables login throttling in the HTTP service.
type RateLimiterConfig struct {
	Enabled                    bool `mapstructure:"enabled"`
	ldapauth.RateLimiterConfig `mapstructure:",squash"`
}

// LDAP converts the file settings into a library configuration.
func (d DirectoryConfig) LDAP() *ldapauth.DirectoryConfig {
	return &ldapauth.DirectoryConfig{
		Hosts:                 d.Hosts,
		Port:                  d.Port,
		BaseDN:                d.BaseDN,
		PrivilegedDN:          d.PrivilegedDN,
		PrivilegedPassword:    d.PrivilegedPassword,
		UIDAttribute:          d.UIDAttribute,
		Attributes:            d.Attributes,
		StartTLS:              d.StartTLS,
		InsecureSkipVerify:    d.InsecureSkipVerify,
		DialTimeout:           d.DialTimeout,
		OperationTimeout:      d.OperationTimeout,
		RequirePrivilegedBind: d.RequirePrivilegedBind,
	}
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches for config.yaml in the working directory and
// /etc/ldap-auth-bridge. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	setDefaults(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: LDAPBRIDGE_DIRECTORY_BASE_DN=dc=example,dc=com
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ldap-auth-bridge")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key with viper so AutomaticEnv can override
// keys that the file does not mention.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("directory.source", d.Directory.Source)
	v.SetDefault("directory.hosts", d.Directory.Hosts)
	v.SetDefault("directory.port", d.Directory.Port)
	v.SetDefault("directory.base_dn", d.Directory.BaseDN)
	v.SetDefault("directory.privileged_dn", d.Directory.PrivilegedDN)
	v.SetDefault("directory.privileged_password", d.Directory.PrivilegedPassword)
	v.SetDefault("directory.uid_attribute", d.Directory.UIDAttribute)
	v.SetDefault("directory.attributes", d.Directory.Attributes)
	v.SetDefault("directory.start_tls", d.Directory.StartTLS)
	v.SetDefault("directory.insecure_skip_verify", d.Directory.InsecureSkipVerify)
	v.SetDefault("directory.dial_timeout", d.Directory.DialTimeout)
	v.SetDefault("directory.operation_timeout", d.Directory.OperationTimeout)
	v.SetDefault("directory.require_privileged_bind", d.Directory.RequirePrivilegedBind)

	v.SetDefault("bridge.timeout", d.Bridge.Timeout)

	v.SetDefault("circuit_breaker.enabled", d.CircuitBreaker.Enabled)
	v.SetDefault("circuit_breaker.max_failures", d.CircuitBreaker.MaxFailures)
	v.SetDefault("circuit_breaker.timeout", d.CircuitBreaker.Timeout)

	v.SetDefault("rate_limiter.enabled", d.RateLimiter.Enabled)
	v.SetDefault("rate_limiter.max_attempts", d.RateLimiter.MaxAttempts)
	v.SetDefault("rate_limiter.window", d.RateLimiter.Window)
	v.SetDefault("rate_limiter.lockout_duration", d.RateLimiter.LockoutDuration)
	v.SetDefault("rate_limiter.exponential_backoff", d.RateLimiter.ExponentialBackoff)
	v.SetDefault("rate_limiter.max_lockout_duration", d.RateLimiter.MaxLockoutDuration)
	v.SetDefault("rate_limiter.violation_reset_time", d.RateLimiter.ViolationResetTime)
	v.SetDefault("rate_limiter.whitelist", d.RateLimiter.Whitelist)
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for durations and
// comma separated lists coming from the environment.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		stringSliceDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// stringSliceDecodeHook splits "a, b" into []string{"a", "b"}.
func stringSliceDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return ldapauth.ParseHosts(reflect.ValueOf(data).String()), nil
	}
}

// Validate checks struct tags and, for file sourced directory settings, the
// directory configuration itself.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return err
	}

	if cfg.Directory.Source == SourceFile {
		if err := cfg.Directory.LDAP().Validate(); err != nil {
			return fmt.Errorf("directory: %w", err)
		}
	}

	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(messages, "; "))
}

// DirectoryProvider returns the configuration provider selected by
// directory.source. The database provider is typically the user store.
func (c *Config) DirectoryProvider(database ldapauth.ConfigurationProvider) ldapauth.ConfigurationProvider {
	if c.Directory.Source == SourceDatabase && database != nil {
		return &tunedProvider{base: database, tuning: c.Directory}
	}
	return ldapauth.StaticConfigProvider{Config: c.Directory.LDAP()}
}
