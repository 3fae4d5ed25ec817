// Package userstore is a gorm-backed ldapauth.UserStore and ConfigurationProvider.
//
// It keeps local accounts, an audit trail of failed logins, and the directory
// settings table read by the bridge on every attempt.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// Directory settings keys.
const (
	SettingPrivilegedDN       = "privileged_dn"
	SettingPrivilegedPassword = "privileged_password"
	SettingHosts              = "ldap_hosts"
	SettingPort               = "ldap_port"
	SettingBaseDN             = "base_dn"
	SettingSchemaVersion      = "schema_version"
)

// SchemaVersion is recorded in the settings table after migration.
const SchemaVersion = "1"

// DirectorySettings are the keys writable through SetSetting, seeded empty on first migration.
var DirectorySettings = []string{
	SettingPrivilegedDN,
	SettingPrivilegedPassword,
	SettingHosts,
	SettingPort,
	SettingBaseDN,
}

var (
	// ErrUsernameConflict is returned when a username already exists
	ErrUsernameConflict = errors.New("username already exists")

	// ErrInvalidPassword is returned by CheckPassword for a wrong or unset password
	ErrInvalidPassword = errors.New("invalid password")

	// ErrUnknownSetting is returned by SetSetting for keys outside DirectorySettings
	ErrUnknownSetting = errors.New("unknown setting")
)

// Config selects the database.
type Config struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// Store implements ldapauth.UserStore and ldapauth.ConfigurationProvider.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var (
	_ ldapauth.UserStore             = (*Store)(nil)
	_ ldapauth.ConfigurationProvider = (*Store)(nil)
)

// New opens the database, migrates the schema and seeds the settings table.
func New(config Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dial, err := dialector(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	s := &Store{db: db, logger: log}

	if err := s.seedSettings(); err != nil {
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	return s, nil
}

// seedSettings inserts missing directory keys with empty values and stamps
// the schema version. Existing values are left untouched.
func (s *Store) seedSettings() error {
	rows := make([]Setting, 0, len(DirectorySettings))
	for _, key := range DirectorySettings {
		rows = append(rows, Setting{Name: key})
	}

	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return err
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Name: SettingSchemaVersion, Value: SchemaVersion}).Error
}

// DB returns the underlying GORM database connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindLocalUserByUsername implements ldapauth.UserStore.
func (s *Store) FindLocalUserByUsername(ctx context.Context, username string) (*ldapauth.Identity, error) {
	user, err := s.findUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return user.Identity(), nil
}

func (s *Store) findUser(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ldapauth.ErrLocalUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// NotifyLoginFailed implements ldapauth.UserStore by writing an audit row.
func (s *Store) NotifyLoginFailed(ctx context.Context, username string) error {
	row := &LoginFailure{Username: username}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}

	// The row carries the name; the log only points at it.
	s.logger.Info("login_failed",
		slog.Uint64("failure_id", uint64(row.ID)))

	return nil
}

// LoginFailures counts the audit rows recorded for username.
func (s *Store) LoginFailures(ctx context.Context, username string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&LoginFailure{}).Where("username = ?", username).Count(&count).Error
	return count, err
}

// CreateUser adds a local account. An empty password creates a directory-only account.
func (s *Store) CreateUser(ctx context.Context, username, email, displayName, password string) (*ldapauth.Identity, error) {
	username = ldapauth.NormalizeUsername(strings.TrimSpace(username))
	if username == "" {
		return nil, ldapauth.ErrEmptyUsername
	}

	user := &User{
		Username:    username,
		Email:       email,
		DisplayName: displayName,
	}

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = string(hash)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameConflict
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, err
	}

	return user.Identity(), nil
}

// CheckPassword verifies a local password. It returns ErrLocalUserNotFound or
// ErrInvalidPassword on failure.
func (s *Store) CheckPassword(ctx context.Context, username, password string) (*ldapauth.Identity, error) {
	user, err := s.findUser(ctx, username)
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == "" || password == "" {
		return nil, ErrInvalidPassword
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}

	return user.Identity(), nil
}

// SetSetting updates one directory setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if !slices.Contains(DirectorySettings, key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	if key == SettingPort && value != "" {
		if _, err := strconv.Atoi(value); err != nil {
			return ldapauth.NewConfigError(SettingPort, fmt.Sprintf("port %q is not a number", value), err)
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Name: key, Value: value}).Error
}

// Settings returns every row of the settings table.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}

	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Name] = row.Value
	}
	return settings, nil
}

// DirectoryConfig implements ldapauth.ConfigurationProvider from the settings table.
// The result is not validated; the bridge does that per attempt.
func (s *Store) DirectoryConfig(ctx context.Context) (*ldapauth.DirectoryConfig, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}

	config := &ldapauth.DirectoryConfig{
		Hosts:              ldapauth.ParseHosts(settings[SettingHosts]),
		BaseDN:             settings[SettingBaseDN],
		PrivilegedDN:       settings[SettingPrivilegedDN],
		PrivilegedPassword: settings[SettingPrivilegedPassword],
	}

	if raw := strings.TrimSpace(settings[SettingPort]); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, ldapauth.NewConfigError(SettingPort, fmt.Sprintf("port %q is not a number", raw), err)
		}
		config.Port = port
	}

	return config, nil
}
