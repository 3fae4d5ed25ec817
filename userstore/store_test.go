package userstore

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "bridge.db")
	s, err := New(Config{Driver: "sqlite", DSN: dsn}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestNewSeedsSettings(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.Settings(context.Background())
	require.NoError(t, err)

	for _, key := range DirectorySettings {
		value, ok := settings[key]
		assert.True(t, ok, key)
		assert.Empty(t, value, key)
	}
	assert.Equal(t, SchemaVersion, settings[SettingSchemaVersion])
	assert.NoError(t, s.Ping(context.Background()))
}

func TestReopenKeepsSettings(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bridge.db")
	ctx := context.Background()

	s, err := New(Config{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	require.NoError(t, s.SetSetting(ctx, SettingBaseDN, "dc=example,dc=com"))
	require.NoError(t, s.Close())

	s, err = New(Config{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	defer s.Close()

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dc=example,dc=com", settings[SettingBaseDN])
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver string
		name   string
	}{
		{DriverSQLite, "sqlite"},
		{DriverPostgres, "postgres"},
		{" Postgres ", "postgres"},
	}

	for _, tt := range tests {
		d, err := dialector(tt.driver, "dsn")
		require.NoError(t, err, tt.driver)
		assert.Equal(t, tt.name, d.Name())
	}

	_, err := dialector("mysql", "dsn")
	assert.ErrorContains(t, err, `unsupported database driver: "mysql"`)
}

func TestFindLocalUserByUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "alice@example.com", "Alice", "")
	require.NoError(t, err)

	found, err := s.FindLocalUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = s.FindLocalUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ldapauth.ErrLocalUserNotFound)
}

func TestQueriesAreParameterised(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names := []string{
		`o'brien`,
		`x" OR "1"="1`,
		`' OR '1'='1`,
		`robert'); DROP TABLE users;--`,
	}

	for _, name := range names {
		_, err := s.CreateUser(ctx, name, "", "", "pw")
		require.NoError(t, err, name)
	}

	for _, name := range names {
		id, err := s.FindLocalUserByUsername(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, name, id.Username)
	}

	_, err := s.FindLocalUserByUsername(ctx, `' OR ''='`)
	assert.ErrorIs(t, err, ldapauth.ErrLocalUserNotFound)
}

func TestCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "alice", "", "", "")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, " alice ", "", "", "")
	assert.ErrorIs(t, err, ErrUsernameConflict)

	_, err = s.CreateUser(ctx, "  ", "", "", "")
	assert.ErrorIs(t, err, ldapauth.ErrEmptyUsername)

	// Decomposed "é" is stored in composed form.
	_, err = s.CreateUser(ctx, "jose\u0301", "", "", "")
	require.NoError(t, err)
	_, err = s.FindLocalUserByUsername(ctx, "jos\u00e9")
	assert.NoError(t, err)
}

func TestCheckPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "carol", "", "", "local-pw")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "dave", "", "", "")
	require.NoError(t, err)

	id, err := s.CheckPassword(ctx, "carol", "local-pw")
	require.NoError(t, err)
	assert.Equal(t, "carol", id.Username)

	_, err = s.CheckPassword(ctx, "carol", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = s.CheckPassword(ctx, "carol", "")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = s.CheckPassword(ctx, "dave", "anything")
	assert.ErrorIs(t, err, ErrInvalidPassword, "directory-only accounts have no local password")

	_, err = s.CheckPassword(ctx, "nobody", "x")
	assert.ErrorIs(t, err, ldapauth.ErrLocalUserNotFound)
}

func TestNotifyLoginFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.NotifyLoginFailed(ctx, "bob"))
	require.NoError(t, s.NotifyLoginFailed(ctx, "bob"))
	require.NoError(t, s.NotifyLoginFailed(ctx, "eve"))

	count, err := s.LoginFailures(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNotifyLoginFailedDoesNotLogUsername(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "bridge.db"),
	}, slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.NotifyLoginFailed(context.Background(), "mallory"))

	assert.Contains(t, buf.String(), `"msg":"login_failed"`)
	assert.Contains(t, buf.String(), `"failure_id":1`)
	assert.NotContains(t, buf.String(), "mallory")
}

func TestDirectoryConfigFromSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSetting(ctx, SettingHosts, "ldap1.example.com, ldap2.example.com"))
	require.NoError(t, s.SetSetting(ctx, SettingPort, "636"))
	require.NoError(t, s.SetSetting(ctx, SettingBaseDN, "ou=people,dc=example,dc=com"))
	require.NoError(t, s.SetSetting(ctx, SettingPrivilegedDN, "cn=admin,dc=example,dc=com"))
	require.NoError(t, s.SetSetting(ctx, SettingPrivilegedPassword, "it's a secret"))

	cfg, err := s.DirectoryConfig(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"ldap1.example.com", "ldap2.example.com"}, cfg.Hosts)
	assert.Equal(t, 636, cfg.Port)
	assert.Equal(t, "ou=people,dc=example,dc=com", cfg.BaseDN)
	assert.Equal(t, "cn=admin,dc=example,dc=com", cfg.PrivilegedDN)
	assert.Equal(t, "it's a secret", cfg.PrivilegedPassword)
	assert.NoError(t, cfg.Validate())
}

func TestDirectoryConfigUnconfigured(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.DirectoryConfig(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ldapauth.ErrMissingField)
}

func TestSetSettingRejectsUnknownKeysAndBadPorts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SetSetting(ctx, "admin_password", "x"), ErrUnknownSetting)
	assert.ErrorIs(t, s.SetSetting(ctx, SettingSchemaVersion, "2"), ErrUnknownSetting)
	assert.True(t, ldapauth.IsConfigError(s.SetSetting(ctx, SettingPort, "ldap")))
}
