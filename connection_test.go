//go:build !integration

package ldapauth_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/testutil"
)

func newManager(t *testing.T) (*ldapauth.ConnectionManager, *testutil.FakeDirectory) {
	t.Helper()
	dir := testutil.NewFakeDirectory()
	testutil.SetupTestUsers(dir)
	return ldapauth.NewConnectionManager(dir, slog.Default()), dir
}

func TestConnectFailoverAndPromotion(t *testing.T) {
	manager, dir := newManager(t)
	cfg := testutil.NewDirectoryConfig()
	original := append([]string(nil), cfg.Hosts...)

	dir.SetReachable(false, testutil.PrimaryHost)

	conn, err := manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, testutil.SecondaryHost, conn.Host())
	conn.Release()

	assert.Equal(t, []string{testutil.PrimaryHost, testutil.SecondaryHost}, dir.Dials)

	// The working host is tried first from now on.
	assert.Equal(t, []string{testutil.SecondaryHost, testutil.PrimaryHost, testutil.TertiaryHost}, manager.HostOrder(cfg))

	conn, err = manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, testutil.SecondaryHost, conn.Host())
	conn.Release()

	assert.Equal(t, 3, dir.DialCount(), "second connect dials the promoted host only")
	assert.Equal(t, original, cfg.Hosts, "caller's host list is never reordered")
}

func TestConnectPromotionFollowsNextFailure(t *testing.T) {
	manager, dir := newManager(t)
	cfg := testutil.NewDirectoryConfig()

	dir.SetReachable(false, testutil.PrimaryHost)
	conn, err := manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	conn.Release()

	dir.SetReachable(true, testutil.PrimaryHost)
	dir.SetReachable(false, testutil.SecondaryHost)

	conn, err = manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Release()

	assert.Equal(t, testutil.PrimaryHost, conn.Host())
	assert.Equal(t, []string{testutil.PrimaryHost, testutil.SecondaryHost, testutil.TertiaryHost}, manager.HostOrder(cfg))
}

func TestConnectPromotionIsPerHostSet(t *testing.T) {
	manager, dir := newManager(t)
	cfg := testutil.NewDirectoryConfig()

	dir.SetReachable(false, testutil.PrimaryHost)
	conn, err := manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	conn.Release()

	other := testutil.NewDirectoryConfig()
	other.Hosts = []string{testutil.PrimaryHost, testutil.TertiaryHost}

	assert.Equal(t, other.Hosts, manager.HostOrder(other))
}

func TestConnectAllHostsUnreachable(t *testing.T) {
	manager, dir := newManager(t)
	cfg := testutil.NewDirectoryConfig()

	dir.SetReachable(false, cfg.Hosts...)

	conn, err := manager.Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, conn)

	assert.ErrorIs(t, err, ldapauth.ErrAllHostsUnreachable)
	assert.True(t, ldapauth.IsConnectionError(err))

	var connErr *ldapauth.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Len(t, connErr.Attempts, 3)
	for i, host := range cfg.Hosts {
		assert.Equal(t, host, connErr.Attempts[i].Host)
		assert.Error(t, connErr.Attempts[i].Err)
	}
}

func TestConnectExpiredContext(t *testing.T) {
	manager, dir := newManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.Connect(ctx, testutil.NewDirectoryConfig())
	assert.ErrorIs(t, err, ldapauth.ErrAllHostsUnreachable)
	assert.Zero(t, dir.DialCount())
}

func TestConnectInvalidConfig(t *testing.T) {
	manager, dir := newManager(t)

	_, err := manager.Connect(context.Background(), &ldapauth.DirectoryConfig{BaseDN: testutil.BaseDN})
	assert.ErrorIs(t, err, ldapauth.ErrMissingField)
	assert.True(t, ldapauth.IsConfigError(err))
	assert.Zero(t, dir.DialCount())
}

func TestConnectionTimeoutsAndStartTLS(t *testing.T) {
	t.Run("operation timeout applied", func(t *testing.T) {
		manager, dir := newManager(t)
		cfg := testutil.NewDirectoryConfig()
		cfg.OperationTimeout = 3 * time.Second

		conn, err := manager.Connect(context.Background(), cfg)
		require.NoError(t, err)
		defer conn.Release()

		assert.Equal(t, 3*time.Second, dir.Conns[0].Timeout())
		assert.False(t, dir.Conns[0].StartTLSCalled())
	})

	t.Run("timeout capped by context deadline", func(t *testing.T) {
		manager, dir := newManager(t)
		cfg := testutil.NewDirectoryConfig()
		cfg.OperationTimeout = time.Hour

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		conn, err := manager.Connect(ctx, cfg)
		require.NoError(t, err)
		defer conn.Release()

		assert.LessOrEqual(t, dir.Conns[0].Timeout(), time.Minute)
	})

	t.Run("starttls on plain ldap", func(t *testing.T) {
		manager, dir := newManager(t)
		cfg := testutil.NewDirectoryConfig()
		cfg.StartTLS = true

		conn, err := manager.Connect(context.Background(), cfg)
		require.NoError(t, err)
		defer conn.Release()

		assert.True(t, dir.Conns[0].StartTLSCalled())
	})

	t.Run("no starttls on ldaps", func(t *testing.T) {
		manager, dir := newManager(t)
		cfg := testutil.NewDirectoryConfig()
		cfg.Hosts = []string{"ldaps://ldap1.example.com:636"}
		cfg.StartTLS = true

		conn, err := manager.Connect(context.Background(), cfg)
		require.NoError(t, err)
		defer conn.Release()

		assert.False(t, dir.Conns[0].StartTLSCalled())
	})
}

func TestConnectionRelease(t *testing.T) {
	manager, dir := newManager(t)

	conn, err := manager.Connect(context.Background(), testutil.NewDirectoryConfig())
	require.NoError(t, err)

	conn.Release()
	conn.Release()

	assert.True(t, dir.Conns[0].Released())
	assert.True(t, dir.AllReleased())
}

func TestConnectCircuitBreakerDemotesFailingHost(t *testing.T) {
	manager, dir := newManager(t)
	manager.EnableCircuitBreakers(&ldapauth.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour})

	cfg := testutil.NewDirectoryConfig()
	cfg.Hosts = []string{testutil.PrimaryHost, testutil.SecondaryHost}

	dir.SetReachable(false, testutil.PrimaryHost, testutil.SecondaryHost)
	_, err := manager.Connect(context.Background(), cfg)
	require.Error(t, err)

	dir.SetReachable(true, testutil.SecondaryHost)

	// Both breakers are open; configured order is kept among tripped hosts.
	assert.Equal(t, []string{testutil.PrimaryHost, testutil.SecondaryHost}, manager.HostOrder(cfg))

	conn, err := manager.Connect(context.Background(), cfg)
	require.NoError(t, err)
	conn.Release()

	// The secondary's breaker closed on success and it was promoted.
	assert.Equal(t, []string{testutil.SecondaryHost, testutil.PrimaryHost}, manager.HostOrder(cfg))
}

func TestConnectConcurrent(t *testing.T) {
	manager, dir := newManager(t)
	cfg := testutil.NewDirectoryConfig()
	dir.SetReachable(false, testutil.PrimaryHost)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := manager.Connect(context.Background(), cfg)
			if assert.NoError(t, err) {
				assert.Equal(t, testutil.SecondaryHost, conn.Host())
				conn.Release()
			}
		}()
	}
	wg.Wait()

	assert.True(t, dir.AllReleased())
}
