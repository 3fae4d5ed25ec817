package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/internal/metrics"
	"github.com/netresearch/ldap-auth-bridge/testutil"
	"github.com/netresearch/ldap-auth-bridge/userstore"
)

type fixture struct {
	dir     *testutil.FakeDirectory
	store   *userstore.Store
	limiter *ldapauth.RateLimiter
	handler http.Handler
}

func newFixture(t *testing.T, limiterConfig *ldapauth.RateLimiterConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := testutil.NewFakeDirectory()
	testutil.SetupTestUsers(dir)

	store, err := userstore.New(userstore.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "bridge.db"),
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.CreateUser(ctx, "alice", "alice@example.com", "Alice", "")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "carol", "carol@example.com", "Carol", "local-pw")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := []ldapauth.Option{
		ldapauth.WithDialer(dir),
		ldapauth.WithMetrics(m),
	}

	var limiter *ldapauth.RateLimiter
	if limiterConfig != nil {
		limiter = ldapauth.NewRateLimiter(limiterConfig, slog.Default())
		t.Cleanup(limiter.Close)
		opts = append(opts, ldapauth.WithFailureListener(limiter))
	}

	bridge, err := ldapauth.NewBridge(
		ldapauth.StaticConfigProvider{Config: testutil.NewDirectoryConfig()},
		store,
		opts...,
	)
	require.NoError(t, err)

	handler := NewRouter(Dependencies{
		Bridge:   bridge,
		Store:    store,
		Limiter:  limiter,
		Metrics:  m,
		Gatherer: reg,
	})

	return &fixture{dir: dir, store: store, limiter: limiter, handler: handler}
}

func (f *fixture) authenticate(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/authenticate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func credentials(username, password string) string {
	b, _ := json.Marshal(AuthRequest{Username: username, Password: password})
	return string(b)
}

func TestAuthenticateDirectoryUser(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.authenticate(t, credentials("alice", "correct-pw"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, SourceDirectory, resp.Source)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.Username)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, "alice@example.com", resp.Profile.First("mail"))
	assert.True(t, f.dir.AllReleased())
}

func TestAuthenticateLocalFallback(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.authenticate(t, credentials("carol", "local-pw"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, SourceLocal, resp.Source)
	assert.Equal(t, "carol", resp.User.Username)
	assert.Nil(t, resp.Profile)
}

func TestAuthenticateLocalFallbackWhenDirectoryDown(t *testing.T) {
	f := newFixture(t, nil)
	f.dir.SetReachable(false)

	rec := f.authenticate(t, credentials("carol", "local-pw"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.authenticate(t, credentials("alice", "correct-pw"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "directory-only account cannot log in while the directory is down")
}

func TestFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]string{
		"directory password wrong, no local password": credentials("alice", "wrong"),
		"directory ok, no local account":              credentials("bob", "correct-pw"),
		"local password wrong":                        credentials("carol", "wrong"),
		"unknown everywhere":                          credentials("mallory", "x"),
		"empty password":                              credentials("carol", ""),
	}

	for name, body := range cases {
		rec := f.authenticate(t, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Equal(t, string(accessDenied), rec.Body.String(), name)
	}

	bobFailures, err := f.store.LoginFailures(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bobFailures)

	carolFailures, err := f.store.LoginFailures(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(2), carolFailures)
}

func TestAuthenticateBadRequest(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.authenticate(t, `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.dir.DialCount())
}

func TestAuthenticateRateLimited(t *testing.T) {
	f := newFixture(t, &ldapauth.RateLimiterConfig{
		MaxAttempts:        2,
		Window:             time.Minute,
		LockoutDuration:    time.Minute,
		ViolationResetTime: time.Hour,
	})

	for i := 0; i < 2; i++ {
		rec := f.authenticate(t, credentials("carol", "wrong"))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	dials := f.dir.DialCount()

	rec := f.authenticate(t, credentials("carol", "local-pw"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, dials, f.dir.DialCount(), "throttled attempts never reach the directory")

	rec = f.authenticate(t, credentials("alice", "correct-pw"))
	assert.Equal(t, http.StatusOK, rec.Code, "other users are unaffected")
}

func TestDirectoryRejectionFeedsRateLimiter(t *testing.T) {
	f := newFixture(t, &ldapauth.RateLimiterConfig{
		MaxAttempts:        1,
		Window:             time.Minute,
		LockoutDuration:    time.Minute,
		ViolationResetTime: time.Hour,
	})

	rec := f.authenticate(t, credentials("bob", "correct-pw"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.authenticate(t, credentials("bob", "correct-pw"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.store.Close())

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.authenticate(t, credentials("alice", "correct-pw"))
	f.authenticate(t, credentials("carol", "local-pw"))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `ldap_bridge_decisions_total{outcome="accepted",reason="verified"} 1`)
	assert.Contains(t, body, `ldap_bridge_local_fallbacks_total{result="success"} 1`)
}

func TestServerLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &Server{
		server: &http.Server{Handler: f.handler},
		config: Config{ShutdownTimeout: time.Second},
		logger: slog.Default(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.NoError(t, srv.Stop(context.Background()), "second stop is a no-op")
}
