//go:build integration

package ldapauth_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/testutil"
)

const (
	containerAdminDN   = "cn=admin,dc=example,dc=org"
	containerAdminPass = "admin123"
	containerBaseDN    = "dc=example,dc=org"
	containerPeopleDN  = "ou=people,dc=example,dc=org"
)

// setupOpenLDAP starts an OpenLDAP container with two users under ou=people
// and returns its ldap:// URL.
func setupOpenLDAP(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "osixia/openldap:1.5.0",
		ExposedPorts: []string{"389/tcp"},
		Env: map[string]string{
			"LDAP_ORGANISATION":   "Example Org",
			"LDAP_DOMAIN":         "example.org",
			"LDAP_ADMIN_PASSWORD": containerAdminPass,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("slapd starting").WithStartupTimeout(120*time.Second).WithPollInterval(2*time.Second),
			wait.ForListeningPort("389/tcp").WithStartupTimeout(120*time.Second).WithPollInterval(2*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "389/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("ldap://%s:%s", host, port.Port())
	populate(t, url)

	return url
}

func populate(t *testing.T, url string) {
	t.Helper()

	var conn *ldap.Conn
	var err error
	for i := 0; i < 5; i++ {
		conn, err = ldap.DialURL(url)
		if err == nil {
			if err = conn.Bind(containerAdminDN, containerAdminPass); err == nil {
				break
			}
			conn.Close()
		}
		t.Logf("connection attempt %d failed: %v, retrying...", i+1, err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	require.NoError(t, err, "failed to bind as admin after 5 attempts")
	defer conn.Close()

	ou := ldap.NewAddRequest(containerPeopleDN, nil)
	ou.Attribute("objectClass", []string{"organizationalUnit"})
	ou.Attribute("ou", []string{"people"})
	require.NoError(t, conn.Add(ou))

	for _, u := range []struct{ uid, cn, mail, password string }{
		{"alice", "Alice Example", "alice@example.org", "correct-pw"},
		{"bob", "Bob Example", "bob@example.org", "correct-pw"},
	} {
		add := ldap.NewAddRequest(fmt.Sprintf("uid=%s,%s", u.uid, containerPeopleDN), nil)
		add.Attribute("objectClass", []string{"inetOrgPerson"})
		add.Attribute("uid", []string{u.uid})
		add.Attribute("cn", []string{u.cn})
		add.Attribute("sn", []string{"Example"})
		add.Attribute("mail", []string{u.mail})
		add.Attribute("userPassword", []string{u.password})
		require.NoError(t, conn.Add(add))
	}
}

func TestIntegrationBridge(t *testing.T) {
	url := setupOpenLDAP(t)
	ctx := context.Background()

	cfg := &ldapauth.DirectoryConfig{
		// The first host refuses connections so every attempt starts with a failover.
		Hosts:              []string{"ldap://127.0.0.1:1", url},
		BaseDN:             containerBaseDN,
		PrivilegedDN:       containerAdminDN,
		PrivilegedPassword: containerAdminPass,
		DialTimeout:        2 * time.Second,
	}

	store := testutil.NewMemoryUserStore(&ldapauth.Identity{ID: 1, Username: "alice"})

	bridge, err := ldapauth.NewBridge(ldapauth.StaticConfigProvider{Config: cfg}, store,
		ldapauth.WithLogger(slog.Default()),
		ldapauth.WithTimeout(30*time.Second),
	)
	require.NoError(t, err)

	t.Run("accepted with profile", func(t *testing.T) {
		d := bridge.Authenticate(ctx, "alice", "correct-pw", nil)
		require.Equal(t, ldapauth.Accepted, d.Outcome, "err: %v", d.Err)
		assert.Equal(t, "uid=alice,ou=people,dc=example,dc=org", d.Profile.DN)
		assert.Equal(t, "alice@example.org", d.Profile.First("mail"))
		assert.Equal(t, "alice", d.Profile.UID())
	})

	t.Run("reachable host is promoted", func(t *testing.T) {
		order := bridge.Directory().Connections().HostOrder(cfg)
		assert.Equal(t, []string{url, "ldap://127.0.0.1:1"}, order)
	})

	t.Run("wrong password falls back", func(t *testing.T) {
		d := bridge.Authenticate(ctx, "alice", "wrong", nil)
		assert.Equal(t, ldapauth.FallbackToLocal, d.Outcome)
		assert.Equal(t, ldapauth.ReasonDirectoryRejected, d.Reason)
	})

	t.Run("filter metacharacters do not match", func(t *testing.T) {
		d := bridge.Authenticate(ctx, "*", "correct-pw", nil)
		assert.Equal(t, ldapauth.FallbackToLocal, d.Outcome)
	})

	t.Run("directory user without local account is rejected", func(t *testing.T) {
		d := bridge.Authenticate(ctx, "bob", "correct-pw", nil)
		assert.Equal(t, ldapauth.Rejected, d.Outcome)
		assert.Equal(t, []string{"bob"}, store.FailedLogins())
	})

	t.Run("profile lookup", func(t *testing.T) {
		dir := bridge.Directory()
		d := dir.Login(ctx, cfg, "bob", "correct-pw")
		require.Equal(t, ldapauth.DecisionAuthenticated, d.Kind)
		assert.Equal(t, url, d.Host)
		assert.Equal(t, "Bob Example", d.Profile.First("cn"))
	})
}

func TestIntegrationUnavailable(t *testing.T) {
	cfg := &ldapauth.DirectoryConfig{
		Hosts:       []string{"ldap://127.0.0.1:1"},
		BaseDN:      containerBaseDN,
		DialTimeout: time.Second,
	}

	bridge, err := ldapauth.NewBridge(ldapauth.StaticConfigProvider{Config: cfg}, testutil.NewMemoryUserStore())
	require.NoError(t, err)

	d := bridge.Authenticate(context.Background(), "alice", "correct-pw", nil)
	assert.Equal(t, ldapauth.FallbackToLocal, d.Outcome)
	assert.Equal(t, ldapauth.ReasonDirectoryUnavailable, d.Reason)
}
