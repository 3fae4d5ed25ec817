package testutil

import (
	"context"
	"sync"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// Standard fixture values
const (
	BaseDN             = "ou=people,dc=example,dc=com"
	PrivilegedDN       = "cn=admin,dc=example,dc=com"
	PrivilegedPassword = "admin123"

	PrimaryHost   = "ldap://ldap1.example.com:389"
	SecondaryHost = "ldap://ldap2.example.com:389"
	TertiaryHost  = "ldap://ldap3.example.com:389"
)

// NewDirectoryConfig returns a config for the three fixture hosts.
func NewDirectoryConfig() *ldapauth.DirectoryConfig {
	return &ldapauth.DirectoryConfig{
		Hosts:              []string{PrimaryHost, SecondaryHost, TertiaryHost},
		BaseDN:             BaseDN,
		PrivilegedDN:       PrivilegedDN,
		PrivilegedPassword: PrivilegedPassword,
	}
}

// SetupTestUsers creates the standard directory fixture:
// alice and bob with passwords "correct-pw", and two entries sharing uid "dup".
func SetupTestUsers(dir *FakeDirectory) {
	dir.PrivilegedDN = PrivilegedDN
	dir.PrivilegedPassword = PrivilegedPassword

	dir.AddUser(&MockUser{
		DN:       "uid=alice," + BaseDN,
		UID:      "alice",
		Password: "correct-pw",
		Attributes: map[string][]string{
			"cn":   {"Alice Example"},
			"mail": {"alice@example.com"},
		},
	})

	dir.AddUser(&MockUser{
		DN:       "uid=bob," + BaseDN,
		UID:      "bob",
		Password: "correct-pw",
		Attributes: map[string][]string{
			"cn":   {"Bob Example"},
			"mail": {"bob@example.com"},
		},
	})

	dir.AddUser(&MockUser{
		DN:       "uid=dup," + BaseDN,
		UID:      "dup",
		Password: "correct-pw",
	})

	dir.AddUser(&MockUser{
		DN:       "uid=dup,ou=contractors," + BaseDN,
		UID:      "dup",
		Password: "other-pw",
	})
}

// MemoryUserStore is an ldapauth.UserStore backed by a map.
type MemoryUserStore struct {
	mu sync.Mutex

	Users map[string]*ldapauth.Identity
	// FindErr, when set, is returned by every lookup.
	FindErr error

	lookups []string
	failed  []string
}

var _ ldapauth.UserStore = (*MemoryUserStore)(nil)

// NewMemoryUserStore creates a store holding the given identities.
func NewMemoryUserStore(identities ...*ldapauth.Identity) *MemoryUserStore {
	s := &MemoryUserStore{Users: make(map[string]*ldapauth.Identity)}
	for _, id := range identities {
		s.Users[id.Username] = id
	}
	return s
}

// FindLocalUserByUsername implements ldapauth.UserStore.
func (s *MemoryUserStore) FindLocalUserByUsername(_ context.Context, username string) (*ldapauth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups = append(s.lookups, username)

	if s.FindErr != nil {
		return nil, s.FindErr
	}
	if id, ok := s.Users[username]; ok {
		return id, nil
	}
	return nil, ldapauth.ErrLocalUserNotFound
}

// NotifyLoginFailed implements ldapauth.UserStore.
func (s *MemoryUserStore) NotifyLoginFailed(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, username)
	return nil
}

// Lookups returns the usernames looked up so far.
func (s *MemoryUserStore) Lookups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lookups...)
}

// FailedLogins returns the usernames passed to NotifyLoginFailed.
func (s *MemoryUserStore) FailedLogins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failed...)
}
