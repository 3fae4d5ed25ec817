package testutil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// FakeDirectory is an in-memory directory that implements ldapauth.Dialer.
// Every dial yields a *MockConn recorded in Conns.
type FakeDirectory struct {
	mu sync.Mutex

	// UIDAttribute is the attribute searched for usernames. Defaults to "uid".
	UIDAttribute string

	PrivilegedDN       string
	PrivilegedPassword string

	users       []*MockUser
	unreachable map[string]bool

	// State tracking
	Dials []string
	Conns []*MockConn
}

// MockUser represents a directory entry with a password
type MockUser struct {
	DN         string
	UID        string
	Password   string
	Attributes map[string][]string
}

// BindCall records a bind operation
type BindCall struct {
	DN    string
	Error error
}

// NewFakeDirectory creates an empty directory where every host is reachable.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		UIDAttribute: ldapauth.DefaultUIDAttribute,
		unreachable:  make(map[string]bool),
	}
}

// AddUser adds an entry. Several entries may share a uid.
func (d *FakeDirectory) AddUser(user *MockUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, user)
}

// SetReachable marks host URLs as reachable or not.
func (d *FakeDirectory) SetReachable(reachable bool, hosts ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hosts {
		d.unreachable[h] = !reachable
	}
}

// DialURL implements ldapauth.Dialer.
func (d *FakeDirectory) DialURL(addr string, _ ...ldap.DialOpt) (ldapauth.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Dials = append(d.Dials, addr)

	if d.unreachable[addr] {
		return nil, ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("dial tcp %s: connect: connection refused", addr))
	}

	conn := &MockConn{Host: addr, dir: d}
	d.Conns = append(d.Conns, conn)
	return conn, nil
}

// DialCount returns the number of dials, successful or not.
func (d *FakeDirectory) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}

// BindCount returns the binds across all connections.
func (d *FakeDirectory) BindCount() int {
	d.mu.Lock()
	conns := append([]*MockConn(nil), d.Conns...)
	d.mu.Unlock()

	n := 0
	for _, c := range conns {
		n += len(c.BindCalls())
	}
	return n
}

// SearchCount returns the searches across all connections.
func (d *FakeDirectory) SearchCount() int {
	d.mu.Lock()
	conns := append([]*MockConn(nil), d.Conns...)
	d.mu.Unlock()

	n := 0
	for _, c := range conns {
		n += len(c.SearchCalls())
	}
	return n
}

// AllReleased reports whether every opened connection was unbound and closed.
func (d *FakeDirectory) AllReleased() bool {
	d.mu.Lock()
	conns := append([]*MockConn(nil), d.Conns...)
	d.mu.Unlock()

	for _, c := range conns {
		if !c.Released() {
			return false
		}
	}
	return true
}

func (d *FakeDirectory) bind(dn, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PrivilegedDN != "" && strings.EqualFold(dn, d.PrivilegedDN) {
		if password == d.PrivilegedPassword {
			return nil
		}
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid privileged password"))
	}

	for _, u := range d.users {
		if strings.EqualFold(u.DN, dn) {
			if password != "" && u.Password == password {
				return nil
			}
			return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid password"))
		}
	}

	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("no such entry"))
}

func (d *FakeDirectory) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := &ldap.SearchResult{}

	for _, u := range d.users {
		filter := fmt.Sprintf("(%s=%s)", d.UIDAttribute, ldap.EscapeFilter(u.UID))
		if req.Filter != filter || !underBase(u.DN, req.BaseDN) {
			continue
		}

		if req.SizeLimit > 0 && len(result.Entries) == req.SizeLimit {
			return result, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
		}
		result.Entries = append(result.Entries, u.entry(d.UIDAttribute))
	}

	return result, nil
}

func underBase(dn, baseDN string) bool {
	dn, baseDN = strings.ToLower(dn), strings.ToLower(baseDN)
	return baseDN == "" || dn == baseDN || strings.HasSuffix(dn, ","+baseDN)
}

func (u *MockUser) entry(uidAttribute string) *ldap.Entry {
	attrs := map[string][]string{uidAttribute: {u.UID}}
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	return ldap.NewEntry(u.DN, attrs)
}

// MockConn is a connection to a FakeDirectory implementing ldapauth.Conn.
type MockConn struct {
	Host string
	dir  *FakeDirectory

	mu          sync.Mutex
	bindCalls   []BindCall
	searchCalls []*ldap.SearchRequest
	timeout     time.Duration
	startTLS    bool
	unbound     bool
	closed      bool
}

var _ ldapauth.Conn = (*MockConn)(nil)

// Bind records the call and checks the credentials against the directory.
func (c *MockConn) Bind(username, password string) error {
	err := c.dir.bind(username, password)

	c.mu.Lock()
	c.bindCalls = append(c.bindCalls, BindCall{DN: username, Error: err})
	c.mu.Unlock()

	return err
}

// Search records the call and runs an equality match on the uid attribute.
func (c *MockConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.mu.Lock()
	c.searchCalls = append(c.searchCalls, req)
	c.mu.Unlock()

	return c.dir.search(req)
}

// StartTLS records the upgrade.
func (c *MockConn) StartTLS(*tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTLS = true
	return nil
}

// SetTimeout records the request timeout.
func (c *MockConn) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Unbind marks the connection unbound and closed, like go-ldap does.
func (c *MockConn) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	c.unbound = true
	c.closed = true
	return nil
}

// Close marks the connection closed.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// BindCalls returns a copy of the recorded binds.
func (c *MockConn) BindCalls() []BindCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BindCall(nil), c.bindCalls...)
}

// SearchCalls returns a copy of the recorded searches.
func (c *MockConn) SearchCalls() []*ldap.SearchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ldap.SearchRequest(nil), c.searchCalls...)
}

// Timeout returns the last timeout passed to SetTimeout.
func (c *MockConn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// StartTLSCalled reports whether StartTLS ran.
func (c *MockConn) StartTLSCalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTLS
}

// Released reports whether the connection was unbound and closed.
func (c *MockConn) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unbound && c.closed
}
