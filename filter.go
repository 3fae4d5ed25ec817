package ldapauth

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EqualityFilter builds "(attribute=value)" with value escaped per RFC 4515.
// The attribute name is trusted configuration, never user input.
func EqualityFilter(attribute, value string) string {
	return fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value))
}

// UserDN builds "<attribute>=<value>,<baseDN>" with value escaped per RFC 4514.
func UserDN(attribute, value, baseDN string) string {
	rdn := attribute + "=" + ldap.EscapeDN(value)
	if strings.TrimSpace(baseDN) == "" {
		return rdn
	}
	return rdn + "," + baseDN
}
