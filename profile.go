package ldapauth

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Profile is the directory entry of an authenticated user.
// Attribute names keep the case returned by the directory; lookups are case-insensitive.
type Profile struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`

	uidAttribute string
}

// NewProfile converts a directory entry into a Profile.
func NewProfile(entry *ldap.Entry, uidAttribute string) *Profile {
	p := &Profile{
		DN:           entry.DN,
		Attributes:   make(map[string][]string, len(entry.Attributes)),
		uidAttribute: uidAttribute,
	}

	for _, attr := range entry.Attributes {
		values := make([]string, len(attr.Values))
		copy(values, attr.Values)
		p.Attributes[attr.Name] = append(p.Attributes[attr.Name], values...)
	}

	return p
}

// Values returns all values of the named attribute.
func (p *Profile) Values(name string) []string {
	if p == nil {
		return nil
	}
	if v, ok := p.Attributes[name]; ok {
		return v
	}
	for k, v := range p.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// First returns the first value of the named attribute, or "".
func (p *Profile) First(name string) string {
	if v := p.Values(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// UID returns the value of the uid attribute.
func (p *Profile) UID() string {
	if p == nil {
		return ""
	}
	attr := p.uidAttribute
	if attr == "" {
		attr = DefaultUIDAttribute
	}
	return p.First(attr)
}
