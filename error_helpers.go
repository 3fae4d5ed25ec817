package ldapauth

import (
	"fmt"
)

// bindError creates a standardized bind failure, classifying invalid credentials.
func bindError(host, dn string, err error) error {
	dirErr := NewDirectoryError("bind", host, err).WithDN(dn)
	if code := GetLDAPResultCode(err); code != 0 {
		dirErr.Code = code
	}
	return dirErr
}

// searchFailedError creates a standardized search operation error
func searchFailedError(host, filter string, err error) error {
	return fmt.Errorf("search %s failed: %w", filter, WrapDirectoryError("search", host, err))
}

// dialError creates a standardized dial failure for one host
func dialError(host string, err error) error {
	return WrapDirectoryError("dial", host, err)
}
