// Package ldapauth delegates login checks to an LDAP directory and maps
// directory users onto local accounts.
//
// A login runs through three layers:
//   - ConnectionManager opens a link to the first reachable directory host and
//     remembers it, so later logins try the working host first.
//   - Authenticator binds and searches over that link. Usernames are escaped
//     before they reach a filter or a DN, and a uid search must match exactly
//     one entry.
//   - Bridge turns the directory result into Accepted, FallbackToLocal or
//     Rejected, consulting a UserStore for the local account.
//
// # Basic Usage
//
//	provider := ldapauth.StaticConfigProvider{Config: &ldapauth.DirectoryConfig{
//		Hosts:  []string{"ldap1.example.com", "ldap2.example.com"},
//		Port:   389,
//		BaseDN: "ou=people,dc=example,dc=com",
//	}}
//
//	bridge, err := ldapauth.NewBridge(provider, store,
//		ldapauth.WithLogger(logger),
//		ldapauth.WithTimeout(5*time.Second))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	switch d := bridge.Authenticate(ctx, username, password, nil); d.Outcome {
//	case ldapauth.Accepted:
//		fmt.Printf("logged in as %s\n", d.Identity.Username)
//	case ldapauth.FallbackToLocal:
//		// run the application's own password check
//	case ldapauth.Rejected:
//		return d.Err // always ErrAccessDenied
//	}
//
// # Error Handling
//
// Directory failures never reach the caller of Bridge.Authenticate; they are
// logged and folded into the Decision. Lower layers report typed errors that
// work with errors.Is and errors.As:
//   - ErrAllHostsUnreachable (*ConnectionError): no host accepted a connection
//   - ErrAmbiguousOrMissing (*SearchError): zero or several entries matched
//   - ErrInvalidCredentials (*DirectoryError): the directory refused a bind
//   - ErrMissingField (*ConfigError): the configuration is incomplete
//
// Rejected decisions always carry ErrAccessDenied so responses never reveal
// whether the directory or the local store refused the login.
package ldapauth
