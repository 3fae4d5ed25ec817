package config

import (
	"context"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// tunedProvider overlays connection tuning from the file onto settings read
// from the database, which only stores hosts, port, base DN and the privileged account.
type tunedProvider struct {
	base   ldapauth.ConfigurationProvider
	tuning DirectoryConfig
}

func (p *tunedProvider) DirectoryConfig(ctx context.Context) (*ldapauth.DirectoryConfig, error) {
	cfg, err := p.base.DirectoryConfig(ctx)
	if err != nil {
		return nil, err
	}

	tuned := *cfg
	tuned.UIDAttribute = p.tuning.UIDAttribute
	tuned.Attributes = p.tuning.Attributes
	tuned.StartTLS = p.tuning.StartTLS
	tuned.InsecureSkipVerify = p.tuning.InsecureSkipVerify
	tuned.DialTimeout = p.tuning.DialTimeout
	tuned.OperationTimeout = p.tuning.OperationTimeout
	tuned.RequirePrivilegedBind = p.tuning.RequirePrivilegedBind

	return &tuned, nil
}
