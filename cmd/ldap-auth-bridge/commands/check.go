package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

var (
	checkUsername      string
	checkPassword      string
	checkPasswordStdin bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Try one directory login and report the result",
	Long: `Run a single directory login with the configured hosts and print the
decision, the host that answered and the profile attributes.

The local user store is not consulted.

Examples:
  echo -n "$PASSWORD" | ldap-auth-bridge check --username alice --password-stdin`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkUsername, "username", "u", "", "username to authenticate")
	checkCmd.Flags().StringVarP(&checkPassword, "password", "p", "", "password (prefer --password-stdin)")
	checkCmd.Flags().BoolVar(&checkPasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = checkCmd.MarkFlagRequired("username")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	password := checkPassword
	if checkPasswordStdin {
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	dirConfig, err := cfg.DirectoryProvider(store).DirectoryConfig(cmd.Context())
	if err != nil {
		return err
	}
	if err := dirConfig.Validate(); err != nil {
		return err
	}

	connections := ldapauth.NewConnectionManager(ldapauth.StandardDialer{}, logger)
	if cfg.CircuitBreaker.Enabled {
		breaker := cfg.CircuitBreaker.CircuitBreakerConfig
		connections.EnableCircuitBreakers(&breaker)
	}
	directory := ldapauth.NewDirectory(connections, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Bridge.Timeout)
	defer cancel()

	decision := directory.Login(ctx, dirConfig, checkUsername, password)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "decision:   %s\n", decision.Kind)
	if decision.Host != "" {
		fmt.Fprintf(out, "host:       %s\n", decision.Host)
	}
	fmt.Fprintf(out, "host order: %s\n", strings.Join(connections.HostOrder(dirConfig), ", "))
	if decision.Err != nil {
		fmt.Fprintf(out, "error:      %v\n", decision.Err)
	}

	if decision.Profile != nil {
		fmt.Fprintf(out, "dn:         %s\n", decision.Profile.DN)

		names := make([]string, 0, len(decision.Profile.Attributes))
		for name := range decision.Profile.Attributes {
			names = append(names, name)
		}
		slices.Sort(names)

		for _, name := range names {
			fmt.Fprintf(out, "  %s: %s\n", name, strings.Join(decision.Profile.Attributes[name], ", "))
		}
	}

	if decision.Kind != ldapauth.DecisionAuthenticated {
		return fmt.Errorf("directory login %s", decision.Kind)
	}
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
