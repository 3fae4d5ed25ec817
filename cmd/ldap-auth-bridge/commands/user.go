package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	userEmail       string
	userDisplayName string
	userPassword    string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create a local account",
	Long: `Create a local account.

Directory users need a local account to be accepted. Without --password the
account can only log in through the directory.

Examples:
  ldap-auth-bridge user add alice --email alice@example.com
  ldap-auth-bridge user add service --password "$SERVICE_PASSWORD"`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userAddCmd.Flags().StringVar(&userDisplayName, "display-name", "", "display name")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "local password used when the directory falls back")

	userCmd.AddCommand(userAddCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	identity, err := store.CreateUser(cmd.Context(), args[0], userEmail, userDisplayName, userPassword)
	if err != nil {
		return fmt.Errorf("failed to create user %q: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", identity.Username, identity.ID)
	return nil
}
