package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/netresearch/ldap-auth-bridge/userstore"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage directory settings stored in the database",
	Long: `Manage the directory settings read when directory.source is "database".

Keys:
  ldap_hosts            comma separated host list, tried in order
  ldap_port             port used for bare host names
  base_dn               search base for users
  privileged_dn         optional service account
  privileged_password   password of the service account`,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Update one directory setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored settings",
	RunE:  runSettingsShow,
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsShowCmd)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
	return nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Settings(cmd.Context())
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := settings[key]
		if key == userstore.SettingPrivilegedPassword && value != "" {
			value = "********"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, value)
	}
	return nil
}
