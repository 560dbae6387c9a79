package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haolipeng/trident_firewall/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the JSON settings file",
	}
	cmd.AddCommand(newConfigUpdateCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigUpdateCmd() *cobra.Command {
	var (
		file string
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check and merge settings, then save the file",
		Long: `Merges key=value settings into the settings file. The update must contain
security_level and firewall_enabled; otherwise nothing is changed.

Example:
  trident config update --file settings.json --set security_level=high --set firewall_enabled=true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := make(map[string]interface{}, len(sets))
			for _, raw := range sets {
				key, value, err := parseSetting(raw)
				if err != nil {
					return err
				}
				updates[key] = value
			}

			m, err := config.NewManager(file)
			if err != nil {
				return err
			}
			if _, err := m.Load(); err != nil {
				if !errors.Is(err, config.ErrConfigNotFound) {
					return err
				}
				logrus.Infof("Settings file %s not found, creating a new one", file)
			}

			if err := m.Update(updates); err != nil {
				return err
			}
			if err := m.Save(nil); err != nil {
				return err
			}
			return printSettings(cmd, m.Settings())
		},
	}

	cmd.Flags().StringVar(&file, "file", "config.json", "Settings file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Setting key=value (repeatable)")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.NewManager(file)
			if err != nil {
				return err
			}
			settings, err := m.Load()
			if err != nil {
				return err
			}
			return printSettings(cmd, settings)
		},
	}

	cmd.Flags().StringVar(&file, "file", "config.json", "Settings file")
	return cmd
}

func printSettings(cmd *cobra.Command, settings map[string]interface{}) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
