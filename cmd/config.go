package cmd

import (
	"fmt"

	"clinic-backup/internal/config"
	appErrors "clinic-backup/internal/errors"

	"github.com/spf13/cobra"
)

var (
	sampleWrite string
	sampleForce bool
)

// createConfigCommand creates the config subcommand
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check the service configuration",
	}

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Print a sample configuration file",
		Long: `Print the default configuration as YAML, or write it to a file.

Secrets are read from the environment and are left empty in the sample:
  CRON_SECRET           bearer token of the /cron gateway
  BACKUP_SYSTEM_SECRET  master secret the per-tenant archive keys derive from

Examples:
  clinic-backup config sample > clinic-backup.yaml
  clinic-backup config sample --write /etc/clinic-backup/clinic-backup.yaml
  clinic-backup config sample --write clinic-backup.yaml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sampleWrite != "" {
				if err := config.WriteSample(sampleWrite, sampleForce); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", sampleWrite)
				return nil
			}

			data, err := config.SampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	sampleCmd.Flags().StringVar(&sampleWrite, "write", "", "Write the sample to this path instead of stdout")
	sampleCmd.Flags().BoolVar(&sampleForce, "force", false, "Overwrite an existing file, keeping a .backup copy")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}

			result := config.Preflight(cfg)
			if err := newPrinter(cmd).Preflight(result); err != nil {
				return err
			}
			if !result.Ready {
				return appErrors.NewConfigurationError(fmt.Sprintf("configuration has %d problem(s)", len(result.Errors)), nil)
			}
			return nil
		},
	}

	configCmd.AddCommand(sampleCmd, checkCmd)
	return configCmd
}
