package cmd

import (
	"context"
	"fmt"
	"os"

	"clinic-backup/internal/application"
	"clinic-backup/internal/config"
	"clinic-backup/internal/display"
	"clinic-backup/internal/logging"

	"github.com/spf13/cobra"
)

var cfgFile string

// Global flag variables
var (
	verbose      bool
	quiet        bool
	noColor      bool
	theme        string
	outputFormat string
	tableStyle   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clinic-backup",
	Short: "Backup and recovery for multi-tenant clinic databases",
	Long: `clinic-backup takes scheduled, encrypted backups of every clinic tenant,
prunes them by retention policy, verifies stored archives against their
checksums and proves restorability with weekly restore tests.

Tasks run on in-process timers (America/Sao_Paulo), through the
authenticated /cron HTTP gateway, or by hand from this CLI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return fmt.Errorf("--verbose and --quiet cannot be used together")
		}
		_, err := display.ParseOutputFormat(outputFormat)
		return err
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		application.HandleError(os.Stderr, nil, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./clinic-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Log errors only")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "Color theme: dark, light, plain")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&tableStyle, "table-style", "default", "Table style: default, rounded, compact")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createServeCommand())
	rootCmd.AddCommand(createTaskCommand())
	rootCmd.AddCommand(createBackupCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// loadConfig reads the config file and the environment. Commands that only
// inspect the configuration pass validate=false so that problems are reported
// instead of aborting.
func loadConfig(validate bool) (*config.Config, error) {
	v := config.NewViper(cfgFile)
	if err := config.ReadConfigFile(v); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if validate {
		cfg, err = config.Load(v)
	} else {
		cfg, err = config.Decode(v)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	case quiet:
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}
	return cfg, nil
}

// openApplication loads configuration and connects every collaborator. The
// caller must Close the application.
func openApplication(ctx context.Context) (*application.Application, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	logger, err := application.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	app, err := application.New(ctx, cfg, version, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}
	return app, nil
}

func newPrinter(cmd *cobra.Command) *display.Printer {
	format, _ := display.ParseOutputFormat(outputFormat)
	return display.NewPrinter(display.Options{
		Format:       format,
		Theme:        theme,
		TableStyle:   tableStyle,
		ColorEnabled: !noColor,
		Writer:       cmd.OutOrStdout(),
	})
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "clinic-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
