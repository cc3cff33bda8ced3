package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func createServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the cron gateway",
		Long: `Start the in-process timers and, when gateway.enabled is set, the
/cron HTTP gateway. Runs until SIGINT or SIGTERM.

Examples:
  # Hybrid mode: timers plus the gateway
  CRON_SECRET=... BACKUP_SYSTEM_SECRET=... clinic-backup serve

  # External mode: only the gateway triggers tasks
  BACKUP_SCHEDULER_ENABLED=false clinic-backup serve --config /etc/clinic-backup/clinic-backup.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(context.Background())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve()
		},
	}
}
