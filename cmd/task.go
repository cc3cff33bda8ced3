package cmd

import (
	"context"
	"fmt"
	"strings"

	"clinic-backup/internal/scheduler"

	"github.com/spf13/cobra"
)

var (
	taskHistory int
)

func createTaskCommand() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Run or inspect scheduled tasks",
		Long: `Run a scheduled task in-process or list the registered tasks.

A task started here shares the single-flight guard with the timers only
inside this process. A task already running inside 'clinic-backup serve'
is guarded by the gateway, not by this command.`,
	}

	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task now",
		Long: fmt.Sprintf(`Run one task now and print its result.

Tasks: %s

Examples:
  clinic-backup task run daily-backup
  clinic-backup task run integrity-check -o json`, strings.Join(builtinTasks(), ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: builtinTasks(),
		RunE:      runTask,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their schedule and last run",
		RunE:  runTaskList,
	}
	listCmd.Flags().IntVar(&taskHistory, "history", 0, "Also show the latest N persisted runs")

	taskCmd.AddCommand(runCmd, listCmd)
	return taskCmd
}

func builtinTasks() []string {
	return []string{
		scheduler.TaskDailyBackup,
		scheduler.TaskCleanup,
		scheduler.TaskWeeklyRestoreTest,
		scheduler.TaskIntegrityCheck,
		scheduler.TaskMonthlyReport,
	}
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.RunTask(ctx, args[0])
	if result != nil {
		if printErr := newPrinter(cmd).TaskResult(result); printErr != nil {
			return printErr
		}
	}
	return err
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	printer := newPrinter(cmd)
	if taskHistory <= 0 {
		return printer.TaskStatus(app.Status())
	}

	runs, err := app.RecentRuns(ctx, "", taskHistory)
	if err != nil {
		return err
	}
	if printer.Structured() {
		return printer.Encode(map[string]interface{}{
			"scheduler": app.Status(),
			"history":   runs,
		})
	}
	if err := printer.TaskStatus(app.Status()); err != nil {
		return err
	}
	return printer.TaskHistory(runs)
}
