package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/confirmation"

	"github.com/spf13/cobra"
)

var (
	// Backup creation flags
	backupTenant int64
	backupType   string

	// Backup listing flags
	listStatus string
	listType   string
	listSince  string
	listLimit  int

	// Restore flags
	restoreYes         bool
	restoreRequestedBy string

	// Usage flags
	usageHealth bool
)

func createBackupCommand() *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage tenant backups",
		Long: `Create, list, verify and restore tenant backups, and edit the per-tenant
backup policy.

Examples:
  # Take a full backup of tenant 12
  clinic-backup backup create --tenant 12

  # List the last 20 backups of tenant 12
  clinic-backup backup list --tenant 12

  # Check an archive without restoring it
  clinic-backup backup verify 345

  # Restore a backup, replacing the tenant's current rows
  clinic-backup backup restore 345`,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Take a backup of one tenant now",
		RunE:  runBackupCreate,
	}
	createCmd.Flags().Int64Var(&backupTenant, "tenant", 0, "Tenant ID")
	createCmd.Flags().StringVar(&backupType, "type", string(backup.BackupTypeFull), "Backup type: full, incremental, offline")
	_ = createCmd.MarkFlagRequired("tenant")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's backups, newest first",
		Long: `List a tenant's backups, newest first.

Examples:
  clinic-backup backup list --tenant 12
  clinic-backup backup list --tenant 12 --status failed --since 7d
  clinic-backup backup list --tenant 12 -o json`,
		RunE: runBackupList,
	}
	listCmd.Flags().Int64Var(&backupTenant, "tenant", 0, "Tenant ID")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: running, success, failed")
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by backup type")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only backups started after this date (YYYY-MM-DD) or age (7d, 12h)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of backups")
	_ = listCmd.MarkFlagRequired("tenant")

	verifyCmd := &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Download an archive and run the restore checklist",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupVerify,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replace a tenant's data with a full backup",
		Long: `Replace every backed-up table of the tenant with the contents of a
full or offline backup. The operator is asked to confirm unless --yes is set.`,
		Args: cobra.ExactArgs(1),
		RunE: runBackupRestore,
	}
	restoreCmd.Flags().BoolVar(&restoreYes, "yes", false, "Restore without asking for confirmation")
	restoreCmd.Flags().StringVar(&restoreRequestedBy, "requested-by", "", "Operator recorded in the audit trail (default $USER)")

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize backup storage usage",
		RunE:  runBackupUsage,
	}
	usageCmd.Flags().BoolVar(&usageHealth, "health", false, "Probe every configured store instead")

	backupCmd.AddCommand(createCmd, listCmd, verifyCmd, restoreCmd, usageCmd, createBackupConfigCommand())
	return backupCmd
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	bt, err := backup.ParseBackupType(backupType)
	if err != nil {
		return err
	}
	if bt == backup.BackupTypeTransactional {
		return backup.NewValidationError("transactional backups are not taken on demand", nil)
	}

	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result := app.CreateBackup(ctx, backupTenant, bt)
	if err := newPrinter(cmd).BackupResult(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("backup of tenant %d failed", backupTenant)
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	filter, err := buildRecordFilter(time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	records, err := app.ListBackups(ctx, filter)
	if err != nil {
		return err
	}
	return newPrinter(cmd).BackupHistory(records)
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	id, err := parseBackupID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	validation, err := app.VerifyBackup(ctx, id)
	if err != nil {
		return err
	}
	if err := newPrinter(cmd).ArchiveValidation(validation); err != nil {
		return err
	}
	if !validation.Valid {
		return backup.NewIntegrityError(fmt.Sprintf("backup %d failed %d of %d checks", id, validation.Total-validation.Passed, validation.Total), nil)
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	id, err := parseBackupID(args[0])
	if err != nil {
		return err
	}
	requestedBy := restoreRequestedBy
	if requestedBy == "" {
		requestedBy = os.Getenv("USER")
	}

	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	record, err := app.GetBackup(ctx, id)
	if err != nil {
		return err
	}

	prompt := confirmation.NewConfirmationService(cmd.InOrStdin(), cmd.ErrOrStderr(), !noColor)
	ok, err := prompt.ConfirmRestore(confirmation.RestoreSummary{Record: record, RequestedBy: requestedBy}, restoreYes)
	if err != nil {
		return err
	}
	printer := newPrinter(cmd)
	if !ok {
		printer.Warning("Restore of backup %d cancelled", id)
		return nil
	}

	stats, err := app.RestoreBackup(ctx, id, requestedBy)
	if err != nil {
		return err
	}
	if printer.Structured() {
		return printer.Encode(stats)
	}
	printer.Success("Restored %d tables, %d records of tenant %d in %s",
		stats.TablesRestored, stats.RecordsRestored, record.TenantID, stats.Duration.Round(time.Millisecond))
	return nil
}

func runBackupUsage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	printer := newPrinter(cmd)
	if usageHealth {
		return printer.StorageHealth(app.StorageHealth(ctx))
	}
	report, err := app.StorageUsage(ctx)
	if err != nil {
		return err
	}
	return printer.StorageUsage(report)
}

func buildRecordFilter(now time.Time) (backup.RecordFilter, error) {
	filter := backup.RecordFilter{
		TenantID: backupTenant,
		Status:   backup.BackupStatus(listStatus),
		Limit:    listLimit,
	}
	if listType != "" {
		bt, err := backup.ParseBackupType(listType)
		if err != nil {
			return filter, err
		}
		filter.BackupType = bt
	}
	if listSince != "" {
		since, err := parseSince(listSince, now)
		if err != nil {
			return filter, err
		}
		filter.Since = since
	}
	return filter, nil
}

// parseSince accepts a date, an RFC 3339 timestamp, or an age such as 7d or 12h
func parseSince(value string, now time.Time) (time.Time, error) {
	if len(value) > 1 && value[len(value)-1] == 'd' {
		if days, err := strconv.Atoi(value[:len(value)-1]); err == nil && days >= 0 {
			return now.AddDate(0, 0, -days), nil
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, backup.NewValidationError(fmt.Sprintf("invalid --since value %q", value), nil)
}

func parseBackupID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, backup.NewValidationError(fmt.Sprintf("invalid backup id %q", value), err)
	}
	return id, nil
}
