package display

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/config"
	"clinic-backup/internal/scheduler"
)

const timeLayout = "2006-01-02 15:04"

// TaskStatus prints every registered task with its schedule and last run
func (p *Printer) TaskStatus(status scheduler.Status) error {
	if p.Structured() {
		return p.Encode(status)
	}

	state := "not initialized"
	if status.Initialized {
		state = "initialized"
	}
	p.Title(fmt.Sprintf("Scheduler (%s, %s)", state, status.Timezone))

	t := p.Table("TASK", "SCHEDULE", "LAST STATUS", "LAST RUN", "DURATION", "NEXT RUN", "RUNS", "FAILED")
	t.SetColumnAlignment(6, AlignRight)
	t.SetColumnAlignment(7, AlignRight)
	for _, task := range status.Tasks {
		schedule := task.Schedule
		if !task.Scheduled {
			schedule += " (off)"
		}
		lastStatus := string(task.LastStatus)
		if task.Running {
			lastStatus = "running"
		}
		t.AddRow([]string{
			task.Name,
			schedule,
			p.Status(lastStatus),
			formatTime(task.LastRun),
			formatDuration(task.LastDuration),
			formatTime(task.NextRun),
			strconv.Itoa(task.RunCount),
			strconv.Itoa(task.FailureCount),
		})
	}
	p.Render(t)
	return nil
}

// TaskResult prints the outcome of one task run
func (p *Printer) TaskResult(result *scheduler.Result) error {
	if p.Structured() {
		return p.Encode(result)
	}

	if result.Success {
		p.Success("%s finished in %s", result.TaskName, formatDuration(result.Duration))
	} else {
		p.Error("%s failed after %s: %s", result.TaskName, formatDuration(result.Duration), result.Error)
	}
	if len(result.Details) == 0 {
		return nil
	}

	keys := make([]string, 0, len(result.Details))
	for k := range result.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := p.Table("DETAIL", "VALUE")
	for _, k := range keys {
		t.AddRow([]string{k, fmt.Sprint(result.Details[k])})
	}
	p.Render(t)
	return nil
}

// TaskHistory prints persisted runs newest first
func (p *Printer) TaskHistory(runs []scheduler.Result) error {
	if p.Structured() {
		return p.Encode(runs)
	}
	if len(runs) == 0 {
		p.Info("No recorded runs")
		return nil
	}

	t := p.Table("TASK", "TRIGGER", "STATUS", "STARTED", "DURATION", "ERROR")
	for _, r := range runs {
		status := "success"
		if !r.Success {
			status = "failed"
		}
		t.AddRow([]string{
			r.TaskName,
			string(r.Trigger),
			p.Status(status),
			r.StartedAt.Format(timeLayout),
			formatDuration(r.Duration),
			r.Error,
		})
	}
	p.Render(t)
	return nil
}

// BackupHistory prints backup records newest first
func (p *Printer) BackupHistory(records []*backup.BackupRecord) error {
	if p.Structured() {
		return p.Encode(records)
	}
	if len(records) == 0 {
		p.Info("No backups found")
		return nil
	}

	t := p.Table("ID", "TENANT", "TYPE", "STATUS", "DESTINATION", "SIZE", "RECORDS", "ENC", "STARTED", "DURATION")
	t.SetColumnAlignment(0, AlignRight)
	t.SetColumnAlignment(1, AlignRight)
	t.SetColumnAlignment(5, AlignRight)
	t.SetColumnAlignment(6, AlignRight)
	for _, r := range records {
		t.AddRow([]string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.TenantID, 10),
			string(r.BackupType),
			p.Status(string(r.Status)),
			string(r.Destination),
			FormatBytes(r.FileSizeBytes),
			strconv.FormatInt(r.DatabaseRecords, 10),
			yesNo(r.IsEncrypted),
			r.StartedAt.Format(timeLayout),
			formatDuration(r.Duration()),
		})
	}
	p.Render(t)
	return nil
}

// BackupResult prints the outcome of a manual backup
func (p *Printer) BackupResult(result *backup.BackupResult) error {
	if p.Structured() {
		return p.Encode(result)
	}
	if !result.Success {
		p.Error("Backup of tenant %d failed: %s", result.TenantID, result.Error)
		return nil
	}
	p.Success("Backup %d of tenant %d: %s, %d records, %s in %s",
		result.BackupID, result.TenantID, result.Type, result.Records,
		FormatBytes(result.FileSize), formatDuration(result.Duration))
	if result.FilePath != "" {
		p.Info("Stored at %s", result.FilePath)
	}
	return nil
}

// ArchiveValidation prints the restore checklist of one archive
func (p *Printer) ArchiveValidation(v *backup.ArchiveValidation) error {
	if p.Structured() {
		return p.Encode(v)
	}

	if v.Valid {
		p.Success("Backup %d of tenant %d passed %d/%d checks", v.BackupID, v.TenantID, v.Passed, v.Total)
	} else {
		p.Error("Backup %d of tenant %d passed %d/%d checks", v.BackupID, v.TenantID, v.Passed, v.Total)
	}

	t := p.Table("CHECK", "RESULT", "MESSAGE")
	for _, c := range v.Checks {
		result := "success"
		if !c.Passed {
			result = "failed"
		}
		t.AddRow([]string{c.Name, p.Status(result), c.Message})
	}
	p.Render(t)
	return nil
}

// BackupConfig prints a tenant's backup settings
func (p *Printer) BackupConfig(cfg backup.BackupConfig) error {
	if p.Structured() {
		return p.Encode(cfg)
	}
	p.Title(fmt.Sprintf("Backup configuration for tenant %d", cfg.TenantID))
	t := p.Table("SETTING", "VALUE")
	t.AddRow([]string{"backup_enabled", yesNo(cfg.BackupEnabled)})
	t.AddRow([]string{"encryption_enabled", yesNo(cfg.EncryptionEnabled)})
	t.AddRow([]string{"daily_retention_count", strconv.Itoa(cfg.DailyRetentionCount)})
	t.AddRow([]string{"weekly_retention_count", strconv.Itoa(cfg.WeeklyRetentionCount)})
	t.AddRow([]string{"monthly_retention_count", strconv.Itoa(cfg.MonthlyRetentionCount)})
	t.AddRow([]string{"notification_email", cfg.NotificationEmail})
	t.AddRow([]string{"notify_on_success", yesNo(cfg.NotifyOnSuccess)})
	t.AddRow([]string{"notify_on_failure", yesNo(cfg.NotifyOnFailure)})
	t.AddRow([]string{"offline_backup_enabled", yesNo(cfg.OfflineBackupEnabled)})
	p.Render(t)
	return nil
}

// StorageUsage prints per-tenant and per-destination usage
func (p *Printer) StorageUsage(report *backup.StorageUsageReport) error {
	if p.Structured() {
		return p.Encode(report)
	}

	p.Title(fmt.Sprintf("Storage usage: %d backups, %s (%d encrypted)",
		report.TotalBackups, FormatBytes(report.TotalSize), report.EncryptedBackups))

	tenants := p.Table("TENANT", "BACKUPS", "SIZE", "OLDEST", "NEWEST")
	tenants.SetColumnAlignment(1, AlignRight)
	tenants.SetColumnAlignment(2, AlignRight)
	for _, u := range report.TenantsBySize() {
		tenants.AddRow([]string{
			strconv.FormatInt(u.TenantID, 10),
			strconv.Itoa(u.BackupCount),
			FormatBytes(u.TotalSize),
			u.OldestBackup.Format(timeLayout),
			u.NewestBackup.Format(timeLayout),
		})
	}
	p.Render(tenants)

	dests := make([]string, 0, len(report.StorageByDestination))
	for d := range report.StorageByDestination {
		dests = append(dests, string(d))
	}
	sort.Strings(dests)

	byDest := p.Table("DESTINATION", "BACKUPS", "SIZE")
	for _, d := range dests {
		u := report.StorageByDestination[backup.Destination(d)]
		byDest.AddRow([]string{d, strconv.Itoa(u.BackupCount), FormatBytes(u.TotalSize)})
	}
	p.Render(byDest)
	return nil
}

// StorageHealth prints the reachability of each store
func (p *Printer) StorageHealth(report *backup.StorageHealthReport) error {
	if p.Structured() {
		return p.Encode(report)
	}

	p.Title("Storage health: " + p.Status(report.OverallHealth))
	names := make([]string, 0, len(report.ProviderHealth))
	for name := range report.ProviderHealth {
		names = append(names, name)
	}
	sort.Strings(names)

	t := p.Table("STORE", "STATUS", "RESPONSE", "ISSUES")
	for _, name := range names {
		h := report.ProviderHealth[name]
		issues := ""
		if len(h.Issues) > 0 {
			issues = h.Issues[0]
		}
		t.AddRow([]string{name, p.Status(h.Status), formatDuration(h.ResponseTime), issues})
	}
	p.Render(t)
	return nil
}

// Preflight prints the configuration check
func (p *Printer) Preflight(result *config.PreflightResult) error {
	if p.Structured() {
		return p.Encode(result)
	}

	if result.Ready {
		p.Success("Configuration ready (%s mode, %s)", result.Mode, result.Timezone)
	} else {
		p.Error("Configuration not ready (%s mode, %s)", result.Mode, result.Timezone)
	}

	names := make([]string, 0, len(result.Schedules))
	for name := range result.Schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	t := p.Table("TASK", "SCHEDULE")
	for _, name := range names {
		t.AddRow([]string{name, result.Schedules[name]})
	}
	p.Render(t)

	for _, msg := range result.Errors {
		p.Error("%s", msg)
	}
	for _, msg := range result.Warnings {
		p.Warning("%s", msg)
	}
	for _, fix := range result.RecommendedFixes {
		p.Info("%s", fix)
	}
	return nil
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
