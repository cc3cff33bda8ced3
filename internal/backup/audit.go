package backup

import (
	"context"
	"fmt"
	"time"

	"clinic-backup/internal/logging"
)

// TenantReport is one tenant's backup history for a reporting period
type TenantReport struct {
	TenantID        int64      `json:"tenantId"`
	TenantName      string     `json:"tenantName"`
	PeriodStart     time.Time  `json:"periodStart"`
	PeriodEnd       time.Time  `json:"periodEnd"`
	TotalBackups    int        `json:"totalBackups"`
	Successful      int        `json:"successful"`
	Failed          int        `json:"failed"`
	SuccessRate     float64    `json:"successRate"`
	EncryptionRate  float64    `json:"encryptionRate"`
	TotalBytes      int64      `json:"totalBytes"`
	LastBackupAt    *time.Time `json:"lastBackupAt,omitempty"`
	LastBackupState string     `json:"lastBackupStatus,omitempty"`
}

// MonthlyReportResult aggregates the reports sent by one run
type MonthlyReportResult struct {
	Period        string           `json:"period"`
	Reports       []*TenantReport  `json:"reports"`
	Delivered     int              `json:"delivered"`
	TenantsFailed int              `json:"tenantsFailed"`
	Errors        map[int64]string `json:"errors,omitempty"`
}

// AuditReporter builds the monthly per-tenant audit report and forwards
// task outcomes to the notification collaborator
type AuditReporter struct {
	repo     Repository
	tenants  TenantSource
	notifier Notifier
	logger   *logging.Logger
	location *time.Location
	now      func() time.Time
}

// NewAuditReporter creates an audit reporter; periods are computed in location
func NewAuditReporter(repo Repository, tenants TenantSource, notifier Notifier, logger *logging.Logger, location *time.Location) *AuditReporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if location == nil {
		location = time.UTC
	}
	return &AuditReporter{
		repo:     repo,
		tenants:  tenants,
		notifier: notifier,
		logger:   logger,
		location: location,
		now:      time.Now,
	}
}

// PreviousMonth returns [start, end) of the calendar month before now
func (ar *AuditReporter) PreviousMonth() (time.Time, time.Time) {
	now := ar.now().In(ar.location)
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, ar.location)
	return end.AddDate(0, -1, 0), end
}

// MonthlyReport reports last month's backups for every active tenant
func (ar *AuditReporter) MonthlyReport(ctx context.Context) (*MonthlyReportResult, error) {
	start, end := ar.PreviousMonth()

	tenants, err := ar.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants", err)
	}

	result := &MonthlyReportResult{
		Period:  start.Format("2006-01"),
		Reports: make([]*TenantReport, 0, len(tenants)),
		Errors:  make(map[int64]string),
	}

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report, err := ar.TenantReport(ctx, tenant, start, end)
		if err != nil {
			result.TenantsFailed++
			result.Errors[tenant.ID] = err.Error()
			ar.logger.LogTenantOutcome(ctx, tenant.ID, "monthly_report", err)
			continue
		}
		result.Reports = append(result.Reports, report)

		if ar.send(ctx, report) {
			result.Delivered++
		}
	}

	return result, nil
}

// TenantReport computes one tenant's statistics for [start, end)
func (ar *AuditReporter) TenantReport(ctx context.Context, tenant Tenant, start, end time.Time) (*TenantReport, error) {
	records, err := ar.repo.ListRecords(ctx, RecordFilter{TenantID: tenant.ID, Since: start})
	if err != nil {
		return nil, NewDatabaseError("failed to list backup records", err)
	}

	report := &TenantReport{
		TenantID:    tenant.ID,
		TenantName:  tenant.Name,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	encrypted := 0
	for _, record := range records {
		if record.StartedAt.Before(start) || !record.StartedAt.Before(end) {
			continue
		}
		if !record.Status.IsTerminal() {
			continue
		}

		report.TotalBackups++
		if record.Status == BackupStatusSuccess {
			report.Successful++
			report.TotalBytes += record.FileSizeBytes
			if record.IsEncrypted {
				encrypted++
			}
		} else {
			report.Failed++
		}

		if report.LastBackupAt == nil || record.StartedAt.After(*report.LastBackupAt) {
			at := record.StartedAt
			report.LastBackupAt = &at
			report.LastBackupState = string(record.Status)
		}
	}

	if report.TotalBackups > 0 {
		report.SuccessRate = float64(report.Successful) / float64(report.TotalBackups) * 100
	}
	if report.Successful > 0 {
		report.EncryptionRate = float64(encrypted) / float64(report.Successful) * 100
	}

	return report, nil
}

func (ar *AuditReporter) send(ctx context.Context, report *TenantReport) bool {
	if ar.notifier == nil {
		return false
	}

	recipient := ""
	if config, err := ar.repo.GetConfig(ctx, report.TenantID); err == nil {
		recipient = config.NotificationEmail
	}

	delivered, err := ar.notifier.Send(ctx, Report{
		Success:   report.Failed == 0,
		TenantID:  report.TenantID,
		FileSize:  report.TotalBytes,
		Timestamp: ar.now(),
		Kind:      ReportKindMonthlyReport,
		Severity:  SeverityInfo,
		Title:     fmt.Sprintf("Monthly backup report %s", report.PeriodStart.Format("January 2006")),
		Recipient: recipient,
		Details: map[string]interface{}{
			"totalBackups":   report.TotalBackups,
			"successful":     report.Successful,
			"failed":         report.Failed,
			"successRate":    fmt.Sprintf("%.1f%%", report.SuccessRate),
			"encryptionRate": fmt.Sprintf("%.1f%%", report.EncryptionRate),
			"totalBytes":     report.TotalBytes,
			"lastBackup":     report.LastBackupAt,
		},
	})
	if err != nil {
		ar.logger.WithFields(map[string]interface{}{
			"tenant_id": report.TenantID,
			"error":     err.Error(),
		}).Warn("Monthly report not delivered")
	}
	return delivered
}

// NotifyTaskOutcome tells operators that a scheduled task failed. Successful
// runs are only logged.
func (ar *AuditReporter) NotifyTaskOutcome(ctx context.Context, task string, details map[string]interface{}, taskErr error) {
	if taskErr == nil || ar.notifier == nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	if _, err := ar.notifier.Send(sendCtx, Report{
		Success:      false,
		Timestamp:    ar.now(),
		Kind:         ReportKindTask,
		Severity:     SeverityWarning,
		Title:        fmt.Sprintf("Scheduled task %s failed", task),
		ErrorMessage: taskErr.Error(),
		Details:      details,
	}); err != nil {
		ar.logger.WithFields(map[string]interface{}{
			"task":  task,
			"error": err.Error(),
		}).Warn("Task failure notification not delivered")
	}
}
