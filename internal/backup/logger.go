package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clinic-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditLogger writes backup operations to the application log and, when
// configured, to a JSON audit trail. Each run carries a correlation id.
type AuditLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	correlationID string
}

// AuditLoggerConfig holds configuration for audit logging
type AuditLoggerConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
}

// NewAuditLogger creates a new audit logger; an empty AuditLogFile disables the trail
func NewAuditLogger(config AuditLoggerConfig) (*AuditLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	al := &AuditLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0750); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		al.auditLogger = auditLogger
	}

	return al, nil
}

// CorrelationID returns the current correlation ID
func (al *AuditLogger) CorrelationID() string {
	return al.correlationID
}

// WithCorrelationID returns a logger sharing outputs under a different correlation ID
func (al *AuditLogger) WithCorrelationID(correlationID string) *AuditLogger {
	return &AuditLogger{
		logger:        al.logger,
		auditLogger:   al.auditLogger,
		correlationID: correlationID,
	}
}

// NewRun returns a logger with a fresh correlation ID
func (al *AuditLogger) NewRun() *AuditLogger {
	return al.WithCorrelationID(uuid.New().String())
}

// LogBackupStart logs the start of a backup and returns the completion callback
func (al *AuditLogger) LogBackupStart(ctx context.Context, tenantID int64, backupType BackupType, triggeredBy TriggeredBy) func(*BackupResult) {
	start := time.Now()

	al.logger.WithFields(map[string]interface{}{
		"correlation_id": al.correlationID,
		"operation":      "backup_create",
		"tenant_id":      tenantID,
		"backup_type":    string(backupType),
		"triggered_by":   string(triggeredBy),
	}).Debug("Backup started")

	al.audit("backup_started", map[string]interface{}{
		"tenant_id":    tenantID,
		"backup_type":  string(backupType),
		"triggered_by": string(triggeredBy),
	})

	return func(result *BackupResult) {
		fields := map[string]interface{}{
			"correlation_id": al.correlationID,
			"operation":      "backup_create",
			"tenant_id":      tenantID,
			"backup_type":    string(backupType),
			"backup_id":      result.BackupID,
			"duration":       time.Since(start).String(),
		}

		if !result.Success {
			fields["error"] = result.Error
			al.logger.WithFields(fields).Error("Backup failed")
			al.audit("backup_failed", map[string]interface{}{
				"tenant_id": tenantID,
				"backup_id": result.BackupID,
				"error":     result.Error,
			})
			return
		}

		fields["file_path"] = result.FilePath
		fields["size"] = result.FileSize
		fields["records"] = result.Records
		al.logger.WithFields(fields).Info("Backup completed")
		al.audit("backup_completed", map[string]interface{}{
			"tenant_id": tenantID,
			"backup_id": result.BackupID,
			"file_path": result.FilePath,
			"checksum":  result.Checksum,
			"size":      result.FileSize,
		})
	}
}

// LogIntegrityMismatch records an archive whose stored bytes no longer match its checksum
func (al *AuditLogger) LogIntegrityMismatch(record *BackupRecord, reason string) {
	al.logger.WithFields(map[string]interface{}{
		"correlation_id": al.correlationID,
		"operation":      "integrity_check",
		"backup_id":      record.ID,
		"tenant_id":      record.TenantID,
		"reason":         reason,
	}).Error("Backup integrity check failed")

	al.audit("integrity_mismatch", map[string]interface{}{
		"backup_id": record.ID,
		"tenant_id": record.TenantID,
		"file_path": record.FilePath,
		"reason":    reason,
	})
}

// LogRestoreTest records the outcome of a restore test
func (al *AuditLogger) LogRestoreTest(result *RestoreTestResult) {
	fields := map[string]interface{}{
		"correlation_id": al.correlationID,
		"operation":      "restore_test",
		"tenants":        len(result.Tenants),
		"passed":         result.Summary.PassedValidations,
		"total":          result.Summary.TotalValidations,
	}

	if result.Success {
		al.logger.WithFields(fields).Info("Restore test passed")
	} else {
		al.logger.WithFields(fields).Error("Restore test failed")
	}

	al.audit("restore_test_completed", map[string]interface{}{
		"success": result.Success,
		"passed":  result.Summary.PassedValidations,
		"total":   result.Summary.TotalValidations,
	})
}

// LogRetentionDeleted records a record pruned by the retention cleaner
func (al *AuditLogger) LogRetentionDeleted(record *BackupRecord, reason string) {
	al.logger.WithFields(map[string]interface{}{
		"correlation_id": al.correlationID,
		"operation":      "retention_cleanup",
		"backup_id":      record.ID,
		"tenant_id":      record.TenantID,
		"reason":         reason,
	}).Debug("Backup deleted by retention policy")

	al.audit("retention_deleted", map[string]interface{}{
		"backup_id": record.ID,
		"tenant_id": record.TenantID,
		"status":    string(record.Status),
		"file_path": record.FilePath,
		"reason":    reason,
	})
}

// LogRestore records an administrative restore
func (al *AuditLogger) LogRestore(record *BackupRecord, requestedBy string, stats *RestoreStats, err error) {
	details := map[string]interface{}{
		"backup_id":    record.ID,
		"tenant_id":    record.TenantID,
		"requested_by": requestedBy,
	}
	if stats != nil {
		details["tables"] = stats.TablesRestored
		details["records"] = stats.RecordsRestored
	}

	entry := al.logger.WithFields(details).WithField("correlation_id", al.correlationID)
	if err != nil {
		details["error"] = err.Error()
		entry.WithField("error", err.Error()).Error("Restore failed")
		al.audit("restore_failed", details)
		return
	}

	entry.Warn("Tenant data restored from backup")
	al.audit("restore_completed", details)
}

func (al *AuditLogger) audit(action string, details map[string]interface{}) {
	if al.auditLogger == nil {
		return
	}

	al.auditLogger.WithFields(logrus.Fields{
		"correlation_id": al.correlationID,
		"action":         action,
		"details":        details,
	}).Info("Audit log entry")
}
