package backup

import (
	"context"
	"fmt"
	"time"
)

// BackupType is the data-selection policy of a run
type BackupType string

const (
	BackupTypeFull          BackupType = "full"
	BackupTypeIncremental   BackupType = "incremental"
	BackupTypeTransactional BackupType = "transactional"
	BackupTypeOffline       BackupType = "offline"
)

// ParseBackupType validates a backup type name
func ParseBackupType(s string) (BackupType, error) {
	switch t := BackupType(s); t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeTransactional, BackupTypeOffline:
		return t, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown backup type %q", s), nil)
}

// BackupStatus is the state of a BackupRecord
type BackupStatus string

const (
	BackupStatusRunning    BackupStatus = "running"
	BackupStatusValidating BackupStatus = "validating"
	BackupStatusSuccess    BackupStatus = "success"
	BackupStatusFailed     BackupStatus = "failed"
)

// IsTerminal reports whether the record may no longer change
func (s BackupStatus) IsTerminal() bool {
	return s == BackupStatusSuccess || s == BackupStatusFailed
}

// Destination identifies where a backup's bytes live
type Destination string

const (
	DestinationPrimary   Destination = "primary_object_store"
	DestinationSecondary Destination = "secondary_object_store"
	DestinationOffline   Destination = "offline_medium"
)

// TriggeredBy records who fired the run
type TriggeredBy string

const (
	TriggeredByScheduled    TriggeredBy = "scheduled"
	TriggeredByManual       TriggeredBy = "manual"
	TriggeredByExternalCron TriggeredBy = "external_cron"
)

type triggerKey struct{}

// ContextWithTrigger tags ctx with who fired the current run
func ContextWithTrigger(ctx context.Context, trigger TriggeredBy) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFromContext returns the trigger set by ContextWithTrigger, or scheduled
func TriggerFromContext(ctx context.Context) TriggeredBy {
	if trigger, ok := ctx.Value(triggerKey{}).(TriggeredBy); ok && trigger != "" {
		return trigger
	}
	return TriggeredByScheduled
}

// BackupRecord is the persisted history entry of one backup run.
// Once Status is terminal the record is never edited; corrections are new records.
type BackupRecord struct {
	ID              int64           `json:"id" yaml:"id"`
	TenantID        int64           `json:"tenantId" yaml:"tenant_id"`
	BackupType      BackupType      `json:"backupType" yaml:"backup_type"`
	Status          BackupStatus    `json:"status" yaml:"status"`
	Destination     Destination     `json:"destination" yaml:"destination"`
	FilePath        string          `json:"filePath,omitempty" yaml:"file_path,omitempty"`
	FileSizeBytes   int64           `json:"fileSizeBytes" yaml:"file_size_bytes"`
	ChecksumSHA256  string          `json:"checksumSha256,omitempty" yaml:"checksum_sha256,omitempty"`
	IsEncrypted     bool            `json:"isEncrypted" yaml:"is_encrypted"`
	Compression     CompressionType `json:"compression" yaml:"compression"`
	DatabaseRecords int64           `json:"databaseRecords" yaml:"database_records"`
	TriggeredBy     TriggeredBy     `json:"triggeredBy" yaml:"triggered_by"`
	StartedAt       time.Time       `json:"startedAt" yaml:"started_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
}

// Duration returns the wall time of a completed run
func (r *BackupRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RecordCompletion carries the fields written when a record reaches a terminal state
type RecordCompletion struct {
	Status          BackupStatus
	FilePath        string
	FileSizeBytes   int64
	ChecksumSHA256  string
	IsEncrypted     bool
	Compression     CompressionType
	DatabaseRecords int64
	CompletedAt     time.Time
	ErrorMessage    string
}

// RecordFilter narrows ListRecords
type RecordFilter struct {
	TenantID   int64
	Status     BackupStatus
	BackupType BackupType
	Since      time.Time
	Limit      int
}

// BackupConfig is the per-tenant backup policy, created with defaults and edited only by administrators
type BackupConfig struct {
	TenantID              int64  `json:"tenantId" yaml:"tenant_id"`
	BackupEnabled         bool   `json:"backupEnabled" yaml:"backup_enabled"`
	EncryptionEnabled     bool   `json:"encryptionEnabled" yaml:"encryption_enabled"`
	DailyRetentionCount   int    `json:"dailyRetentionCount" yaml:"daily_retention_count"`
	WeeklyRetentionCount  int    `json:"weeklyRetentionCount" yaml:"weekly_retention_count"`
	MonthlyRetentionCount int    `json:"monthlyRetentionCount" yaml:"monthly_retention_count"`
	NotificationEmail     string `json:"notificationEmail,omitempty" yaml:"notification_email,omitempty"`
	NotifyOnSuccess       bool   `json:"notifyOnSuccess" yaml:"notify_on_success"`
	NotifyOnFailure       bool   `json:"notifyOnFailure" yaml:"notify_on_failure"`
	OfflineBackupEnabled  bool   `json:"offlineBackupEnabled" yaml:"offline_backup_enabled"`
}

// DefaultBackupConfig returns the policy a tenant gets on creation
func DefaultBackupConfig(tenantID int64) BackupConfig {
	return BackupConfig{
		TenantID:              tenantID,
		BackupEnabled:         true,
		EncryptionEnabled:     true,
		DailyRetentionCount:   30,
		WeeklyRetentionCount:  12,
		MonthlyRetentionCount: 12,
		NotifyOnSuccess:       false,
		NotifyOnFailure:       true,
		OfflineBackupEnabled:  true,
	}
}

// Validate checks the retention counts and email
func (c *BackupConfig) Validate() error {
	var errs ValidationErrors

	if c.TenantID <= 0 {
		errs.Add("tenant_id", "tenant ID must be positive", c.TenantID)
	}
	if c.DailyRetentionCount < 0 {
		errs.Add("daily_retention_count", "must not be negative", c.DailyRetentionCount)
	}
	if c.WeeklyRetentionCount < 0 {
		errs.Add("weekly_retention_count", "must not be negative", c.WeeklyRetentionCount)
	}
	if c.MonthlyRetentionCount < 0 {
		errs.Add("monthly_retention_count", "must not be negative", c.MonthlyRetentionCount)
	}
	if c.DailyRetentionCount+c.WeeklyRetentionCount+c.MonthlyRetentionCount == 0 {
		errs.Add("retention", "at least one retention count must be positive", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Tenant is the minimal tenant view the backup subsystem needs
type Tenant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BackupResult is what runBackup hands back; it never carries a panic or an escaping error
type BackupResult struct {
	Success  bool          `json:"success"`
	BackupID int64         `json:"backupId"`
	TenantID int64         `json:"tenantId"`
	Type     BackupType    `json:"type"`
	FilePath string        `json:"filePath,omitempty"`
	FileSize int64         `json:"fileSize"`
	Checksum string        `json:"checksum,omitempty"`
	Records  int64         `json:"records"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
