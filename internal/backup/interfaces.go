package backup

import (
	"context"
	"time"
)

// RecordStore persists BackupRecords. Records are appended and pruned; a terminal
// record is never updated.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *BackupRecord) (int64, error)
	CompleteRecord(ctx context.Context, id int64, completion RecordCompletion) error
	GetRecord(ctx context.Context, id int64) (*BackupRecord, error)
	// ListRecords returns matching records newest first
	ListRecords(ctx context.Context, filter RecordFilter) ([]*BackupRecord, error)
	// LastSuccessful returns a NotFound error when the tenant has no successful backup of the given types
	LastSuccessful(ctx context.Context, tenantID int64, types ...BackupType) (*BackupRecord, error)
	DeleteRecord(ctx context.Context, id int64) error
}

// ConfigStore reads and writes per-tenant BackupConfig
type ConfigStore interface {
	// GetConfig returns DefaultBackupConfig when the tenant has no row yet
	GetConfig(ctx context.Context, tenantID int64) (BackupConfig, error)
	UpsertConfig(ctx context.Context, config BackupConfig) error
}

// TenantSource gives read access to tenant data
type TenantSource interface {
	// ListActiveTenants returns active tenants whose backups are enabled
	ListActiveTenants(ctx context.Context) ([]Tenant, error)

	// SnapshotTenant reads every tenant-scoped table. A non-nil since limits
	// rows to those changed after it.
	SnapshotTenant(ctx context.Context, tenantID int64, since *time.Time) (map[string]TableSnapshot, error)
}

// RestoreTarget replaces a tenant's rows with a snapshot in one transaction
type RestoreTarget interface {
	ReplaceTenantData(ctx context.Context, tenantID int64, tables map[string]TableSnapshot) (*RestoreStats, error)
}

// ObjectStore is the opaque blob service backups are written to
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// Notifier delivers a report to the notification collaborator
type Notifier interface {
	Send(ctx context.Context, report Report) (bool, error)
}

// Repository is the persistence collaborator the engine and sweeps depend on
type Repository interface {
	RecordStore
	ConfigStore
}
