package backup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"clinic-backup/internal/logging"
)

const archiveContentType = "application/octet-stream"

// completionTimeout bounds the final record write after the run context expired
const completionTimeout = 30 * time.Second

// ManagerConfig holds the engine settings that do not come from a tenant's BackupConfig
type ManagerConfig struct {
	SystemSecret   string
	ProductVersion string
	BackupTimeout  time.Duration
}

// ManagerDeps are the collaborators the engine runs against
type ManagerDeps struct {
	Repository Repository
	Tenants    TenantSource
	Restorer   RestoreTarget
	Stores     Stores
	Codec      *Codec
	Notifier   Notifier
	Audit      *AuditLogger
	Logger     *logging.Logger
}

// Stores maps a record destination to the store holding its bytes
type Stores struct {
	Primary ObjectStore
	Offline ObjectStore
}

// For returns the store for a destination. Secondary copies mirror primary keys.
func (s Stores) For(destination Destination) (ObjectStore, error) {
	switch destination {
	case DestinationOffline:
		if s.Offline == nil {
			return nil, NewConfigurationError("offline medium is not configured", nil)
		}
		return s.Offline, nil
	default:
		if s.Primary == nil {
			return nil, NewConfigurationError("primary object store is not configured", nil)
		}
		return s.Primary, nil
	}
}

// Manager is the backup engine: it snapshots one tenant, seals the payload,
// uploads it and records the outcome.
type Manager struct {
	repo         Repository
	tenants      TenantSource
	restorer     RestoreTarget
	stores       Stores
	codec        *Codec
	offlineCodec *Codec
	notifier     Notifier
	audit        *AuditLogger
	logger       *logging.Logger
	config       ManagerConfig

	tenantMu sync.Mutex
	running  map[int64]bool

	now func() time.Time
}

// NewManager creates a backup engine
func NewManager(deps ManagerDeps, config ManagerConfig) (*Manager, error) {
	if deps.Repository == nil {
		return nil, NewConfigurationError("backup repository is required", nil)
	}
	if deps.Tenants == nil {
		return nil, NewConfigurationError("tenant source is required", nil)
	}
	if deps.Stores.Primary == nil {
		return nil, NewConfigurationError("primary object store is required", nil)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	codec := deps.Codec
	if codec == nil {
		codec = NewCodec(CompressionTypeGzip, 0, DefaultKDFIterations)
	}

	audit := deps.Audit
	if audit == nil {
		audit, _ = NewAuditLogger(AuditLoggerConfig{Logger: logger})
	}

	if config.ProductVersion == "" {
		config.ProductVersion = "dev"
	}

	return &Manager{
		repo:         deps.Repository,
		tenants:      deps.Tenants,
		restorer:     deps.Restorer,
		stores:       deps.Stores,
		codec:        codec,
		offlineCodec: NewCodec(CompressionTypeGzip, 0, DefaultKDFIterations),
		notifier:     deps.Notifier,
		audit:        audit,
		logger:       logger,
		config:       config,
		running:      make(map[int64]bool),
		now:          time.Now,
	}, nil
}

// RunBackup snapshots one tenant. It never returns an error or panics: every
// failure is recorded on the BackupRecord and reflected in the result.
func (m *Manager) RunBackup(ctx context.Context, tenantID int64, backupType BackupType, triggeredBy TriggeredBy) *BackupResult {
	start := m.now()
	result := &BackupResult{TenantID: tenantID, Type: backupType}

	if !m.lockTenant(tenantID) {
		result.Error = NewConflictError(fmt.Sprintf("a backup of tenant %d is already running", tenantID), nil).Error()
		m.logger.LogTenantOutcome(ctx, tenantID, "backup", errors.New(result.Error))
		return result
	}
	defer m.unlockTenant(tenantID)

	audit := m.audit.NewRun()
	finish := audit.LogBackupStart(ctx, tenantID, backupType, triggeredBy)

	if m.config.BackupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.BackupTimeout)
		defer cancel()
	}

	destination := DestinationPrimary
	if backupType == BackupTypeOffline {
		destination = DestinationOffline
	}

	record := &BackupRecord{
		TenantID:    tenantID,
		BackupType:  backupType,
		Status:      BackupStatusRunning,
		Destination: destination,
		TriggeredBy: triggeredBy,
		StartedAt:   start,
	}

	id, err := m.repo.CreateRecord(ctx, record)
	if err != nil {
		result.Error = NewDatabaseError("failed to create backup record", err).Error()
		result.Duration = m.now().Sub(start)
		finish(result)
		observeBackup(result, triggeredBy)
		return result
	}
	record.ID = id
	result.BackupID = id

	config, cfgErr := m.repo.GetConfig(ctx, tenantID)
	if cfgErr != nil {
		config = DefaultBackupConfig(tenantID)
	}

	completion, runErr := m.execute(ctx, record, config)
	if runErr == nil && cfgErr != nil {
		m.logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"error":     cfgErr.Error(),
		}).Warn("Backup config unavailable, used defaults")
	}

	completion.CompletedAt = m.now()
	if runErr != nil {
		completion.Status = BackupStatusFailed
		completion.ErrorMessage = runErr.Error()
	} else {
		completion.Status = BackupStatusSuccess
	}

	// The run context may already be expired; the terminal write must still happen
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()
	if err := m.repo.CompleteRecord(writeCtx, id, completion); err != nil {
		m.logger.WithFields(map[string]interface{}{
			"backup_id": id,
			"tenant_id": tenantID,
			"error":     err.Error(),
		}).Error("Failed to finalize backup record")
		if runErr == nil {
			runErr = NewDatabaseError("failed to finalize backup record", err)
		}
	}

	result.Success = runErr == nil
	result.Duration = completion.CompletedAt.Sub(start)
	if runErr != nil {
		result.Error = runErr.Error()
	} else {
		result.FilePath = completion.FilePath
		result.FileSize = completion.FileSizeBytes
		result.Checksum = completion.ChecksumSHA256
		result.Records = completion.DatabaseRecords
	}

	finish(result)
	observeBackup(result, triggeredBy)
	m.notifyBackup(writeCtx, config, result)

	return result
}

// execute runs snapshot, seal and upload. A panic becomes an error.
func (m *Manager) execute(ctx context.Context, record *BackupRecord, config BackupConfig) (completion RecordCompletion, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(map[string]interface{}{
				"tenant_id": record.TenantID,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			}).Error("Backup panicked")
			err = NewBackupError(BackupErrorTypeStorage, fmt.Sprintf("backup panicked: %v", r), nil)
		}
	}()

	since, err := m.selectionSince(ctx, record)
	if err != nil {
		return completion, err
	}

	tables, err := m.tenants.SnapshotTenant(ctx, record.TenantID, since)
	if err != nil {
		return completion, wrapContextError(ctx, NewDatabaseError("failed to read tenant data", err))
	}

	payload := NewPayload(record.TenantID, record.BackupType, tables, m.config.ProductVersion, record.StartedAt, since)
	if record.BackupType == BackupTypeOffline {
		payload.RestoreInstructions = RestoreInstructions
	}

	plain, err := payload.Marshal()
	if err != nil {
		return completion, err
	}

	codec := m.codec
	password := ""
	if record.BackupType == BackupTypeOffline {
		codec = m.offlineCodec
	} else if config.EncryptionEnabled {
		if m.config.SystemSecret == "" {
			return completion, NewConfigurationError("encryption is enabled but no backup system secret is configured", nil)
		}
		password = TenantPassword(m.config.SystemSecret, record.TenantID)
	}

	archive, err := codec.Seal(plain, password)
	if err != nil {
		return completion, err
	}

	if err := ctx.Err(); err != nil {
		return completion, wrapContextError(ctx, err)
	}

	store, err := m.stores.For(record.Destination)
	if err != nil {
		return completion, err
	}

	key := BuildKey(record.TenantID, record.BackupType, record.StartedAt, KeySuffix(archive.Compression, archive.Encrypted))
	if _, err := store.Put(ctx, key, archive.Data, archiveContentType); err != nil {
		return completion, wrapContextError(ctx, err)
	}

	return RecordCompletion{
		FilePath:        key,
		FileSizeBytes:   int64(len(archive.Data)),
		ChecksumSHA256:  archive.Checksum,
		IsEncrypted:     archive.Encrypted,
		Compression:     archive.Compression,
		DatabaseRecords: payload.Metadata.TotalRecords,
	}, nil
}

// selectionSince returns the change cutoff for incremental runs, nil for full snapshots.
// An incremental run with no previous success falls back to a full snapshot.
func (m *Manager) selectionSince(ctx context.Context, record *BackupRecord) (*time.Time, error) {
	if record.BackupType != BackupTypeIncremental {
		return nil, nil
	}

	last, err := m.repo.LastSuccessful(ctx, record.TenantID, BackupTypeFull, BackupTypeIncremental)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, NewDatabaseError("failed to look up last successful backup", err)
	}
	if last == nil {
		return nil, nil
	}

	since := last.StartedAt
	return &since, nil
}

func (m *Manager) notifyBackup(ctx context.Context, config BackupConfig, result *BackupResult) {
	if m.notifier == nil {
		return
	}
	if result.Success && !config.NotifyOnSuccess {
		return
	}
	if !result.Success && !config.NotifyOnFailure {
		return
	}

	severity := SeverityInfo
	if !result.Success {
		severity = SeverityWarning
	}

	report := Report{
		Success:      result.Success,
		BackupType:   result.Type,
		TenantID:     result.TenantID,
		FileSize:     result.FileSize,
		ErrorMessage: result.Error,
		Timestamp:    m.now(),
		Kind:         ReportKindBackup,
		Severity:     severity,
		Recipient:    config.NotificationEmail,
	}

	if _, err := m.notifier.Send(ctx, report); err != nil {
		m.logger.WithFields(map[string]interface{}{
			"tenant_id": result.TenantID,
			"error":     err.Error(),
		}).Warn("Backup notification not delivered")
	}
}

// Download fetches the stored bytes of a record
func (m *Manager) Download(ctx context.Context, record *BackupRecord) ([]byte, error) {
	if record.FilePath == "" {
		return nil, NewValidationError(fmt.Sprintf("backup %d has no stored archive", record.ID), nil)
	}

	store, err := m.stores.For(record.Destination)
	if err != nil {
		return nil, err
	}

	return store.Get(ctx, record.FilePath)
}

// OpenArchive reverses the seal applied to a record's stored bytes
func (m *Manager) OpenArchive(record *BackupRecord, data []byte) ([]byte, error) {
	password := ""
	if record.IsEncrypted {
		if m.config.SystemSecret == "" {
			return nil, NewConfigurationError("archive is encrypted but no backup system secret is configured", nil)
		}
		password = TenantPassword(m.config.SystemSecret, record.TenantID)
	}

	compression := record.Compression
	if compression == "" {
		compression = CompressionFromKey(record.FilePath)
	}

	return m.codec.Open(data, password, record.IsEncrypted, compression)
}

// Repository returns the persistence collaborator
func (m *Manager) Repository() Repository {
	return m.repo
}

func (m *Manager) lockTenant(tenantID int64) bool {
	m.tenantMu.Lock()
	defer m.tenantMu.Unlock()
	if m.running[tenantID] {
		return false
	}
	m.running[tenantID] = true
	return true
}

func (m *Manager) unlockTenant(tenantID int64) {
	m.tenantMu.Lock()
	delete(m.running, tenantID)
	m.tenantMu.Unlock()
}

// BuildKey returns backup/tenant_{id}/{type}_{timestamp}{suffix}. The timestamp
// is ISO-8601 UTC with ':' and '.' replaced so the key is path safe.
func BuildKey(tenantID int64, backupType BackupType, at time.Time, suffix string) string {
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("backup/tenant_%d/%s_%s%s", tenantID, backupType, stamp, suffix)
}

// wrapContextError turns a deadline into a TIMEOUT error so the record says why it failed
func wrapContextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError("backup exceeded its time limit", err)
	}
	return err
}
