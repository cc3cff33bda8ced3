package backup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinic-backup/internal/logging"
)

// DefaultFailedGraceWindow is how long failed records are kept for debugging
const DefaultFailedGraceWindow = 24 * time.Hour

// LeaseRegistry marks records that are in use and must not be deleted, and
// records retention is deleting so they cannot be leased
type LeaseRegistry struct {
	mu       sync.Mutex
	leases   map[int64]int
	deleting map[int64]bool
}

// NewLeaseRegistry creates an empty registry
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{leases: make(map[int64]int), deleting: make(map[int64]bool)}
}

// Acquire takes a lease on recordID; call the returned func to release it.
// It fails while retention is deleting the record.
func (lr *LeaseRegistry) Acquire(recordID int64) (func(), bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.deleting[recordID] {
		return func() {}, false
	}
	lr.leases[recordID]++

	var once sync.Once
	return func() {
		once.Do(func() {
			lr.mu.Lock()
			defer lr.mu.Unlock()
			if lr.leases[recordID] <= 1 {
				delete(lr.leases, recordID)
			} else {
				lr.leases[recordID]--
			}
		})
	}, true
}

// BeginDelete claims recordID for deletion unless a lease is outstanding.
// Call the returned func once the record and its blob are gone.
func (lr *LeaseRegistry) BeginDelete(recordID int64) (func(), bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.leases[recordID] > 0 || lr.deleting[recordID] {
		return func() {}, false
	}
	lr.deleting[recordID] = true

	return func() {
		lr.mu.Lock()
		defer lr.mu.Unlock()
		delete(lr.deleting, recordID)
	}, true
}

// Held reports whether any lease is outstanding for recordID
func (lr *LeaseRegistry) Held(recordID int64) bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.leases[recordID] > 0
}

// RetentionConfig defines system-wide retention behavior
type RetentionConfig struct {
	FailedGraceWindow time.Duration `mapstructure:"failed_grace_window" yaml:"failed_grace_window"`
	Location          *time.Location `mapstructure:"-" yaml:"-"`
}

// CleanupResult summarizes one retention sweep
type CleanupResult struct {
	DeletedCount     int              `json:"deletedCount"`
	DeferredCount    int              `json:"deferredCount"`
	FreedBytes       int64            `json:"freedBytes"`
	TenantsProcessed int              `json:"tenantsProcessed"`
	TenantsFailed    int              `json:"tenantsFailed"`
	Errors           map[int64]string `json:"errors,omitempty"`
}

// RetentionManager prunes BackupRecords and their blobs per tenant policy
type RetentionManager struct {
	repo    Repository
	tenants TenantSource
	stores  Stores
	leases  *LeaseRegistry
	audit   *AuditLogger
	logger  *logging.Logger
	config  RetentionConfig
	now     func() time.Time
}

// NewRetentionManager creates a retention manager
func NewRetentionManager(repo Repository, tenants TenantSource, stores Stores, leases *LeaseRegistry, audit *AuditLogger, logger *logging.Logger, config RetentionConfig) *RetentionManager {
	if config.FailedGraceWindow <= 0 {
		config.FailedGraceWindow = DefaultFailedGraceWindow
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if leases == nil {
		leases = NewLeaseRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if audit == nil {
		audit, _ = NewAuditLogger(AuditLoggerConfig{Logger: logger})
	}

	return &RetentionManager{
		repo:    repo,
		tenants: tenants,
		stores:  stores,
		leases:  leases,
		audit:   audit,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Cleanup applies every active tenant's retention policy. One tenant's failure
// does not stop the others.
func (rm *RetentionManager) Cleanup(ctx context.Context) (*CleanupResult, error) {
	tenants, err := rm.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants", err)
	}

	result := &CleanupResult{Errors: make(map[int64]string)}
	audit := rm.audit.NewRun()

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, deferred, freed, err := rm.cleanupTenant(ctx, tenant.ID, audit)
		result.DeletedCount += deleted
		result.DeferredCount += deferred
		result.FreedBytes += freed
		result.TenantsProcessed++
		rm.logger.LogTenantOutcome(ctx, tenant.ID, "retention_cleanup", err)

		if err != nil {
			result.TenantsFailed++
			result.Errors[tenant.ID] = err.Error()
		}
	}

	retentionDeletedTotal.Add(float64(result.DeletedCount))
	retentionDeferredTotal.Add(float64(result.DeferredCount))

	return result, nil
}

// CleanupTenant applies one tenant's retention policy and returns the number of records deleted
func (rm *RetentionManager) CleanupTenant(ctx context.Context, tenantID int64) (int, error) {
	deleted, _, _, err := rm.cleanupTenant(ctx, tenantID, rm.audit.NewRun())
	return deleted, err
}

func (rm *RetentionManager) cleanupTenant(ctx context.Context, tenantID int64, audit *AuditLogger) (deleted, deferred int, freed int64, err error) {
	config, err := rm.repo.GetConfig(ctx, tenantID)
	if err != nil {
		return 0, 0, 0, NewDatabaseError("failed to load backup config", err)
	}

	records, err := rm.repo.ListRecords(ctx, RecordFilter{TenantID: tenantID})
	if err != nil {
		return 0, 0, 0, NewDatabaseError("failed to list backup records", err)
	}

	candidates := rm.deletionCandidates(records, config)

	var firstErr error
	for _, c := range candidates {
		done, ok := rm.leases.BeginDelete(c.record.ID)
		if !ok {
			deferred++
			rm.logger.WithFields(map[string]interface{}{
				"backup_id": c.record.ID,
				"tenant_id": tenantID,
			}).Info("Backup in use by a restore test, deferring deletion")
			continue
		}

		err := rm.deleteRecord(ctx, c.record)
		done()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		deleted++
		freed += c.record.FileSizeBytes
		audit.LogRetentionDeleted(c.record, c.reason)
	}

	return deleted, deferred, freed, firstErr
}

type deletionCandidate struct {
	record *BackupRecord
	reason string
}

// deletionCandidates applies the policy without side effects. Each backup type
// has its own keep sets so offline copies and incrementals never push full
// backups out of a window, and the newest successful full backup is always
// kept. Failed records survive the grace window; running and validating
// records are never candidates.
func (rm *RetentionManager) deletionCandidates(records []*BackupRecord, config BackupConfig) []deletionCandidate {
	now := rm.now()

	byType := make(map[BackupType][]*BackupRecord)
	var candidates []deletionCandidate

	for _, record := range records {
		switch record.Status {
		case BackupStatusSuccess:
			byType[record.BackupType] = append(byType[record.BackupType], record)
		case BackupStatusFailed:
			if now.Sub(recordTime(record)) >= rm.config.FailedGraceWindow {
				candidates = append(candidates, deletionCandidate{record, "failed backup past grace window"})
			}
		}
	}

	keep := make(map[int64]bool)
	types := make([]BackupType, 0, len(byType))
	for backupType, successful := range byType {
		types = append(types, backupType)

		// Newest first
		sort.SliceStable(successful, func(i, j int) bool {
			return recordTime(successful[i]).After(recordTime(successful[j]))
		})

		for i, record := range successful {
			if i >= config.DailyRetentionCount {
				break
			}
			keep[record.ID] = true
		}
		rm.applyPeriodicRetention(successful, keep, config.WeeklyRetentionCount, rm.weekKey)
		rm.applyPeriodicRetention(successful, keep, config.MonthlyRetentionCount, rm.monthKey)
	}

	if full := byType[BackupTypeFull]; len(full) > 0 {
		keep[full[0].ID] = true
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, backupType := range types {
		for _, record := range byType[backupType] {
			if !keep[record.ID] {
				candidates = append(candidates, deletionCandidate{record, "outside retention window"})
			}
		}
	}

	return candidates
}

// applyPeriodicRetention keeps the newest record of each of the keepCount most
// recent periods. backups must be sorted newest first.
func (rm *RetentionManager) applyPeriodicRetention(backups []*BackupRecord, keepMap map[int64]bool, keepCount int, period func(time.Time) string) {
	if keepCount <= 0 {
		return
	}

	seen := make(map[string]bool)
	for _, backup := range backups {
		key := period(recordTime(backup))
		if seen[key] {
			continue
		}
		if len(seen) >= keepCount {
			break
		}
		seen[key] = true
		keepMap[backup.ID] = true
	}
}

func (rm *RetentionManager) weekKey(t time.Time) string {
	year, week := t.In(rm.config.Location).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (rm *RetentionManager) monthKey(t time.Time) string {
	return t.In(rm.config.Location).Format("2006-01")
}

// deleteRecord removes the blob first so a failed blob delete leaves the record pointing at it
func (rm *RetentionManager) deleteRecord(ctx context.Context, record *BackupRecord) error {
	if record.FilePath != "" {
		store, err := rm.stores.For(record.Destination)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, record.FilePath); err != nil {
			return err
		}
	}

	if err := rm.repo.DeleteRecord(ctx, record.ID); err != nil {
		return NewDatabaseError(fmt.Sprintf("failed to delete backup record %d", record.ID), err)
	}

	return nil
}

// recordTime is the cadence timestamp: completion time, or start time if the run never finished
func recordTime(record *BackupRecord) time.Time {
	if record.CompletedAt != nil {
		return *record.CompletedAt
	}
	return record.StartedAt
}
