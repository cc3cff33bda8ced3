package backup

import (
	"context"
	"fmt"
	"time"

	"clinic-backup/internal/logging"
)

// DefaultIntegritySampleSize is the number of recent archives checked per tenant
const DefaultIntegritySampleSize = 30

// IntegrityResult summarizes one integrity sweep
type IntegrityResult struct {
	TotalChecked  int              `json:"totalChecked"`
	ValidCount    int              `json:"validCount"`
	InvalidCount  int              `json:"invalidCount"`
	InvalidIDs    []int64          `json:"invalidIds"`
	ErrorCount    int              `json:"errorCount"`
	TenantsFailed int              `json:"tenantsFailed"`
	Errors        map[int64]string `json:"errors,omitempty"`
}

// IntegrityChecker re-downloads recent archives and compares their checksum.
// It never decrypts and never modifies a BackupRecord.
type IntegrityChecker struct {
	repo     RecordStore
	tenants  TenantSource
	stores   Stores
	notifier Notifier
	audit    *AuditLogger
	logger   *logging.Logger
	now      func() time.Time
}

// NewIntegrityChecker creates an integrity checker
func NewIntegrityChecker(repo RecordStore, tenants TenantSource, stores Stores, notifier Notifier, audit *AuditLogger, logger *logging.Logger) *IntegrityChecker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if audit == nil {
		audit, _ = NewAuditLogger(AuditLoggerConfig{Logger: logger})
	}
	return &IntegrityChecker{
		repo:     repo,
		tenants:  tenants,
		stores:   stores,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckIntegrity verifies up to sampleSize recent successful archives of every active tenant
func (ic *IntegrityChecker) CheckIntegrity(ctx context.Context, sampleSize int) (*IntegrityResult, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultIntegritySampleSize
	}

	tenants, err := ic.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants", err)
	}

	result := &IntegrityResult{
		InvalidIDs: make([]int64, 0),
		Errors:     make(map[int64]string),
	}
	audit := ic.audit.NewRun()

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, err := ic.repo.ListRecords(ctx, RecordFilter{
			TenantID: tenant.ID,
			Status:   BackupStatusSuccess,
			Limit:    sampleSize,
		})
		if err != nil {
			result.TenantsFailed++
			result.Errors[tenant.ID] = err.Error()
			ic.logger.LogTenantOutcome(ctx, tenant.ID, "integrity_check", err)
			continue
		}

		for _, record := range records {
			valid, reason, err := ic.verify(ctx, record)
			if err != nil {
				result.ErrorCount++
				integrityChecksTotal.WithLabelValues("error").Inc()
				ic.logger.WithFields(map[string]interface{}{
					"backup_id": record.ID,
					"tenant_id": record.TenantID,
					"error":     err.Error(),
				}).Warn("Could not verify backup")
				continue
			}

			result.TotalChecked++
			if valid {
				result.ValidCount++
				integrityChecksTotal.WithLabelValues("valid").Inc()
				continue
			}

			result.InvalidCount++
			result.InvalidIDs = append(result.InvalidIDs, record.ID)
			integrityChecksTotal.WithLabelValues("invalid").Inc()
			audit.LogIntegrityMismatch(record, reason)
		}
	}

	if result.InvalidCount > 0 {
		ic.alert(ctx, result)
	}

	return result, nil
}

// verify returns valid=false for a checksum mismatch or a missing blob and an
// error only when the store could not be asked
func (ic *IntegrityChecker) verify(ctx context.Context, record *BackupRecord) (bool, string, error) {
	if record.FilePath == "" || record.ChecksumSHA256 == "" {
		return false, "record has no stored archive or checksum", nil
	}

	store, err := ic.stores.For(record.Destination)
	if err != nil {
		return false, "", err
	}
	// A replica must not vouch for a blob the primary lost
	if ms, ok := store.(*MultiStore); ok {
		store = ms.Primary()
	}

	data, err := store.Get(ctx, record.FilePath)
	if err != nil {
		if IsNotFound(err) {
			return false, "archive missing from storage", nil
		}
		return false, "", err
	}

	if int64(len(data)) != record.FileSizeBytes {
		return false, fmt.Sprintf("size mismatch: stored %d bytes, recorded %d", len(data), record.FileSizeBytes), nil
	}
	if !VerifyChecksum(data, record.ChecksumSHA256) {
		return false, "checksum mismatch", nil
	}

	return true, "", nil
}

func (ic *IntegrityChecker) alert(ctx context.Context, result *IntegrityResult) {
	if ic.notifier == nil {
		return
	}

	report := Report{
		Success:      false,
		Timestamp:    ic.now(),
		Kind:         ReportKindIntegrity,
		Severity:     SeverityCritical,
		Title:        fmt.Sprintf("Backup integrity check found %d corrupted archive(s)", result.InvalidCount),
		ErrorMessage: "stored archive bytes no longer match their recorded checksum",
		Details: map[string]interface{}{
			"totalChecked": result.TotalChecked,
			"invalidIds":   result.InvalidIDs,
		},
	}

	if _, err := ic.notifier.Send(ctx, report); err != nil {
		ic.logger.WithField("error", err.Error()).Error("Integrity alert not delivered")
	}
}
