package backup

import (
	"context"
	"fmt"
	"sync"

	"clinic-backup/internal/logging"

	"golang.org/x/sync/errgroup"
)

// SweepConfig tunes the multi-tenant task bodies
type SweepConfig struct {
	// Concurrency caps tenants processed at once by the daily backup
	Concurrency         int
	IntegritySampleSize int
}

// Sweeps holds the task bodies shared by the scheduler, the cron gateway and
// the CLI. Every body isolates tenants and reports per-tenant counts.
type Sweeps struct {
	manager   *Manager
	retention *RetentionManager
	integrity *IntegrityChecker
	restore   *RestoreTestRunner
	reporter  *AuditReporter
	logger    *logging.Logger
	config    SweepConfig
}

// NewSweeps creates the task bodies
func NewSweeps(manager *Manager, retention *RetentionManager, integrity *IntegrityChecker, restore *RestoreTestRunner, reporter *AuditReporter, config SweepConfig) *Sweeps {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.IntegritySampleSize <= 0 {
		config.IntegritySampleSize = DefaultIntegritySampleSize
	}
	return &Sweeps{
		manager:   manager,
		retention: retention,
		integrity: integrity,
		restore:   restore,
		reporter:  reporter,
		logger:    manager.logger,
		config:    config,
	}
}

// Reporter returns the audit reporter task outcomes are sent to
func (s *Sweeps) Reporter() *AuditReporter {
	return s.reporter
}

// DailyBackup takes a full backup of every active tenant, plus an offline copy
// for tenants that enabled one. It fails only when every tenant failed.
func (s *Sweeps) DailyBackup(ctx context.Context) (map[string]interface{}, error) {
	tenants, err := s.manager.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants", err)
	}

	var (
		mu        sync.Mutex
		succeeded int
		failed    int
		offline   int
		bytes     int64
		failures  = make(map[int64]string)
	)

	trigger := TriggerFromContext(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			result := s.manager.RunBackup(gctx, tenant.ID, BackupTypeFull, trigger)

			var offlineResult *BackupResult
			if result.Success && s.manager.stores.Offline != nil {
				if config, err := s.manager.repo.GetConfig(gctx, tenant.ID); err == nil && config.OfflineBackupEnabled {
					offlineResult = s.manager.RunBackup(gctx, tenant.ID, BackupTypeOffline, trigger)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if result.Success {
				succeeded++
				bytes += result.FileSize
			} else {
				failed++
				failures[tenant.ID] = result.Error
			}
			if offlineResult != nil && offlineResult.Success {
				offline++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.WithFields(map[string]interface{}{
		"tenants":   len(tenants),
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Daily backup sweep finished")

	summary := map[string]interface{}{
		"tenants":          len(tenants),
		"succeeded":        succeeded,
		"failed":           failed,
		"offlineSucceeded": offline,
		"totalBytes":       bytes,
	}
	if len(failures) > 0 {
		summary["errors"] = failures
	}

	if failed > 0 && succeeded == 0 {
		return summary, fmt.Errorf("daily backup failed for all %d tenants", failed)
	}
	return summary, nil
}

// Cleanup applies retention to every active tenant
func (s *Sweeps) Cleanup(ctx context.Context) (map[string]interface{}, error) {
	result, err := s.retention.Cleanup(ctx)
	if err != nil && result == nil {
		return nil, err
	}

	summary := map[string]interface{}{
		"deletedCount":     result.DeletedCount,
		"deferredCount":    result.DeferredCount,
		"freedBytes":       result.FreedBytes,
		"tenantsProcessed": result.TenantsProcessed,
		"tenantsFailed":    result.TenantsFailed,
	}
	if len(result.Errors) > 0 {
		summary["errors"] = result.Errors
	}
	if err != nil {
		return summary, err
	}

	if result.TenantsFailed > 0 && result.TenantsFailed == result.TenantsProcessed {
		return summary, fmt.Errorf("retention cleanup failed for all %d tenants", result.TenantsFailed)
	}
	return summary, nil
}

// RestoreTest runs the restore checklist; a failed checklist fails the task
func (s *Sweeps) RestoreTest(ctx context.Context) (map[string]interface{}, error) {
	result, err := s.restore.RunRestoreTest(ctx)
	if err != nil {
		return nil, err
	}

	summary := map[string]interface{}{
		"passed":            result.Success,
		"summary":           result.Summary,
		"passedValidations": result.Summary.PassedValidations,
		"totalValidations":  result.Summary.TotalValidations,
		"tenants":           result.Tenants,
	}
	if len(result.Errors) > 0 {
		summary["errors"] = result.Errors
	}

	if !result.Success {
		return summary, NewIntegrityError(fmt.Sprintf("restore test failed: %d of %d validations passed",
			result.Summary.PassedValidations, result.Summary.TotalValidations), nil)
	}
	return summary, nil
}

// IntegrityCheck re-verifies recent archives. Findings are alerted on but do not fail the task.
func (s *Sweeps) IntegrityCheck(ctx context.Context) (map[string]interface{}, error) {
	result, err := s.integrity.CheckIntegrity(ctx, s.config.IntegritySampleSize)
	if err != nil && result == nil {
		return nil, err
	}

	summary := map[string]interface{}{
		"totalChecked":  result.TotalChecked,
		"validCount":    result.ValidCount,
		"invalidCount":  result.InvalidCount,
		"invalidIds":    result.InvalidIDs,
		"errorCount":    result.ErrorCount,
		"tenantsFailed": result.TenantsFailed,
	}
	return summary, err
}

// MonthlyReport sends last month's audit report to every active tenant
func (s *Sweeps) MonthlyReport(ctx context.Context) (map[string]interface{}, error) {
	result, err := s.reporter.MonthlyReport(ctx)
	if err != nil && result == nil {
		return nil, err
	}

	summary := map[string]interface{}{
		"period":        result.Period,
		"reports":       result.Reports,
		"delivered":     result.Delivered,
		"tenantsFailed": result.TenantsFailed,
	}
	return summary, err
}
