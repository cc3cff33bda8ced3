package backup

import (
	"context"
	"fmt"
	"time"

	"clinic-backup/internal/logging"
)

// leaseAttempts bounds how often the restore test looks up a tenant's latest
// full backup when retention keeps removing it
const leaseAttempts = 3

// RestoreTestSummary counts checklist outcomes across every tested archive
type RestoreTestSummary struct {
	PassedValidations int `json:"passedValidations"`
	TotalValidations  int `json:"totalValidations"`
	TenantsTested     int `json:"tenantsTested"`
	TenantsSkipped    int `json:"tenantsSkipped"`
}

// RestoreTestResult is the outcome of one restore test run
type RestoreTestResult struct {
	Success   bool                 `json:"success"`
	Summary   RestoreTestSummary   `json:"summary"`
	Tenants   []*ArchiveValidation `json:"tenants"`
	Errors    map[int64]string     `json:"errors,omitempty"`
	StartedAt time.Time            `json:"startedAt"`
	Duration  time.Duration        `json:"duration"`
}

// RestoreTestRunner proves that the latest full backup of each tenant can be
// downloaded, opened and parsed back into a consistent document
type RestoreTestRunner struct {
	manager   *Manager
	validator *ArchiveValidator
	tenants   TenantSource
	leases    *LeaseRegistry
	notifier  Notifier
	audit     *AuditLogger
	logger    *logging.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewRestoreTestRunner creates a restore test runner. leases must be the registry
// the RetentionManager consults.
func NewRestoreTestRunner(manager *Manager, leases *LeaseRegistry, timeout time.Duration) *RestoreTestRunner {
	if leases == nil {
		leases = NewLeaseRegistry()
	}
	return &RestoreTestRunner{
		manager:   manager,
		validator: NewArchiveValidator(manager),
		tenants:   manager.tenants,
		leases:    leases,
		notifier:  manager.notifier,
		audit:     manager.audit,
		logger:    manager.logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// RunRestoreTest validates the most recent successful full backup of every active tenant.
// A run with nothing to test is not a success.
func (rt *RestoreTestRunner) RunRestoreTest(ctx context.Context) (*RestoreTestResult, error) {
	start := rt.now()
	result := &RestoreTestResult{
		Tenants:   make([]*ArchiveValidation, 0),
		Errors:    make(map[int64]string),
		StartedAt: start,
	}

	if rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.timeout)
		defer cancel()
	}

	tenants, err := rt.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants", err)
	}

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			result.Errors[tenant.ID] = NewTimeoutError("restore test exceeded its time limit", err).Error()
			break
		}

		validation, err := rt.testTenant(ctx, tenant.ID)
		if err != nil {
			if IsNotFound(err) {
				result.Summary.TenantsSkipped++
				continue
			}
			result.Errors[tenant.ID] = err.Error()
			rt.logger.LogTenantOutcome(ctx, tenant.ID, "restore_test", err)
			continue
		}

		result.Summary.TenantsTested++
		result.Summary.PassedValidations += validation.Passed
		result.Summary.TotalValidations += validation.Total
		result.Tenants = append(result.Tenants, validation)
	}

	result.Duration = rt.now().Sub(start)
	result.Success = result.Summary.TenantsTested > 0 &&
		len(result.Errors) == 0 &&
		result.Summary.PassedValidations == result.Summary.TotalValidations

	status := "passed"
	if !result.Success {
		status = "failed"
	}
	restoreTestsTotal.WithLabelValues(status).Inc()

	rt.audit.NewRun().LogRestoreTest(result)
	if !result.Success {
		rt.alert(ctx, result)
	}

	return result, nil
}

// testTenant runs the checklist on one tenant's latest full backup while holding
// a lease so retention cannot delete it mid-validation
func (rt *RestoreTestRunner) testTenant(ctx context.Context, tenantID int64) (*ArchiveValidation, error) {
	record, release, err := rt.leaseLatestFull(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := rt.manager.Download(ctx, record)
	if err != nil {
		if IsNotFound(err) {
			// A vanished archive is a failed restore, not a skipped tenant
			av := &ArchiveValidation{BackupID: record.ID, TenantID: tenantID}
			av.record(CheckChecksum, false, "archive missing from storage")
			av.skipRemaining("archive missing")
			return av.finish(), nil
		}
		return nil, err
	}

	return rt.validator.Validate(record, data), nil
}

// leaseLatestFull finds the tenant's latest successful full backup and leases
// it. A record retention claimed or removed after the lookup is looked up again.
func (rt *RestoreTestRunner) leaseLatestFull(ctx context.Context, tenantID int64) (*BackupRecord, func(), error) {
	for attempt := 0; attempt < leaseAttempts; attempt++ {
		record, err := rt.manager.repo.LastSuccessful(ctx, tenantID, BackupTypeFull)
		if err != nil {
			return nil, nil, err
		}
		if record == nil {
			return nil, nil, NewNotFoundError(fmt.Sprintf("tenant %d has no successful full backup", tenantID), nil)
		}

		release, ok := rt.leases.Acquire(record.ID)
		if !ok {
			continue
		}
		if _, err := rt.manager.repo.GetRecord(ctx, record.ID); err != nil {
			release()
			if IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		return record, release, nil
	}

	return nil, nil, NewStorageError(fmt.Sprintf("latest full backup of tenant %d was deleted while being leased", tenantID), nil)
}

func (rt *RestoreTestRunner) alert(ctx context.Context, result *RestoreTestResult) {
	if rt.notifier == nil {
		return
	}

	failed := make([]int64, 0)
	for _, v := range result.Tenants {
		if !v.Valid {
			failed = append(failed, v.BackupID)
		}
	}

	message := fmt.Sprintf("%d of %d validations passed", result.Summary.PassedValidations, result.Summary.TotalValidations)
	if result.Summary.TenantsTested == 0 {
		message = "no successful full backup was available to test"
	}

	report := Report{
		Success:      false,
		BackupType:   BackupTypeFull,
		Timestamp:    rt.now(),
		Kind:         ReportKindRestoreTest,
		Severity:     SeverityCritical,
		Title:        "Restore test FAILED: backups may not be recoverable",
		ErrorMessage: message,
		Details: map[string]interface{}{
			"failedBackupIds": failed,
			"errors":          result.Errors,
			"summary":         result.Summary,
		},
	}

	// The run context may be spent by the timeout; the alert must still go out
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	if _, err := rt.notifier.Send(sendCtx, report); err != nil {
		rt.logger.WithField("error", err.Error()).Error("Restore test alert not delivered")
	}
}
