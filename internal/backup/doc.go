// Package backup implements backup and recovery for the clinic tenants.
//
// Every tenant is backed up independently. A run snapshots the tenant's rows into a
// versioned JSON document, compresses it, optionally encrypts it with a password
// derived from the system secret, and uploads it under a deterministic key. The
// outcome is appended to the BackupRecord history, which is never edited once a run
// finishes; only the retention cleaner removes records.
//
// Core Components:
//
//   - Codec: compress -> AES-256-GCM encrypt -> SHA-256 checksum, and the inverse
//   - Manager: the backup engine (RunBackup) and administrative Restore
//   - RetentionManager: daily/weekly/monthly pruning with lease-aware deferral
//   - IntegrityChecker: re-downloads recent archives and compares checksums
//   - RestoreTestRunner: decrypts, parses and validates the latest full backup
//   - AuditReporter: monthly per-tenant report and task failure notifications
//   - Sweeps: the multi-tenant task bodies the scheduler and cron gateway share
//   - ObjectStore providers: local, S3, GCS and Azure, plus MultiStore replication
//
// Example usage:
//
//	manager, err := backup.NewManager(backup.ManagerDeps{
//		Repository: repo,
//		Tenants:    tenants,
//		Stores:     backup.Stores{Primary: primary, Offline: offline},
//		Notifier:   notifier,
//	}, backup.ManagerConfig{SystemSecret: secret})
//	if err != nil {
//		return err
//	}
//
//	result := manager.RunBackup(ctx, tenantID, backup.BackupTypeFull, backup.TriggeredByManual)
//	if !result.Success {
//		return fmt.Errorf("backup failed: %s", result.Error)
//	}
package backup
