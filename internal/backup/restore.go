package backup

import (
	"context"
	"fmt"
	"time"
)

// ValidateArchive opens stored bytes for tenantID and checks the document a restore depends on
func (m *Manager) ValidateArchive(tenantID int64, stored []byte, encrypted bool, compression CompressionType) (*Payload, error) {
	record := &BackupRecord{TenantID: tenantID, IsEncrypted: encrypted, Compression: compression}

	plain, err := m.OpenArchive(record, stored)
	if err != nil {
		return nil, err
	}

	payload, err := ParsePayload(plain)
	if err != nil {
		return nil, err
	}

	if err := payload.Validate(tenantID); err != nil {
		return nil, NewValidationError("backup payload failed validation", err)
	}

	return payload, nil
}

// Restore replaces a tenant's rows with the contents of a successful backup.
// The archive checksum is verified before anything is written.
func (m *Manager) Restore(ctx context.Context, recordID int64, requestedBy string, leases *LeaseRegistry) (*RestoreStats, error) {
	if m.restorer == nil {
		return nil, NewConfigurationError("restore target is not configured", nil)
	}

	// The lease comes first so retention cannot remove the record between the read and the restore
	if leases != nil {
		release, ok := leases.Acquire(recordID)
		if !ok {
			return nil, NewNotFoundError(fmt.Sprintf("backup %d is being deleted by retention", recordID), nil)
		}
		defer release()
	}

	record, err := m.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != BackupStatusSuccess {
		return nil, NewValidationError(fmt.Sprintf("backup %d is %s, only successful backups can be restored", record.ID, record.Status), nil)
	}

	if record.BackupType == BackupTypeIncremental {
		return nil, NewValidationError("incremental backups hold only changed rows and cannot be restored on their own", nil)
	}

	start := m.now()
	stats, err := m.restore(ctx, record)
	if stats != nil {
		stats.Duration = m.now().Sub(start)
	}
	m.audit.NewRun().LogRestore(record, requestedBy, stats, err)

	return stats, err
}

func (m *Manager) restore(ctx context.Context, record *BackupRecord) (*RestoreStats, error) {
	data, err := m.Download(ctx, record)
	if err != nil {
		return nil, err
	}

	if !VerifyChecksum(data, record.ChecksumSHA256) {
		return nil, NewIntegrityError(fmt.Sprintf("backup %d failed checksum verification", record.ID), nil)
	}

	compression := record.Compression
	if compression == "" {
		compression = CompressionFromKey(record.FilePath)
	}

	payload, err := m.ValidateArchive(record.TenantID, data, record.IsEncrypted, compression)
	if err != nil {
		return nil, err
	}

	stats, err := m.restorer.ReplaceTenantData(ctx, record.TenantID, payload.Tables)
	if err != nil {
		return nil, NewDatabaseError("failed to restore tenant data", err)
	}
	if stats == nil {
		stats = &RestoreStats{}
	}

	m.logger.WithFields(map[string]interface{}{
		"backup_id": record.ID,
		"tenant_id": record.TenantID,
		"tables":    stats.TablesRestored,
		"records":   stats.RecordsRestored,
		"taken_at":  record.StartedAt.Format(time.RFC3339),
	}).Info("Restore completed")

	return stats, nil
}
