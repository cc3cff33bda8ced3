package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"clinic-backup/internal/backup"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordRowColumns = []string{
	"id", "tenant_id", "backup_type", "status", "destination", "file_path", "file_size_bytes",
	"checksum_sha256", "is_encrypted", "compression", "database_records", "triggered_by",
	"started_at", "completed_at", "error_message",
}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, nil), mock
}

func successRow(rows *sqlmock.Rows, id, tenantID int64, startedAt time.Time) *sqlmock.Rows {
	completedAt := startedAt.Add(2 * time.Second)
	return rows.AddRow(id, tenantID, "full", "success", "primary_object_store",
		"backup/tenant_1/full.json.gz.enc", int64(2048), "ab12", true, "gzip", int64(40), "scheduled",
		startedAt, completedAt, nil)
}

func TestRepository_CreateRecord(t *testing.T) {
	repo, mock := newMockRepository(t)
	startedAt := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO backup_history").
		WithArgs(int64(7), "full", "running", "primary_object_store", true, "gzip", "scheduled", startedAt).
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := repo.CreateRecord(context.Background(), &backup.BackupRecord{
		TenantID:    7,
		BackupType:  backup.BackupTypeFull,
		Status:      backup.BackupStatusRunning,
		Destination: backup.DestinationPrimary,
		IsEncrypted: true,
		Compression: backup.CompressionTypeGzip,
		TriggeredBy: backup.TriggeredByScheduled,
		StartedAt:   startedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CompleteRecord(t *testing.T) {
	completion := backup.RecordCompletion{
		Status:          backup.BackupStatusSuccess,
		FilePath:        "backup/tenant_7/full.json.gz.enc",
		FileSizeBytes:   2048,
		ChecksumSHA256:  "ab12",
		IsEncrypted:     true,
		Compression:     backup.CompressionTypeGzip,
		DatabaseRecords: 40,
		CompletedAt:     time.Date(2026, 10, 19, 6, 0, 2, 0, time.UTC),
	}
	update := regexp.QuoteMeta("WHERE id = ? AND status IN ('running', 'validating')")
	lookup := regexp.QuoteMeta("FROM backup_history WHERE id = ?")

	t.Run("running record", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.CompleteRecord(context.Background(), 9, completion))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal record is immutable", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(lookup).WithArgs(int64(9)).
			WillReturnRows(successRow(sqlmock.NewRows(recordRowColumns), 9, 7, time.Now()))

		err := repo.CompleteRecord(context.Background(), 9, completion)
		assert.True(t, errors.Is(err, backup.ErrRecordImmutable))
	})

	t.Run("missing record", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(lookup).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(recordRowColumns))

		err := repo.CompleteRecord(context.Background(), 9, completion)
		var backupErr *backup.BackupError
		require.True(t, errors.As(err, &backupErr))
		assert.Equal(t, backup.BackupErrorTypeNotFound, backupErr.Type)
	})
}

func TestRepository_GetRecord(t *testing.T) {
	repo, mock := newMockRepository(t)
	startedAt := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(recordRowColumns).AddRow(int64(3), int64(7), "incremental", "running",
		"primary_object_store", nil, int64(0), nil, false, "gzip", int64(0), "manual", startedAt, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM backup_history WHERE id = ?")).WithArgs(int64(3)).WillReturnRows(rows)

	record, err := repo.GetRecord(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupTypeIncremental, record.BackupType)
	assert.Equal(t, backup.BackupStatusRunning, record.Status)
	assert.Equal(t, backup.TriggeredByManual, record.TriggeredBy)
	assert.Empty(t, record.FilePath)
	assert.Nil(t, record.CompletedAt)
	assert.Equal(t, startedAt, record.StartedAt)
}

func TestRepository_ListRecords(t *testing.T) {
	repo, mock := newMockRepository(t)
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(recordRowColumns)
	successRow(rows, 12, 7, newer)
	successRow(rows, 11, 7, newer.Add(-24*time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE tenant_id = ? AND status = ? AND backup_type = ? AND started_at >= ? ORDER BY started_at DESC, id DESC LIMIT ?")).
		WithArgs(int64(7), "success", "full", since, 5).
		WillReturnRows(rows)

	records, err := repo.ListRecords(context.Background(), backup.RecordFilter{
		TenantID:   7,
		Status:     backup.BackupStatusSuccess,
		BackupType: backup.BackupTypeFull,
		Since:      since,
		Limit:      5,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(12), records[0].ID)
	require.NotNil(t, records[0].CompletedAt)
	assert.Equal(t, 2*time.Second, records[0].Duration())
}

func TestRepository_LastSuccessful(t *testing.T) {
	query := regexp.QuoteMeta("AND backup_type IN (?, ?) ORDER BY started_at DESC, id DESC LIMIT 1")

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WithArgs(int64(7), "full", "incremental").
			WillReturnRows(successRow(sqlmock.NewRows(recordRowColumns), 5, 7, time.Now()))

		record, err := repo.LastSuccessful(context.Background(), 7, backup.BackupTypeFull, backup.BackupTypeIncremental)
		require.NoError(t, err)
		assert.Equal(t, int64(5), record.ID)
	})

	t.Run("none", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows(recordRowColumns))

		_, err := repo.LastSuccessful(context.Background(), 7, backup.BackupTypeFull, backup.BackupTypeIncremental)
		var backupErr *backup.BackupError
		require.True(t, errors.As(err, &backupErr))
		assert.Equal(t, backup.BackupErrorTypeNotFound, backupErr.Type)
	})
}

func TestRepository_DeleteRecord(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM backup_history WHERE id = ?")).WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM backup_history WHERE id = ?")).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteRecord(context.Background(), 4))
	assert.Error(t, repo.DeleteRecord(context.Background(), 5))
}

func TestRepository_DatabaseFailureIsRetryable(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("FROM backup_history").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListRecords(context.Background(), backup.RecordFilter{})
	require.Error(t, err)
	assert.True(t, backup.IsRetryable(err))
}

func TestRepository_GetConfig(t *testing.T) {
	columns := []string{"tenant_id", "backup_enabled", "encryption_enabled", "daily_retention_count",
		"weekly_retention_count", "monthly_retention_count", "notification_email",
		"notify_on_success", "notify_on_failure", "offline_backup_enabled"}

	t.Run("stored", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery("FROM backup_config WHERE tenant_id").WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(7), true, false, 3, 0, 6, "owner@clinic.test", true, true, false))

		config, err := repo.GetConfig(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, 3, config.DailyRetentionCount)
		assert.Equal(t, 6, config.MonthlyRetentionCount)
		assert.False(t, config.EncryptionEnabled)
		assert.Equal(t, "owner@clinic.test", config.NotificationEmail)
	})

	t.Run("defaults when missing", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery("FROM backup_config WHERE tenant_id").WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows(columns))

		config, err := repo.GetConfig(context.Background(), 8)
		require.NoError(t, err)
		assert.Equal(t, backup.DefaultBackupConfig(8), config)
	})
}

func TestRepository_UpsertConfig(t *testing.T) {
	repo, mock := newMockRepository(t)

	invalid := backup.DefaultBackupConfig(7)
	invalid.DailyRetentionCount = -1
	assert.Error(t, repo.UpsertConfig(context.Background(), invalid))

	config := backup.DefaultBackupConfig(7)
	config.NotificationEmail = "owner@clinic.test"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO backup_config")).
		WithArgs(int64(7), true, true, 30, 12, 12, "owner@clinic.test", false, true, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertConfig(context.Background(), config))
	assert.NoError(t, mock.ExpectationsWereMet())
}
