package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
)

const recordColumns = `id, tenant_id, backup_type, status, destination, file_path, file_size_bytes,
	checksum_sha256, is_encrypted, compression, database_records, triggered_by,
	started_at, completed_at, error_message`

// Repository persists BackupRecords and BackupConfigs in MySQL
type Repository struct {
	db           *sql.DB
	logger       *logging.Logger
	queryTimeout time.Duration
}

// NewRepository creates a repository over an open connection
func NewRepository(db *sql.DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository{
		db:           db,
		logger:       logger,
		queryTimeout: 30 * time.Second,
	}
}

// CreateRecord inserts a new record and returns its id
func (r *Repository) CreateRecord(ctx context.Context, record *backup.BackupRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `INSERT INTO backup_history
		(tenant_id, backup_type, status, destination, is_encrypted, compression, triggered_by, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		record.TenantID, string(record.BackupType), string(record.Status), string(record.Destination),
		record.IsEncrypted, string(record.Compression), string(record.TriggeredBy), record.StartedAt.UTC())
	r.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return 0, backup.NewDatabaseError("failed to create backup record", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, backup.NewDatabaseError("failed to read backup record id", err)
	}
	return id, nil
}

// CompleteRecord moves a running or validating record to its final state.
// Terminal records are refused with ErrRecordImmutable.
func (r *Repository) CompleteRecord(ctx context.Context, id int64, completion backup.RecordCompletion) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `UPDATE backup_history SET
		status = ?, file_path = ?, file_size_bytes = ?, checksum_sha256 = ?, is_encrypted = ?,
		compression = ?, database_records = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status IN ('running', 'validating')`

	var completedAt interface{}
	if !completion.CompletedAt.IsZero() {
		completedAt = completion.CompletedAt.UTC()
	}

	start := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		string(completion.Status), nullString(completion.FilePath), completion.FileSizeBytes,
		nullString(completion.ChecksumSHA256), completion.IsEncrypted, string(completion.Compression),
		completion.DatabaseRecords, completedAt, nullString(completion.ErrorMessage), id)

	var affected int64
	if err == nil {
		affected, err = result.RowsAffected()
	}
	r.logger.LogSQLExecution(query, time.Since(start), affected, err)
	if err != nil {
		return backup.NewDatabaseError("failed to complete backup record", err)
	}

	if affected == 0 {
		existing, getErr := r.GetRecord(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Status.IsTerminal() {
			return backup.ErrRecordImmutable
		}
	}
	return nil
}

// GetRecord returns one record or a NotFound error
func (r *Repository) GetRecord(ctx context.Context, id int64) (*backup.BackupRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM backup_history WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backup.NewNotFoundError(fmt.Sprintf("backup %d not found", id), nil)
	}
	if err != nil {
		return nil, backup.NewDatabaseError("failed to read backup record", err)
	}
	return record, nil
}

// ListRecords returns matching records newest first
func (r *Repository) ListRecords(ctx context.Context, filter backup.RecordFilter) ([]*backup.BackupRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var conditions []string
	var args []interface{}

	if filter.TenantID > 0 {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BackupType != "" {
		conditions = append(conditions, "backup_type = ?")
		args = append(args, string(filter.BackupType))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT " + recordColumns + " FROM backup_history"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return r.queryRecords(ctx, query, args...)
}

// LastSuccessful returns the newest successful record of the given types
func (r *Repository) LastSuccessful(ctx context.Context, tenantID int64, types ...backup.BackupType) (*backup.BackupRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := "SELECT " + recordColumns + " FROM backup_history WHERE tenant_id = ? AND status = 'success'"
	args := []interface{}{tenantID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND backup_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT 1"

	records, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, backup.NewNotFoundError(fmt.Sprintf("tenant %d has no successful backup", tenantID), nil)
	}
	return records[0], nil
}

// DeleteRecord removes a record; a missing id is a NotFound error
func (r *Repository) DeleteRecord(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := "DELETE FROM backup_history WHERE id = ?"
	start := time.Now()
	result, err := r.db.ExecContext(ctx, query, id)

	var affected int64
	if err == nil {
		affected, err = result.RowsAffected()
	}
	r.logger.LogSQLExecution(query, time.Since(start), affected, err)
	if err != nil {
		return backup.NewDatabaseError("failed to delete backup record", err)
	}
	if affected == 0 {
		return backup.NewNotFoundError(fmt.Sprintf("backup %d not found", id), nil)
	}
	return nil
}

// GetConfig returns the tenant's policy, or the defaults when no row exists yet
func (r *Repository) GetConfig(ctx context.Context, tenantID int64) (backup.BackupConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `SELECT tenant_id, backup_enabled, encryption_enabled, daily_retention_count,
		weekly_retention_count, monthly_retention_count, notification_email,
		notify_on_success, notify_on_failure, offline_backup_enabled
		FROM backup_config WHERE tenant_id = ?`

	var config backup.BackupConfig
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&config.TenantID, &config.BackupEnabled, &config.EncryptionEnabled, &config.DailyRetentionCount,
		&config.WeeklyRetentionCount, &config.MonthlyRetentionCount, &email,
		&config.NotifyOnSuccess, &config.NotifyOnFailure, &config.OfflineBackupEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return backup.DefaultBackupConfig(tenantID), nil
	}
	if err != nil {
		return backup.BackupConfig{}, backup.NewDatabaseError("failed to read backup config", err)
	}

	config.NotificationEmail = email.String
	return config, nil
}

// UpsertConfig validates and stores a tenant's policy
func (r *Repository) UpsertConfig(ctx context.Context, config backup.BackupConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `INSERT INTO backup_config
		(tenant_id, backup_enabled, encryption_enabled, daily_retention_count, weekly_retention_count,
		monthly_retention_count, notification_email, notify_on_success, notify_on_failure, offline_backup_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		backup_enabled = VALUES(backup_enabled), encryption_enabled = VALUES(encryption_enabled),
		daily_retention_count = VALUES(daily_retention_count), weekly_retention_count = VALUES(weekly_retention_count),
		monthly_retention_count = VALUES(monthly_retention_count), notification_email = VALUES(notification_email),
		notify_on_success = VALUES(notify_on_success), notify_on_failure = VALUES(notify_on_failure),
		offline_backup_enabled = VALUES(offline_backup_enabled)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		config.TenantID, config.BackupEnabled, config.EncryptionEnabled, config.DailyRetentionCount,
		config.WeeklyRetentionCount, config.MonthlyRetentionCount, nullString(config.NotificationEmail),
		config.NotifyOnSuccess, config.NotifyOnFailure, config.OfflineBackupEnabled)
	r.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return backup.NewDatabaseError("failed to store backup config", err)
	}
	return nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*backup.BackupRecord, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, backup.NewDatabaseError("failed to query backup records", err)
	}
	defer rows.Close()

	var records []*backup.BackupRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, backup.NewDatabaseError("failed to scan backup record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("error iterating backup records", err)
	}

	r.logger.LogSQLExecution(query, time.Since(start), int64(len(records)), nil)
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*backup.BackupRecord, error) {
	var (
		record                           backup.BackupRecord
		backupType, status, destination  string
		compression, triggeredBy         string
		filePath, checksum, errorMessage sql.NullString
		completedAt                      sql.NullTime
	)

	err := row.Scan(&record.ID, &record.TenantID, &backupType, &status, &destination, &filePath,
		&record.FileSizeBytes, &checksum, &record.IsEncrypted, &compression, &record.DatabaseRecords,
		&triggeredBy, &record.StartedAt, &completedAt, &errorMessage)
	if err != nil {
		return nil, err
	}

	record.BackupType = backup.BackupType(backupType)
	record.Status = backup.BackupStatus(status)
	record.Destination = backup.Destination(destination)
	record.Compression = backup.CompressionType(compression)
	record.TriggeredBy = backup.TriggeredBy(triggeredBy)
	record.FilePath = filePath.String
	record.ChecksumSHA256 = checksum.String
	record.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		at := completedAt.Time
		record.CompletedAt = &at
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
