package database

import (
	"context"
	"database/sql"
)

// Table names owned by the backup subsystem
const (
	TableBackupHistory  = "backup_history"
	TableBackupConfig   = "backup_config"
	TableSchedulerLog   = "backup_scheduler_log"
	TableTenants        = "tenants"
	defaultActiveStatus = "active"
)

// SchemaStatements creates the backup tables when they are missing.
// The tenants table belongs to the clinic application and is never created here.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS backup_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		backup_type ENUM('full', 'incremental', 'transactional', 'offline') NOT NULL,
		status ENUM('running', 'validating', 'success', 'failed') NOT NULL DEFAULT 'running',
		destination ENUM('primary_object_store', 'secondary_object_store', 'offline_medium') NOT NULL,
		file_path VARCHAR(512),
		file_size_bytes BIGINT NOT NULL DEFAULT 0,
		checksum_sha256 CHAR(64),
		is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		compression VARCHAR(16) NOT NULL DEFAULT 'gzip',
		database_records BIGINT NOT NULL DEFAULT 0,
		triggered_by ENUM('scheduled', 'manual', 'external_cron') NOT NULL,
		started_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		error_message TEXT,
		INDEX idx_backup_history_tenant (tenant_id, status, started_at),
		INDEX idx_backup_history_started (started_at)
	)`,
	`CREATE TABLE IF NOT EXISTS backup_config (
		tenant_id BIGINT PRIMARY KEY,
		backup_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		encryption_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		daily_retention_count INT NOT NULL DEFAULT 30,
		weekly_retention_count INT NOT NULL DEFAULT 12,
		monthly_retention_count INT NOT NULL DEFAULT 12,
		notification_email VARCHAR(255),
		notify_on_success BOOLEAN NOT NULL DEFAULT FALSE,
		notify_on_failure BOOLEAN NOT NULL DEFAULT TRUE,
		offline_backup_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS backup_scheduler_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id CHAR(36) NOT NULL,
		task_name VARCHAR(50) NOT NULL,
		triggered_by VARCHAR(20) NOT NULL,
		started_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NOT NULL,
		status ENUM('success', 'failed', 'skipped') NOT NULL,
		error_message TEXT,
		details JSON,
		INDEX idx_scheduler_log_task (task_name, started_at)
	)`,
}

// internalTables are never part of a tenant snapshot
var internalTables = map[string]bool{
	TableBackupHistory:  true,
	TableBackupConfig:   true,
	TableSchedulerLog:   true,
	"schema_migrations": true,
}

// EnsureSchema creates any missing backup tables
func EnsureSchema(ctx context.Context, service DatabaseService, db *sql.DB) error {
	return service.ApplyDDL(ctx, db, SchemaStatements)
}
