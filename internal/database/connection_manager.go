package database

import (
	"context"
	"database/sql"
	"fmt"

	"clinic-backup/internal/logging"
)

// ConnectionManager owns the single pool the backup subsystem shares and
// hands out the stores built on it
type ConnectionManager struct {
	service DatabaseService
	db      *sql.DB
	logger  *logging.Logger
}

// NewConnectionManager creates a connection manager with the default service
func NewConnectionManager(logger *logging.Logger) *ConnectionManager {
	return NewConnectionManagerWithService(NewService(logger), logger)
}

// NewConnectionManagerWithService creates a connection manager with a custom service
func NewConnectionManagerWithService(service DatabaseService, logger *logging.Logger) *ConnectionManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ConnectionManager{
		service: service,
		logger:  logger,
	}
}

// Connect opens the pool, replacing any previous one
func (cm *ConnectionManager) Connect(ctx context.Context, config DatabaseConfig) error {
	if cm.db != nil {
		cm.service.Close(cm.db)
		cm.db = nil
	}

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to connect to clinic database: %w", err)
	}

	cm.db = db
	return nil
}

// DB returns the open pool, or nil before Connect
func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// TestConnection pings the open pool
func (cm *ConnectionManager) TestConnection(ctx context.Context) error {
	if cm.db == nil {
		return fmt.Errorf("database connection is not established")
	}
	if err := cm.service.Ping(ctx, cm.db); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}
	return nil
}

// Version returns the server version, failing when the server is too old
// for the backup tables
func (cm *ConnectionManager) Version(ctx context.Context) (string, error) {
	if cm.db == nil {
		return "", fmt.Errorf("database connection is not established")
	}
	return cm.service.ServerVersion(ctx, cm.db)
}

// EnsureSchema creates the backup tables when missing
func (cm *ConnectionManager) EnsureSchema(ctx context.Context) error {
	if cm.db == nil {
		return fmt.Errorf("database connection is not established")
	}
	version, err := cm.service.ServerVersion(ctx, cm.db)
	if err != nil {
		return err
	}
	cm.logger.WithField("server_version", version).Debug("Clinic database server")
	if err := EnsureSchema(ctx, cm.service, cm.db); err != nil {
		return fmt.Errorf("failed to create backup tables: %w", err)
	}
	return nil
}

// Repository returns the backup record and config store
func (cm *ConnectionManager) Repository() *Repository {
	return NewRepository(cm.db, cm.logger)
}

// TenantStore returns the tenant reader and restore writer
func (cm *ConnectionManager) TenantStore(activeStatus string) *TenantStore {
	return NewTenantStore(cm.db, activeStatus, cm.logger)
}

// RunLog returns the scheduler run log
func (cm *ConnectionManager) RunLog() *RunLog {
	return NewRunLog(cm.db, cm.logger)
}

// Close gracefully closes the pool
func (cm *ConnectionManager) Close() error {
	if cm.db == nil {
		return nil
	}
	err := cm.service.Close(cm.db)
	cm.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
