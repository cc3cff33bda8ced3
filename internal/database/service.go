package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinic-backup/internal/errors"
	"clinic-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// DatabaseService opens the clinic pool and applies the backup DDL
type DatabaseService interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
	Ping(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	ServerVersion(ctx context.Context, db *sql.DB) (string, error)
	ApplyDDL(ctx context.Context, db *sql.DB, statements []string) error
}

// Service implements DatabaseService against MySQL
type Service struct {
	pingTimeout  time.Duration
	logger       *logging.Logger
	retryHandler *errors.RetryHandler
}

// NewService creates a service that retries connection failures with the
// default backoff
func NewService(logger *logging.Logger) *Service {
	return NewServiceWithRetry(logger, errors.DefaultRetryConfig())
}

// NewServiceWithRetry creates a service with a custom connection backoff
func NewServiceWithRetry(logger *logging.Logger, retry errors.RetryConfig) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	handler := errors.NewRetryHandler(retry).OnRetry(func(attempt int, delay time.Duration, err *errors.AppError) {
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("Database connection failed, retrying")
	})
	return &Service{
		pingTimeout:  10 * time.Second,
		logger:       logger,
		retryHandler: handler,
	}
}

// Connect opens a pooled connection and pings it, retrying transient failures
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid database configuration", err)
	}

	host, database := config.Target()
	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     host,
		"database": database,
	}).Info("Connecting to clinic database")

	ctx, cancel := errors.CreateContextWithTimeout(ctx, config.Timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", config.DataSourceName())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)

		if pingErr := s.Ping(ctx, db); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(host, database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Ping verifies the pool can reach the server
func (s *Service) Ping(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close closes the pool; a nil pool is a no-op
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	s.logger.Debug("Closing database connection")
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// ServerVersion returns SELECT VERSION() and rejects servers without a JSON
// column type, which the scheduler log needs
func (s *Service) ServerVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	const query = "SELECT VERSION()"
	start := time.Now()
	var version string
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to read server version")
	}

	if !SupportsJSON(version) {
		return version, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("server version %s has no JSON column type; MySQL 5.7 or MariaDB 10.2 is required", version), nil)
	}
	return version, nil
}

// ApplyDDL runs idempotent DDL statements in order and stops at the first
// failure. MySQL commits DDL implicitly, so there is no surrounding transaction.
func (s *Service) ApplyDDL(ctx context.Context, db *sql.DB, statements []string) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	applied := 0
	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		start := time.Now()
		_, err := db.ExecContext(ctx, stmt)
		s.logger.LogSQLExecution(logging.SanitizeSQL(stmt), time.Since(start), 0, err)
		if err != nil {
			appErr := errors.NewAppError(errors.ErrorTypeSQL, fmt.Sprintf("failed to apply statement %d", i+1), err)
			return appErr.WithContext("statement_index", i)
		}
		applied++
	}

	s.logger.WithField("statement_count", applied).Debug("Backup tables are up to date")
	return nil
}

// SupportsJSON reports whether a VERSION() string names a server with the
// JSON column type: MySQL 5.7+ or MariaDB 10.2+
func SupportsJSON(version string) bool {
	major, minor, ok := parseVersion(version)
	if !ok {
		return true
	}
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return major > 10 || (major == 10 && minor >= 2)
	}
	return major > 5 || (major == 5 && minor >= 7)
}

func parseVersion(version string) (major, minor int, ok bool) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minorDigits := strings.TrimRightFunc(parts[1], func(r rune) bool { return r < '0' || r > '9' })
	minor, err = strconv.Atoi(minorDigits)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
