package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/config"
	"clinic-backup/internal/database"
	appErrors "clinic-backup/internal/errors"
	"clinic-backup/internal/gateway"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"
)

// Components are the persistence and storage collaborators the services run
// against. New builds them from configuration; tests pass fakes to Build.
type Components struct {
	Repository backup.Repository
	Tenants    backup.TenantSource
	Restorer   backup.RestoreTarget
	RunLog     scheduler.RunLog
	Stores     backup.Stores
}

// Application wires configuration into the backup services
type Application struct {
	config  *config.Config
	version string
	logger  *logging.Logger

	conn       *database.ConnectionManager
	components Components

	manager      *backup.Manager
	leases       *backup.LeaseRegistry
	retention    *backup.RetentionManager
	integrity    *backup.IntegrityChecker
	restoreTests *backup.RestoreTestRunner
	reporter     *backup.AuditReporter
	sweeps       *backup.Sweeps
	monitor      *backup.StorageMonitor

	scheduler       *scheduler.Scheduler
	gateway         *gateway.Server
	shutdownHandler *appErrors.GracefulShutdownHandler
}

// NewLogger creates the application logger from configuration
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to create logger", err)
	}
	return logger, nil
}

// New connects to the database and object stores and builds every service
func New(ctx context.Context, cfg *config.Config, version string, logger *logging.Logger) (*Application, error) {
	conn := database.NewConnectionManager(logger)
	if err := conn.Connect(ctx, cfg.Database); err != nil {
		return nil, err
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	components, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	components.Repository = conn.Repository()
	components.Tenants = conn.TenantStore(cfg.Tenants.ActiveStatus)
	components.Restorer = conn.TenantStore(cfg.Tenants.ActiveStatus)
	components.RunLog = conn.RunLog()

	app, err := Build(cfg, components, version, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	app.conn = conn
	return app, nil
}

// OpenStores creates the primary store, its replicas and the offline medium
func OpenStores(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Components, error) {
	var c Components

	primary, err := backup.NewObjectStore(ctx, cfg.Storage.Primary)
	if err != nil {
		return c, fmt.Errorf("failed to open primary storage: %w", err)
	}
	c.Stores.Primary = primary

	if cfg.Storage.HasSecondary() {
		secondary, err := backup.NewObjectStore(ctx, cfg.Storage.Secondary)
		if err != nil {
			return c, fmt.Errorf("failed to open secondary storage: %w", err)
		}
		multi, err := backup.NewMultiStore(primary, []backup.ObjectStore{secondary}, logger)
		if err != nil {
			return c, err
		}
		c.Stores.Primary = multi
	}

	if cfg.Storage.Offline.Provider != "" {
		offline, err := backup.NewObjectStore(ctx, cfg.Storage.Offline)
		if err != nil {
			return c, fmt.Errorf("failed to open offline storage: %w", err)
		}
		c.Stores.Offline = offline
	}
	return c, nil
}

// Build creates the services, the scheduler and the gateway from components
func Build(cfg *config.Config, components Components, version string, logger *logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	audit, err := backup.NewAuditLogger(backup.AuditLoggerConfig{
		Logger:       logger,
		AuditLogFile: cfg.Logging.AuditFile,
	})
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to open audit log", err)
	}

	notifier := backup.NewNotificationManager(logger, cfg.Notifications)
	if cfg.Notifications.Enabled && len(notifier.Channels()) == 0 {
		logger.Warn("Notifications are enabled but no channel is configured")
	} else {
		logger.WithField("channels", notifier.Channels()).Debug("Notification channels ready")
	}
	codec := backup.NewCodec(cfg.Compression.CompressionType(), cfg.Compression.Level, cfg.Encryption.KDFIterations)

	manager, err := backup.NewManager(backup.ManagerDeps{
		Repository: components.Repository,
		Tenants:    components.Tenants,
		Restorer:   components.Restorer,
		Stores:     components.Stores,
		Codec:      codec,
		Notifier:   notifier,
		Audit:      audit,
		Logger:     logger,
	}, cfg.ManagerSettings(version))
	if err != nil {
		return nil, err
	}

	app := &Application{
		config:          cfg,
		version:         version,
		logger:          logger,
		components:      components,
		manager:         manager,
		leases:          backup.NewLeaseRegistry(),
		shutdownHandler: appErrors.NewGracefulShutdownHandler(cfg.Scheduler.TaskTimeout),
	}

	app.retention = backup.NewRetentionManager(components.Repository, components.Tenants, components.Stores,
		app.leases, audit, logger, cfg.RetentionSettings())
	app.integrity = backup.NewIntegrityChecker(components.Repository, components.Tenants, components.Stores,
		notifier, audit, logger)
	app.restoreTests = backup.NewRestoreTestRunner(manager, app.leases, cfg.Scheduler.RestoreTestTimeout)
	app.reporter = backup.NewAuditReporter(components.Repository, components.Tenants, notifier, logger, cfg.Location())
	app.sweeps = backup.NewSweeps(manager, app.retention, app.integrity, app.restoreTests, app.reporter, cfg.SweepSettings())
	app.monitor = backup.NewStorageMonitor(components.Repository, components.Tenants, components.Stores, logger)

	opts := []scheduler.Option{scheduler.WithReporter(app.sweeps.Reporter())}
	if components.RunLog != nil {
		opts = append(opts, scheduler.WithRunLog(components.RunLog))
	}
	app.scheduler, err = scheduler.New(cfg.SchedulerSettings(), app.tasks(), logger, opts...)
	if err != nil {
		return nil, err
	}

	app.gateway = gateway.NewServer(gateway.Config{
		Address:           cfg.Gateway.Address,
		CronSecret:        cfg.Gateway.CronSecret,
		RateLimitRequests: cfg.Gateway.RateLimitRequests,
		RateLimitWindow:   cfg.Gateway.RateLimitWindow,
		ReadTimeout:       cfg.Gateway.ReadTimeout,
		ShutdownTimeout:   cfg.Gateway.ShutdownTimeout,
		MetricsEnabled:    cfg.Metrics.Enabled,
		MetricsPath:       cfg.Metrics.Path,
	}, app.scheduler, logger)

	return app, nil
}

// tasks is the catalog shared by the timers, the gateway and the CLI
func (app *Application) tasks() []scheduler.Task {
	sc := app.config.Scheduler
	tasks := []scheduler.Task{
		{
			Name:        scheduler.TaskDailyBackup,
			Description: "Full backup of every active tenant, plus offline copies",
			Schedule:    sc.DailyBackup,
			Run:         app.sweeps.DailyBackup,
		},
		{
			Name:        scheduler.TaskCleanup,
			Description: "Apply retention and delete expired archives",
			Schedule:    sc.Cleanup,
			Run:         app.sweeps.Cleanup,
		},
		{
			Name:        scheduler.TaskWeeklyRestoreTest,
			Description: "Restore the latest full backup of each tenant in memory and validate it",
			Schedule:    sc.WeeklyRestoreTest,
			Timeout:     sc.RestoreTestTimeout,
			Run:         app.sweeps.RestoreTest,
		},
		{
			Name:        scheduler.TaskIntegrityCheck,
			Description: "Re-verify checksums of a sample of recent archives",
			Schedule:    sc.IntegrityCheck,
			Run:         app.sweeps.IntegrityCheck,
		},
		{
			Name:        scheduler.TaskMonthlyReport,
			Description: "Send last month's backup audit report to every tenant",
			Schedule:    sc.MonthlyReport,
			Run:         app.sweeps.MonthlyReport,
		},
	}

	if sc.Geocoding.Schedule != "" && sc.Geocoding.URL != "" {
		client := &http.Client{Timeout: sc.TaskTimeout}
		tasks = append(tasks, scheduler.NewWebhookTask(scheduler.TaskGeocoding, sc.Geocoding.Schedule,
			sc.Geocoding.URL, sc.Geocoding.Token, client))
	}
	return tasks
}

// Serve starts the timers and the gateway and blocks until SIGINT/SIGTERM or
// until the gateway fails
func (app *Application) Serve() error {
	app.logger.WithField("version", app.version).Info("Clinic backup service starting")
	config.Preflight(app.config).Log(app.logger)

	// tasks with invalid schedules stay reachable through the gateway and the CLI
	if err := app.scheduler.Initialize(); err != nil {
		app.logger.WithField("error", err.Error()).Error("Scheduler started with unscheduled tasks")
	}
	app.shutdownHandler.RegisterShutdownFunc(app.closeDatabase)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		<-app.scheduler.Stop().Done()
		return nil
	})

	gatewayErr := make(chan error, 1)
	if app.config.Gateway.Enabled {
		app.shutdownHandler.RegisterShutdownFunc(func() error {
			return app.gateway.Shutdown(context.Background())
		})
		go func() {
			gatewayErr <- app.gateway.ListenAndServe()
		}()
	}

	app.shutdownHandler.Start()
	select {
	case <-app.shutdownHandler.Done():
		if err := app.shutdownHandler.Err(); err != nil {
			app.logger.WithField("error", err.Error()).Warn("Shutdown finished with errors")
		}
		app.logger.Info("Clinic backup service stopped")
		return nil
	case err := <-gatewayErr:
		if shutdownErr := app.shutdownHandler.Shutdown(); shutdownErr != nil {
			app.logger.WithField("error", shutdownErr.Error()).Warn("Shutdown finished with errors")
		}
		if err != nil {
			return appErrors.NewAppError(appErrors.ErrorTypeConnection, "cron gateway failed", err)
		}
		return nil
	}
}

// RunTask runs one task in-process, as the CLI does
func (app *Application) RunTask(ctx context.Context, name string) (*scheduler.Result, error) {
	return app.scheduler.RunTaskManually(ctx, name, backup.TriggeredByManual)
}

// Status reports the registered tasks
func (app *Application) Status() scheduler.Status {
	return app.scheduler.Status()
}

// RecentRuns reads the persisted run log of a task
func (app *Application) RecentRuns(ctx context.Context, task string, limit int) ([]scheduler.Result, error) {
	runLog, ok := app.components.RunLog.(*database.RunLog)
	if !ok {
		return nil, appErrors.NewConfigurationError("run log is not available", nil)
	}
	return runLog.RecentRuns(ctx, task, limit)
}

// CreateBackup runs one backup of one tenant
func (app *Application) CreateBackup(ctx context.Context, tenantID int64, backupType backup.BackupType) *backup.BackupResult {
	return app.manager.RunBackup(ctx, tenantID, backupType, backup.TriggeredByManual)
}

// ListBackups returns a tenant's history, newest first
func (app *Application) ListBackups(ctx context.Context, filter backup.RecordFilter) ([]*backup.BackupRecord, error) {
	return app.components.Repository.ListRecords(ctx, filter)
}

// GetBackup reads one backup record
func (app *Application) GetBackup(ctx context.Context, recordID int64) (*backup.BackupRecord, error) {
	return app.components.Repository.GetRecord(ctx, recordID)
}

// VerifyBackup downloads one archive and runs the restore checklist on it
func (app *Application) VerifyBackup(ctx context.Context, recordID int64) (validation *backup.ArchiveValidation, err error) {
	done := app.logger.LogOperationStart("verify_backup", map[string]interface{}{"backup_id": recordID})
	defer func() { done(err) }()

	release, ok := app.leases.Acquire(recordID)
	if !ok {
		return nil, backup.NewNotFoundError(fmt.Sprintf("backup %d is being deleted by retention", recordID), nil)
	}
	defer release()

	record, err := app.components.Repository.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	data, err := app.manager.Download(ctx, record)
	if err != nil {
		return nil, err
	}
	return backup.NewArchiveValidator(app.manager).Validate(record, data), nil
}

// RestoreBackup replaces the tenant's rows with a backup's contents
func (app *Application) RestoreBackup(ctx context.Context, recordID int64, requestedBy string) (stats *backup.RestoreStats, err error) {
	done := app.logger.LogOperationStart("restore_backup", map[string]interface{}{
		"backup_id":    recordID,
		"requested_by": requestedBy,
	})
	defer func() { done(err) }()

	return app.manager.Restore(ctx, recordID, requestedBy, app.leases)
}

// TenantConfig reads a tenant's backup settings
func (app *Application) TenantConfig(ctx context.Context, tenantID int64) (backup.BackupConfig, error) {
	return app.components.Repository.GetConfig(ctx, tenantID)
}

// UpdateTenantConfig stores a tenant's backup settings
func (app *Application) UpdateTenantConfig(ctx context.Context, cfg backup.BackupConfig) error {
	return app.components.Repository.UpsertConfig(ctx, cfg)
}

// StorageUsage summarizes what the backups occupy
func (app *Application) StorageUsage(ctx context.Context) (*backup.StorageUsageReport, error) {
	return app.monitor.GetStorageUsage(ctx)
}

// StorageHealth probes every configured store
func (app *Application) StorageHealth(ctx context.Context) *backup.StorageHealthReport {
	return app.monitor.MonitorStorageHealth(ctx)
}

// Gateway returns the HTTP surface
func (app *Application) Gateway() *gateway.Server {
	return app.gateway
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Close releases the database connection and the log file
func (app *Application) Close() error {
	return errors.Join(app.closeDatabase(), app.logger.Close())
}

func (app *Application) closeDatabase() error {
	if app.conn == nil {
		return nil
	}
	return app.conn.Close()
}

// HandleError prints a user-facing message and troubleshooting hints for err
func HandleError(w io.Writer, logger *logging.Logger, err error) {
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Error: %s\n", describe(err))

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) && logger != nil {
		logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
			"context":     appErr.Context,
		}).Debug("Command failed")
	}

	if hints := troubleshootingHints(err); len(hints) > 0 {
		fmt.Fprintf(w, "\nTroubleshooting hints:\n")
		for _, hint := range hints {
			fmt.Fprintf(w, "- %s\n", hint)
		}
	}
}

func describe(err error) string {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}
	return err.Error()
}

func troubleshootingHints(err error) []string {
	switch backup.ErrorTypeOf(err) {
	case backup.BackupErrorTypeStorage:
		return []string{
			"Check the storage credentials and bucket names",
			"Run 'clinic-backup backup usage --health' to probe every store",
		}
	case backup.BackupErrorTypeIntegrity, backup.BackupErrorTypeAuthentication, backup.BackupErrorTypeCorruptArchive:
		return []string{
			"The archive does not match its recorded checksum or could not be decrypted",
			"Confirm BACKUP_SYSTEM_SECRET is the secret the archive was written with",
		}
	case backup.BackupErrorTypeNotFound:
		return []string{"List existing backups with 'clinic-backup backup list --tenant <id>'"}
	}

	switch appErrors.NewErrorClassifier().ClassifyError(err).Type {
	case appErrors.ErrorTypeConnection:
		return []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case appErrors.ErrorTypePermission:
		return []string{
			"Verify the username and password are correct",
			"Check that the user can read every tenant table and write the backup tables",
		}
	case appErrors.ErrorTypeConfiguration:
		return []string{"Run 'clinic-backup config check' to see every configuration problem"}
	case appErrors.ErrorTypeTimeout:
		return []string{
			"The operation may be taking longer than expected",
			"Try increasing scheduler.backup_timeout",
		}
	}
	return nil
}
