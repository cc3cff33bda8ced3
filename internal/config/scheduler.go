package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/scheduler"
)

// SchedulerConfig holds the in-process timers. Expressions are five-field
// cron evaluated in Timezone.
type SchedulerConfig struct {
	Enabled            bool            `mapstructure:"enabled" yaml:"enabled"`
	Timezone           string          `mapstructure:"timezone" yaml:"timezone"`
	DailyBackup        string          `mapstructure:"daily_backup" yaml:"daily_backup"`
	Cleanup            string          `mapstructure:"cleanup" yaml:"cleanup"`
	WeeklyRestoreTest  string          `mapstructure:"weekly_restore_test" yaml:"weekly_restore_test"`
	IntegrityCheck     string          `mapstructure:"integrity_check" yaml:"integrity_check"`
	MonthlyReport      string          `mapstructure:"monthly_report" yaml:"monthly_report"`
	BackupTimeout      time.Duration   `mapstructure:"backup_timeout" yaml:"backup_timeout"`
	RestoreTestTimeout time.Duration   `mapstructure:"restore_test_timeout" yaml:"restore_test_timeout"`
	TaskTimeout        time.Duration   `mapstructure:"task_timeout" yaml:"task_timeout"`
	Geocoding          GeocodingConfig `mapstructure:"geocoding" yaml:"geocoding"`
}

// GeocodingConfig registers the optional geocoding webhook task
type GeocodingConfig struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule,omitempty"`
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	Token    string `mapstructure:"token" yaml:"token,omitempty"`
}

// Enabled reports whether the geocoding task should be registered
func (gc GeocodingConfig) Enabled() bool {
	return gc.Schedule != "" && gc.URL != ""
}

// GatewayConfig holds the external cron HTTP surface
type GatewayConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Address           string        `mapstructure:"address" yaml:"address"`
	CronSecret        string        `mapstructure:"cron_secret" yaml:"cron_secret,omitempty"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Schedules maps every built-in task to its configured expression
func (sc *SchedulerConfig) Schedules() map[string]string {
	schedules := map[string]string{
		scheduler.TaskDailyBackup:       sc.DailyBackup,
		scheduler.TaskCleanup:           sc.Cleanup,
		scheduler.TaskWeeklyRestoreTest: sc.WeeklyRestoreTest,
		scheduler.TaskIntegrityCheck:    sc.IntegrityCheck,
		scheduler.TaskMonthlyReport:     sc.MonthlyReport,
	}
	if sc.Geocoding.Enabled() {
		schedules[scheduler.TaskGeocoding] = sc.Geocoding.Schedule
	}
	return schedules
}

// SetDefaults fills in zero values. Enabled is left as loaded; the viper
// defaults turn it on.
func (sc *SchedulerConfig) SetDefaults() {
	if sc.Timezone == "" {
		sc.Timezone = scheduler.DefaultTimezone
	}
	if sc.DailyBackup == "" {
		sc.DailyBackup = scheduler.DefaultDailyBackupCron
	}
	if sc.Cleanup == "" {
		sc.Cleanup = scheduler.DefaultCleanupCron
	}
	if sc.WeeklyRestoreTest == "" {
		sc.WeeklyRestoreTest = scheduler.DefaultRestoreTestCron
	}
	if sc.IntegrityCheck == "" {
		sc.IntegrityCheck = scheduler.DefaultIntegrityCheckCron
	}
	if sc.MonthlyReport == "" {
		sc.MonthlyReport = scheduler.DefaultMonthlyReportCron
	}
	if sc.BackupTimeout == 0 {
		sc.BackupTimeout = 30 * time.Minute
	}
	if sc.RestoreTestTimeout == 0 {
		sc.RestoreTestTimeout = time.Hour
	}
	if sc.TaskTimeout == 0 {
		sc.TaskTimeout = 2 * time.Hour
	}
}

func (sc *SchedulerConfig) validate(errs *backup.ValidationErrors) {
	if _, err := time.LoadLocation(sc.Timezone); err != nil {
		errs.Add("scheduler.timezone", "unknown timezone", sc.Timezone)
	}
	requirePositive(errs, "scheduler.backup_timeout", sc.BackupTimeout)
	requirePositive(errs, "scheduler.restore_test_timeout", sc.RestoreTestTimeout)
	requirePositive(errs, "scheduler.task_timeout", sc.TaskTimeout)

	if (sc.Geocoding.Schedule == "") != (sc.Geocoding.URL == "") {
		errs.Add("scheduler.geocoding", "schedule and url must be set together", nil)
	}
}

// LoadFromEnvironment reads BACKUP_SCHEDULER_ENABLED, BACKUP_TIMEZONE and
// the per-task BACKUP_CRON_* expressions
func (sc *SchedulerConfig) LoadFromEnvironment() {
	if enabled, ok := envBool("BACKUP_SCHEDULER_ENABLED"); ok {
		sc.Enabled = enabled
	}
	if val := os.Getenv("BACKUP_TIMEZONE"); val != "" {
		sc.Timezone = val
	}

	crons := map[string]*string{
		"BACKUP_CRON_DAILY":          &sc.DailyBackup,
		"BACKUP_CRON_CLEANUP":        &sc.Cleanup,
		"BACKUP_CRON_RESTORE_TEST":   &sc.WeeklyRestoreTest,
		"BACKUP_CRON_INTEGRITY":      &sc.IntegrityCheck,
		"BACKUP_CRON_MONTHLY_REPORT": &sc.MonthlyReport,
		"BACKUP_CRON_GEOCODING":      &sc.Geocoding.Schedule,
	}
	for name, field := range crons {
		if val := os.Getenv(name); val != "" {
			*field = val
		}
	}

	if val := os.Getenv("BACKUP_GEOCODING_URL"); val != "" {
		sc.Geocoding.URL = val
	}
	if val := os.Getenv("BACKUP_GEOCODING_TOKEN"); val != "" {
		sc.Geocoding.Token = val
	}
	if val, ok := envDuration("BACKUP_TIMEOUT"); ok {
		sc.BackupTimeout = val
	}
}

// SetDefaults fills in zero values
func (gc *GatewayConfig) SetDefaults() {
	if gc.Address == "" {
		gc.Address = ":8080"
	}
	if gc.RateLimitRequests == 0 {
		gc.RateLimitRequests = 10
	}
	if gc.RateLimitWindow == 0 {
		gc.RateLimitWindow = time.Minute
	}
	if gc.ReadTimeout == 0 {
		gc.ReadTimeout = 15 * time.Second
	}
	if gc.ShutdownTimeout == 0 {
		gc.ShutdownTimeout = 30 * time.Second
	}
}

func (gc *GatewayConfig) validate(errs *backup.ValidationErrors) {
	if !gc.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(gc.Address); err != nil {
		errs.Add("gateway.address", "must be host:port", gc.Address)
	}
	if gc.RateLimitRequests < 1 {
		errs.Add("gateway.rate_limit_requests", "must be positive", gc.RateLimitRequests)
	}
	requirePositive(errs, "gateway.rate_limit_window", gc.RateLimitWindow)
}

// LoadFromEnvironment reads CRON_SECRET and PORT
func (gc *GatewayConfig) LoadFromEnvironment() {
	if val := os.Getenv("CRON_SECRET"); val != "" {
		gc.CronSecret = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil && port > 0 {
			gc.Address = net.JoinHostPort("", strconv.Itoa(port))
		}
	}
	if enabled, ok := envBool("BACKUP_GATEWAY_ENABLED"); ok {
		gc.Enabled = enabled
	}
}
