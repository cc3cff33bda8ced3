package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/database"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"
)

// Config is the complete configuration of the backup service
type Config struct {
	Database      database.DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Tenants       TenantsConfig             `mapstructure:"tenants" yaml:"tenants"`
	Storage       StorageConfig             `mapstructure:"storage" yaml:"storage"`
	Encryption    EncryptionConfig          `mapstructure:"encryption" yaml:"encryption"`
	Compression   CompressionConfig         `mapstructure:"compression" yaml:"compression"`
	Retention     RetentionConfig           `mapstructure:"retention" yaml:"retention"`
	Integrity     IntegrityConfig           `mapstructure:"integrity" yaml:"integrity"`
	Scheduler     SchedulerConfig           `mapstructure:"scheduler" yaml:"scheduler"`
	Gateway       GatewayConfig             `mapstructure:"gateway" yaml:"gateway"`
	Notifications backup.NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Logging       LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Metrics       MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
}

// TenantsConfig controls how tenants are selected and swept
type TenantsConfig struct {
	// ActiveStatus is the tenants.status value of a live tenant
	ActiveStatus string `mapstructure:"active_status" yaml:"active_status"`
	// Concurrency caps tenants backed up at once during the daily sweep
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// LoggingConfig configures the application log and the audit trail
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	AuditFile  string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// MetricsConfig toggles the Prometheus endpoint on the gateway
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// SetDefaults fills every zero value with its default
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Tenants.SetDefaults()
	c.Storage.SetDefaults()
	c.Encryption.SetDefaults()
	c.Compression.SetDefaults()
	c.Retention.SetDefaults()
	c.Integrity.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Gateway.SetDefaults()
	c.Logging.SetDefaults()
	c.Metrics.SetDefaults()

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = backup.SeverityInfo
	}
}

// Validate checks the configuration. Cron expressions and the cron secret
// are not checked here: a bad schedule only disables its task and a
// missing secret only disables the gateway's POST endpoints.
func (c *Config) Validate() error {
	var errs backup.ValidationErrors

	if err := c.Database.Validate(); err != nil {
		errs.Add("database", err.Error(), nil)
	}
	c.Tenants.validate(&errs)
	c.Storage.validate(&errs)
	c.Encryption.validate(&errs)
	c.Compression.validate(&errs)
	c.Retention.validate(&errs)
	c.Integrity.validate(&errs)
	c.Scheduler.validate(&errs)
	c.Gateway.validate(&errs)
	c.Logging.validate(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoadFromEnvironment overrides configuration from the well-known
// environment variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_DATABASE_DSN"); val != "" {
		c.Database.DSN = val
	}
	if val := os.Getenv("BACKUP_TENANT_ACTIVE_STATUS"); val != "" {
		c.Tenants.ActiveStatus = val
	}
	if val := os.Getenv("BACKUP_NOTIFICATION_EMAIL"); val != "" {
		c.Notifications.DefaultRecipient = val
	}
	if val := os.Getenv("BACKUP_LOG_LEVEL"); val != "" {
		c.Logging.Level = strings.ToLower(val)
	}

	c.Storage.LoadFromEnvironment()
	c.Encryption.LoadFromEnvironment()
	c.Scheduler.LoadFromEnvironment()
	c.Gateway.LoadFromEnvironment()
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(c.Logging.Level),
		Format:     c.Logging.Format,
		ShowCaller: c.Logging.ShowCaller,
		LogFile:    c.Logging.File,
	}
}

// Location returns the business timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SchedulerSettings converts the scheduler section for scheduler.New
func (c *Config) SchedulerSettings() scheduler.Config {
	return scheduler.Config{
		Enabled:        c.Scheduler.Enabled,
		Timezone:       c.Scheduler.Timezone,
		DefaultTimeout: c.Scheduler.TaskTimeout,
	}
}

// ManagerSettings converts the encryption and scheduler sections for backup.NewManager
func (c *Config) ManagerSettings(productVersion string) backup.ManagerConfig {
	return backup.ManagerConfig{
		SystemSecret:   c.Encryption.SystemSecret,
		ProductVersion: productVersion,
		BackupTimeout:  c.Scheduler.BackupTimeout,
	}
}

// RetentionSettings converts the retention section for backup.NewRetentionManager
func (c *Config) RetentionSettings() backup.RetentionConfig {
	return backup.RetentionConfig{
		FailedGraceWindow: c.Retention.FailedGraceWindow,
		Location:          c.Location(),
	}
}

// SweepSettings converts the tenant and integrity sections for backup.NewSweeps
func (c *Config) SweepSettings() backup.SweepConfig {
	return backup.SweepConfig{
		Concurrency:         c.Tenants.Concurrency,
		IntegritySampleSize: c.Integrity.SampleSize,
	}
}

// SetDefaults fills in zero values
func (tc *TenantsConfig) SetDefaults() {
	if tc.ActiveStatus == "" {
		tc.ActiveStatus = "active"
	}
	if tc.Concurrency == 0 {
		tc.Concurrency = 4
	}
}

func (tc *TenantsConfig) validate(errs *backup.ValidationErrors) {
	if tc.Concurrency < 1 || tc.Concurrency > 64 {
		errs.Add("tenants.concurrency", "must be between 1 and 64", tc.Concurrency)
	}
}

// SetDefaults fills in zero values
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

func (lc *LoggingConfig) validate(errs *backup.ValidationErrors) {
	switch logging.LogLevel(lc.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level", "must be quiet, normal, verbose or debug", lc.Level)
	}
	switch lc.Format {
	case "text", "json":
	default:
		errs.Add("logging.format", "must be text or json", lc.Format)
	}
}

// SetDefaults fills in zero values
func (mc *MetricsConfig) SetDefaults() {
	if mc.Path == "" {
		mc.Path = "/metrics"
	}
}

// envBool parses a boolean environment variable, reporting whether it was set and valid
func envBool(name string) (bool, bool) {
	val := os.Getenv(name)
	if val == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// envDuration parses a duration environment variable, reporting whether it was set and valid
func envDuration(name string) (time.Duration, bool) {
	val := os.Getenv(name)
	if val == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func requirePositive(errs *backup.ValidationErrors, field string, value time.Duration) {
	if value <= 0 {
		errs.Add(field, "must be a positive duration", value.String())
	}
}
