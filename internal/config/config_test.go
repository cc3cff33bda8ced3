package config

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a defaulted configuration that passes Validate
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Username = "backup"
	cfg.Database.Database = "clinic"
	cfg.Encryption.SystemSecret = "a-very-long-system-secret"
	cfg.Storage.Primary = backup.StorageConfig{
		Provider: backup.StorageProviderLocal,
		Local:    &backup.LocalConfig{BasePath: t.TempDir()},
	}
	cfg.Storage.Offline = backup.StorageConfig{
		Provider: backup.StorageProviderLocal,
		Local:    &backup.LocalConfig{BasePath: t.TempDir()},
	}
	cfg.Scheduler.Enabled = true
	cfg.Gateway.Enabled = true
	cfg.SetDefaults()
	return cfg
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "America/Sao_Paulo", cfg.Scheduler.Timezone)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.DailyBackup)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.Cleanup)
	assert.Equal(t, "0 4 * * 0", cfg.Scheduler.WeeklyRestoreTest)
	assert.Equal(t, "0 6 * * 1", cfg.Scheduler.IntegrityCheck)
	assert.Equal(t, "0 5 1 * *", cfg.Scheduler.MonthlyReport)
	assert.Equal(t, 24*time.Hour, cfg.Retention.FailedGraceWindow)
	assert.Equal(t, backup.DefaultIntegritySampleSize, cfg.Integrity.SampleSize)
	assert.Equal(t, 10, cfg.Gateway.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.Gateway.RateLimitWindow)
	assert.Equal(t, "gzip", cfg.Compression.Algorithm)
	assert.Equal(t, 6, cfg.Compression.Level)
	assert.Equal(t, backup.DefaultKDFIterations, cfg.Encryption.KDFIterations)
	assert.Equal(t, backup.StorageProviderLocal, cfg.Storage.Primary.Provider)
	assert.False(t, cfg.Storage.HasSecondary())
	assert.Equal(t, "active", cfg.Tenants.ActiveStatus)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "missing system secret",
			mutate:  func(cfg *Config) { cfg.Encryption.SystemSecret = "" },
			wantErr: "encryption.system_secret",
		},
		{
			name:    "short system secret",
			mutate:  func(cfg *Config) { cfg.Encryption.SystemSecret = "short" },
			wantErr: "encryption.system_secret",
		},
		{
			name:    "unknown timezone",
			mutate:  func(cfg *Config) { cfg.Scheduler.Timezone = "Mars/Olympus_Mons" },
			wantErr: "scheduler.timezone",
		},
		{
			name:    "bad compression algorithm",
			mutate:  func(cfg *Config) { cfg.Compression.Algorithm = "brotli" },
			wantErr: "compression.algorithm",
		},
		{
			name:    "zstd level out of range",
			mutate:  func(cfg *Config) { cfg.Compression.Algorithm, cfg.Compression.Level = "zstd", 30 },
			wantErr: "compression.level",
		},
		{
			name: "secondary store without bucket",
			mutate: func(cfg *Config) {
				cfg.Storage.Secondary = backup.StorageConfig{Provider: backup.StorageProviderGCS, GCS: &backup.GCSConfig{}}
			},
			wantErr: "storage.secondary",
		},
		{
			name:    "negative grace window",
			mutate:  func(cfg *Config) { cfg.Retention.FailedGraceWindow = -time.Hour },
			wantErr: "retention.failed_grace_window",
		},
		{
			name:    "geocoding without url",
			mutate:  func(cfg *Config) { cfg.Scheduler.Geocoding.Schedule = "*/30 * * * *" },
			wantErr: "scheduler.geocoding",
		},
		{
			name:    "bad gateway address",
			mutate:  func(cfg *Config) { cfg.Gateway.Address = "8080" },
			wantErr: "gateway.address",
		},
		{
			name: "bad gateway address ignored when disabled",
			mutate: func(cfg *Config) {
				cfg.Gateway.Enabled = false
				cfg.Gateway.Address = "8080"
			},
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:   "invalid cron is not a load error",
			mutate: func(cfg *Config) { cfg.Scheduler.DailyBackup = "not a cron" },
		},
		{
			name:   "missing cron secret is not a load error",
			mutate: func(cfg *Config) { cfg.Gateway.CronSecret = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var verrs backup.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.wantErr)
		})
	}
}

func TestConfig_LoadFromEnvironment(t *testing.T) {
	t.Setenv("CRON_SECRET", "cron-token")
	t.Setenv("BACKUP_SYSTEM_SECRET", "system-secret-from-env")
	t.Setenv("BACKUP_DATABASE_DSN", "backup:pw@tcp(db:3306)/clinic")
	t.Setenv("BACKUP_S3_BUCKET", "clinic-backups")
	t.Setenv("BACKUP_S3_REGION", "sa-east-1")
	t.Setenv("BACKUP_SCHEDULER_ENABLED", "false")
	t.Setenv("BACKUP_CRON_DAILY", "30 2 * * *")
	t.Setenv("BACKUP_NOTIFICATION_EMAIL", "ops@clinic.test")
	t.Setenv("PORT", "9090")

	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	cfg.LoadFromEnvironment()

	assert.Equal(t, "cron-token", cfg.Gateway.CronSecret)
	assert.Equal(t, ":9090", cfg.Gateway.Address)
	assert.Equal(t, "system-secret-from-env", cfg.Encryption.SystemSecret)
	assert.Equal(t, "backup:pw@tcp(db:3306)/clinic", cfg.Database.DSN)
	assert.Equal(t, backup.StorageProviderS3, cfg.Storage.Primary.Provider)
	require.NotNil(t, cfg.Storage.Primary.S3)
	assert.Equal(t, "clinic-backups", cfg.Storage.Primary.S3.Bucket)
	assert.Equal(t, "sa-east-1", cfg.Storage.Primary.S3.Region)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "30 2 * * *", cfg.Scheduler.DailyBackup)
	assert.Equal(t, "ops@clinic.test", cfg.Notifications.DefaultRecipient)
}

func TestConfig_InvalidBoolEnvironmentIsIgnored(t *testing.T) {
	t.Setenv("BACKUP_SCHEDULER_ENABLED", "maybe")

	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	cfg.LoadFromEnvironment()
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestSchedulerConfig_Schedules(t *testing.T) {
	cfg := validConfig(t)

	schedules := cfg.Scheduler.Schedules()
	assert.Len(t, schedules, 5)
	assert.Equal(t, "0 3 * * *", schedules[scheduler.TaskDailyBackup])
	assert.NotContains(t, schedules, scheduler.TaskGeocoding)

	cfg.Scheduler.Geocoding = GeocodingConfig{Schedule: "0 */6 * * *", URL: "http://geo.internal/run"}
	schedules = cfg.Scheduler.Schedules()
	assert.Equal(t, "0 */6 * * *", schedules[scheduler.TaskGeocoding])
}

func TestConfig_Conversions(t *testing.T) {
	cfg := validConfig(t)

	manager := cfg.ManagerSettings("1.2.0")
	assert.Equal(t, cfg.Encryption.SystemSecret, manager.SystemSecret)
	assert.Equal(t, "1.2.0", manager.ProductVersion)
	assert.Equal(t, 30*time.Minute, manager.BackupTimeout)

	sched := cfg.SchedulerSettings()
	assert.True(t, sched.Enabled)
	assert.Equal(t, "America/Sao_Paulo", sched.Timezone)

	retention := cfg.RetentionSettings()
	assert.Equal(t, 24*time.Hour, retention.FailedGraceWindow)
	assert.Equal(t, "America/Sao_Paulo", retention.Location.String())

	sweep := cfg.SweepSettings()
	assert.Equal(t, 4, sweep.Concurrency)
	assert.Equal(t, backup.DefaultIntegritySampleSize, sweep.IntegritySampleSize)

	assert.Equal(t, backup.CompressionTypeGzip, cfg.Compression.CompressionType())
}
