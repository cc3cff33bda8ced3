package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "clinic-backup/internal/errors"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the generic viper environment overrides, e.g.
// CLINIC_BACKUP_GATEWAY_ADDRESS
const EnvPrefix = "CLINIC_BACKUP"

// NewViper returns a viper instance reading configPath, or searching the
// usual locations for clinic-backup.yaml when configPath is empty
func NewViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("clinic-backup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/clinic-backup")
		v.AddConfigPath("/etc/clinic-backup")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	RegisterDefaults(v)
	return v
}

// ReadConfigFile reads the configured file. A missing file is not an
// error when no explicit path was given.
func ReadConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return apperrors.NewConfigurationError("error reading config file", err)
	}
	return nil
}

// RegisterDefaults sets every default on v so AllSettings and environment
// overrides see the complete key set
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "clinic")
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("tenants.active_status", "active")
	v.SetDefault("tenants.concurrency", 4)

	v.SetDefault("storage.primary.provider", "local")
	v.SetDefault("storage.primary.local.base_path", "./backups/primary")
	v.SetDefault("storage.secondary.provider", "none")
	v.SetDefault("storage.offline.provider", "local")
	v.SetDefault("storage.offline.local.base_path", "./backups/offline")

	v.SetDefault("encryption.system_secret", "")
	v.SetDefault("encryption.kdf_iterations", 100000)

	v.SetDefault("compression.algorithm", "gzip")
	v.SetDefault("compression.level", 6)

	v.SetDefault("retention.failed_grace_window", "24h")
	v.SetDefault("integrity.sample_size", 30)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "America/Sao_Paulo")
	v.SetDefault("scheduler.daily_backup", "0 3 * * *")
	v.SetDefault("scheduler.cleanup", "0 2 * * *")
	v.SetDefault("scheduler.weekly_restore_test", "0 4 * * 0")
	v.SetDefault("scheduler.integrity_check", "0 6 * * 1")
	v.SetDefault("scheduler.monthly_report", "0 5 1 * *")
	v.SetDefault("scheduler.backup_timeout", "30m")
	v.SetDefault("scheduler.restore_test_timeout", "1h")
	v.SetDefault("scheduler.task_timeout", "2h")

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.address", ":8080")
	v.SetDefault("gateway.cron_secret", "")
	v.SetDefault("gateway.rate_limit_requests", 10)
	v.SetDefault("gateway.rate_limit_window", "1m")
	v.SetDefault("gateway.read_timeout", "15s")
	v.SetDefault("gateway.shutdown_timeout", "30s")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.default_recipient", "")
	v.SetDefault("notifications.min_severity", "info")

	v.SetDefault("logging.level", "normal")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.audit_file", "")
	v.SetDefault("logging.show_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load unmarshals v, applies environment overrides and defaults, then validates
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid configuration", err)
	}
	return cfg, nil
}

// Decode is Load without validation, for commands that need only part of the config
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigurationError("failed to decode configuration", err)
	}
	cfg.LoadFromEnvironment()
	cfg.SetDefaults()
	return &cfg, nil
}

// SampleYAML renders the default configuration as YAML
func SampleYAML() ([]byte, error) {
	v := viper.New()
	RegisterDefaults(v)

	body, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	header := "# clinic-backup configuration\n" +
		"# Secrets are best supplied through CRON_SECRET and BACKUP_SYSTEM_SECRET.\n"
	return append([]byte(header), body...), nil
}

// WriteSample writes the sample configuration to path. An existing file is
// kept as path.backup unless overwrite is false, in which case it is an error.
func WriteSample(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return fmt.Errorf("configuration file %s already exists", path)
		}
		if err := copyFile(path, path+".backup"); err != nil {
			return fmt.Errorf("failed to create backup of configuration file: %w", err)
		}
	}

	data, err := SampleYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

func copyFile(from, to string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return err
	}
	return os.WriteFile(to, data, 0600)
}
