package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DatabaseConfig holds the connection parameters for the clinic database
type DatabaseConfig struct {
	// DSN overrides the individual fields when set
	DSN             string        `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password,omitempty"`
	Database        string        `mapstructure:"database" yaml:"database"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// SetDefaults fills in zero values
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout == 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.MaxOpenConns == 0 {
		dc.MaxOpenConns = 10
	}
	if dc.MaxIdleConns == 0 {
		dc.MaxIdleConns = 5
	}
	if dc.ConnMaxLifetime == 0 {
		dc.ConnMaxLifetime = 5 * time.Minute
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	if dc.DSN != "" {
		if _, err := mysql.ParseDSN(dc.DSN); err != nil {
			return fmt.Errorf("database configuration validation failed: invalid dsn: %w", err)
		}
		return nil
	}

	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errors.Join(errs...))
	}

	return nil
}

// DataSourceName returns the MySQL DSN. parseTime is always enabled so
// DATETIME columns scan into time.Time.
func (dc *DatabaseConfig) DataSourceName() string {
	if dc.DSN != "" {
		cfg, err := mysql.ParseDSN(dc.DSN)
		if err != nil {
			return dc.DSN
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN()
	}

	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Target describes the connection without credentials, for logs
func (dc *DatabaseConfig) Target() (host, database string) {
	if dc.DSN != "" {
		if cfg, err := mysql.ParseDSN(dc.DSN); err == nil {
			return cfg.Addr, cfg.DBName
		}
		return "dsn", ""
	}
	return fmt.Sprintf("%s:%d", dc.Host, dc.Port), dc.Database
}
