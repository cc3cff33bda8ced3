package database

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "backup",
				Password: "password",
				Database: "clinic",
				Timeout:  30 * time.Second,
			},
			wantErr: false,
		},
		{
			name:    "valid dsn overrides fields",
			config:  DatabaseConfig{DSN: "backup:secret@tcp(db:3306)/clinic"},
			wantErr: false,
		},
		{
			name:    "malformed dsn",
			config:  DatabaseConfig{DSN: "backup:secret@tcp(db:3306"},
			wantErr: true,
		},
		{
			name: "missing host",
			config: DatabaseConfig{
				Port:     3306,
				Username: "backup",
				Database: "clinic",
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     0,
				Username: "backup",
				Database: "clinic",
			},
			wantErr: true,
		},
		{
			name: "missing username",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Database: "clinic",
			},
			wantErr: true,
		},
		{
			name: "missing database",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "backup",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("DatabaseConfig.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DataSourceName(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		Username: "backup",
		Password: "p@ss:word",
		Database: "clinic",
		Timeout:  30 * time.Second,
	}

	dsn := config.DataSourceName()
	if !strings.HasPrefix(dsn, "backup:p@ss:word@tcp(localhost:3306)/clinic?") {
		t.Errorf("unexpected DSN prefix: %s", dsn)
	}
	for _, param := range []string{"parseTime=true", "timeout=30s"} {
		if !strings.Contains(dsn, param) {
			t.Errorf("DSN %s is missing %s", dsn, param)
		}
	}
}

func TestDatabaseConfig_DataSourceNameFromDSN(t *testing.T) {
	config := DatabaseConfig{DSN: "backup:secret@tcp(db:3306)/clinic"}

	dsn := config.DataSourceName()
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime to be forced on, got %s", dsn)
	}

	host, database := config.Target()
	if host != "db:3306" || database != "clinic" {
		t.Errorf("Target() = %s, %s", host, database)
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	config := &DatabaseConfig{}
	config.SetDefaults()

	if config.Port != 3306 {
		t.Errorf("Expected port to be 3306, got %d", config.Port)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", config.Timeout)
	}
	if config.MaxOpenConns != 10 || config.MaxIdleConns != 5 {
		t.Errorf("Unexpected pool sizes %d/%d", config.MaxOpenConns, config.MaxIdleConns)
	}
	if config.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("Expected connection lifetime to be 5m, got %v", config.ConnMaxLifetime)
	}
}
