package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"
)

// Operating modes reported by Preflight
const (
	ModeHybrid   = "hybrid"   // in-process timers and the external cron gateway
	ModeInternal = "internal" // in-process timers only
	ModeExternal = "external" // the gateway drives every task
	ModeManual   = "manual"   // tasks run only from the CLI
)

// PreflightResult reports whether the configuration is ready to serve
type PreflightResult struct {
	Mode                 string            `json:"mode"`
	Timezone             string            `json:"timezone"`
	CronSecretConfigured bool              `json:"cronSecretConfigured"`
	Schedules            map[string]string `json:"schedules"`
	StorageReady         bool              `json:"storageReady"`
	Ready                bool              `json:"ready"`
	Warnings             []string          `json:"warnings,omitempty"`
	Errors               []string          `json:"errors,omitempty"`
	RecommendedFixes     []string          `json:"recommendedFixes,omitempty"`
}

// Preflight inspects a loaded configuration without connecting to anything
// remote. Invalid cron expressions are reported as errors because their tasks
// will not be scheduled; a missing cron secret is a warning.
func Preflight(cfg *Config) *PreflightResult {
	result := &PreflightResult{
		Mode:                 mode(cfg),
		Timezone:             cfg.Scheduler.Timezone,
		CronSecretConfigured: cfg.Gateway.CronSecret != "",
		Schedules:            cfg.Scheduler.Schedules(),
		StorageReady:         true,
		Ready:                true,
	}

	if err := cfg.Validate(); err != nil {
		result.Ready = false
		result.Errors = append(result.Errors, fmt.Sprintf("configuration validation failed: %v", err))
	}

	names := make([]string, 0, len(result.Schedules))
	for name := range result.Schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := scheduler.ValidateSchedule(result.Schedules[name]); err != nil {
			result.Ready = false
			result.Errors = append(result.Errors, fmt.Sprintf("task %s will not be scheduled: %v", name, err))
		}
	}

	if cfg.Gateway.Enabled && !result.CronSecretConfigured {
		result.Warnings = append(result.Warnings,
			"CRON_SECRET is not configured; the cron endpoints will answer CRON_SECRET_NOT_CONFIGURED")
	}

	for _, local := range localStores(cfg) {
		if err := checkWritable(local.BasePath); err != nil {
			result.StorageReady = false
			result.Ready = false
			result.Errors = append(result.Errors, fmt.Sprintf("storage path %s is not writable: %v", local.BasePath, err))
		}
	}

	generateRecommendations(cfg, result)
	return result
}

// Log writes the result the way the service announces itself on startup
func (r *PreflightResult) Log(logger *logging.Logger) {
	logger.WithFields(map[string]interface{}{
		"mode":                   r.Mode,
		"timezone":               r.Timezone,
		"cron_secret_configured": r.CronSecretConfigured,
		"storage_ready":          r.StorageReady,
	}).Info("Backup system preflight")

	for _, warning := range r.Warnings {
		logger.Warn(warning)
	}
	for _, msg := range r.Errors {
		logger.Error(msg)
	}
	for _, fix := range r.RecommendedFixes {
		logger.Debugf("Recommendation: %s", fix)
	}
}

func mode(cfg *Config) string {
	switch {
	case cfg.Scheduler.Enabled && cfg.Gateway.Enabled:
		return ModeHybrid
	case cfg.Scheduler.Enabled:
		return ModeInternal
	case cfg.Gateway.Enabled:
		return ModeExternal
	}
	return ModeManual
}

func localStores(cfg *Config) []*backup.LocalConfig {
	var stores []*backup.LocalConfig
	for _, sc := range []backup.StorageConfig{cfg.Storage.Primary, cfg.Storage.Secondary, cfg.Storage.Offline} {
		if sc.Provider == backup.StorageProviderLocal && sc.Local != nil && sc.Local.BasePath != "" {
			stores = append(stores, sc.Local)
		}
	}
	return stores
}

// checkWritable creates the directory if needed and writes a probe file
func checkWritable(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return err
	}
	probe, err := os.CreateTemp(path, ".preflight-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(filepath.Clean(name))
}

func generateRecommendations(cfg *Config, result *PreflightResult) {
	if !cfg.Storage.HasSecondary() {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Configure a secondary object store so archives survive a primary outage")
	}
	if cfg.Storage.Primary.Provider == backup.StorageProviderLocal {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Primary storage is the local filesystem; use s3 in production")
	}
	if cfg.Compression.Algorithm == "gzip" && cfg.Compression.Level > 6 {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Consider using compression level 6 or lower for better performance")
	}
	if !cfg.Notifications.Enabled {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Enable notifications so failed backups and integrity findings reach an operator")
	}
}
