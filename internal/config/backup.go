package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"clinic-backup/internal/backup"
)

// StorageConfig places archives: primary object store, an optional
// best-effort replica and the offline medium
type StorageConfig struct {
	Primary   backup.StorageConfig `mapstructure:"primary" yaml:"primary"`
	Secondary backup.StorageConfig `mapstructure:"secondary" yaml:"secondary"`
	Offline   backup.StorageConfig `mapstructure:"offline" yaml:"offline"`
}

// EncryptionConfig holds the system secret tenant passwords derive from
type EncryptionConfig struct {
	SystemSecret  string `mapstructure:"system_secret" yaml:"system_secret,omitempty"`
	KDFIterations int    `mapstructure:"kdf_iterations" yaml:"kdf_iterations"`
}

// CompressionConfig selects the archive compression
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int    `mapstructure:"level" yaml:"level"`
}

// RetentionConfig tunes the retention cleaner
type RetentionConfig struct {
	// FailedGraceWindow keeps failed records around for inspection
	FailedGraceWindow time.Duration `mapstructure:"failed_grace_window" yaml:"failed_grace_window"`
}

// IntegrityConfig tunes the integrity checker
type IntegrityConfig struct {
	SampleSize int `mapstructure:"sample_size" yaml:"sample_size"`
}

// minSecretLength rejects trivially guessable system secrets
const minSecretLength = 16

// HasSecondary reports whether a replica store is configured
func (sc *StorageConfig) HasSecondary() bool {
	return sc.Secondary.Provider != "" && sc.Secondary.Provider != "none"
}

// SetDefaults fills in zero values. The primary store falls back to the
// local filesystem so a development install works without cloud credentials.
func (sc *StorageConfig) SetDefaults() {
	if sc.Primary.Provider == "" {
		sc.Primary.Provider = backup.StorageProviderLocal
	}
	if sc.Primary.Provider == backup.StorageProviderLocal && sc.Primary.Local == nil {
		sc.Primary.Local = &backup.LocalConfig{BasePath: "./backups/primary"}
	}
	if sc.Primary.Provider == backup.StorageProviderS3 && sc.Primary.S3 != nil && sc.Primary.S3.Region == "" {
		sc.Primary.S3.Region = "us-east-1"
	}

	if sc.Secondary.Provider == "" {
		sc.Secondary.Provider = "none"
	}

	if sc.Offline.Provider == "" {
		sc.Offline.Provider = backup.StorageProviderLocal
	}
	if sc.Offline.Provider == backup.StorageProviderLocal && sc.Offline.Local == nil {
		sc.Offline.Local = &backup.LocalConfig{BasePath: "./backups/offline"}
	}
}

func (sc *StorageConfig) validate(errs *backup.ValidationErrors) {
	if err := sc.Primary.Validate(); err != nil {
		errs.Add("storage.primary", err.Error(), sc.Primary.Provider)
	}
	if sc.HasSecondary() {
		if err := sc.Secondary.Validate(); err != nil {
			errs.Add("storage.secondary", err.Error(), sc.Secondary.Provider)
		}
	}
	if err := sc.Offline.Validate(); err != nil {
		errs.Add("storage.offline", err.Error(), sc.Offline.Provider)
	}
}

// LoadFromEnvironment reads BACKUP_S3_* into the primary store, switching it to S3
// when a bucket is given
func (sc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_STORAGE_PROVIDER"); val != "" {
		sc.Primary.Provider = backup.StorageProviderType(strings.ToLower(val))
	}

	if val := os.Getenv("BACKUP_S3_BUCKET"); val != "" {
		sc.Primary.Provider = backup.StorageProviderS3
		sc.s3().Bucket = val
	}
	if val := os.Getenv("BACKUP_S3_REGION"); val != "" {
		sc.s3().Region = val
	}
	if val := os.Getenv("BACKUP_S3_ENDPOINT"); val != "" {
		sc.s3().Endpoint = val
	}
	if val := os.Getenv("BACKUP_S3_PREFIX"); val != "" {
		sc.s3().Prefix = val
	}
	if val := os.Getenv("BACKUP_S3_ACCESS_KEY"); val != "" {
		sc.s3().AccessKey = val
	}
	if val := os.Getenv("BACKUP_S3_SECRET_KEY"); val != "" {
		sc.s3().SecretKey = val
	}

	if val := os.Getenv("BACKUP_OFFLINE_PATH"); val != "" {
		sc.Offline.Provider = backup.StorageProviderLocal
		sc.Offline.Local = &backup.LocalConfig{BasePath: val}
	}
}

func (sc *StorageConfig) s3() *backup.S3Config {
	if sc.Primary.S3 == nil {
		sc.Primary.S3 = &backup.S3Config{}
	}
	return sc.Primary.S3
}

// SetDefaults fills in zero values
func (ec *EncryptionConfig) SetDefaults() {
	if ec.KDFIterations == 0 {
		ec.KDFIterations = backup.DefaultKDFIterations
	}
}

func (ec *EncryptionConfig) validate(errs *backup.ValidationErrors) {
	if ec.SystemSecret == "" {
		errs.Add("encryption.system_secret", "system secret is required (BACKUP_SYSTEM_SECRET)", nil)
	} else if len(ec.SystemSecret) < minSecretLength {
		errs.Add("encryption.system_secret", "system secret must be at least 16 characters", nil)
	}
	if ec.KDFIterations < 10000 {
		errs.Add("encryption.kdf_iterations", "must be at least 10000", ec.KDFIterations)
	}
}

// LoadFromEnvironment reads BACKUP_SYSTEM_SECRET and BACKUP_KDF_ITERATIONS
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_SYSTEM_SECRET"); val != "" {
		ec.SystemSecret = val
	}
	if val := os.Getenv("BACKUP_KDF_ITERATIONS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			ec.KDFIterations = parsed
		}
	}
}

// CompressionType returns the parsed algorithm
func (cc *CompressionConfig) CompressionType() backup.CompressionType {
	algorithm, err := backup.ParseCompressionType(cc.Algorithm)
	if err != nil {
		return backup.CompressionTypeGzip
	}
	return algorithm
}

// SetDefaults fills in zero values
func (cc *CompressionConfig) SetDefaults() {
	if cc.Algorithm == "" {
		cc.Algorithm = string(backup.CompressionTypeGzip)
	}
	if cc.Level == 0 {
		switch strings.ToLower(cc.Algorithm) {
		case "gzip":
			cc.Level = 6
		case "lz4":
			cc.Level = 1
		case "zstd":
			cc.Level = 3
		}
	}
}

func (cc *CompressionConfig) validate(errs *backup.ValidationErrors) {
	switch strings.ToLower(cc.Algorithm) {
	case "gzip":
		if cc.Level < 1 || cc.Level > 9 {
			errs.Add("compression.level", "gzip compression level must be between 1 and 9", cc.Level)
		}
	case "lz4":
		if cc.Level < 1 || cc.Level > 12 {
			errs.Add("compression.level", "lz4 compression level must be between 1 and 12", cc.Level)
		}
	case "zstd":
		if cc.Level < 1 || cc.Level > 22 {
			errs.Add("compression.level", "zstd compression level must be between 1 and 22", cc.Level)
		}
	default:
		errs.Add("compression.algorithm", "must be gzip, lz4 or zstd", cc.Algorithm)
	}
}

// SetDefaults fills in zero values
func (rc *RetentionConfig) SetDefaults() {
	if rc.FailedGraceWindow == 0 {
		rc.FailedGraceWindow = 24 * time.Hour
	}
}

func (rc *RetentionConfig) validate(errs *backup.ValidationErrors) {
	if rc.FailedGraceWindow < 0 {
		errs.Add("retention.failed_grace_window", "cannot be negative", rc.FailedGraceWindow.String())
	}
}

// SetDefaults fills in zero values
func (ic *IntegrityConfig) SetDefaults() {
	if ic.SampleSize == 0 {
		ic.SampleSize = backup.DefaultIntegritySampleSize
	}
}

func (ic *IntegrityConfig) validate(errs *backup.ValidationErrors) {
	if ic.SampleSize < 1 {
		errs.Add("integrity.sample_size", "must be positive", ic.SampleSize)
	}
}
