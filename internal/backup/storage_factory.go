package backup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"clinic-backup/internal/logging"

	"golang.org/x/sync/errgroup"
)

// StorageProviderType names an ObjectStore implementation
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "local"
	StorageProviderS3    StorageProviderType = "s3"
	StorageProviderAzure StorageProviderType = "azure"
	StorageProviderGCS   StorageProviderType = "gcs"
)

// StorageConfig selects and configures one provider
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    *LocalConfig        `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config           `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig        `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig          `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 or an S3-compatible endpoint. Empty keys fall back
// to the default AWS credential chain.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	var sub interface{ Validate() error }
	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			errs.Add("local", "local storage configuration is required", nil)
		} else {
			sub = sc.Local
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			errs.Add("s3", "S3 storage configuration is required", nil)
		} else {
			sub = sc.S3
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			errs.Add("azure", "Azure storage configuration is required", nil)
		} else {
			sub = sc.Azure
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			errs.Add("gcs", "GCS storage configuration is required", nil)
		} else {
			sub = sc.GCS
		}
	default:
		errs.Add("provider", "invalid storage provider type", sc.Provider)
	}

	if sub != nil {
		if err := sub.Validate(); err != nil {
			if nested, ok := err.(ValidationErrors); ok {
				errs = append(errs, nested...)
			} else {
				errs.Add(string(sc.Provider), err.Error(), nil)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the LocalConfig struct
func (lc *LocalConfig) Validate() error {
	var errs ValidationErrors
	if lc.BasePath == "" {
		errs.Add("base_path", "base path is required for local storage", lc.BasePath)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the S3Config struct
func (s3c *S3Config) Validate() error {
	var errs ValidationErrors
	if s3c.Bucket == "" {
		errs.Add("bucket", "S3 bucket name is required", s3c.Bucket)
	}
	if s3c.Region == "" {
		errs.Add("region", "S3 region is required", s3c.Region)
	}
	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errs.Add("access_key", "S3 access key and secret key must be set together", nil)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the AzureConfig struct
func (ac *AzureConfig) Validate() error {
	var errs ValidationErrors
	if ac.AccountName == "" {
		errs.Add("account_name", "Azure account name is required", ac.AccountName)
	}
	if ac.AccountKey == "" {
		errs.Add("account_key", "Azure account key is required", nil)
	}
	if ac.ContainerName == "" {
		errs.Add("container_name", "Azure container name is required", ac.ContainerName)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the GCSConfig struct
func (gc *GCSConfig) Validate() error {
	var errs ValidationErrors
	if gc.Bucket == "" {
		errs.Add("bucket", "GCS bucket name is required", gc.Bucket)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NewObjectStore creates the ObjectStore described by config
func NewObjectStore(ctx context.Context, config StorageConfig) (ObjectStore, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStore(config.Local)
	case StorageProviderS3:
		return NewS3Store(config.S3)
	case StorageProviderAzure:
		return NewAzureStore(config.Azure)
	case StorageProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// HealthChecker is implemented by stores that can probe their backend
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MultiStore writes to a primary store and mirrors to secondaries best-effort.
// Reads fall back to secondaries when the primary fails.
type MultiStore struct {
	primary     ObjectStore
	secondaries []ObjectStore
	logger      *logging.Logger
}

// NewMultiStore creates a MultiStore; primary is required
func NewMultiStore(primary ObjectStore, secondaries []ObjectStore, logger *logging.Logger) (*MultiStore, error) {
	if primary == nil {
		return nil, NewConfigurationError("a primary object store is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MultiStore{primary: primary, secondaries: secondaries, logger: logger}, nil
}

// Put succeeds when the primary write succeeds. Secondary failures are logged.
func (m *MultiStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	location, err := m.primary.Put(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}

	if len(m.secondaries) == 0 {
		return location, nil
	}

	var g errgroup.Group
	for _, store := range m.secondaries {
		store := store
		g.Go(func() error {
			if _, err := store.Put(ctx, key, data, contentType); err != nil {
				m.logger.WithFields(map[string]interface{}{
					"store": store.Name(),
					"key":   key,
					"error": err.Error(),
				}).Warn("Secondary object store upload failed")
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	return location, nil
}

// Get reads from the primary, then each secondary in order
func (m *MultiStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.primary.Get(ctx, key)
	if err == nil {
		return data, nil
	}

	primaryErr, lastErr := err, err
	for _, store := range m.secondaries {
		data, err := store.Get(ctx, key)
		if err == nil {
			m.logger.WithFields(map[string]interface{}{
				"store": store.Name(),
				"key":   key,
				"error": primaryErr.Error(),
			}).Warn("Primary object store read failed, served from secondary")
			return data, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// Primary returns the store uploads are confirmed against
func (m *MultiStore) Primary() ObjectStore {
	return m.primary
}

// Delete removes the key from every store. Only a primary failure is returned.
func (m *MultiStore) Delete(ctx context.Context, key string) error {
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}

	for _, store := range m.secondaries {
		if err := store.Delete(ctx, key); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"store": store.Name(),
				"key":   key,
				"error": err.Error(),
			}).Warn("Secondary object store delete failed")
		}
	}
	return nil
}

// Name joins the member store names
func (m *MultiStore) Name() string {
	names := []string{m.primary.Name()}
	for _, store := range m.secondaries {
		names = append(names, store.Name())
	}
	return strings.Join(names, "+")
}

// HealthCheck probes every store that supports it, keyed by store name
func (m *MultiStore) HealthCheck(ctx context.Context) map[string]error {
	stores := append([]ObjectStore{m.primary}, m.secondaries...)
	results := make(map[string]error, len(stores))

	var mu sync.Mutex
	var g errgroup.Group
	for _, store := range stores {
		checker, ok := store.(HealthChecker)
		if !ok {
			continue
		}
		name := store.Name()
		g.Go(func() error {
			err := checker.HealthCheck(ctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
