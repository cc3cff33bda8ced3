package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  StorageConfig
		wantErr bool
		field   string
	}{
		{
			name:   "valid local",
			config: StorageConfig{Provider: StorageProviderLocal, Local: &LocalConfig{BasePath: "/var/backups"}},
		},
		{
			name:   "valid s3 with default credential chain",
			config: StorageConfig{Provider: StorageProviderS3, S3: &S3Config{Bucket: "clinic-backups", Region: "sa-east-1"}},
		},
		{
			name:    "s3 with half a key pair",
			config:  StorageConfig{Provider: StorageProviderS3, S3: &S3Config{Bucket: "b", Region: "r", AccessKey: "AKIA"}},
			wantErr: true,
			field:   "access_key",
		},
		{
			name:    "missing provider block",
			config:  StorageConfig{Provider: StorageProviderGCS},
			wantErr: true,
			field:   "gcs",
		},
		{
			name:    "azure without key",
			config:  StorageConfig{Provider: StorageProviderAzure, Azure: &AzureConfig{AccountName: "acct", ContainerName: "backups"}},
			wantErr: true,
			field:   "account_key",
		},
		{
			name:    "unknown provider",
			config:  StorageConfig{Provider: "ftp"},
			wantErr: true,
			field:   "provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var errs ValidationErrors
			require.True(t, errors.As(err, &errs))
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestNewObjectStore_Local(t *testing.T) {
	store, err := NewObjectStore(context.Background(), StorageConfig{
		Provider: StorageProviderLocal,
		Local:    &LocalConfig{BasePath: t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())
}

func TestMultiStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put mirrors and tolerates secondary failure", func(t *testing.T) {
		primary := NewMockObjectStore("s3")
		healthy := NewMockObjectStore("gcs")
		broken := NewMockObjectStore("azure")
		broken.failPrefix = "backup/"

		ms, err := NewMultiStore(primary, []ObjectStore{healthy, broken}, nil)
		require.NoError(t, err)

		_, err = ms.Put(ctx, "backup/tenant_1/a", []byte("x"), archiveContentType)
		require.NoError(t, err)

		_, ok := healthy.object("backup/tenant_1/a")
		assert.True(t, ok)
		assert.Equal(t, "s3+gcs+azure", ms.Name())
	})

	t.Run("primary failure fails the put", func(t *testing.T) {
		primary := NewMockObjectStore("s3")
		primary.failPrefix = "backup/"
		secondary := NewMockObjectStore("gcs")

		ms, err := NewMultiStore(primary, []ObjectStore{secondary}, nil)
		require.NoError(t, err)

		_, err = ms.Put(ctx, "backup/tenant_1/a", []byte("x"), archiveContentType)
		require.Error(t, err)
		_, ok := secondary.object("backup/tenant_1/a")
		assert.False(t, ok)
	})

	t.Run("get falls back to a secondary", func(t *testing.T) {
		primary := NewMockObjectStore("s3")
		secondary := NewMockObjectStore("gcs")
		secondary.set("k", []byte("from secondary"))

		ms, err := NewMultiStore(primary, []ObjectStore{secondary}, nil)
		require.NoError(t, err)

		data, err := ms.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("from secondary"), data)
	})

	t.Run("delete reports only primary failures", func(t *testing.T) {
		primary := NewMockObjectStore("s3")
		secondary := NewMockObjectStore("gcs")
		secondary.deleteErr = errors.New("forbidden")

		ms, err := NewMultiStore(primary, []ObjectStore{secondary}, nil)
		require.NoError(t, err)
		assert.NoError(t, ms.Delete(ctx, "k"))

		primary.deleteErr = errors.New("throttled")
		assert.Error(t, ms.Delete(ctx, "k"))
	})

	t.Run("health check keyed by name", func(t *testing.T) {
		primary := NewMockObjectStore("s3")
		secondary := NewMockObjectStore("gcs")
		secondary.healthErr = errors.New("unreachable")

		ms, err := NewMultiStore(primary, []ObjectStore{secondary}, nil)
		require.NoError(t, err)

		results := ms.HealthCheck(ctx)
		assert.NoError(t, results["s3"])
		assert.EqualError(t, results["gcs"], "unreachable")
	})

	t.Run("requires primary", func(t *testing.T) {
		_, err := NewMultiStore(nil, nil, nil)
		assert.Error(t, err)
	})
}
