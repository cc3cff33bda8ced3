package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements ObjectStore for Google Cloud Storage
type GCSStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStore creates a new GCSStore instance
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if config == nil {
		return nil, NewConfigurationError("GCS storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// Application default credentials
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStore{
		client:     client,
		bucketName: config.Bucket,
		prefix:     config.Prefix,
	}, nil
}

// Put uploads an archive and returns its gs:// location
func (g *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	objectName := g.prefix + key
	writer := g.client.Bucket(g.bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{
		"checksum-sha256": Checksum(data),
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", NewStorageError(fmt.Sprintf("failed to upload %s to GCS", objectName), err)
	}

	if err := writer.Close(); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to finalize %s in GCS", objectName), err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucketName, objectName), nil
}

// Get downloads an archive
func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	objectName := g.prefix + key

	reader, err := g.client.Bucket(g.bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", objectName), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from GCS", objectName), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read object body", err)
	}

	return data, nil
}

// Delete removes an archive; deleting a missing key succeeds
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucketName).Object(g.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return NewStorageError(fmt.Sprintf("failed to delete %s from GCS", key), err)
	}
	return nil
}

// Name returns the provider name
func (g *GCSStore) Name() string {
	return "gcs"
}

// HealthCheck verifies that the bucket is reachable and listable
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucketName)

	if _, err := bucket.Attrs(ctx); err != nil {
		return NewStorageError("GCS health check failed: bucket not accessible", err)
	}

	it := bucket.Objects(ctx, &storage.Query{Prefix: g.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return NewStorageError("GCS health check failed: cannot list objects", err)
	}

	return nil
}

// Close closes the GCS client
func (g *GCSStore) Close() error {
	return g.client.Close()
}
