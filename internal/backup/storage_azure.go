package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore implements ObjectStore for Azure Blob Storage
type AzureStore struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStore creates a new AzureStore instance
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, NewConfigurationError("Azure storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        config.Prefix,
	}, nil
}

// Put uploads an archive and returns its blob URL
func (a *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	blobURL := a.containerURL.NewBlockBlobURL(a.prefix + key)

	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentType},
		Metadata: azblob.Metadata{
			"checksumsha256": Checksum(data),
		},
	})
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload %s to Azure", key), err)
	}

	u := blobURL.URL()
	return u.String(), nil
}

// Get downloads an archive
func (a *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	blobURL := a.containerURL.NewBlockBlobURL(a.prefix + key)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if serr, ok := err.(azblob.StorageError); ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, NewNotFoundError(fmt.Sprintf("blob %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s from Azure", key), err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewStorageError("failed to read blob body", err)
	}

	return data, nil
}

// Delete removes an archive; deleting a missing key succeeds
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blobURL := a.containerURL.NewBlockBlobURL(a.prefix + key)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if serr, ok := err.(azblob.StorageError); ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return NewStorageError(fmt.Sprintf("failed to delete %s from Azure", key), err)
	}
	return nil
}

// Name returns the provider name
func (a *AzureStore) Name() string {
	return "azure"
}

// HealthCheck verifies that the container is reachable and listable
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError("Azure health check failed: container not accessible", err)
	}

	_, err := a.containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		Prefix:     a.prefix,
		MaxResults: 1,
	})
	if err != nil {
		return NewStorageError("Azure health check failed: cannot list blobs", err)
	}

	return nil
}
