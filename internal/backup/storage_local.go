package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements ObjectStore on the local file system. It backs
// development setups and the offline medium.
type LocalStore struct {
	basePath    string
	permissions os.FileMode
	name        string
}

// NewLocalStore creates a new LocalStore instance
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil {
		return nil, NewConfigurationError("local storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid local storage configuration", err)
	}

	store := &LocalStore{
		basePath:    config.BasePath,
		permissions: config.Permissions,
		name:        "local",
	}
	if store.permissions == 0 {
		store.permissions = 0750
	}

	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}

	return store, nil
}

// Put writes an archive under basePath and returns its path
func (l *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewTimeoutError("local write cancelled", err)
	}

	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), l.permissions); err != nil {
		return "", NewStorageError("failed to create archive directory", err)
	}

	// Write then rename so readers never see a partial archive
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", NewStorageError(fmt.Sprintf("failed to finalize %s", key), err)
	}

	return path, nil
}

// Get reads an archive
func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTimeoutError("local read cancelled", err)
	}

	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read %s", key), err)
	}

	return data, nil
}

// Delete removes an archive; deleting a missing key succeeds
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStorageError(fmt.Sprintf("failed to delete %s", key), err)
	}
	return nil
}

// Name returns the provider name
func (l *LocalStore) Name() string {
	return l.name
}

// BasePath returns the root directory archives are written under
func (l *LocalStore) BasePath() string {
	return l.basePath
}

// HealthCheck verifies that the base directory is writable
func (l *LocalStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(l.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0600); err != nil {
		return NewStorageError("local health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("local health check failed: cannot read from base directory", err)
	}
	os.Remove(testFile)

	return nil
}

// resolve maps a key to a path and rejects keys escaping basePath
func (l *LocalStore) resolve(key string) (string, error) {
	if key == "" {
		return "", NewValidationError("storage key cannot be empty", nil)
	}

	path := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewValidationError(fmt.Sprintf("storage key %q escapes base path", key), nil)
	}

	return path, nil
}
