package backup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupError_Error(t *testing.T) {
	assert.Equal(t, "STORAGE_ERROR: upload failed", NewStorageError("upload failed", nil).Error())
	assert.Equal(t,
		"DATABASE_ERROR: query failed (caused by: deadlock)",
		NewDatabaseError("query failed", errors.New("deadlock")).Error())
}

func TestBackupError_Sentinels(t *testing.T) {
	wrapped := fmt.Errorf("opening archive: %w", NewAuthenticationError("bad key", nil))

	assert.True(t, errors.Is(wrapped, ErrAuthenticationFailed))
	assert.False(t, errors.Is(wrapped, ErrCorruptArchive))
	assert.True(t, errors.Is(NewCorruptArchiveError("too short", nil), ErrCorruptArchive))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		permanent bool
		integrity bool
	}{
		{NewStorageError("s", nil), true, false, false},
		{NewTimeoutError("t", nil), true, false, false},
		{NewDatabaseError("d", nil), true, false, false},
		{NewValidationError("v", nil), false, true, false},
		{NewAuthenticationError("a", nil), false, true, true},
		{NewCorruptArchiveError("c", nil), false, true, true},
		{NewIntegrityError("i", nil), false, false, true},
		{errors.New("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.integrity, IsIntegrityError(tt.err))
		})
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())

	errs.Add("daily_retention_count", "must be at least 1", 0)
	assert.Equal(t, "validation error for field 'daily_retention_count': must be at least 1", errs.Error())

	errs.Add("weekly_retention_count", "must not be negative", -1)
	assert.Contains(t, errs.Error(), "2 validation errors")
}

func TestErrorTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("loading record 7: %w", NewNotFoundError("backup 7 not found", nil))

	assert.Equal(t, BackupErrorTypeNotFound, ErrorTypeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(NewStorageError("s3 unavailable", nil)))
	assert.Equal(t, BackupErrorType(""), ErrorTypeOf(errors.New("plain")))
}

func TestBackupError_WithContext(t *testing.T) {
	err := NewStorageError("upload failed", nil).WithContext("key", "backup/tenant_3/full.json.gz")
	assert.Equal(t, "backup/tenant_3/full.json.gz", err.Context["key"])
}
