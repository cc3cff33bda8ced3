package backup

import (
	"errors"
	"fmt"
)

// Sentinels callers match with errors.Is. The codec pair lets a restore tell
// a damaged archive from a wrong key.
var (
	ErrCorruptArchive       = errors.New("corrupt archive")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRecordImmutable      = errors.New("backup record is terminal and cannot be modified")
)

// BackupErrorType classifies a BackupError
type BackupErrorType string

const (
	BackupErrorTypeStorage        BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation     BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression    BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption     BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeCorruptArchive BackupErrorType = "CORRUPT_ARCHIVE"
	BackupErrorTypeAuthentication BackupErrorType = "AUTHENTICATION_FAILED"
	BackupErrorTypeIntegrity      BackupErrorType = "INTEGRITY_ERROR"
	BackupErrorTypeDatabase       BackupErrorType = "DATABASE_ERROR"
	BackupErrorTypeConfiguration  BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeNotFound       BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeConflict       BackupErrorType = "CONFLICT_ERROR"
	BackupErrorTypeTimeout        BackupErrorType = "TIMEOUT_ERROR"
)

type errorTraits struct {
	retryable bool // the next scheduled fire may succeed
	permanent bool // retrying cannot help
	integrity bool // the stored archive cannot be trusted
	sentinel  error
}

var traits = map[BackupErrorType]errorTraits{
	BackupErrorTypeStorage:        {retryable: true},
	BackupErrorTypeDatabase:       {retryable: true},
	BackupErrorTypeTimeout:        {retryable: true},
	BackupErrorTypeValidation:     {permanent: true},
	BackupErrorTypeConfiguration:  {permanent: true},
	BackupErrorTypeCorruptArchive: {permanent: true, integrity: true, sentinel: ErrCorruptArchive},
	BackupErrorTypeAuthentication: {permanent: true, integrity: true, sentinel: ErrAuthenticationFailed},
	BackupErrorTypeIntegrity:      {integrity: true},
}

// BackupError is the error type of the backup engine and its stores
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *BackupError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's type
func (e *BackupError) Is(target error) bool {
	s := traits[e.Type].sentinel
	return s != nil && s == target
}

// WithContext attaches a diagnostic key/value
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewBackupError creates a BackupError of the given type
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{Type: errorType, Message: message, Cause: cause}
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewCorruptArchiveError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruptArchive, message, cause)
}

func NewAuthenticationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeAuthentication, message, cause)
}

func NewIntegrityError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeIntegrity, message, cause)
}

func NewDatabaseError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDatabase, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConflict, message, cause)
}

func NewTimeoutError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTimeout, message, cause)
}

// ErrorTypeOf returns the type of the first BackupError in err's chain, or ""
func ErrorTypeOf(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

// IsNotFound reports a missing record, config or stored object
func IsNotFound(err error) bool {
	return ErrorTypeOf(err) == BackupErrorTypeNotFound
}

// IsRetryable reports transient failures that the next scheduled fire may clear
func IsRetryable(err error) bool {
	return traits[ErrorTypeOf(err)].retryable
}

// IsPermanent reports failures that retrying cannot fix
func IsPermanent(err error) bool {
	return traits[ErrorTypeOf(err)].permanent
}

// IsIntegrityError reports checksum mismatches and decrypt/auth failures, which are
// surfaced with higher severity than ordinary backup failures
func IsIntegrityError(err error) bool {
	return traits[ErrorTypeOf(err)].integrity
}

// ValidationError is one rejected field of a tenant policy
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field so they are reported together
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add appends a rejected field
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors reports whether any field was rejected
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
