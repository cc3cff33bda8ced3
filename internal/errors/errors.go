package errors

import (
	"errors"
	"fmt"
)

// ErrorType is the category a failure is reported and retried under
type ErrorType string

const (
	// ErrorTypeConfiguration covers invalid cron expressions, missing secrets and bad settings
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeConnection    ErrorType = "connection"
	ErrorTypeSQL           ErrorType = "sql"
	// ErrorTypeStorage covers object store and local filesystem failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeIntegrity covers checksum mismatches and decrypt/auth failures
	ErrorTypeIntegrity ErrorType = "integrity"
	// ErrorTypeAuthentication covers rejected credentials on the cron gateway
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeTimeout        ErrorType = "timeout"
	// ErrorTypeInterruption covers cancellation by shutdown or the caller
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AppError is a classified failure with the context an operator needs
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns UserMessage, or Message when none was set
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable reports whether retrying the same call may succeed
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a diagnostic key/value
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause}
}

func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause, Recoverable: true}
}

func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

// GetErrorType returns the type of the first AppError in err's chain
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// WrapError describes err with message, classifying it first when it is not
// already an AppError. Recoverability carries over.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{Type: appErr.Type, Message: message, Cause: err, Recoverable: appErr.Recoverable}
	}

	classified := Classify(err)
	classified.Message = message
	return classified
}
