package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

type mysqlRule struct {
	errorType   ErrorType
	message     string
	recoverable bool
}

// mysqlRules maps server error numbers seen by the backup repository and the
// restore path; anything else becomes a plain SQL error
var mysqlRules = map[uint16]mysqlRule{
	1044: {ErrorTypePermission, "Database access denied for this schema", false},
	1045: {ErrorTypePermission, "Database access denied - check username and password", false},
	1049: {ErrorTypeConfiguration, "Database does not exist", false},
	1142: {ErrorTypePermission, "Missing table privilege for backup or restore", false},
	1146: {ErrorTypeSQL, "Table does not exist", false},
	1205: {ErrorTypeSQL, "Transaction aborted by lock contention", true},
	1213: {ErrorTypeSQL, "Transaction aborted by lock contention", true},
	1040: {ErrorTypeConnection, "MySQL server has too many connections", true},
	2003: {ErrorTypeConnection, "MySQL server unreachable", true},
	2006: {ErrorTypeConnection, "MySQL server unreachable", true},
	2013: {ErrorTypeConnection, "MySQL server unreachable", true},
}

// classifiers run in order; the first non-nil result wins
var classifiers = []func(error) *AppError{
	classifyMySQL,
	classifySQL,
	classifyContext,
	classifyNetwork,
	classifyFileSystem,
}

// ErrorClassifier turns arbitrary errors into AppErrors
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError returns err's AppError, or builds one from the driver,
// context, network or filesystem error inside it. A nil error yields nil.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	return Classify(err)
}

// Classify is ClassifyError without a receiver
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, classify := range classifiers {
		if classified := classify(err); classified != nil {
			return classified
		}
	}
	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func classifyMySQL(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return nil
	}

	rule, ok := mysqlRules[mysqlErr.Number]
	if !ok {
		rule = mysqlRule{errorType: ErrorTypeSQL, message: fmt.Sprintf("MySQL error: %s", mysqlErr.Message)}
	}
	classified := NewAppError(rule.errorType, rule.message, err).WithContext("mysql_error_code", mysqlErr.Number)
	classified.Recoverable = rule.recoverable
	return classified
}

func classifySQL(err error) *AppError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "Transaction has already been committed or rolled back", err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, mysql.ErrInvalidConn):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}
	return nil
}

func classifyContext(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func classifyNetwork(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}
	return nil
}

func classifyFileSystem(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}

	switch {
	case errors.Is(pathErr.Err, syscall.ENOENT):
		return NewAppError(ErrorTypeStorage, fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
	case errors.Is(pathErr.Err, syscall.EACCES), errors.Is(pathErr.Err, syscall.EPERM):
		return NewAppError(ErrorTypePermission, fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
	case errors.Is(pathErr.Err, syscall.ENOSPC):
		return NewAppError(ErrorTypeStorage, "No space left on device", err)
	}
	return nil
}
