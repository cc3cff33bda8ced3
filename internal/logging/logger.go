package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the verbosity selected by --quiet/--verbose or logging.level
type LogLevel string

const (
	// LogLevelQuiet only reports errors
	LogLevelQuiet   LogLevel = "quiet"
	LogLevelNormal  LogLevel = "normal"
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug adds trace output from the storage SDKs
	LogLevelDebug LogLevel = "debug"
)

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

// sqlPreviewLimit bounds statements copied into log fields
const sqlPreviewLimit = 200

// Logger wraps logrus with the structured events of the backup service
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	file   io.Closer
}

// Config selects the level, format and destinations of a Logger
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	// LogFile, when set, receives a copy of every line
	LogFile string
}

// NewLogger builds a logger. Unknown levels fall back to normal.
func NewLogger(config Config) (*Logger, error) {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{logger: logrus.New(), level: config.Level}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		l.file = file
		out = io.MultiWriter(out, file)
	}
	l.logger.SetOutput(out)
	l.logger.SetFormatter(newFormatter(config.Format, config.ShowCaller))
	l.logger.SetReportCaller(config.ShowCaller)
	l.logger.SetLevel(logrusLevel(config.Level))

	return l, nil
}

func newFormatter(format string, showCaller bool) logrus.Formatter {
	var prettyfier func(*runtime.Frame) (string, string)
	if showCaller {
		prettyfier = func(f *runtime.Frame) (string, string) {
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}

	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		CallerPrettyfier: prettyfier,
	}
}

func logrusLevel(level LogLevel) logrus.Level {
	if lvl, ok := logrusLevels[level]; ok {
		return lvl
	}
	return logrus.InfoLevel
}

// NewDefaultLogger logs text at normal level to stdout
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: os.Stdout, Format: "text"})
	return logger
}

// NewNopLogger discards everything
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

type contextKey string

const runIDKey contextKey = "run_id"

// ContextWithRunID tags ctx with the ID of the task run it belongs to
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run ID set by ContextWithRunID, or ""
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithContext returns an entry carrying the run ID found in ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if runID := RunIDFromContext(ctx); runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

func (l *Logger) Info(msg string)  { l.logger.Info(msg) }
func (l *Logger) Debug(msg string) { l.logger.Debug(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn(msg) }
func (l *Logger) Error(msg string) { l.logger.Error(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// outcome logs ok at okLevel when err is nil, otherwise failed at error level
// with the error attached
func outcome(entry *logrus.Entry, fields logrus.Fields, err error, okLevel logrus.Level, ok, failed string) {
	if err != nil {
		fields["error"] = err.Error()
		entry.WithFields(fields).Error(failed)
		return
	}
	entry.WithFields(fields).Log(okLevel, ok)
}

// LogDatabaseConnection logs the result of opening the clinic pool
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	if !success && err == nil {
		err = fmt.Errorf("connection to %s failed", host)
	}
	outcome(logrus.NewEntry(l.logger), logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}, err, logrus.InfoLevel, "Database connection established", "Database connection failed")
}

// LogSQLExecution logs a statement; successes only appear at verbose level
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rowsAffected int64, err error) {
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
		"sql":           sql,
	}
	if len(sql) > sqlPreviewLimit {
		fields["sql"] = sql[:sqlPreviewLimit] + "..."
		fields["sql_length"] = len(sql)
	}

	if err == nil && l.level != LogLevelVerbose && l.level != LogLevelDebug {
		return
	}
	outcome(logrus.NewEntry(l.logger), fields, err, logrus.DebugLevel, "SQL executed successfully", "SQL execution failed")
}

// LogTaskRun logs the outcome of one scheduled or manual task run
func (l *Logger) LogTaskRun(ctx context.Context, task string, trigger string, duration time.Duration, err error) {
	outcome(l.WithContext(ctx), logrus.Fields{
		"operation": "task_run",
		"task":      task,
		"trigger":   trigger,
		"duration":  duration.String(),
	}, err, logrus.InfoLevel, "Task run completed", "Task run failed")
}

// LogTaskSkipped logs a fire dropped because the task was already running
func (l *Logger) LogTaskSkipped(task string, trigger string) {
	l.logger.WithFields(logrus.Fields{
		"operation": "task_run",
		"task":      task,
		"trigger":   trigger,
	}).Warn("Task already running, skipping this invocation")
}

// LogTenantOutcome logs one tenant's step inside a multi-tenant sweep
func (l *Logger) LogTenantOutcome(ctx context.Context, tenantID int64, operation string, err error) {
	outcome(l.WithContext(ctx), logrus.Fields{
		"operation": operation,
		"tenant_id": tenantID,
	}, err, logrus.DebugLevel, "Tenant operation completed", "Tenant operation failed")
}

// LogAuthRejection logs a rejected request on an authenticated endpoint
func (l *Logger) LogAuthRejection(path, remoteAddr, code string) {
	l.logger.WithFields(logrus.Fields{
		"operation":   "auth",
		"path":        path,
		"remote_addr": remoteAddr,
		"code":        code,
	}).Warn("Request rejected")
}

// LogOperationStart logs at debug level and returns the completion logger
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	start := time.Now()
	logFields := logrus.Fields{"operation": operation, "status": "started"}
	for k, v := range fields {
		logFields[k] = v
	}
	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(start).String()
		logFields["success"] = err == nil
		outcome(logrus.NewEntry(l.logger), logFields, err, logrus.InfoLevel, "Operation completed", "Operation failed")
	}
}

// SanitizeSQL masks password literals and truncates long statements
func SanitizeSQL(sql string) string {
	for _, marker := range []string{"password=", "PASSWORD="} {
		sql = maskAfter(sql, marker)
	}
	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}

// maskAfter replaces the value following marker up to the next space or closing quote
func maskAfter(s, marker string) string {
	before, value, found := strings.Cut(s, marker)
	if !found {
		return s
	}

	end := strings.IndexByte(value, ' ')
	if len(value) > 0 && (value[0] == '\'' || value[0] == '"') {
		if end = strings.IndexByte(value[1:], value[0]); end != -1 {
			end += 2
		}
	}
	if end == -1 {
		end = len(value)
	}
	return before + marker + "***" + value[end:]
}
