package scheduler

import (
	"context"
	"time"

	"clinic-backup/internal/backup"
)

// Names of the built-in tasks
const (
	TaskDailyBackup       = "daily-backup"
	TaskCleanup           = "cleanup"
	TaskWeeklyRestoreTest = "weekly-restore-test"
	TaskIntegrityCheck    = "integrity-check"
	TaskMonthlyReport     = "monthly-report"
	TaskGeocoding         = "geocoding"
)

// Default cron expressions, evaluated in the business timezone
const (
	DefaultDailyBackupCron    = "0 3 * * *"
	DefaultCleanupCron        = "0 2 * * *"
	DefaultRestoreTestCron    = "0 4 * * 0"
	DefaultIntegrityCheckCron = "0 6 * * 1"
	DefaultMonthlyReportCron  = "0 5 1 * *"
	DefaultTimezone           = "America/Sao_Paulo"
)

// TaskFunc is a task body. The returned details are reported even when err is set.
type TaskFunc func(ctx context.Context) (map[string]interface{}, error)

// Task is one named unit of scheduled work
type Task struct {
	Name        string
	Description string
	Schedule    string
	// Timeout bounds a single run; zero uses the scheduler default
	Timeout time.Duration
	Run     TaskFunc
}

// TaskStatus is the outcome of the last run
type TaskStatus string

const (
	TaskStatusNever   TaskStatus = "never_run"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped"
)

// TaskDescriptor is the observable state of a task
type TaskDescriptor struct {
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Schedule     string        `json:"cronExpression" yaml:"cron_expression"`
	Timezone     string        `json:"timezone" yaml:"timezone"`
	Scheduled    bool          `json:"scheduled" yaml:"scheduled"`
	Running      bool          `json:"running" yaml:"running"`
	LastRun      *time.Time    `json:"lastRun,omitempty" yaml:"last_run,omitempty"`
	LastStatus   TaskStatus    `json:"lastStatus" yaml:"last_status"`
	LastError    string        `json:"lastError,omitempty" yaml:"last_error,omitempty"`
	LastDuration time.Duration `json:"lastDuration" yaml:"last_duration"`
	NextRun      *time.Time    `json:"nextRun,omitempty" yaml:"next_run,omitempty"`
	RunCount     int           `json:"runCount" yaml:"run_count"`
	FailureCount int           `json:"failureCount" yaml:"failure_count"`
}

// Status is the scheduler snapshot returned by Status
type Status struct {
	Initialized bool             `json:"initialized" yaml:"initialized"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Timezone    string           `json:"timezone" yaml:"timezone"`
	Tasks       []TaskDescriptor `json:"tasks" yaml:"tasks"`
}

// Result describes one finished run
type Result struct {
	RunID       string                 `json:"runId"`
	TaskName    string                 `json:"taskName"`
	Trigger     backup.TriggeredBy     `json:"trigger"`
	Success     bool                   `json:"success"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	Duration    time.Duration          `json:"duration"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RunLog persists task runs
type RunLog interface {
	RecordTaskRun(ctx context.Context, result Result) error
}

// Reporter is told about every finished run
type Reporter interface {
	NotifyTaskOutcome(ctx context.Context, task string, details map[string]interface{}, err error)
}
