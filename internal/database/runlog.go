package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"
)

// RunLog appends scheduler runs to backup_scheduler_log
type RunLog struct {
	db           *sql.DB
	logger       *logging.Logger
	queryTimeout time.Duration
}

// NewRunLog creates a run log over an open connection
func NewRunLog(db *sql.DB, logger *logging.Logger) *RunLog {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RunLog{
		db:           db,
		logger:       logger,
		queryTimeout: 10 * time.Second,
	}
}

// RecordTaskRun stores one finished run
func (rl *RunLog) RecordTaskRun(ctx context.Context, result scheduler.Result) error {
	ctx, cancel := context.WithTimeout(ctx, rl.queryTimeout)
	defer cancel()

	var details interface{}
	if len(result.Details) > 0 {
		encoded, err := json.Marshal(result.Details)
		if err != nil {
			return backup.NewValidationError("failed to encode task details", err)
		}
		details = string(encoded)
	}

	status := scheduler.TaskStatusSuccess
	if !result.Success {
		status = scheduler.TaskStatusFailed
	}

	query := `INSERT INTO backup_scheduler_log
		(run_id, task_name, triggered_by, started_at, completed_at, status, error_message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	_, err := rl.db.ExecContext(ctx, query,
		result.RunID, result.TaskName, string(result.Trigger), result.StartedAt.UTC(), result.CompletedAt.UTC(),
		string(status), nullString(result.Error), details)
	rl.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return backup.NewDatabaseError("failed to record task run", err)
	}
	return nil
}

// RecentRuns returns the latest runs of a task, newest first. An empty name lists every task.
func (rl *RunLog) RecentRuns(ctx context.Context, taskName string, limit int) ([]scheduler.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, rl.queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `SELECT run_id, task_name, triggered_by, started_at, completed_at, status, error_message
		FROM backup_scheduler_log`
	args := []interface{}{}
	if taskName != "" {
		query += " WHERE task_name = ?"
		args = append(args, taskName)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := rl.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to query task runs", err)
	}
	defer rows.Close()

	var runs []scheduler.Result
	for rows.Next() {
		var run scheduler.Result
		var trigger, status string
		var errorMessage sql.NullString
		if err := rows.Scan(&run.RunID, &run.TaskName, &trigger, &run.StartedAt, &run.CompletedAt, &status, &errorMessage); err != nil {
			return nil, backup.NewDatabaseError("failed to scan task run", err)
		}
		run.Trigger = backup.TriggeredBy(trigger)
		run.Success = status == string(scheduler.TaskStatusSuccess)
		run.Error = errorMessage.String
		run.Duration = run.CompletedAt.Sub(run.StartedAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("error iterating task runs", err)
	}
	return runs, nil
}
