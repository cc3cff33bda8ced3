package scheduler

import "errors"

var (
	// ErrTaskAlreadyRunning is returned when a fire arrives while the task is running
	ErrTaskAlreadyRunning = errors.New("task already running")
	// ErrTaskNotFound is returned for an unknown task name
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidCron marks a task whose cron expression does not parse
	ErrInvalidCron = errors.New("invalid cron expression")
)
