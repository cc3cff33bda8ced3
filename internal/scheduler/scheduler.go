package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"clinic-backup/internal/backup"
	apperrors "clinic-backup/internal/errors"
	"clinic-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field expressions and @descriptors
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable cron expression
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return nil
}

// Config controls scheduler behaviour
type Config struct {
	Enabled bool
	// Timezone is the IANA zone cron expressions are evaluated in
	Timezone string
	// DefaultTimeout bounds runs of tasks that set no Timeout; zero means unbounded
	DefaultTimeout time.Duration
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithRunLog persists every finished run
func WithRunLog(runLog RunLog) Option {
	return func(s *Scheduler) { s.runLog = runLog }
}

// WithReporter sends every outcome to reporter
func WithReporter(reporter Reporter) Option {
	return func(s *Scheduler) { s.reporter = reporter }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type entry struct {
	task      Task
	schedule  cron.Schedule
	entryID   cron.EntryID
	scheduled bool
	running   atomic.Bool
	state     TaskDescriptor
}

// Scheduler owns the task registry, the cron timers and the per-task
// single-flight guards. Tasks can be run manually whether or not the
// timers are initialized; both paths share the same guard.
type Scheduler struct {
	mu          sync.RWMutex
	config      Config
	location    *time.Location
	logger      *logging.Logger
	cron        *cron.Cron
	entries     map[string]*entry
	order       []string
	initialized bool
	runLog      RunLog
	reporter    Reporter
	now         func() time.Time
}

// New creates a scheduler over tasks. Task names must be unique.
func New(config Config, tasks []Task, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown scheduler timezone %q", config.Timezone), err)
	}

	s := &Scheduler{
		config:   config,
		location: location,
		logger:   logger,
		entries:  make(map[string]*entry, len(tasks)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, task := range tasks {
		if task.Name == "" || task.Run == nil {
			return nil, apperrors.NewConfigurationError("task needs a name and a body", nil)
		}
		if _, exists := s.entries[task.Name]; exists {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("duplicate task %q", task.Name), nil)
		}
		s.entries[task.Name] = &entry{
			task: task,
			state: TaskDescriptor{
				Name:        task.Name,
				Description: task.Description,
				Schedule:    task.Schedule,
				Timezone:    location.String(),
				LastStatus:  TaskStatusNever,
			},
		}
		s.order = append(s.order, task.Name)
	}

	return s, nil
}

// Initialize starts a timer per task. It is a no-op when already initialized
// or when the scheduler is disabled. A task with an invalid cron expression
// is left unscheduled and reported in the returned configuration error;
// the remaining tasks are still scheduled.
func (s *Scheduler) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Warn("Scheduler already initialized")
		return nil
	}
	if !s.config.Enabled {
		s.logger.Info("Backup scheduler is disabled")
		return nil
	}

	s.cron = cron.New(cron.WithLocation(s.location), cron.WithParser(parser), cron.WithLogger(cronLogger{s.logger}))

	var invalid []error
	for _, name := range s.order {
		e := s.entries[name]

		schedule, err := parser.Parse(e.task.Schedule)
		if err != nil {
			invalid = append(invalid, fmt.Errorf("task %s: %w %q: %v", name, ErrInvalidCron, e.task.Schedule, err))
			s.logger.WithFields(map[string]interface{}{
				"task":     name,
				"schedule": e.task.Schedule,
				"error":    err.Error(),
			}).Error("Invalid cron expression, task not scheduled")
			continue
		}

		e.schedule = schedule
		e.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(e) }))
		e.scheduled = true

		s.logger.WithFields(map[string]interface{}{
			"task":     name,
			"schedule": e.task.Schedule,
			"timezone": s.location.String(),
		}).Debug("Task scheduled")
	}

	s.cron.Start()
	s.initialized = true

	s.logger.WithFields(map[string]interface{}{
		"tasks":    len(s.order) - len(invalid),
		"timezone": s.location.String(),
	}).Info("Backup scheduler initialized")

	if len(invalid) > 0 {
		return apperrors.NewConfigurationError("some tasks have invalid schedules", errors.Join(invalid...))
	}
	return nil
}

// Stop cancels every timer. The returned context is done once runs started
// by timers have finished. Safe to call when not initialized.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.logger.Info("Stopping backup scheduler")
	done := s.cron.Stop()

	for _, e := range s.entries {
		e.scheduled = false
		e.schedule = nil
		e.entryID = 0
	}
	s.cron = nil
	s.initialized = false

	return done
}

// Status returns every task's last outcome and, for scheduled tasks, the next fire time
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Initialized: s.initialized,
		Enabled:     s.config.Enabled,
		Timezone:    s.location.String(),
		Tasks:       make([]TaskDescriptor, 0, len(s.order)),
	}

	now := s.now().In(s.location)
	for _, name := range s.order {
		e := s.entries[name]
		descriptor := e.state
		descriptor.Scheduled = e.scheduled
		descriptor.Running = e.running.Load()
		if e.scheduled {
			next := e.schedule.Next(now)
			descriptor.NextRun = &next
		}
		status.Tasks = append(status.Tasks, descriptor)
	}
	return status
}

// TaskNames lists the registered tasks in registration order
func (s *Scheduler) TaskNames() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Location returns the business timezone
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// IsRunning reports whether a run of the task is in flight
func (s *Scheduler) IsRunning(name string) bool {
	e, ok := s.entries[name]
	return ok && e.running.Load()
}

// RunTaskManually runs a task now, bypassing its timer. It returns
// ErrTaskAlreadyRunning without running anything when a run is in flight.
func (s *Scheduler) RunTaskManually(ctx context.Context, name string, trigger backup.TriggeredBy) (*Result, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if trigger == "" {
		trigger = backup.TriggeredByManual
	}

	s.logger.WithFields(map[string]interface{}{
		"task":    name,
		"trigger": string(trigger),
	}).Info("Manual task run requested")

	return s.execute(ctx, e, trigger)
}

// fire is the timer callback; nothing escapes it
func (s *Scheduler) fire(e *entry) {
	_, _ = s.execute(context.Background(), e, backup.TriggeredByScheduled)
}

func (s *Scheduler) execute(ctx context.Context, e *entry, trigger backup.TriggeredBy) (*Result, error) {
	name := e.task.Name

	if !e.running.CompareAndSwap(false, true) {
		s.logger.LogTaskSkipped(name, string(trigger))
		taskRunsTotal.WithLabelValues(name, string(trigger), string(TaskStatusSkipped)).Inc()
		return nil, fmt.Errorf("%s: %w", name, ErrTaskAlreadyRunning)
	}
	defer e.running.Store(false)

	taskRunning.WithLabelValues(name).Set(1)
	defer taskRunning.WithLabelValues(name).Set(0)

	result := &Result{
		RunID:     uuid.NewString(),
		TaskName:  name,
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	ctx = logging.ContextWithRunID(ctx, result.RunID)
	details, err := s.invoke(ctx, e.task, trigger)

	result.CompletedAt = s.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Details = details
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}

	s.record(e, result)
	s.logger.LogTaskRun(ctx, name, string(trigger), result.Duration, err)

	status := TaskStatusSuccess
	if err != nil {
		status = TaskStatusFailed
	}
	taskRunsTotal.WithLabelValues(name, string(trigger), string(status)).Inc()
	taskDuration.WithLabelValues(name).Observe(result.Duration.Seconds())

	// the caller may already be gone; bookkeeping still happens
	after := context.WithoutCancel(ctx)
	if s.runLog != nil {
		if logErr := s.runLog.RecordTaskRun(after, *result); logErr != nil {
			s.logger.WithFields(map[string]interface{}{
				"task":  name,
				"error": logErr.Error(),
			}).Warn("Failed to persist task run")
		}
	}
	if s.reporter != nil {
		s.reporter.NotifyTaskOutcome(after, name, details, err)
	}

	return result, err
}

// invoke runs the task body under its timeout and turns a panic into an error
func (s *Scheduler) invoke(ctx context.Context, task Task, trigger backup.TriggeredBy) (details map[string]interface{}, err error) {
	timeout := task.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}

	ctx, cancel := apperrors.CreateContextWithTimeout(ctx, timeout)
	defer cancel()
	ctx = backup.ContextWithTrigger(ctx, trigger)

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"task":  task.Name,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Task panicked")
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()

	details, err = task.Run(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = apperrors.NewAppError(apperrors.ErrorTypeTimeout,
			fmt.Sprintf("task %s exceeded its %s timeout", task.Name, timeout), err)
	}
	return details, err
}

func (s *Scheduler) record(e *entry, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := result.CompletedAt
	e.state.LastRun = &completed
	e.state.LastDuration = result.Duration
	e.state.RunCount++
	if result.Success {
		e.state.LastStatus = TaskStatusSuccess
		e.state.LastError = ""
	} else {
		e.state.LastStatus = TaskStatusFailed
		e.state.LastError = result.Error
		e.state.FailureCount++
	}
}

// cronLogger routes robfig/cron's own messages to logrus
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.logger.WithFields(fields).Error("cron: " + msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
