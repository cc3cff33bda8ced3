package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/scheduler"
)

// Task outcome codes
const (
	CodeTaskAlreadyRunning = "TASK_ALREADY_RUNNING"
	CodeTaskFailed         = "TASK_FAILED"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// TaskResponse is the body of a task run
type TaskResponse struct {
	Success     bool                   `json:"success"`
	TaskName    string                 `json:"taskName"`
	RunID       string                 `json:"runId,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	Duration    string                 `json:"duration"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// HealthResponse is the body of GET /cron/health
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Scheduler HealthStatus `json:"scheduler"`
}

// HealthStatus summarizes the scheduler for the health check
type HealthStatus struct {
	Initialized bool     `json:"initialized"`
	Timezone    string   `json:"timezone,omitempty"`
	Tasks       []string `json:"tasks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Scheduler: HealthStatus{Tasks: []string{}},
	}
	if s.runner != nil {
		status := s.runner.Status()
		resp.Scheduler.Initialized = status.Initialized
		resp.Scheduler.Timezone = status.Timezone
		for _, task := range status.Tasks {
			resp.Scheduler.Tasks = append(resp.Scheduler.Tasks, task.Name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTask(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// an outside cron may hang up long before a backup sweep finishes
		ctx := context.WithoutCancel(r.Context())

		result, err := s.runner.RunTaskManually(ctx, name, backup.TriggeredByExternalCron)
		switch {
		case errors.Is(err, scheduler.ErrTaskAlreadyRunning):
			writeError(w, http.StatusConflict, CodeTaskAlreadyRunning, err.Error())
			return
		case errors.Is(err, scheduler.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, CodeTaskNotFound, err.Error())
			return
		case result == nil && err != nil:
			writeError(w, http.StatusInternalServerError, CodeTaskFailed, err.Error())
			return
		}

		resp := TaskResponse{
			Success:     result.Success,
			TaskName:    result.TaskName,
			RunID:       result.RunID,
			StartedAt:   result.StartedAt,
			CompletedAt: result.CompletedAt,
			Duration:    result.Duration.String(),
			Details:     result.Details,
		}
		if err != nil {
			resp.Success = false
			resp.Code = CodeTaskFailed
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Code: code, Error: message})
}
