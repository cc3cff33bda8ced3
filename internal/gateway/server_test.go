package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret-token"

// MockTaskRunner records the runs it was asked for
type MockTaskRunner struct {
	mu       sync.Mutex
	calls    []string
	triggers []backup.TriggeredBy
	ctxErr   error
	run      func(name string) (*scheduler.Result, error)
	status   scheduler.Status
}

func (m *MockTaskRunner) RunTaskManually(ctx context.Context, name string, trigger backup.TriggeredBy) (*scheduler.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.triggers = append(m.triggers, trigger)
	m.ctxErr = ctx.Err()
	m.mu.Unlock()

	if m.run != nil {
		return m.run(name)
	}
	started := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	return &scheduler.Result{
		RunID:       "run-1",
		TaskName:    name,
		Trigger:     trigger,
		Success:     true,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Duration:    2 * time.Second,
		Details:     map[string]interface{}{"tenantsProcessed": float64(3)},
	}, nil
}

func (m *MockTaskRunner) Status() scheduler.Status {
	return m.status
}

func (m *MockTaskRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestServer(runner TaskRunner, mutate ...func(*Config)) *Server {
	config := Config{
		Address:           ":0",
		CronSecret:        testSecret,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		MetricsEnabled:    true,
	}
	for _, fn := range mutate {
		fn(&config)
	}
	return NewServer(config, runner, logging.NewNopLogger())
}

func post(t *testing.T, h http.Handler, path, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	runner := &MockTaskRunner{status: scheduler.Status{
		Initialized: true,
		Timezone:    "America/Sao_Paulo",
		Tasks: []scheduler.TaskDescriptor{
			{Name: scheduler.TaskDailyBackup},
			{Name: scheduler.TaskCleanup},
		},
	}}
	srv := newTestServer(runner)

	req := httptest.NewRequest(http.MethodGet, "/cron/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Scheduler.Initialized)
	assert.Equal(t, []string{scheduler.TaskDailyBackup, scheduler.TaskCleanup}, body.Scheduler.Tasks)
	assert.False(t, body.Timestamp.IsZero())
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv := newTestServer(&MockTaskRunner{}, func(c *Config) { c.CronSecret = "" })

	req := httptest.NewRequest(http.MethodGet, "/cron/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskRoutes(t *testing.T) {
	for path, task := range Routes {
		t.Run(path, func(t *testing.T) {
			runner := &MockTaskRunner{}
			srv := newTestServer(runner)

			w := post(t, srv.Handler(), path, "Bearer "+testSecret)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var body TaskResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.True(t, body.Success)
			assert.Equal(t, task, body.TaskName)
			assert.Equal(t, "2s", body.Duration)
			assert.Equal(t, float64(3), body.Details["tenantsProcessed"])

			assert.Equal(t, []string{task}, runner.Calls())
			assert.Equal(t, backup.TriggeredByExternalCron, runner.triggers[0])
			assert.NoError(t, runner.ctxErr)
		})
	}
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name          string
		secret        string
		authorization string
		wantStatus    int
		wantCode      string
	}{
		{"secret not configured", "", "Bearer " + testSecret, http.StatusInternalServerError, CodeSecretNotConfigured},
		{"missing header", testSecret, "", http.StatusUnauthorized, CodeMissingAuthHeader},
		{"basic scheme", testSecret, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, CodeInvalidAuthFormat},
		{"bare token", testSecret, testSecret, http.StatusUnauthorized, CodeInvalidAuthFormat},
		{"empty bearer", testSecret, "Bearer ", http.StatusUnauthorized, CodeInvalidAuthFormat},
		{"wrong token", testSecret, "Bearer nope", http.StatusUnauthorized, CodeInvalidToken},
		{"token prefix", testSecret, "Bearer s3cret", http.StatusUnauthorized, CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockTaskRunner{}
			srv := newTestServer(runner, func(c *Config) { c.CronSecret = tt.secret })

			for path := range Routes {
				w := post(t, srv.Handler(), path, tt.authorization)
				assert.Equal(t, tt.wantStatus, w.Code, path)

				var body ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), path)
				assert.False(t, body.Success, path)
				assert.Equal(t, tt.wantCode, body.Code, path)
			}

			assert.Empty(t, runner.Calls(), "no task may run on a rejected request")
		})
	}
}

func TestAuthentication_SchemeIsCaseInsensitive(t *testing.T) {
	runner := &MockTaskRunner{}
	srv := newTestServer(runner)

	w := post(t, srv.Handler(), "/cron/backup/cleanup", "bearer "+testSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		run        func(name string) (*scheduler.Result, error)
		wantStatus int
		wantCode   string
	}{
		{
			name: "already running",
			run: func(name string) (*scheduler.Result, error) {
				return nil, fmt.Errorf("%s: %w", name, scheduler.ErrTaskAlreadyRunning)
			},
			wantStatus: http.StatusConflict,
			wantCode:   CodeTaskAlreadyRunning,
		},
		{
			name: "not registered",
			run: func(name string) (*scheduler.Result, error) {
				return nil, fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, name)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeTaskNotFound,
		},
		{
			name: "task failed",
			run: func(name string) (*scheduler.Result, error) {
				err := errors.New("all tenants failed")
				return &scheduler.Result{TaskName: name, Error: err.Error()}, err
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeTaskFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&MockTaskRunner{run: tt.run})

			w := post(t, srv.Handler(), "/cron/restore-test", "Bearer "+testSecret)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRateLimit(t *testing.T) {
	runner := &MockTaskRunner{}
	srv := newTestServer(runner, func(c *Config) {
		c.RateLimitRequests = 2
		c.RateLimitWindow = time.Hour
	})

	for i := 0; i < 2; i++ {
		w := post(t, srv.Handler(), "/cron/integrity-check", "Bearer "+testSecret)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := post(t, srv.Handler(), "/cron/integrity-check", "Bearer "+testSecret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Len(t, runner.Calls(), 2)
}

func TestMethodNotAllowed(t *testing.T) {
	runner := &MockTaskRunner{}
	srv := newTestServer(runner)

	req := httptest.NewRequest(http.MethodGet, "/cron/backup/daily", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Empty(t, runner.Calls())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&MockTaskRunner{})
	post(t, srv.Handler(), "/cron/audit-report", "Bearer "+testSecret)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clinic_backup_http_requests_total")

	disabled := newTestServer(&MockTaskRunner{}, func(c *Config) { c.MetricsEnabled = false })
	w = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShutdownBeforeListen(t *testing.T) {
	srv := newTestServer(&MockTaskRunner{})
	assert.NoError(t, srv.Shutdown(context.Background()))
}
