package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TaskRunner is the part of the scheduler the gateway drives
type TaskRunner interface {
	RunTaskManually(ctx context.Context, name string, trigger backup.TriggeredBy) (*scheduler.Result, error)
	Status() scheduler.Status
}

// Routes maps each cron endpoint to the task it fires
var Routes = map[string]string{
	"/cron/backup/daily":    scheduler.TaskDailyBackup,
	"/cron/backup/cleanup":  scheduler.TaskCleanup,
	"/cron/restore-test":    scheduler.TaskWeeklyRestoreTest,
	"/cron/integrity-check": scheduler.TaskIntegrityCheck,
	"/cron/audit-report":    scheduler.TaskMonthlyReport,
}

// Config controls the HTTP surface
type Config struct {
	Address           string
	CronSecret        string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ReadTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	MetricsPath       string
}

// Server exposes the scheduler's tasks to an outside cron
type Server struct {
	config Config
	runner TaskRunner
	logger *logging.Logger
	router chi.Router
	http   *http.Server
	now    func() time.Time
}

// NewServer builds the router. A missing cron secret is allowed; every
// task endpoint then answers CRON_SECRET_NOT_CONFIGURED.
func NewServer(config Config, runner TaskRunner, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config: config,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	if s.config.MetricsEnabled {
		r.Handle(s.config.MetricsPath, promhttp.Handler())
	}

	r.Route("/cron", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.config.RateLimitRequests, s.config.RateLimitWindow))
			r.Use(s.requireCronSecret)
			for path, task := range Routes {
				r.Post(strings.TrimPrefix(path, "/cron"), s.handleTask(task))
			}
		})
	})
	return r
}

// Handler returns the root handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	s.logger.WithField("address", s.config.Address).Info("Cron gateway listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down cron gateway")
	return s.http.Shutdown(ctx)
}
