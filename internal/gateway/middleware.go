package gateway

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authentication error codes
const (
	CodeSecretNotConfigured = "CRON_SECRET_NOT_CONFIGURED"
	CodeMissingAuthHeader   = "MISSING_AUTH_HEADER"
	CodeInvalidAuthFormat   = "INVALID_AUTH_FORMAT"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeRateLimited         = "RATE_LIMITED"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_http_requests_total",
		Help: "Total number of gateway requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_backup_http_request_duration_seconds",
		Help:    "Gateway request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	authRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_http_auth_rejections_total",
		Help: "Rejected cron requests by code",
	}, []string{"code"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Metrics records request counts and latency by route pattern
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RateLimit limits requests per client IP. A non-positive limit disables it.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
		}),
	)
}

// requireCronSecret rejects the request before any task logic runs
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, code, message := s.authenticate(r)
		if code != "" {
			authRejectionsTotal.WithLabelValues(code).Inc()
			s.logger.LogAuthRejection(r.URL.Path, r.RemoteAddr, code)
			writeError(w, status, code, message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(r *http.Request) (int, string, string) {
	if s.config.CronSecret == "" {
		return http.StatusInternalServerError, CodeSecretNotConfigured, "cron secret is not configured"
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return http.StatusUnauthorized, CodeMissingAuthHeader, "missing Authorization header"
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return http.StatusUnauthorized, CodeInvalidAuthFormat, "expected Authorization: Bearer <token>"
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.CronSecret)) != 1 {
		return http.StatusUnauthorized, CodeInvalidToken, "invalid token"
	}
	return 0, "", ""
}
