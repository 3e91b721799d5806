// Package api exposes the HTTP status interface for a running crawl: live
// run metrics, proxy pool health, circuit states, and persisted reports.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/circuit"
	"github.com/propwatch/listings-crawler/internal/metrics"
	"github.com/propwatch/listings-crawler/internal/proxy"
	"github.com/propwatch/listings-crawler/internal/report"
)

// Deps are the live components the server reads from. Reports may be nil
// when report persistence is disabled.
type Deps struct {
	Collector *metrics.Collector
	Pool      *proxy.Pool
	Breaker   *circuit.Breaker
	Reports   *report.Generator
	Registry  prometheus.Gatherer
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the running crawl components. All endpoints
// are read-only.
type Server struct {
	router chi.Router
	deps   Deps
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/proxies", s.getProxies)
		r.Get("/circuits", s.getCircuits)
		r.Get("/reports/latest", s.getLatestReport)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	RunID         string                 `json:"run_id"`
	StartTime     time.Time              `json:"start_time"`
	TotalRequests int                    `json:"total_requests"`
	SuccessRate   float64                `json:"success_rate"`
	HealthStatus  string                 `json:"health_status"`
	StatusCounts  map[metrics.Status]int `json:"status_counts"`
	ErrorKinds    map[string]int         `json:"error_kinds"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	m := s.deps.Collector.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		RunID:         m.RunID,
		StartTime:     m.StartTime,
		TotalRequests: m.TotalRequests,
		SuccessRate:   s.deps.Collector.SuccessRate(),
		HealthStatus:  s.deps.Collector.HealthStatus(),
		StatusCounts:  m.StatusCounts,
		ErrorKinds:    m.ErrorKinds,
	})
}

func (s *Server) getProxies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) getCircuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Breaker.Snapshot())
}

func (s *Server) getLatestReport(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "report persistence disabled")
		return
	}
	reports, err := s.deps.Reports.RecentReports(1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(reports) == 0 {
		writeError(w, http.StatusNotFound, "no reports yet")
		return
	}
	writeJSON(w, http.StatusOK, reports[0])
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.deps.Logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.deps.Logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
