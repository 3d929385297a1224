// Package api exposes the coordinator over HTTP: triggering runs, querying
// their status, cancelling them, settling interrupted tasks and reading
// watermarks. The OpenAPI description is served under /swagger/.
//
//	@title			medallion API
//	@version		1.0
//	@description	Trigger and observe incremental medallion pipeline runs.
//	@BasePath		/api/v1
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/watermark"

	_ "github.com/vk/medallion/internal/api/docs"
)

// Service is the part of the coordinator the API drives.
type Service interface {
	Pipelines() []string
	Trigger(ctx context.Context, req coordinator.Request) (coordinator.Ticket, error)
	Status(ctx context.Context, runID string) (*model.Run, error)
	List(ctx context.Context, f runstore.Filter) ([]*model.Run, error)
	Cancel(ctx context.Context, runID string) error
	Resolve(ctx context.Context, runID, taskID string, outcome model.TaskState) error
	Watermarks(ctx context.Context) ([]watermark.Watermark, error)
}

var _ Service = (*coordinator.Coordinator)(nil)

// HealthFunc reports whether the process can serve requests, typically by
// pinging the state database.
type HealthFunc func(ctx context.Context) error

// Server routes HTTP requests to a Service.
type Server struct {
	svc    Service
	health HealthFunc
	logger *slog.Logger
}

// New creates a Server. Requests are logged with the logger carried by ctx,
// which runs triggered over HTTP inherit as well.
func New(ctx context.Context, svc Service, health HealthFunc) *Server {
	return &Server{svc: svc, health: health, logger: ctxlog.FromContext(ctx)}
}

// Handler returns the routed, logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/pipelines", s.handleListPipelines)
	mux.HandleFunc("POST /api/v1/runs", s.handleTrigger)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/v1/runs/{id}/tasks/{task}/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/v1/watermarks", s.handleWatermarks)
	mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	return s.logRequests(mux)
}

// loggingResponseWriter captures the status code for the access log.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		ctx := ctxlog.WithLogger(r.Context(), s.logger)

		next.ServeHTTP(lrw, r.WithContext(ctx))

		level := slog.LevelDebug
		if lrw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "HTTP request served.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"duration", time.Since(start),
		)
	})
}
