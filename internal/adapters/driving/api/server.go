// Package api exposes the knowledge base over a JSON HTTP API built on chi.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// HealthChecker is a named dependency probed by /healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Ports aggregates the driving ports served over HTTP.
type Ports struct {
	Ingestion driving.IngestionService
	Documents driving.DocumentService
	Search    driving.SearchService
	Progress  driving.ProgressService
}

// Server serves the HTTP API.
type Server struct {
	ports         Ports
	checks        map[string]HealthChecker
	logger        *zap.Logger
	keepAlive     time.Duration
	errorHandlers []errorHandler
}

// Option configures the server.
type Option func(*Server)

// WithHealthCheck adds a dependency probed by /healthz.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(s *Server) {
		if c != nil {
			s.checks[name] = c
		}
	}
}

// WithKeepAlive sets the SSE comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// NewServer creates an HTTP API server.
func NewServer(ports Ports, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		ports:     ports,
		checks:    make(map[string]HealthChecker),
		logger:    logger.OrNop(log),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errorHandlers = defaultErrorHandlers()
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.AddDocument)
		r.Get("/documents", s.ListDocuments)
		r.Get("/documents/{id}", s.GetDocument)
		r.Get("/documents/{id}/chunks", s.GetChunks)
		r.Get("/documents/{id}/status", s.GetStatus)
		r.Delete("/documents/{id}", s.DeleteDocument)
		r.Post("/search", s.Search)
		r.Get("/progress", s.StreamAllProgress)
		r.Get("/progress/{fileID}", s.StreamProgress)
	})

	return r
}

// Run listens on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	// No write timeout: progress streams stay open.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
