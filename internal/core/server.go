// Package core is the HTTP chassis for the reminder worker: a chi router
// exposing the run-now trigger, health and metrics endpoints. Cross-cutting
// concerns (panic recovery, request ids, logging, shared-secret auth) are
// applied as middleware before requests reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"leadflow/internal/config"
	"leadflow/internal/types"
)

// Server holds the dependencies of the worker's HTTP surface. Optional
// collaborators (Trigger, HealthChecks, Metrics) are assigned after
// NewServer and before MountRoutes.
type Server struct {
	Logger    *slog.Logger
	Runner    CycleRunner
	Validator *Validator

	// Trigger enqueues run requests for ?async=true. Nil disables async.
	Trigger RunTrigger
	// HealthChecks back GET /health.
	HealthChecks []HealthCheck
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler

	CronSecret     types.SecretString
	RequestTimeout time.Duration
	Now            func() time.Time

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. The caller mounts routes with MountRoutes.
func NewServer(cfg config.ServerConfig, runner CycleRunner, logger *slog.Logger) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Logger:         logger,
		Runner:         runner,
		Validator:      NewValidator(),
		CronSecret:     cfg.CronSecret,
		RequestTimeout: defaultRequestTimeout,
		Now:            time.Now,
		router:         chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe runs an http.Server on addr until ctx is cancelled, then
// shuts it down within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("http server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.Logger.Info("http server shutdown complete")
	return nil
}
