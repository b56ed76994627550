// Package core is the HTTP chassis of the dark-spot API. It builds a chi
// router usable both behind net/http and behind the API Gateway Lambda
// adapter, and applies the cross-cutting middleware (recovery, timeouts,
// request IDs, logging, CORS, metrics, rate limiting) before requests reach
// the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"darkspot/internal/config"
)

// RouteRegistrar mounts handler routes on a router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by middleware and handlers.
type Server struct {
	Config      *config.Config
	Logger      *slog.Logger
	Validator   *Validator
	Metrics     MetricsCollector
	RateLimiter RateLimiter

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe
	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler

	// RootRouteRegistrars mount routes outside /v1 (the legacy search path).
	RootRouteRegistrars []RouteRegistrar
	// V1RouteRegistrars mount routes under /v1. main wires the handler
	// packages here so core does not import them.
	V1RouteRegistrars []RouteRegistrar

	closers []func(context.Context) error
	router  *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. The caller
// fills in optional dependencies and then calls MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	v := NewValidator(logger)
	v.SetLimits(cfg.Search.MaxRadiusKM, cfg.Search.MaxCount)

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: v,
		router:    chi.NewRouter(),
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

// OnShutdown registers fn to run during Shutdown, in reverse order of
// registration.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs the registered shutdown hooks. All hooks run; the first
// error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return first
}
