// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goclaw/simnet/config"
	"github.com/goclaw/simnet/pkg/api/handlers"
	"github.com/goclaw/simnet/pkg/api/middleware"
	"github.com/goclaw/simnet/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Runs handles simulation run endpoints
	Runs *handlers.RunHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams run events
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// MetricsHandler serves the Prometheus registry when set
	MetricsHandler http.Handler

	// Tracing enables the span middleware
	Tracing bool
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Tracing {
		opts := middleware.DefaultTracingOptions()
		opts.SkipPaths[metricsPath(cfg)] = struct{}{}
		r.Use(middleware.Tracing(opts))
	}
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))

	// Long-lived connections stay outside the request timeout.
	if h.WebSocket != nil {
		r.Handle("/ws", h.WebSocket)
	}
	if h.MetricsHandler != nil {
		r.Handle(metricsPath(cfg), h.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.HTTP.WriteTimeout))
		RegisterRoutes(r, h)
	})

	return r
}

// RegisterRoutes registers the request/response routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.Runs != nil {
		r.Route("/api/v1/runs", func(r chi.Router) {
			r.Post("/", h.Runs.SubmitRun)
			r.Get("/", h.Runs.ListRuns)
			r.Get("/{id}", h.Runs.GetRun)
			r.Get("/{id}/trace", h.Runs.GetTrace)
			r.Post("/{id}/cancel", h.Runs.CancelRun)
		})
	}

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path != "" {
		return cfg.Metrics.Path
	}
	return "/metrics"
}
