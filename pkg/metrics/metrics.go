// Package metrics provides Prometheus metrics instrumentation for simnet.
//
// A Manager implements the recorder interfaces of the signal, engine and
// trace packages and of the HTTP middleware, so one registry covers a whole
// process.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for simnet.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Signal metrics
	signalWrites   *prometheus.CounterVec
	signalRejected *prometheus.CounterVec
	signalLagged   *prometheus.CounterVec
	signalClosed   *prometheus.CounterVec

	// Simulation metrics
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
	modulesActive  prometheus.Gauge

	// Trace metrics
	traceDropped       *prometheus.CounterVec
	traceFlushed       *prometheus.CounterVec
	traceFlushDuration *prometheus.HistogramVec
	traceFlushErrors   *prometheus.CounterVec

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
	wsClients       prometheus.Gauge
	wsDisconnects   *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	RunDurationBuckets    []float64
	ModuleDurationBuckets []float64
	FlushDurationBuckets  []float64
	HTTPDurationBuckets   []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Port:                  9091,
		Path:                  "/metrics",
		RunDurationBuckets:    []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		ModuleDurationBuckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		FlushDurationBuckets:  []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		HTTPDurationBuckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initSignalMetrics()
	m.initSimulationMetrics(cfg)
	m.initTraceMetrics(cfg)
	m.initHTTPMetrics(cfg)

	return m
}

// Registry returns the manager's registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
