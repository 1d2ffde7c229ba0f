package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initSimulationMetrics initializes run and module metrics.
func (m *Manager) initSimulationMetrics(cfg Config) {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulation_runs_total",
			Help: "Total number of finished simulation runs by status",
		},
		[]string{"status"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simulation_run_duration_seconds",
			Help:    "Simulation run duration in seconds",
			Buckets: cfg.RunDurationBuckets,
		},
		[]string{"status"},
	)

	m.moduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "module_runs_total",
			Help: "Total number of module process completions by module and state",
		},
		[]string{"module", "state"},
	)

	m.moduleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "module_run_duration_seconds",
			Help:    "Module process duration in seconds",
			Buckets: cfg.ModuleDurationBuckets,
		},
		[]string{"module"},
	)

	m.modulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modules_active",
			Help: "Current number of running module processes",
		},
	)

	m.registry.MustRegister(m.runsTotal)
	m.registry.MustRegister(m.runDuration)
	m.registry.MustRegister(m.moduleRuns)
	m.registry.MustRegister(m.moduleDuration)
	m.registry.MustRegister(m.modulesActive)
}

// RecordSimulationRun records a finished run.
func (m *Manager) RecordSimulationRun(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordModuleRun records a module process that returned.
func (m *Manager) RecordModuleRun(module, state string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.moduleRuns.WithLabelValues(module, state).Inc()
	m.moduleDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// IncActiveModules increments the running module count.
func (m *Manager) IncActiveModules() {
	if !m.enabled {
		return
	}
	m.modulesActive.Inc()
}

// DecActiveModules decrements the running module count.
func (m *Manager) DecActiveModules() {
	if !m.enabled {
		return
	}
	m.modulesActive.Dec()
}
