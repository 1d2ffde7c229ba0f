package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initTraceMetrics(cfg Config) {
	m.traceDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trace_events_dropped_total",
			Help: "Total number of trace events dropped by reason",
		},
		[]string{"reason"},
	)

	m.traceFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trace_events_flushed_total",
			Help: "Total number of trace events handed to a sink",
		},
		[]string{"sink"},
	)

	m.traceFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trace_flush_duration_seconds",
			Help:    "Trace sink batch write duration in seconds",
			Buckets: cfg.FlushDurationBuckets,
		},
		[]string{"sink"},
	)

	m.traceFlushErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trace_flush_errors_total",
			Help: "Total number of failed trace sink writes",
		},
		[]string{"sink"},
	)

	m.registry.MustRegister(m.traceDropped)
	m.registry.MustRegister(m.traceFlushed)
	m.registry.MustRegister(m.traceFlushDuration)
	m.registry.MustRegister(m.traceFlushErrors)
}

// RecordTraceDropped records a dropped trace event.
func (m *Manager) RecordTraceDropped(reason string) {
	if !m.enabled {
		return
	}
	m.traceDropped.WithLabelValues(reason).Inc()
}

// RecordTraceFlush records a batch written to a sink.
func (m *Manager) RecordTraceFlush(sink string, events int, duration time.Duration, err error) {
	if !m.enabled {
		return
	}
	m.traceFlushDuration.WithLabelValues(sink).Observe(duration.Seconds())
	if err != nil {
		m.traceFlushErrors.WithLabelValues(sink).Inc()
		return
	}
	m.traceFlushed.WithLabelValues(sink).Add(float64(events))
}
