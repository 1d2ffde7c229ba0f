package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSignalMetrics() {
	m.signalWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_writes_total",
			Help: "Total number of values accepted by a signal",
		},
		[]string{"signal"},
	)

	m.signalRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_rejected_writes_total",
			Help: "Total number of rejected signal writes by reason",
		},
		[]string{"signal", "reason"},
	)

	m.signalLagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_lagged_values_total",
			Help: "Total number of values skipped by subscribers that fell behind",
		},
		[]string{"signal"},
	)

	m.signalClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_closed_total",
			Help: "Total number of signals closed",
		},
		[]string{"signal"},
	)

	m.registry.MustRegister(m.signalWrites)
	m.registry.MustRegister(m.signalRejected)
	m.registry.MustRegister(m.signalLagged)
	m.registry.MustRegister(m.signalClosed)
}

// RecordSignalWrite records an accepted write.
func (m *Manager) RecordSignalWrite(signal string) {
	if !m.enabled {
		return
	}
	m.signalWrites.WithLabelValues(signal).Inc()
}

// RecordSignalRejected records a rejected write.
func (m *Manager) RecordSignalRejected(signal string, reason string) {
	if !m.enabled {
		return
	}
	m.signalRejected.WithLabelValues(signal, reason).Inc()
}

// RecordSignalLagged records values a lagging subscriber skipped.
func (m *Manager) RecordSignalLagged(signal string, skipped uint64) {
	if !m.enabled {
		return
	}
	m.signalLagged.WithLabelValues(signal).Add(float64(skipped))
}

// RecordSignalClosed records a signal closure.
func (m *Manager) RecordSignalClosed(signal string) {
	if !m.enabled {
		return
	}
	m.signalClosed.WithLabelValues(signal).Inc()
}
