package trace

import (
	"sync"
	"time"
)

// MetricsRecorder defines metrics hooks for trace recording.
type MetricsRecorder interface {
	RecordTraceDropped(reason string)
	RecordTraceFlush(sink string, events int, duration time.Duration, err error)
}

type nopMetrics struct{}

func (n *nopMetrics) RecordTraceDropped(reason string)                                    {}
func (n *nopMetrics) RecordTraceFlush(sink string, events int, d time.Duration, err error) {}

var (
	metricsMu sync.RWMutex
	metrics   MetricsRecorder = &nopMetrics{}
)

// SetMetricsRecorder sets the package-level trace metrics recorder.
func SetMetricsRecorder(recorder MetricsRecorder) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if recorder == nil {
		metrics = &nopMetrics{}
		return
	}
	metrics = recorder
}

func metricsRecorder() MetricsRecorder {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}
