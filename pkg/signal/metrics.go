package signal

import "sync"

// MetricsRecorder defines metrics hooks for signal operations.
type MetricsRecorder interface {
	RecordSignalWrite(signal string)
	RecordSignalRejected(signal string, reason string)
	RecordSignalLagged(signal string, skipped uint64)
	RecordSignalClosed(signal string)
}

type nopMetrics struct{}

func (n *nopMetrics) RecordSignalWrite(signal string)                   {}
func (n *nopMetrics) RecordSignalRejected(signal string, reason string) {}
func (n *nopMetrics) RecordSignalLagged(signal string, skipped uint64)  {}
func (n *nopMetrics) RecordSignalClosed(signal string)                  {}

var (
	metricsMu sync.RWMutex
	metrics   MetricsRecorder = &nopMetrics{}
)

// SetMetricsRecorder sets the package-level signal metrics recorder.
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
	if metrics == nil {
		return &nopMetrics{}
	}
	return metrics
}
