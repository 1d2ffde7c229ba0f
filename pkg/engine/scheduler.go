package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/wiring"
)

// Scheduler runs every unit of a network in its own goroutine and joins them.
type Scheduler struct {
	tracker  *StateTracker
	metrics  MetricsRecorder
	logger   logger.Logger
	failFast bool
}

func newScheduler(tracker *StateTracker, metrics MetricsRecorder, log logger.Logger, failFast bool) *Scheduler {
	return &Scheduler{tracker: tracker, metrics: metrics, logger: log, failFast: failFast}
}

// Schedule starts all units at once and waits for every one of them to
// return. Failures do not stop other units unless failFast is set, in which
// case cancel is called on the first failure. Errors are joined in unit order.
func (s *Scheduler) Schedule(ctx context.Context, cancel context.CancelFunc, units []*wiring.Unit) error {
	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	errs := make([]error, len(units))

	s.logger.Debug("scheduling units", "units", len(units))
	for i, u := range units {
		runner := newModuleRunner(u, s.tracker, s.metrics, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := runner.Execute(ctx)
			errs[i] = err
			if state == ModuleStateFailed && s.failFast && cancel != nil {
				once.Do(func() {
					s.logger.Warn("fail-fast: cancelling run", "module", u.Module)
					cancel()
				})
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
