package datec

import (
	"context"
	"sync"
	"time"
)

// DefaultTaskTimeout bounds each background task when none is configured.
const DefaultTaskTimeout = 30 * time.Second

// Dispatcher runs best-effort work without blocking the caller.
// Tasks are detached from the caller's cancellation but bounded by a timeout.
// Failures are logged and counted, never returned.
type Dispatcher struct {
	logger  Logger
	metrics Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A zero timeout uses DefaultTaskTimeout.
func NewDispatcher(logger Logger, metrics Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{logger: logger, metrics: metrics, timeout: timeout}
}

// Go dispatches fn. saga, step and subject label the log line on failure.
func (d *Dispatcher) Go(ctx context.Context, saga, step, subject string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		if err := fn(taskCtx); err != nil {
			d.logger.Warn("best-effort step failed", "saga", saga, "step", step, "subject", subject, "error", err)
			d.metrics.BestEffortFailed(saga, step)
			d.metrics.StepFinished(saga, step, "failed")
			return
		}
		d.metrics.StepFinished(saga, step, "ok")
	}()
}

// Wait blocks until every dispatched task has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
