package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// metricColumns is the allow-list of metrics the worker knows how to
// aggregate, keyed by lowercased queue name.
var metricColumns = map[string]string{
	"temperature": "Temperature",
}

type metricQueue interface {
	TryDequeue() (string, bool)
	Wake() <-chan struct{}
}

type statsRepository interface {
	AverageTemperature(ctx context.Context) (float64, error)
}

type averageBroadcaster interface {
	BroadcastAverage(ctx context.Context, column string, average float64) error
}

// AggregateWorker drains the metric queue and computes averages in the
// background. Requests are fire-and-forget: the enqueuing call has
// already returned by the time an item is processed, so failures are
// logged and never surfaced.
type AggregateWorker struct {
	queue        metricQueue
	stats        statsRepository
	notifier     averageBroadcaster
	logger       *zap.Logger
	pollInterval time.Duration
	errorBackoff time.Duration

	// observe is called once per loop iteration; used for metrics.
	observe func(processed bool)
}

// NewAggregateWorker constructs the worker.
func NewAggregateWorker(queue metricQueue, stats statsRepository, notifier averageBroadcaster, logger *zap.Logger, pollInterval, errorBackoff time.Duration) *AggregateWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = 2 * time.Second
	}
	return &AggregateWorker{
		queue:        queue,
		stats:        stats,
		notifier:     notifier,
		logger:       logger,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
	}
}

// SetObserver installs an iteration callback.
func (w *AggregateWorker) SetObserver(fn func(processed bool)) {
	w.observe = fn
}

// Run consumes the queue until ctx is cancelled. A failed iteration is
// logged and followed by a longer backoff; the loop itself never exits
// on error. An item dequeued right before cancellation may be dropped
// (at-most-once processing).
func (w *AggregateWorker) Run(ctx context.Context) {
	w.logger.Info("aggregate worker started")
	defer w.logger.Info("aggregate worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		name, ok := w.queue.TryDequeue()
		if !ok {
			if w.observe != nil {
				w.observe(false)
			}
			if !w.sleep(ctx, w.pollInterval, true) {
				return
			}
			continue
		}

		if err := w.process(ctx, name); err != nil {
			w.logger.Error("aggregate iteration failed", zap.String("metric", name), zap.Error(err))
			if !w.sleep(ctx, w.errorBackoff, false) {
				return
			}
			continue
		}
		if w.observe != nil {
			w.observe(true)
		}
	}
}

func (w *AggregateWorker) process(ctx context.Context, name string) error {
	column, known := metricColumns[strings.ToLower(name)]
	if !known {
		// Dropped, not retried: the triggering request already
		// returned success.
		w.logger.Warn("unknown metric dequeued", zap.String("metric", name))
		return nil
	}

	average, err := w.stats.AverageTemperature(ctx)
	if err != nil {
		return err
	}

	w.logger.Info("metric average computed", zap.String("column", column), zap.Float64("average", average))
	return w.notifier.BroadcastAverage(ctx, column, average)
}

// sleep waits for d, an early wake signal (when waking is true), or
// cancellation. Returns false when ctx is done.
func (w *AggregateWorker) sleep(ctx context.Context, d time.Duration, waking bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	if waking {
		select {
		case <-ctx.Done():
			return false
		case <-w.queue.Wake():
			return true
		case <-timer.C:
			return true
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
