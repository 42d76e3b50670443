package chatbot

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"themis/internal/observe"
)

// UsageCounter increments the usage count of a stored intent.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, id int64) (int64, error)
}

type usageFailure struct {
	id  int64
	err error
}

// UsageReporter is a fire-and-forget [Notifier]. Each NotifyUsed makes one
// attempt in its own goroutine; failures are only logged.
type UsageReporter struct {
	counter UsageCounter
	logger  *zap.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	failures chan usageFailure
	done     chan struct{}
}

func NewUsageReporter(counter UsageCounter, logger *zap.Logger, metrics *observe.Metrics) *UsageReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &UsageReporter{
		counter:  counter,
		logger:   logger,
		metrics:  metrics,
		failures: make(chan usageFailure, 16),
		done:     make(chan struct{}),
	}
	go r.logFailures()
	return r
}

// NotifyUsed returns immediately. The request runs detached from ctx's
// cancellation so finishing the chat reply does not abort it.
func (r *UsageReporter) NotifyUsed(ctx context.Context, id int64) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("usage reporter closed; dropping notification", zap.Int64("intent_id", id))
		return
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.inflight.Done()
		count, err := r.counter.IncrementUsage(detached, id)
		r.metrics.RecordUsageNotification(detached, err)
		if err != nil {
			r.failures <- usageFailure{id: id, err: err}
			return
		}
		r.logger.Debug("intent usage recorded", zap.Int64("intent_id", id), zap.Int64("count", count))
	}()
}

func (r *UsageReporter) logFailures() {
	defer close(r.done)
	for f := range r.failures {
		r.logger.Warn("usage notification failed", zap.Int64("intent_id", f.id), zap.Error(f.err))
	}
}

// Close waits for in-flight notifications and stops the failure logger.
// Later NotifyUsed calls are dropped.
func (r *UsageReporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.inflight.Wait()
	close(r.failures)
	<-r.done
}
