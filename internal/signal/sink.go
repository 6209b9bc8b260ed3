package signal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MetricsSink is the subset of telemetry.Metrics the intake Sink needs;
// kept as a narrow interface so package signal does not import telemetry.
type MetricsSink interface {
	ObserveSignal(category string)
	ObserveDrop()
	ObserveQueueDepth(n int)
}

// Sink is the bounded intake queue collectors post Signals into. It
// decouples collector cadence from pipeline-domain ordering: the pipeline
// reads from Signals() at its own pace while collectors never block on a
// slow consumer, matching the ring-buffer-to-channel backpressure idiom
// used for kernel event intake.
type Sink struct {
	queue   chan Signal
	metrics MetricsSink
	log     *zap.Logger
}

// NewSink creates a Sink with the given bounded capacity.
func NewSink(capacity int, metrics MetricsSink, log *zap.Logger) *Sink {
	return &Sink{
		queue:   make(chan Signal, capacity),
		metrics: metrics,
		log:     log,
	}
}

// Submit enqueues a Signal without blocking. If the queue is full the
// Signal is dropped and the drop counter is incremented; collection
// failures upstream must never propagate as panics or block the caller.
func (s *Sink) Submit(sig Signal) {
	s.metrics.ObserveSignal(sig.Category)
	select {
	case s.queue <- sig:
	default:
		s.metrics.ObserveDrop()
		s.log.Debug("signal intake queue full, dropping signal",
			zap.String("resource_id", sig.ResourceID()),
			zap.String("category", sig.Category))
	}
	s.metrics.ObserveQueueDepth(len(s.queue))
}

// Signals returns the channel the pipeline domain consumes from.
func (s *Sink) Signals() <-chan Signal {
	return s.queue
}

// Run hands each queued Signal to handle until ctx is cancelled or the
// queue is closed; signals still queued at cancellation are left
// unhandled. Callers that own the pipeline loop normally read directly
// from Signals() instead, but Run is useful in tests and simple wiring.
func (s *Sink) Run(ctx context.Context, handle func(Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.queue:
			if !ok {
				return
			}
			handle(sig)
		case <-time.After(time.Second):
			// periodic wakeup so ctx cancellation is observed promptly
			// even under sustained signal pressure
		}
	}
}
