package telemetry

// ObserveSignal, ObserveDrop and ObserveQueueDepth let internal/signal.Sink
// depend on the narrow signal.MetricsSink interface instead of the full
// Metrics type, while this method set makes *Metrics satisfy it.

// ObserveSignal records one normalized signal handed to the pipeline.
func (m *Metrics) ObserveSignal(category string) {
	m.SignalsProcessedTotal.WithLabelValues(category).Inc()
}

// ObserveDrop records one signal dropped due to intake queue overflow.
func (m *Metrics) ObserveDrop() {
	m.SignalsDroppedTotal.Inc()
}

// ObserveQueueDepth records the current intake queue depth.
func (m *Metrics) ObserveQueueDepth(n int) {
	m.SignalQueueDepth.Set(float64(n))
}
