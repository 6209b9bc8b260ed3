// Package telemetry — metrics.go
//
// Prometheus metrics for the remediation agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9092 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: remediation_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - signature_id and device_id are never labels (unbounded cardinality).
//   - Decision/outcome labels use the small closed enums from the spec.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the agent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Signal intake (C1) ──────────────────────────────────────────────────

	// SignalsProcessedTotal counts normalized signals handed to the pipeline.
	// Labels: category
	SignalsProcessedTotal *prometheus.CounterVec

	// SignalsDroppedTotal counts signals dropped due to intake queue overflow.
	SignalsDroppedTotal prometheus.Counter

	// SignalQueueDepth is the current in-memory intake queue depth.
	SignalQueueDepth prometheus.Gauge

	// SignalsSuppressedTotal counts signals suppressed by a pipeline gate.
	// Labels: gate (maintenance, state_tracker, dependency, profiler, sustained_breach)
	SignalsSuppressedTotal *prometheus.CounterVec

	// ─── Decision engine (C8) ─────────────────────────────────────────────────

	// DecisionsTotal counts pipeline decisions. Labels: decision
	DecisionsTotal *prometheus.CounterVec

	// ─── Remediation memory (C7) ──────────────────────────────────────────────

	// DampenedSignalsGauge is the current number of dampened (signal, device) pairs.
	DampenedSignalsGauge prometheus.Gauge

	// ─── Escalation (C9) ──────────────────────────────────────────────────────

	// EscalationsSentTotal counts escalation payloads that passed the gates
	// and were dispatched: sent at once, batched, or opened as a manual
	// ticket.
	EscalationsSentTotal prometheus.Counter

	// EscalationsDroppedTotal counts escalations that did not reach the
	// server and were opened as manual-review tickets instead.
	// Labels: reason (disconnected, send_failed). Every manual ticket
	// counts under disconnected; a failed immediate send also counts
	// under send_failed.
	EscalationsDroppedTotal *prometheus.CounterVec

	// ─── Playbook queue (C10) ─────────────────────────────────────────────────

	// QueueDepth is the current playbook queue depth.
	QueueDepth prometheus.Gauge

	// PlaybooksExecutedTotal counts completed playbook executions. Labels: outcome
	PlaybooksExecutedTotal *prometheus.CounterVec

	// StepDurationSeconds records individual step execution latency.
	StepDurationSeconds prometheus.Histogram

	// ─── Transport (C11) ──────────────────────────────────────────────────────

	// TransportReconnectsTotal counts reconnect attempts.
	TransportReconnectsTotal prometheus.Counter

	// TransportConnected reports 1 when the duplex channel is up, else 0.
	TransportConnected prometheus.Gauge

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records atomic state-file and ledger write latency.
	StorageWriteLatency prometheus.Histogram

	// LedgerEntries is the current number of audit ledger entries.
	LedgerEntries prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all agent Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SignalsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "signal",
			Name:      "processed_total",
			Help:      "Total signals normalized and handed to the pipeline, by category.",
		}, []string{"category"}),

		SignalsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "signal",
			Name:      "dropped_total",
			Help:      "Total signals dropped due to intake queue overflow.",
		}),

		SignalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "signal",
			Name:      "queue_depth",
			Help:      "Current depth of the in-memory signal intake queue.",
		}),

		SignalsSuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "signal",
			Name:      "suppressed_total",
			Help:      "Total signals suppressed by a pipeline gate, by gate.",
		}, []string{"gate"}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "decision",
			Name:      "total",
			Help:      "Total decision engine outcomes, by decision.",
		}, []string{"decision"}),

		DampenedSignalsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "memory",
			Name:      "dampened_signals",
			Help:      "Current number of dampened (signal, device) pairs.",
		}),

		EscalationsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "escalation",
			Name:      "sent_total",
			Help:      "Total escalation payloads dispatched: sent at once, batched, or opened as manual tickets.",
		}),

		EscalationsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "escalation",
			Name:      "dropped_total",
			Help:      "Total escalations opened as manual-review tickets instead of reaching the server, by reason.",
		}, []string{"reason"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current playbook queue depth.",
		}),

		PlaybooksExecutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "queue",
			Name:      "playbooks_executed_total",
			Help:      "Total playbook executions completed, by outcome.",
		}, []string{"outcome"}),

		StepDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remediation",
			Subsystem: "queue",
			Name:      "step_duration_seconds",
			Help:      "Playbook step execution latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		TransportReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remediation",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Total transport reconnect attempts.",
		}),

		TransportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 if the duplex transport channel is currently connected, else 0.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remediation",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "Atomic state-file and ledger write latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		LedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of audit ledger entries.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remediation",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.SignalsProcessedTotal,
		m.SignalsDroppedTotal,
		m.SignalQueueDepth,
		m.SignalsSuppressedTotal,
		m.DecisionsTotal,
		m.DampenedSignalsGauge,
		m.EscalationsSentTotal,
		m.EscalationsDroppedTotal,
		m.QueueDepth,
		m.PlaybooksExecutedTotal,
		m.StepDurationSeconds,
		m.TransportReconnectsTotal,
		m.TransportConnected,
		m.StorageWriteLatency,
		m.LedgerEntries,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
