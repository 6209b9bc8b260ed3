package escalation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/signature"
)

// Config controls cooldown, batching and diagnostics timing.
type Config struct {
	Cooldown           time.Duration // default 5 min
	BatchWindow        time.Duration // default 10 s
	DiagnosticsTimeout time.Duration // default 15 s
	HMACSecret         string
}

// DefaultConfig returns the spec's default escalation timings.
func DefaultConfig() Config {
	return Config{Cooldown: 5 * time.Minute, BatchWindow: 10 * time.Second, DiagnosticsTimeout: 15 * time.Second}
}

// GateResult names why escalateToServer short-circuited, if it did.
type GateResult string

const (
	GatePassed         GateResult = ""
	GateOnIgnoreList   GateResult = "ignore_list"
	GateAwaitingReview GateResult = "awaiting_review"
	GateCooldown       GateResult = "cooldown"
)

// Severity ranks drive the immediate-flush vs batch decision; mirrors
// signal.Severity without importing it, so escalation stays decoupled
// from the signal package's internal representation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) immediate() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// DiagnosticsCollector opportunistically gathers a short diagnostic
// bundle for a signal category. BuildPayload waits at most
// Config.DiagnosticsTimeout for it; a failure or timeout leaves the
// payload without diagnostics and does not block escalation.
type DiagnosticsCollector func(category string) (*Diagnostics, error)

// Engine owns the cooldown map and batching queue for outbound
// escalations. All mutation happens on the caller's single pipeline
// domain; Engine does not lock internally.
type Engine struct {
	cfg          Config
	log          *zap.Logger
	lastSent     map[string]time.Time // signature_id -> last escalation time
	batch        []Payload
	diagnostics  DiagnosticsCollector
}

// New creates an Engine. diagnostics may be nil to skip pre-escalation
// diagnostics entirely.
func New(cfg Config, diagnostics DiagnosticsCollector, log *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		log:         log,
		lastSent:    make(map[string]time.Time),
		diagnostics: diagnostics,
	}
}

// CheckGates runs gates 1-3 in order and returns the first one that
// short-circuits, or GatePassed if none do.
func (e *Engine) CheckGates(sig signature.Signature, onIgnoreList, awaitingReview bool, now time.Time) GateResult {
	if onIgnoreList {
		return GateOnIgnoreList
	}
	if awaitingReview {
		return GateAwaitingReview
	}
	if last, ok := e.lastSent[sig.SignatureID]; ok && now.Sub(last) < e.cfg.Cooldown {
		return GateCooldown
	}
	return GatePassed
}

// BuildPayload constructs the sanitized outbound payload for a
// signature, attaching pre-escalation diagnostics if a collector is
// configured and it completes without error.
func (e *Engine) BuildPayload(tenantID string, sig signature.Signature, flags BaselineDeviationFlags, env EnvironmentTags, recentActions []string, outcome RequestedOutcome, now time.Time) Payload {
	p := Payload{
		TenantID:               tenantID,
		DeviceID:               sig.DeviceID,
		SignatureID:            sig.SignatureID,
		Symptoms:               SanitizeAll(sig.Symptoms),
		Targets:                SanitizeAll(sig.Targets),
		BaselineDeviationFlags: flags,
		EnvironmentTags:        env,
		RecentActionsSummary:   lastThree(recentActions),
		LocalConfidence:        sig.Confidence,
		RequestedOutcome:       outcome,
		CreatedAt:              now,
	}

	if e.diagnostics != nil {
		type result struct {
			diag *Diagnostics
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			diag, err := e.diagnostics(sig.Category)
			ch <- result{diag, err}
		}()
		var r result
		select {
		case r = <-ch:
		case <-time.After(e.cfg.DiagnosticsTimeout):
			r.err = fmt.Errorf("timed out after %s", e.cfg.DiagnosticsTimeout)
		}
		if diag, err := r.diag, r.err; err == nil && diag != nil {
			p.PreEscalationDiagnostics = diag
		} else if err != nil {
			e.log.Debug("escalation: pre-escalation diagnostics failed", zap.Error(err), zap.String("category", sig.Category))
		}
	}
	return p
}

func lastThree(actions []string) []string {
	if len(actions) <= 3 {
		return actions
	}
	return actions[len(actions)-3:]
}

// Dispatch decides whether a payload flushes immediately or is
// enqueued into the batching window, per severity. It marks the
// cooldown for the payload's signature_id either way.
//
// flushNow holds exactly one payload for an immediate flush or a
// direct-send when transport is disconnected (which bypasses batching
// and becomes a Manual Ticket, handled by the caller); otherwise it is
// nil and the payload waits in the batch until FlushBatch drains it.
func (e *Engine) Dispatch(p Payload, sev Severity, connected bool, now time.Time) (flushNow []Payload, enqueued bool) {
	e.lastSent[p.SignatureID] = now

	if !connected {
		return []Payload{p}, false
	}
	if sev.immediate() {
		return []Payload{p}, false
	}

	e.batch = append(e.batch, p)
	return nil, true
}

// FlushBatch drains and returns the accumulated batch, called when the
// batch timer fires.
func (e *Engine) FlushBatch() []Payload {
	batch := e.batch
	e.batch = nil
	return batch
}

// PendingBatchSize reports how many payloads are queued, used to decide
// whether a single-item batch should be framed as `escalation` instead
// of `batch_escalation`.
func (e *Engine) PendingBatchSize() int {
	return len(e.batch)
}
