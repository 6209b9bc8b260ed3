package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/decision"
	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// escalate runs a decision's signature through the three escalation
// gates and, if none suppress, builds and dispatches a payload. Caller
// holds d.mu.
func (d *Domain) escalate(dec decision.Decision, flags escalation.BaselineDeviationFlags, now time.Time) {
	sig := dec.Signature

	onIgnore := d.isIgnored(sig)
	awaiting := d.pendingStore.IsAwaitingReview(sig.SignatureID)

	gate := d.escalationEngine.CheckGates(sig, onIgnore, awaiting, now)
	if gate != escalation.GatePassed {
		d.log.Debug("pipeline: escalation gated", zap.String("signature_id", sig.SignatureID), zap.String("gate", string(gate)))
		return
	}

	outcome := escalation.OutcomeRecommendPlaybook
	if dec.MatchedRunbook == nil {
		outcome = escalation.OutcomeDiagnoseRootCause
	}

	t := d.ticketForSignatureLocked(sig.SignatureID)
	if t == nil {
		ticketID := newTicketID()
		t = ticket.NewActionTicket(ticketID, sig.SignatureID, now)
	}
	t.Escalated = true
	d.persistTicket(t)

	payload := d.escalationEngine.BuildPayload(d.tenantID, sig, flags, d.env, d.recentActions[sig.SignatureID], outcome, now)

	sev := signalToEscalationSeverity(sig.Severity)
	flushNow, _ := d.escalationEngine.Dispatch(payload, sev, d.transport.Connected(), now)

	d.metrics.EscalationsSentTotal.Inc()

	if flushNow != nil {
		d.dispatchEscalation(flushNow, t, now)
	}
}

// dispatchEscalation sends a ready batch of payloads over transport; if
// the transport is disconnected or the send fails, each payload opens a
// manual ticket instead so the incident is never silently dropped.
func (d *Domain) dispatchEscalation(payloads []escalation.Payload, t *ticket.ActionTicket, now time.Time) {
	msgType := "escalation"
	var body any = payloads[0]
	if len(payloads) > 1 {
		msgType = "batch_escalation"
		body = payloads
	}

	if !d.transport.Connected() {
		d.openManualTicket(t, now)
		return
	}
	if err := d.transport.Send(msgType, body); err != nil {
		d.log.Warn("pipeline: escalation send failed, opening manual ticket", zap.Error(err))
		d.metrics.EscalationsDroppedTotal.WithLabelValues("send_failed").Inc()
		d.openManualTicket(t, now)
	}
}

func (d *Domain) openManualTicket(t *ticket.ActionTicket, now time.Time) {
	t.Transition(ticket.StatusPendingReview, now)
	t.ResultSummary = "escalation could not reach server, opened for manual review"
	d.persistTicket(t)
	d.metrics.EscalationsDroppedTotal.WithLabelValues("disconnected").Inc()
}

// reescalateFailedClassA synthesizes an escalation for a Class A runbook
// that auto-executed and failed: confidence is capped at
// reescalationConfidenceCeiling and severity forced to High, since a
// local failure on a runbook the agent trusted enough to auto-run is
// itself a signal the server should see promptly. Caller holds d.mu.
func (d *Domain) reescalateFailedClassA(ec executionContext, now time.Time) {
	sig := ec.signature
	if sig.Confidence > d.reescalationConfidenceCeiling {
		sig.Confidence = d.reescalationConfidenceCeiling
	}

	onIgnore := d.isIgnored(sig)
	if onIgnore {
		return
	}

	var flags escalation.BaselineDeviationFlags
	payload := d.escalationEngine.BuildPayload(d.tenantID, sig, flags, d.env, d.recentActions[sig.SignatureID], escalation.OutcomeNeedsApproval, now)

	t := d.ticketForSignatureLocked(sig.SignatureID)
	if t == nil {
		t = ticket.NewActionTicket(newTicketID(), sig.SignatureID, now)
	}
	t.Escalated = true
	d.persistTicket(t)

	flushNow, _ := d.escalationEngine.Dispatch(payload, escalation.SeverityHigh, d.transport.Connected(), now)
	d.metrics.EscalationsSentTotal.Inc()
	if flushNow != nil {
		d.dispatchEscalation(flushNow, t, now)
	}
}

func (d *Domain) recordRecentAction(signatureID, line string) {
	actions := append(d.recentActions[signatureID], line)
	if len(actions) > 3 {
		actions = actions[len(actions)-3:]
	}
	d.recentActions[signatureID] = actions
}

// RunBatchFlush periodically drains the escalation engine's batch and
// ships it as one message: `escalation` for a single payload,
// `batch_escalation` for several, matching the spec's 10s non-urgent
// batching window.
func (d *Domain) RunBatchFlush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flushBatch(time.Now())
		}
	}
}

func (d *Domain) flushBatch(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.escalationEngine.FlushBatch()
	if len(batch) == 0 {
		return
	}
	if !d.transport.Connected() {
		for _, p := range batch {
			t := d.ticketForSignatureLocked(p.SignatureID)
			if t == nil {
				t = ticket.NewActionTicket(newTicketID(), p.SignatureID, now)
			}
			d.openManualTicket(t, now)
		}
		return
	}

	msgType := "escalation"
	var body any = batch[0]
	if len(batch) > 1 {
		msgType = "batch_escalation"
		body = batch
	}
	if err := d.transport.Send(msgType, body); err != nil {
		d.log.Warn("pipeline: batch escalation send failed", zap.Error(err))
		for _, p := range batch {
			t := d.ticketForSignatureLocked(p.SignatureID)
			if t == nil {
				t = ticket.NewActionTicket(newTicketID(), p.SignatureID, now)
			}
			d.openManualTicket(t, now)
		}
	}
}
