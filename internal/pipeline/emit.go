package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/decision"
	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/queue"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/signal"
	"github.com/octoreflex/remediation-agent/internal/signature"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// emit is reached once a Signal has survived every gate: it generates
// a Signature, matches a candidate Runbook, asks the Decision Engine
// for an outcome, and acts on it. Caller holds d.mu.
func (d *Domain) emit(sig signal.Signal, resourceID string, flags escalation.BaselineDeviationFlags, now time.Time) {
	resourceName := sig.Target
	if resourceName == "" {
		resourceName = resourceID
	}

	modifier := d.mem.ResourceStatsFor(sig.SignalKey(), resourceName).ConfidenceModifier()
	rm := signature.RuleMatch{
		MatchStrength:     matchStrengthFor(sig),
		ThresholdDistance: thresholdDistanceFor(sig),
	}
	sigValue := signature.Generate(d.deviceID, sig, rm, modifier)
	d.signatures[sigValue.SignatureID] = sigValue

	if sig.Category == "services" {
		flags.Service = true
	}

	mr := d.runbooks.Match(sig.SignalKey())

	in := decision.Input{
		Signature:       sigValue,
		MatchedRunbook:  mr,
		InExclusionList: d.isExcluded(resourceID),
		Thresholds:      d.thresholds,
		Memory:          d.mem,
		ResourceName:    resourceName,
	}
	dec := decision.Evaluate(in)
	d.metrics.DecisionsTotal.WithLabelValues(string(dec.Outcome)).Inc()

	switch dec.Outcome {
	case decision.OutcomeIgnore:
		d.log.Debug("pipeline: signature on exclusion list, ignored", zap.String("signature_id", sigValue.SignatureID))
	case decision.OutcomeExecuteLocal:
		d.startLocalExecution(dec, resourceName, now)
	case decision.OutcomeEscalate:
		d.escalate(dec, flags, now)
	}
}

// startLocalExecution runs admission checks (a)-(d) from the queue's
// documented contract, then enqueues a PlaybookTask. Caller holds d.mu.
func (d *Domain) startLocalExecution(dec decision.Decision, resourceName string, now time.Time) {
	var rb *runbook.Runbook
	if dec.CachedPlaybookID != "" {
		rb, _ = d.runbooks.ByID(dec.CachedPlaybookID)
	} else if dec.MatchedRunbook != nil {
		rb = dec.MatchedRunbook
	}
	if rb == nil {
		d.log.Warn("pipeline: execute-local decision with no resolvable runbook", zap.String("signature_id", dec.Signature.SignatureID))
		return
	}

	ticketID := newTicketID()
	t := ticket.NewActionTicket(ticketID, dec.Signature.SignatureID, now)
	t.PlaybookID = rb.ID

	if queue.IsIgnoreInstruction(rb.Name, "") {
		t.Transition(ticket.StatusResolved, now)
		t.ResultSummary = "ignore instruction, no steps run"
		d.persistTicket(t)
		return
	}

	task := &ticket.PlaybookTask{
		TaskID:         newTaskID(),
		ActionTicketID: ticketID,
		RunbookID:      rb.ID,
		Parameters:     paramsFor(dec.Signature, resourceName),
		Priority:       priorityFor(dec.Signature.Severity),
		Source:         ticket.SourceLocal,
		CreatedAt:      now,
	}

	if reason := d.queue.Enqueue(task); reason != queue.AdmitOK {
		t.Transition(ticket.StatusFailed, now)
		t.ResultSummary = "queue admission refused: " + string(reason)
		d.persistTicket(t)
		return
	}
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))

	t.Transition(ticket.StatusInProgress, now)
	d.persistTicket(t)

	d.executionContext[task.TaskID] = executionContext{
		rb:          rb,
		ticketID:    ticketID,
		signature:   dec.Signature,
		localClassA: rb.RiskClass == runbook.ClassA,
	}
	d.wakeExecutor()
}

func priorityFor(sev signal.Severity) ticket.Priority {
	switch sev {
	case signal.SeverityCritical:
		return ticket.PriorityCritical
	case signal.SeverityWarning:
		return ticket.PriorityHigh
	default:
		return ticket.PriorityMedium
	}
}

// paramsFor builds the placeholder-resolution parameter map for a
// runbook instantiation from the signature's category/target and any
// attributes the originating signal carried (e.g. a lock file path).
func paramsFor(sig signature.Signature, resourceName string) map[string]string {
	params := make(map[string]string, len(sig.Attributes)+1)
	for k, v := range sig.Attributes {
		params[k] = v
	}
	switch sig.Category {
	case "services", "flap":
		params["service_name"] = resourceName
		if params["lock_path"] == "" {
			params["lock_path"] = "/var/lib/remediation-agent/locks/" + resourceName + ".lock"
		}
	case "storage":
		params["drive_letter"] = resourceName
	case "process", "metric":
		params["process_name"] = resourceName
	}
	return params
}

func signalToEscalationSeverity(sev signal.Severity) escalation.Severity {
	switch sev {
	case signal.SeverityCritical:
		return escalation.SeverityCritical
	case signal.SeverityWarning:
		return escalation.SeverityWarning
	default:
		return escalation.SeverityInfo
	}
}
