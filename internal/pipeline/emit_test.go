package pipeline

import (
	"testing"
	"time"

	"github.com/octoreflex/remediation-agent/internal/config"
	"github.com/octoreflex/remediation-agent/internal/decision"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/signal"
	"github.com/octoreflex/remediation-agent/internal/signature"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

func TestEmit_ClassAAutoExecuteEnqueuesPlaybookTask(t *testing.T) {
	dom, _ := newTestDomain(t, func(c *config.Config) { c.Signal.SustainedBreachCycles = 1 })
	now := time.Now()

	dom.HandleSignal(serviceDownObservation("Spooler"), now)

	if dom.queue.Len() != 1 {
		t.Fatalf("queue.Len() = %d, want 1", dom.queue.Len())
	}
	if len(dom.executionContext) != 1 {
		t.Fatalf("len(executionContext) = %d, want 1", len(dom.executionContext))
	}

	var tk *ticket.ActionTicket
	for _, candidate := range dom.tickets {
		tk = candidate
	}
	if tk == nil {
		t.Fatal("expected an ActionTicket to have been opened")
	}
	if tk.PlaybookID != "service_start_generic" {
		t.Errorf("PlaybookID = %q, want service_start_generic", tk.PlaybookID)
	}
	if tk.Status != ticket.StatusInProgress {
		t.Errorf("Status = %q, want in-progress", tk.Status)
	}
}

func TestEmit_ExclusionListIgnoresSignature(t *testing.T) {
	dom, sender := newTestDomain(t, func(c *config.Config) { c.Signal.SustainedBreachCycles = 1 })
	now := time.Now()

	dom.exclusionList = []ExclusionEntry{{ResourceID: "service:Spooler"}}

	dom.HandleSignal(serviceDownObservation("Spooler"), now)

	if dom.queue.Len() != 0 {
		t.Errorf("expected no queued task for an excluded resource, queue.Len() = %d", dom.queue.Len())
	}
	if len(dom.tickets) != 0 {
		t.Errorf("expected no ticket opened for an excluded resource, got %d", len(dom.tickets))
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no escalation sent for an excluded resource, got %d", len(sender.sent))
	}
}

func TestEmit_NoMatchedRunbookEscalatesAsDiagnoseRootCause(t *testing.T) {
	dom, sender := newTestDomain(t, func(c *config.Config) { c.Signal.SustainedBreachCycles = 1 })
	now := time.Now()

	raw := signal.RawObservation{
		Category: "event",
		Metric:   "application_error",
		Target:   "9999",
		Severity: signal.SeverityCritical,
		Message:  "unrecognized application fault",
		Attributes: map[string]string{
			"source":   "Application",
			"event_id": "9999",
		},
	}
	dom.HandleSignal(raw, now)

	if len(sender.sent) != 1 {
		t.Fatalf("expected one escalation to be sent for a critical signal with no matched runbook, got %d", len(sender.sent))
	}
	if sender.sent[0].msgType != "escalation" {
		t.Errorf("msgType = %q, want escalation", sender.sent[0].msgType)
	}
}

func TestStartLocalExecution_IgnoreInstructionResolvesImmediately(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	now := time.Now()

	rb := &runbook.Runbook{ID: "noop_ignore", Name: "No action needed", RiskClass: runbook.ClassA}
	dom.runbooks.Load([]*runbook.Runbook{rb})

	dec := decision.Decision{
		Outcome:        decision.OutcomeExecuteLocal,
		Signature:      signature.Signature{SignatureID: "sig-ignore-instruction"},
		MatchedRunbook: rb,
	}
	dom.startLocalExecution(dec, "Spooler", now)

	if dom.queue.Len() != 0 {
		t.Errorf("an ignore-instruction runbook should never be queued, queue.Len() = %d", dom.queue.Len())
	}
	var tk *ticket.ActionTicket
	for _, candidate := range dom.tickets {
		tk = candidate
	}
	if tk == nil || tk.Status != ticket.StatusResolved {
		t.Errorf("expected a resolved ticket for the ignore instruction, got %+v", tk)
	}
}
