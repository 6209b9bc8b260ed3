package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/octoreflex/remediation-agent/internal/config"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/signature"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

func queueTestTask(dom *Domain, taskID, ticketID string, ec executionContext) *ticket.PlaybookTask {
	task := &ticket.PlaybookTask{
		TaskID:         taskID,
		ActionTicketID: ticketID,
		RunbookID:      ec.rb.ID,
		Source:         ticket.SourceLocal,
		CreatedAt:      time.Now(),
	}
	dom.queue.Enqueue(task)
	dom.executionContext[taskID] = ec
	return task
}

func TestNextTask_DequeuesAndClearsExecutionContext(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	rb := &runbook.Runbook{ID: "service_start_generic"}
	ec := executionContext{rb: rb, ticketID: "tk-1", signature: signature.Signature{SignatureID: "sig-1"}}
	want := queueTestTask(dom, "task-1", "tk-1", ec)

	task, gotEC, ok := dom.nextTask()
	if !ok {
		t.Fatal("expected nextTask to return the queued task")
	}
	if task.TaskID != want.TaskID {
		t.Errorf("TaskID = %q, want %q", task.TaskID, want.TaskID)
	}
	if gotEC.rb.ID != "service_start_generic" {
		t.Errorf("execution context runbook = %q, want service_start_generic", gotEC.rb.ID)
	}
	if _, stillPresent := dom.executionContext["task-1"]; stillPresent {
		t.Error("expected the execution context to be removed once dequeued")
	}

	if _, _, ok := dom.nextTask(); ok {
		t.Error("expected the queue to be empty after the only task was dequeued")
	}
}

func TestNextTask_MissingExecutionContextReturnsNotOK(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	dom.queue.Enqueue(&ticket.PlaybookTask{TaskID: "orphan-task", RunbookID: "service_start_generic"})

	if _, _, ok := dom.nextTask(); ok {
		t.Error("expected a dequeued task with no matching execution context to be dropped")
	}
}

func TestOnExecutionResult_SuccessResolvesTicketAndRecordsMemory(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	now := time.Now()

	rb := &runbook.Runbook{ID: "service_start_generic"}
	tk := ticket.NewActionTicket("tk-success", "sig-success", now)
	tk.Transition(ticket.StatusInProgress, now)
	dom.tickets["tk-success"] = tk

	sig := signature.Signature{SignatureID: "sig-success", DeviceID: "device-1", SignalKey: "services-service_status", Targets: []string{"Spooler"}}
	ec := executionContext{rb: rb, ticketID: "tk-success", signature: sig}
	task := &ticket.PlaybookTask{TaskID: "task-success", RunbookID: rb.ID, Source: ticket.SourceLocal}

	log := ticket.ExecutionLog{
		TaskID:     "task-success",
		RunbookID:  rb.ID,
		Succeeded:  true,
		StartedAt:  now,
		FinishedAt: now.Add(2 * time.Second),
		Steps:      []ticket.StepResult{{StepName: "start-service", Succeeded: true}},
	}
	dom.onExecutionResult(task, ec, log, now.Add(2*time.Second))

	if tk.Status != ticket.StatusResolved {
		t.Errorf("Status = %q, want resolved", tk.Status)
	}
	if tk.ResultSummary != "completed" {
		t.Errorf("ResultSummary = %q, want completed", tk.ResultSummary)
	}
	if d := dom.mem.ShouldAttemptRemediation("services-service_status", "device-1", "service_start_generic", "Spooler"); !d.Allowed {
		t.Error("a single successful attempt should never trigger dampening")
	}
	if len(dom.recentActions["sig-success"]) != 1 {
		t.Errorf("expected one recent action recorded, got %d", len(dom.recentActions["sig-success"]))
	}
}

func TestOnExecutionResult_FailureOfClassAReescalates(t *testing.T) {
	dom, sender := newTestDomain(t, nil)
	now := time.Now()

	rb := &runbook.Runbook{ID: "service_start_generic"}
	tk := ticket.NewActionTicket("tk-fail", "sig-fail", now)
	tk.Transition(ticket.StatusInProgress, now)
	dom.tickets["tk-fail"] = tk

	sig := signature.Signature{SignatureID: "sig-fail", DeviceID: "device-1", SignalKey: "services-service_status", Confidence: 95, Targets: []string{"Spooler"}}
	ec := executionContext{rb: rb, ticketID: "tk-fail", signature: sig, localClassA: true}
	task := &ticket.PlaybookTask{TaskID: "task-fail", RunbookID: rb.ID, Source: ticket.SourceLocal}

	log := ticket.ExecutionLog{
		TaskID:     "task-fail",
		RunbookID:  rb.ID,
		Succeeded:  false,
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Steps:      []ticket.StepResult{{StepName: "start-service", Succeeded: false, Error: "access denied"}},
	}
	dom.onExecutionResult(task, ec, log, now.Add(time.Second))

	if tk.Status != ticket.StatusFailed {
		t.Errorf("Status = %q, want failed", tk.Status)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected the Class A failure to trigger a re-escalation send, got %d", len(sender.sent))
	}
}

func TestOnExecutionResult_ServerSuccessBumpsReinvestigationCount(t *testing.T) {
	dom, sender := newTestDomain(t, func(c *config.Config) { c.Queue.ReinvestigationExecutionCount = 2 })
	now := time.Now()

	rb := &runbook.Runbook{ID: "disk_cleanup_windows_update", Source: "server", ExecutionCount: 0}
	dom.runbooks.Load([]*runbook.Runbook{rb})

	runOnce := func(n int) {
		tk := ticket.NewActionTicket(fmt.Sprintf("tk-%d", n), fmt.Sprintf("sig-%d", n), now)
		dom.tickets[tk.TicketID] = tk
		sig := signature.Signature{SignatureID: tk.SignatureID, DeviceID: "device-1", SignalKey: "storage-disk_free", Targets: []string{"C"}}
		ec := executionContext{rb: rb, ticketID: tk.TicketID, signature: sig}
		task := &ticket.PlaybookTask{TaskID: fmt.Sprintf("task-%d", n), RunbookID: rb.ID, Source: ticket.SourceServer}
		log := ticket.ExecutionLog{TaskID: task.TaskID, RunbookID: rb.ID, Succeeded: true, StartedAt: now, FinishedAt: now}
		dom.onExecutionResult(task, ec, log, now)
	}

	runOnce(1)
	if rb.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1 after first server-authorized success", rb.ExecutionCount)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no reinvestigation_request before the threshold, got %d sent messages", len(sender.sent))
	}

	runOnce(2)
	if rb.ExecutionCount != 0 {
		t.Errorf("ExecutionCount = %d, want reset to 0 once the threshold fires", rb.ExecutionCount)
	}
	if len(sender.sent) != 1 || sender.sent[0].msgType != "reinvestigation_request" {
		t.Fatalf("expected exactly one reinvestigation_request at the threshold, got %+v", sender.sent)
	}
}

func TestOnExecutionResult_LocalSuccessDoesNotBumpReinvestigation(t *testing.T) {
	dom, sender := newTestDomain(t, nil)
	now := time.Now()

	rb := &runbook.Runbook{ID: "service_start_generic", Source: "server", ExecutionCount: 0}
	tk := ticket.NewActionTicket("tk-local", "sig-local", now)
	dom.tickets["tk-local"] = tk
	sig := signature.Signature{SignatureID: "sig-local", DeviceID: "device-1", SignalKey: "services-service_status", Targets: []string{"Spooler"}}
	ec := executionContext{rb: rb, ticketID: "tk-local", signature: sig}
	task := &ticket.PlaybookTask{TaskID: "task-local", RunbookID: rb.ID, Source: ticket.SourceLocal}
	log := ticket.ExecutionLog{TaskID: "task-local", RunbookID: rb.ID, Succeeded: true, StartedAt: now, FinishedAt: now}
	dom.onExecutionResult(task, ec, log, now)

	if rb.ExecutionCount != 0 {
		t.Errorf("ExecutionCount = %d, want unchanged for a locally-sourced task", rb.ExecutionCount)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no reinvestigation_request for a locally-sourced task, got %d", len(sender.sent))
	}
}

func TestOnExecutionResult_FailureOfNonClassADoesNotReescalate(t *testing.T) {
	dom, sender := newTestDomain(t, nil)
	now := time.Now()

	rb := &runbook.Runbook{ID: "disk_cleanup_windows_update"}
	tk := ticket.NewActionTicket("tk-fail-b", "sig-fail-b", now)
	dom.tickets["tk-fail-b"] = tk

	sig := signature.Signature{SignatureID: "sig-fail-b", DeviceID: "device-1", SignalKey: "storage-disk_free", Targets: []string{"C"}}
	ec := executionContext{rb: rb, ticketID: "tk-fail-b", signature: sig, localClassA: false}
	task := &ticket.PlaybookTask{TaskID: "task-fail-b", RunbookID: rb.ID, Source: ticket.SourceServer}

	log := ticket.ExecutionLog{TaskID: "task-fail-b", RunbookID: rb.ID, Succeeded: false, StartedAt: now, FinishedAt: now}
	dom.onExecutionResult(task, ec, log, now)

	if len(sender.sent) != 0 {
		t.Errorf("expected no re-escalation for a non-local-ClassA failure, got %d sent messages", len(sender.sent))
	}
}
