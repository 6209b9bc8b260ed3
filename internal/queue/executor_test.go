package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

type fakeRunner struct {
	fail map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, step runbook.Step, resolvedAction string) (string, error) {
	if f.fail[step.Name] {
		return "", errors.New("simulated failure")
	}
	return "ok", nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	rb := &runbook.Runbook{
		ID: "service_start_generic",
		Steps: []runbook.Step{
			{Name: "start", Kind: runbook.StepServiceControl, Action: "Start-Service -Name Spooler"},
			{Name: "verify", Kind: runbook.StepQuery, Action: "Get-Service -Name Spooler"},
		},
	}
	ex := NewExecutor(&fakeRunner{}, zap.NewNop())
	log := ex.Execute(context.Background(), rb, &ticket.PlaybookTask{TaskID: "t1"}, fixedClock(time.Now()))
	if !log.Succeeded {
		t.Fatalf("expected success, got %+v", log)
	}
}

func TestExecute_VerificationFailureDoesNotFailPlaybook(t *testing.T) {
	rb := &runbook.Runbook{
		ID: "service_start_generic",
		Steps: []runbook.Step{
			{Name: "start", Kind: runbook.StepServiceControl, Action: "Start-Service -Name Spooler"},
			{Name: "verify", Kind: runbook.StepQuery, Action: "Get-Service -Name Spooler"},
		},
		Verification: []runbook.VerificationDescriptor{{StepName: "verify", Target: "Spooler"}},
	}
	ex := NewExecutor(&fakeRunner{fail: map[string]bool{"verify": true}}, zap.NewNop())
	log := ex.Execute(context.Background(), rb, &ticket.PlaybookTask{TaskID: "t1"}, fixedClock(time.Now()))
	if !log.Succeeded {
		t.Fatalf("a failed verification step should not fail the playbook, got %+v", log)
	}
}

func TestExecute_NonVerificationFailureTriggersRollback(t *testing.T) {
	rb := &runbook.Runbook{
		ID: "disk_cleanup_windows_update",
		Steps: []runbook.Step{
			{Name: "stop", Kind: runbook.StepServiceControl, Action: "Stop-Service -Name wuauserv"},
			{Name: "cleanup", Kind: runbook.StepShellInvoke, Action: "Dism.exe /Cleanup-Image", RollbackOnFailure: true},
		},
		Rollback: []runbook.Step{
			{Name: "rollback-start", Kind: runbook.StepServiceControl, Action: "Start-Service -Name wuauserv"},
		},
	}
	ex := NewExecutor(&fakeRunner{fail: map[string]bool{"cleanup": true}}, zap.NewNop())
	log := ex.Execute(context.Background(), rb, &ticket.PlaybookTask{TaskID: "t1"}, fixedClock(time.Now()))
	if log.Succeeded {
		t.Fatal("playbook with a failed non-verification step should not succeed")
	}
	if !log.RolledBack || len(log.RollbackSteps) != 1 {
		t.Fatalf("expected one rollback step to have run, got %+v", log)
	}
}

func TestExecute_FailureWithoutRollbackOnFailureStopsWithoutRollback(t *testing.T) {
	rb := &runbook.Runbook{
		ID: "x",
		Steps: []runbook.Step{
			{Name: "a", Kind: runbook.StepQuery, Action: "Get-Service -Name X"},
		},
		Rollback: []runbook.Step{{Name: "r", Kind: runbook.StepQuery, Action: "noop"}},
	}
	ex := NewExecutor(&fakeRunner{fail: map[string]bool{"a": true}}, zap.NewNop())
	log := ex.Execute(context.Background(), rb, &ticket.PlaybookTask{TaskID: "t1"}, fixedClock(time.Now()))
	if log.Succeeded {
		t.Fatal("expected failure")
	}
	if log.RolledBack {
		t.Error("rollback should not run without RollbackOnFailure on the failed step")
	}
}
