package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// StepRunner executes one resolved step and reports its outcome. The
// concrete implementation dispatches by step kind (shell-invoke,
// service-control, file-op, registry-op, query, reboot, user-prompt,
// sleep) against the host OS; tests substitute a fake.
type StepRunner interface {
	Run(ctx context.Context, step runbook.Step, resolvedAction string) (output string, err error)
}

// Executor runs one PlaybookTask's steps in order against a Runbook
// definition, one task at a time — no two playbooks execute
// concurrently, matching the spec's single sequential worker model.
type Executor struct {
	runner StepRunner
	log    *zap.Logger
}

// NewExecutor creates an Executor bound to a StepRunner.
func NewExecutor(runner StepRunner, log *zap.Logger) *Executor {
	return &Executor{runner: runner, log: log}
}

// Execute runs rb's steps for task, honoring per-step timeouts,
// implicit allow-failure on verification steps, and rollback-on-failure.
func (e *Executor) Execute(ctx context.Context, rb *runbook.Runbook, task *ticket.PlaybookTask, now func() time.Time) ticket.ExecutionLog {
	log := ticket.ExecutionLog{TaskID: task.TaskID, RunbookID: rb.ID, StartedAt: now()}

	for _, step := range rb.Steps {
		result := e.runStep(ctx, step, task, now)
		log.Steps = append(log.Steps, result)

		if result.Succeeded {
			continue
		}
		if rb.IsVerificationStep(step.Name) || step.AllowFailure {
			continue
		}

		// Non-verification step failed: stop, optionally roll back.
		if step.RollbackOnFailure && len(rb.Rollback) > 0 {
			log.RolledBack = true
			for _, rbStep := range rb.Rollback {
				log.RollbackSteps = append(log.RollbackSteps, e.runStep(ctx, rbStep, task, now))
			}
		}
		log.Succeeded = false
		log.FinishedAt = now()
		return log
	}

	log.Succeeded = true
	log.FinishedAt = now()
	return log
}

func (e *Executor) runStep(ctx context.Context, step runbook.Step, task *ticket.PlaybookTask, now func() time.Time) ticket.StepResult {
	started := now()

	resolvedAction, err := ResolvePlaceholders(step.Action, task.Parameters)
	if err != nil {
		return ticket.StepResult{StepName: step.Name, Succeeded: false, Error: err.Error(), StartedAt: started}
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.runner.Run(stepCtx, step, resolvedAction)
	result := ticket.StepResult{
		StepName:  step.Name,
		Succeeded: err == nil,
		Output:    output,
		StartedAt: started,
		Duration:  now().Sub(started),
	}
	if err != nil {
		result.Error = err.Error()
		e.log.Warn("queue: step failed", zap.String("step", step.Name), zap.Error(err))
	}
	return result
}

// ErrUnsupportedStepKind is returned by a StepRunner for a step kind it
// does not know how to dispatch.
func ErrUnsupportedStepKind(kind runbook.StepKind) error {
	return fmt.Errorf("queue: unsupported step kind %q", kind)
}
