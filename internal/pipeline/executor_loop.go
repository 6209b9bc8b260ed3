package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/memory"
	"github.com/octoreflex/remediation-agent/internal/store"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// RunExecutorLoop is the sequential playbook-executor worker: it wakes
// on queueWake or a periodic poll, dequeues at most one task at a time,
// and runs it to completion before considering the next — no two
// playbooks ever execute concurrently.
func (d *Domain) RunExecutorLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.queueWake:
		case <-ticker.C:
		}

		for {
			task, ec, ok := d.nextTask()
			if !ok {
				break
			}
			log := d.executor.Execute(ctx, ec.rb, task, time.Now)
			d.onExecutionResult(task, ec, log, time.Now())

			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (d *Domain) nextTask() (*ticket.PlaybookTask, executionContext, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task := d.queue.Dequeue()
	if task == nil {
		return nil, executionContext{}, false
	}
	ec, ok := d.executionContext[task.TaskID]
	if !ok {
		d.log.Error("pipeline: dequeued task with no execution context", zap.String("task_id", task.TaskID))
		return nil, executionContext{}, false
	}
	delete(d.executionContext, task.TaskID)
	return task, ec, true
}

func (d *Domain) onExecutionResult(task *ticket.PlaybookTask, ec executionContext, log ticket.ExecutionLog, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tickets[ec.ticketID]
	if !ok {
		d.log.Error("pipeline: execution result for unknown ticket", zap.String("ticket_id", ec.ticketID))
		return
	}

	if log.Succeeded {
		t.Transition(ticket.StatusResolved, now)
	} else {
		t.Transition(ticket.StatusFailed, now)
	}
	t.ResultSummary = log.Summary()
	t.ResultDetail = &log
	d.persistTicket(t)

	result := memory.ResultSuccess
	attemptErr := ""
	if !log.Succeeded {
		result = memory.ResultFailure
		for _, s := range log.Steps {
			if s.Error != "" {
				attemptErr = s.Error
			}
		}
	}

	resourceName := ""
	if len(ec.signature.Targets) > 0 {
		resourceName = ec.signature.Targets[0]
	}

	duration := log.FinishedAt.Sub(log.StartedAt)
	d.mem.RecordAttempt(ec.rb.ID, ec.signature.SignalKey, ec.signature.DeviceID, resourceName, result, duration, attemptErr, now)
	d.recordRecentAction(ec.signature.SignatureID, fmt.Sprintf("%s: %s (%s)", ec.rb.ID, outcomeLabel(log.Succeeded), duration.Round(time.Second)))

	if err := d.ledger.Append(store.AttemptEntry{
		Timestamp:   now,
		TicketID:    ec.ticketID,
		SignatureID: ec.signature.SignatureID,
		RunbookID:   ec.rb.ID,
		ResourceID:  ec.signature.ResourceID,
		Decision:    "execute-local",
		Succeeded:   log.Succeeded,
		Confidence:  ec.signature.Confidence,
		Source:      string(task.Source),
	}); err != nil {
		d.log.Error("pipeline: ledger append failed", zap.Error(err))
	}

	d.metrics.PlaybooksExecutedTotal.WithLabelValues(outcomeLabel(log.Succeeded)).Inc()
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))

	if log.Succeeded && task.Source == ticket.SourceServer {
		d.maybeRequestReinvestigationLocked(ec.rb, now)
	}

	if !log.Succeeded && ec.localClassA {
		d.reescalateFailedClassA(ec, now)
	}
}

func outcomeLabel(succeeded bool) string {
	if succeeded {
		return "succeeded"
	}
	return "failed"
}
