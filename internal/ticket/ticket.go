// Package ticket defines the record types that track a remediation attempt
// from signature match through playbook execution: ActionTicket is the
// durable record of "what are we doing about this," PlaybookTask is one
// queued instantiation of a runbook against resolved parameters, and
// StepResult/ExecutionLog capture what actually happened when the queue
// executor ran it.
package ticket

import "time"

// Status is the lifecycle state of an ActionTicket.
type Status string

const (
	StatusOpen         Status = "open"
	StatusInProgress   Status = "in-progress"
	StatusResolved     Status = "resolved"
	StatusFailed       Status = "failed"
	StatusPendingReview Status = "pending-review"
)

// Priority orders PlaybookTask admission into the execution queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Source identifies who decided this playbook should run.
type Source string

const (
	SourceServer Source = "server"
	SourceAdmin  Source = "admin"
	SourceLocal  Source = "local"
)

// ActionTicket is the durable record created the moment the decision
// engine commits to doing something about a signature: local execution,
// escalation, or awaiting human review. Every PlaybookTask and every
// pending-review entry is linked back to exactly one ActionTicket.
type ActionTicket struct {
	TicketID    string `json:"ticket_id"`
	SignatureID string `json:"signature_id"`
	PlaybookID  string `json:"playbook_id,omitempty"`

	Status Status `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Escalated bool `json:"escalated"`

	// ResultSummary and ResultDetail are filled in once the linked
	// PlaybookTask finishes: a short outcome line plus the full
	// ExecutionLog, for display and for memory.recordAttempt.
	ResultSummary string        `json:"result_summary,omitempty"`
	ResultDetail  *ExecutionLog `json:"result_detail,omitempty"`
}

// NewActionTicket starts a ticket in StatusOpen.
func NewActionTicket(ticketID, signatureID string, now time.Time) *ActionTicket {
	return &ActionTicket{
		TicketID:    ticketID,
		SignatureID: signatureID,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the ticket to a new status, stamping UpdatedAt (and
// ResolvedAt for terminal states).
func (t *ActionTicket) Transition(status Status, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	if status == StatusResolved || status == StatusFailed {
		r := now
		t.ResolvedAt = &r
	}
}

// PlaybookTask is one queued instantiation of a Runbook: the runbook ID
// plus resolved template parameters (service name, drive letter, PID,
// and so on), ready for the queue executor to run step by step.
type PlaybookTask struct {
	TaskID         string            `json:"task_id"`
	ActionTicketID string            `json:"action_ticket_id"`
	RunbookID      string            `json:"runbook_id"`
	Parameters     map[string]string `json:"parameters"`

	Priority Priority `json:"priority"`
	Source   Source   `json:"source"`

	CreatedAt time.Time `json:"created_at"`

	// ApprovalToken is set for Class B runbooks once the server (or an
	// operator) has authorized execution; the pipeline refuses to enqueue
	// a Class B task without one.
	ApprovalToken string `json:"approval_token,omitempty"`
}

// StepResult records the outcome of one executed Step.
type StepResult struct {
	StepName  string        `json:"step_name"`
	Succeeded bool          `json:"succeeded"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ExecutionLog is the full record of a PlaybookTask's run, including any
// rollback steps triggered by a failure.
type ExecutionLog struct {
	TaskID       string       `json:"task_id"`
	RunbookID    string       `json:"runbook_id"`
	Steps        []StepResult `json:"steps"`
	RolledBack   bool         `json:"rolled_back"`
	RollbackSteps []StepResult `json:"rollback_steps,omitempty"`
	Succeeded    bool         `json:"succeeded"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Summary returns a short human-readable outcome line, used as
// ActionTicket.ResultSummary.
func (l *ExecutionLog) Summary() string {
	if l.Succeeded {
		return "completed"
	}
	if l.RolledBack {
		return "failed, rolled back"
	}
	return "failed"
}
