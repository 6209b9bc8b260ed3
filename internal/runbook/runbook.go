// Package runbook defines the static remediation recipe data model (§3)
// and the Runbook Classifier (C6): it assigns a risk class to each loaded
// runbook from its steps and enforces the auto-execute confidence
// thresholds.
package runbook

import "time"

// RiskClass is the classifier's output: A auto-executes, B requires an
// approval token, C is never auto-executed.
type RiskClass string

const (
	ClassA RiskClass = "A"
	ClassB RiskClass = "B"
	ClassC RiskClass = "C"
)

// StepKind enumerates the closed set of playbook step kinds.
type StepKind string

const (
	StepShellInvoke    StepKind = "shell-invoke"
	StepServiceControl StepKind = "service-control"
	StepFileOp         StepKind = "file-op"
	StepRegistryOp     StepKind = "registry-op"
	StepQuery          StepKind = "query"
	StepReboot         StepKind = "reboot"
	StepUserPrompt     StepKind = "user-prompt"
	StepSleep          StepKind = "sleep"
)

// UserImpactClass describes how disruptive running a runbook is to the
// end user, informing UI display only — it does not gate execution.
type UserImpactClass string

const (
	ImpactNone        UserImpactClass = "none"
	ImpactTransient    UserImpactClass = "transient"
	ImpactServiceRestart UserImpactClass = "service_restart"
	ImpactReboot       UserImpactClass = "reboot"
)

// Step is one ordered action within a Runbook.
type Step struct {
	Name        string            `json:"name"`
	Kind        StepKind          `json:"kind"`
	Action      string            `json:"action"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	AllowFailure     bool `json:"allow_failure,omitempty"`
	RequiresApproval bool `json:"requires_approval,omitempty"`

	// RollbackOnFailure: when true and this step fails (and is not a
	// verification step), the runbook's Rollback steps run.
	RollbackOnFailure bool `json:"rollback_on_failure,omitempty"`
}

// VerificationDescriptor names a step (by Name) that is a verification
// check: a query expected to follow a corresponding mutation on the same
// target. Verification-step failures never fail the playbook.
type VerificationDescriptor struct {
	StepName string `json:"step_name"`
	Target   string `json:"target"`
}

// Runbook is a static, versioned remediation recipe. Loaded at startup;
// mutated only by the classifier (annotating RiskClass).
type Runbook struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`

	// RiskClass is set by Classify; zero value means not yet classified.
	RiskClass RiskClass `json:"risk_class"`

	Steps        []Step                   `json:"steps"`
	Verification []VerificationDescriptor `json:"verification,omitempty"`
	Rollback     []Step                   `json:"rollback,omitempty"`

	EstimatedDuration time.Duration   `json:"estimated_duration"`
	UserImpact        UserImpactClass `json:"user_impact"`

	// Source distinguishes locally-bundled runbooks from ones cached from
	// the server (server-runbooks.json), which also carry ExecutionCount
	// for reinvestigation tracking (C10).
	Source         string `json:"source,omitempty"`
	ExecutionCount int    `json:"execution_count,omitempty"`

	// MatchSignalKeys names the signal_keys (category-metric) this
	// runbook is a candidate remediation for. The Decision Engine's
	// caller looks up candidates by the incoming signal's signal_key.
	MatchSignalKeys []string `json:"match_signal_keys,omitempty"`
}

// IsVerificationStep reports whether name is declared as a verification
// step on this runbook — used by the executor to imply AllowFailure.
func (r *Runbook) IsVerificationStep(name string) bool {
	for _, v := range r.Verification {
		if v.StepName == name {
			return true
		}
	}
	return false
}
