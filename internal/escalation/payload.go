// Package escalation implements the Escalation Protocol (C9): gating an
// outbound request for server guidance, batching non-urgent signatures,
// and verifying inbound replies.
package escalation

import (
	"regexp"
	"time"
)

// RequestedOutcome names what kind of server response the agent wants.
type RequestedOutcome string

const (
	OutcomeRecommendPlaybook      RequestedOutcome = "recommend_playbook"
	OutcomeDiagnoseRootCause      RequestedOutcome = "diagnose_root_cause"
	OutcomeNeedsApproval          RequestedOutcome = "needs_approval"
	OutcomeNeedsOutageCorrelation RequestedOutcome = "needs_outage_correlation"
)

// BaselineDeviationFlags marks which metric categories triggered the
// escalation via a profiler/ceiling deviation.
type BaselineDeviationFlags struct {
	CPU     bool `json:"cpu"`
	Memory  bool `json:"memory"`
	Disk    bool `json:"disk"`
	Service bool `json:"service"`
}

// EnvironmentTags carries device context useful for server-side
// correlation.
type EnvironmentTags struct {
	OSBuild        string `json:"os_build"`
	OSVersion      string `json:"os_version"`
	DeviceModelClass string `json:"device_model_class"`
}

// Diagnostics is the optional pre-escalation diagnostic bundle attached
// to a payload.
type Diagnostics struct {
	Category   string `json:"category"`
	Data       string `json:"data"`
	DurationMS int64  `json:"duration_ms"`
}

// Payload is one outbound escalation message's content, shared by both
// single-item `escalation` and multi-item `batch_escalation` framing.
type Payload struct {
	TenantID               string                 `json:"tenant_id"`
	DeviceID               string                 `json:"device_id"`
	SignatureID            string                 `json:"signature_id"`
	Symptoms               []string               `json:"symptoms"`
	Targets                []string               `json:"targets"`
	BaselineDeviationFlags BaselineDeviationFlags `json:"baseline_deviation_flags"`
	EnvironmentTags        EnvironmentTags        `json:"environment_tags"`
	RecentActionsSummary   []string               `json:"recent_actions_summary"`
	LocalConfidence        float64                `json:"local_confidence"`
	RequestedOutcome       RequestedOutcome       `json:"requested_outcome"`
	PreEscalationDiagnostics *Diagnostics         `json:"pre_escalation_diagnostics,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
}

// ReinvestigationRequest is sent when a cached server runbook's
// execution_count reaches the configured reinvestigation threshold: the
// server may reply with a replacement runbook, mark the runbook
// resolved, order a diagnostic, or add it to the ignore list.
type ReinvestigationRequest struct {
	TenantID       string    `json:"tenant_id"`
	DeviceID       string    `json:"device_id"`
	RunbookID      string    `json:"runbook_id"`
	ExecutionCount int       `json:"execution_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// ipPattern, userPathPattern and credentialPattern are the redaction
// rules applied to symptom/target strings before they leave the
// device: IP addresses, user profile paths, and credential-shaped
// strings (key=value pairs whose key looks secret-bearing).
var (
	ipPattern         = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	userPathPattern   = regexp.MustCompile(`(?i)(C:\\Users\\|/home/|/Users/)[^\\/\s]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)=\S+`)
)

// Sanitize redacts IP addresses, user paths, and credential-shaped
// strings from a symptom or target string before it is attached to an
// escalation payload.
func Sanitize(s string) string {
	s = ipPattern.ReplaceAllString(s, "[REDACTED-IP]")
	s = userPathPattern.ReplaceAllString(s, "$1[REDACTED-USER]")
	s = credentialPattern.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}

// SanitizeAll applies Sanitize to every element of a string slice.
func SanitizeAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Sanitize(s)
	}
	return out
}
