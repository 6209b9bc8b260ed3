package runbook

import "strings"

// classCPatterns match step actions that force ClassC: registry writes,
// policy changes, firewall/security operations, account/domain
// operations, destructive Remove-*/Disable-* cmdlets, and execution
// policy changes. Matching is case-insensitive substring matching against
// the step's Action and Name, mirroring the source system's curated
// pattern-set approach (declarative data, not code — spec.md §9).
var classCPatterns = []string{
	"registry", "set-itemproperty", "reg add", "reg delete",
	"policy", "set-executionpolicy", "execution-policy", "gpupdate",
	"firewall", "netsh advfirewall",
	"new-localuser", "remove-localuser", "add-domain", "remove-domain",
	"net user", "net group", "account",
	"remove-", "disable-",
}

// classBPatterns match step actions that force ClassB (absent a ClassC
// match): network configuration, scheduled tasks, and computer
// restart/shutdown. An explicit RequiresApproval on any step also forces
// ClassB.
var classBPatterns = []string{
	"network", "netsh interface", "set-dnsclientserveraddress",
	"scheduled task", "schtasks", "register-scheduledtask",
	"restart-computer", "shutdown", "stop-computer",
}

// Classify scans a runbook's steps against the curated predicate sets and
// sets rb.RiskClass. Class C (most restrictive match) wins over Class B;
// otherwise Class A.
func Classify(rb *Runbook) RiskClass {
	requiresApproval := false
	for _, step := range rb.Steps {
		haystack := strings.ToLower(step.Action + " " + step.Name)
		if step.RequiresApproval {
			requiresApproval = true
		}
		if matchesAny(haystack, classCPatterns) {
			rb.RiskClass = ClassC
			return ClassC
		}
	}
	for _, step := range rb.Steps {
		haystack := strings.ToLower(step.Action + " " + step.Name)
		if matchesAny(haystack, classBPatterns) {
			rb.RiskClass = ClassB
			return ClassB
		}
	}
	if requiresApproval {
		rb.RiskClass = ClassB
		return ClassB
	}
	rb.RiskClass = ClassA
	return ClassA
}

func matchesAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// Thresholds holds the per-class confidence thresholds used by
// CanAutoExecute. Populated from config.DecisionConfig by the caller.
type Thresholds struct {
	ClassA float64
	ClassB float64
	ClassC float64
}

// CanAutoExecute reports whether a runbook of the given class and local
// confidence may execute without server round-trip or approval token.
// Only Class A ever auto-executes, and only at or above the Class A
// threshold (default 85).
func CanAutoExecute(class RiskClass, confidence float64, th Thresholds) bool {
	return class == ClassA && confidence >= th.ClassA
}

// RequiresApprovalToken reports whether a Class B runbook needs an
// approval token before it may execute (always true for Class B).
func RequiresApprovalToken(class RiskClass) bool {
	return class == ClassB
}

// NeverAutoExecutes reports whether a runbook's class forbids local
// automatic execution under any confidence (always true for Class C).
func NeverAutoExecutes(class RiskClass) bool {
	return class == ClassC
}
