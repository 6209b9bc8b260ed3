package state

import (
	"time"

	"github.com/octoreflex/remediation-agent/internal/signal"
)

// RewriteAsFlap builds a synthetic FLAP signal to emit in place of an
// original signal whose resource is flapping: warning severity, a
// distinct resource_id so it does not collide with the original's
// state/memory records.
func RewriteAsFlap(original signal.Signal, now time.Time) signal.Signal {
	return signal.Signal{
		Category:  "flap",
		Metric:    "state_flap",
		Target:    original.Target,
		Severity:  signal.SeverityWarning,
		Message:   "resource is flapping between states",
		Timestamp: now,
		Attributes: map[string]string{
			"original_category": original.Category,
			"original_metric":   original.Metric,
			"original_resource_id": original.ResourceID(),
		},
	}.WithDefaults()
}

// EscalateSeverity builds a copy of original with severity raised one
// rank, for the persistence-escalation case (a resource stuck in a
// non-OK state beyond PersistenceEscalation).
func EscalateSeverity(original signal.Signal) signal.Signal {
	escalated := original
	escalated.Severity = original.Severity.RaiseOneRank()
	return escalated
}
