// Package decision implements the Decision Engine (C8): combines a
// fresh Signature, an optional matched Runbook, and Remediation Memory
// state into exactly one of execute-local, escalate, await-review, or
// ignore.
package decision

import (
	"github.com/octoreflex/remediation-agent/internal/memory"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/signature"
)

// Outcome is the decision engine's output kind.
type Outcome string

const (
	OutcomeExecuteLocal Outcome = "execute-local"
	OutcomeEscalate      Outcome = "escalate"
	OutcomeAwaitReview   Outcome = "await-review"
	OutcomeIgnore        Outcome = "ignore"
)

// Decision is the full result of one evaluation.
type Decision struct {
	Outcome            Outcome
	Signature          signature.Signature
	MatchedRunbook     *runbook.Runbook
	CachedPlaybookID    string
	MemoryDecision     memory.Decision
}

// Input bundles everything the decision engine needs for one
// evaluation.
type Input struct {
	Signature      signature.Signature
	MatchedRunbook *runbook.Runbook
	InExclusionList bool
	Thresholds     runbook.Thresholds
	Memory         *memory.Memory
	ResourceName   string
}

// Evaluate runs the precondition table from spec §4.8, in order:
// ignore gates first, then the cached-solution/class-A auto-execute
// path, then runbook-matched-but-not-auto-executable, then the
// no-runbook-matched escalate fallback.
func Evaluate(in Input) Decision {
	if in.InExclusionList {
		return Decision{Outcome: OutcomeIgnore, Signature: in.Signature}
	}

	if cached, ok := in.Memory.FindCachedSolution(in.Signature.SignalKey, in.Signature.DeviceID); ok {
		return Decision{Outcome: OutcomeExecuteLocal, Signature: in.Signature, CachedPlaybookID: cached}
	}

	if in.MatchedRunbook != nil {
		memDecision := in.Memory.ShouldAttemptRemediation(in.Signature.SignalKey, in.Signature.DeviceID, in.MatchedRunbook.ID, in.ResourceName)

		canAuto := runbook.CanAutoExecute(in.MatchedRunbook.RiskClass, in.Signature.Confidence, in.Thresholds)
		if canAuto && memDecision.Allowed {
			return Decision{
				Outcome:        OutcomeExecuteLocal,
				Signature:      in.Signature,
				MatchedRunbook: in.MatchedRunbook,
				MemoryDecision: memDecision,
			}
		}
	}

	return Decision{Outcome: OutcomeEscalate, Signature: in.Signature, MatchedRunbook: in.MatchedRunbook}
}

// ServerReplyKind names the classification a server reply to an
// escalation may carry, driving the state transitions in spec §4.8.
type ServerReplyKind string

const (
	ReplyExecuteA         ServerReplyKind = "execute_A"
	ReplyExecuteB         ServerReplyKind = "execute_B"
	ReplyRequestApproval  ServerReplyKind = "request_approval"
	ReplyAdvisoryOnly     ServerReplyKind = "advisory_only"
	ReplyBlock            ServerReplyKind = "block"
	ReplyIgnore           ServerReplyKind = "ignore"
	ReplyCreatingTicket   ServerReplyKind = "creating_ticket_for_review"
	ReplyManualReview     ServerReplyKind = "manual_review"
)

// ApplyReply maps a server reply kind to the resulting Outcome, per the
// "state transitions on reply" table in spec §4.8. Replies that merely
// record state without execution (request_approval, advisory_only,
// block) do not map to any of the four primary outcomes and are
// reported as such via the ok return.
func ApplyReply(kind ServerReplyKind) (Outcome, bool) {
	switch kind {
	case ReplyExecuteA, ReplyExecuteB:
		return OutcomeExecuteLocal, true
	case ReplyCreatingTicket, ReplyManualReview:
		return OutcomeAwaitReview, true
	case ReplyIgnore:
		return OutcomeIgnore, true
	default:
		return "", false
	}
}
