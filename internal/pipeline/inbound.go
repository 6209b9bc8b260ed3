package pipeline

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/decision"
	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/pending"
	"github.com/octoreflex/remediation-agent/internal/queue"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/ticket"
	"github.com/octoreflex/remediation-agent/internal/transport"
)

// serverDecisionBody is the inbound shape for a "decision" message: the
// server's reply to an escalation, naming the signature it concerns and
// the reply classification plus any data the reply classification needs.
type serverDecisionBody struct {
	SignatureID   string            `json:"signature_id"`
	Reply         string            `json:"reply"`
	RunbookID     string            `json:"runbook_id,omitempty"`
	ApprovalToken string            `json:"approval_token,omitempty"`
	Message       string            `json:"message,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// executePlaybookBody is the inbound shape for an "execute_playbook"
// message: a direct server instruction to run a named runbook, not
// gated behind a prior escalation reply (e.g. a proactive action). The
// risk class of the named runbook decides whether this is treated as
// an execute_A or execute_B reply internally.
type executePlaybookBody struct {
	SignatureID   string            `json:"signature_id,omitempty"`
	RunbookID     string            `json:"runbook_id"`
	ApprovalToken string            `json:"approval_token,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

type pendingActionBody struct {
	SignatureID string `json:"signature_id"`
}

// HandleInbound is the transport.InboundHandler: it verifies the
// message's HMAC signature (if one is required), decodes the payload,
// and dispatches by msgType.
func (d *Domain) HandleInbound(msgType string, body json.RawMessage, rawSignature string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := escalation.VerifyInbound(d.escCfg.HMACSecret, escalation.InboundMessage{Type: msgType, Body: body, Signature: rawSignature}); err != nil {
		d.log.Warn("pipeline: rejected inbound message", zap.String("type", msgType), zap.Error(err))
		return
	}

	now := time.Now()

	switch msgType {
	case "decision":
		var dec serverDecisionBody
		if err := transport.DecodeInboundPayload(body, &dec); err != nil {
			d.log.Warn("pipeline: malformed decision message", zap.Error(err))
			return
		}
		d.applyServerDecisionLocked(dec, now)

	case "execute_pending_action":
		var req pendingActionBody
		if err := transport.DecodeInboundPayload(body, &req); err != nil {
			d.log.Warn("pipeline: malformed execute_pending_action message", zap.Error(err))
			return
		}
		entry, ok := d.pendingStore.Get(req.SignatureID)
		if !ok {
			return
		}
		d.applyServerDecisionLocked(serverDecisionBody{
			SignatureID: req.SignatureID,
			Reply:       string(decision.ReplyExecuteA),
			RunbookID:   entry.MatchedRunbook,
		}, now)

	case "cancel_pending_action":
		var req pendingActionBody
		if err := transport.DecodeInboundPayload(body, &req); err != nil {
			d.log.Warn("pipeline: malformed cancel_pending_action message", zap.Error(err))
			return
		}
		d.cancelPendingActionLocked(req.SignatureID, now)

	case "key_rotation":
		var rot escalation.KeyRotation
		if err := transport.DecodeInboundPayload(body, &rot); err != nil {
			d.log.Warn("pipeline: malformed key_rotation message", zap.Error(err))
			return
		}
		d.escCfg.HMACSecret = rot.NewSecret
		d.log.Info("pipeline: HMAC secret rotated")

	case "execute_playbook":
		var req executePlaybookBody
		if err := transport.DecodeInboundPayload(body, &req); err != nil {
			d.log.Warn("pipeline: malformed execute_playbook message", zap.Error(err))
			return
		}
		reply := decision.ReplyExecuteB
		if rb, ok := d.runbooks.ByID(req.RunbookID); ok && rb.RiskClass == runbook.ClassA {
			reply = decision.ReplyExecuteA
		}
		d.applyServerDecisionLocked(serverDecisionBody{
			SignatureID:   req.SignatureID,
			Reply:         string(reply),
			RunbookID:     req.RunbookID,
			ApprovalToken: req.ApprovalToken,
			Parameters:    req.Parameters,
		}, now)

	case "playbook":
		var rb runbook.Runbook
		if err := transport.DecodeInboundPayload(body, &rb); err != nil {
			d.log.Warn("pipeline: malformed playbook message", zap.Error(err))
			return
		}
		rb.Source = "server"
		d.runbooks.Load([]*runbook.Runbook{&rb})
		d.persistServerRunbooksLocked()

	case "reinvestigation_response":
		var resp reinvestigationResponseBody
		if err := transport.DecodeInboundPayload(body, &resp); err != nil {
			d.log.Warn("pipeline: malformed reinvestigation_response message", zap.Error(err))
			return
		}
		d.applyReinvestigationResponseLocked(resp, now)
	}
}

// applyServerDecisionLocked resolves a server reply against
// decision.ApplyReply and acts on it. Caller holds d.mu.
func (d *Domain) applyServerDecisionLocked(body serverDecisionBody, now time.Time) {
	kind := decision.ServerReplyKind(body.Reply)

	t := d.ticketForSignatureLocked(body.SignatureID)
	if t == nil {
		t = ticket.NewActionTicket(newTicketID(), body.SignatureID, now)
	}

	switch kind {
	case decision.ReplyRequestApproval, decision.ReplyCreatingTicket, decision.ReplyManualReview:
		d.pendingStore.Put(pending.Entry{
			SignatureID:    body.SignatureID,
			TicketID:       t.TicketID,
			Signature:      d.signatures[body.SignatureID],
			MatchedRunbook: body.RunbookID,
			ServerMessage:  body.Message,
			CreatedAt:      now,
		})
		t.Transition(ticket.StatusPendingReview, now)
		d.persistTicket(t)
		return

	case decision.ReplyAdvisoryOnly, decision.ReplyBlock:
		t.ResultSummary = "server reply: " + body.Reply
		d.persistTicket(t)
		return

	case decision.ReplyIgnore:
		d.addIgnoreEntry(IgnoreEntry{SignatureID: body.SignatureID, Reason: "server-directed ignore", CreatedAt: now})
		t.Transition(ticket.StatusResolved, now)
		d.persistTicket(t)
		d.pendingStore.Resolve(body.SignatureID)
		return
	}

	outcome, ok := decision.ApplyReply(kind)
	if !ok || outcome != decision.OutcomeExecuteLocal {
		return
	}

	d.pendingStore.Resolve(body.SignatureID)

	rb, found := d.runbooks.ByID(body.RunbookID)
	if !found {
		d.log.Warn("pipeline: server-authorized runbook not found locally", zap.String("runbook_id", body.RunbookID))
		t.Transition(ticket.StatusFailed, now)
		t.ResultSummary = "server-authorized runbook not found locally"
		d.persistTicket(t)
		return
	}

	parameters := body.Parameters
	if parameters == nil {
		parameters = map[string]string{}
	}

	task := &ticket.PlaybookTask{
		TaskID:         newTaskID(),
		ActionTicketID: t.TicketID,
		RunbookID:      rb.ID,
		Parameters:     parameters,
		Priority:       ticket.PriorityHigh,
		Source:         ticket.SourceServer,
		ApprovalToken:  body.ApprovalToken,
		CreatedAt:      now,
	}

	if rb.RiskClass == runbook.ClassB && task.ApprovalToken == "" {
		t.ResultSummary = "class B runbook authorized without an approval token, refused"
		d.persistTicket(t)
		return
	}

	if reason := d.queue.Enqueue(task); reason != queue.AdmitOK {
		t.Transition(ticket.StatusFailed, now)
		t.ResultSummary = "queue admission refused: " + string(reason)
		d.persistTicket(t)
		return
	}
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))

	t.PlaybookID = rb.ID
	t.Transition(ticket.StatusInProgress, now)
	d.persistTicket(t)

	d.executionContext[task.TaskID] = executionContext{
		rb:          rb,
		ticketID:    t.TicketID,
		signature:   d.signatures[body.SignatureID],
		localClassA: false,
	}
	d.wakeExecutor()
}

func (d *Domain) cancelPendingActionLocked(signatureID string, now time.Time) {
	entry, ok := d.pendingStore.Get(signatureID)
	if !ok {
		return
	}
	d.pendingStore.Resolve(signatureID)

	if t, ok := d.tickets[entry.TicketID]; ok {
		t.Transition(ticket.StatusResolved, now)
		t.ResultSummary = "pending action cancelled"
		d.persistTicket(t)
	}
}
