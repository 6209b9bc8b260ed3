package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/runbook"
)

// maybeRequestReinvestigationLocked bumps a server-sourced runbook's
// execution_count after a successful run and, once it reaches the
// configured threshold, sends a reinvestigation_request and resets the
// counter so the next threshold crossing fires its own request rather
// than one per subsequent execution. Caller holds d.mu.
func (d *Domain) maybeRequestReinvestigationLocked(rb *runbook.Runbook, now time.Time) {
	if rb.Source != "server" {
		return
	}
	rb.ExecutionCount++
	d.persistServerRunbooksLocked()

	if rb.ExecutionCount < d.reinvestigationExecutionCount {
		return
	}

	req := escalation.ReinvestigationRequest{
		TenantID:       d.tenantID,
		DeviceID:       d.deviceID,
		RunbookID:      rb.ID,
		ExecutionCount: rb.ExecutionCount,
		CreatedAt:      now,
	}
	if err := d.transport.Send("reinvestigation_request", req); err != nil {
		d.log.Warn("pipeline: reinvestigation_request send failed", zap.String("runbook_id", rb.ID), zap.Error(err))
	}
	rb.ExecutionCount = 0
	d.persistServerRunbooksLocked()
}

// reinvestigationResponseBody is the inbound shape for a
// "reinvestigation_response" message: the server's reply to a
// reinvestigation_request, naming the runbook it concerns and the
// action to take.
type reinvestigationResponseBody struct {
	RunbookID          string           `json:"runbook_id"`
	Action             string           `json:"action"` // replace, resolved, diagnostic, ignore
	ReplacementRunbook *runbook.Runbook `json:"replacement_runbook,omitempty"`
	SignalKey          string           `json:"signal_key,omitempty"`
	DeviceID           string           `json:"device_id,omitempty"`
}

// applyReinvestigationResponseLocked acts on a reinvestigation reply.
// Caller holds d.mu.
func (d *Domain) applyReinvestigationResponseLocked(resp reinvestigationResponseBody, now time.Time) {
	switch resp.Action {
	case "replace":
		if resp.ReplacementRunbook == nil {
			d.log.Warn("pipeline: reinvestigation replace reply missing replacement runbook", zap.String("runbook_id", resp.RunbookID))
			return
		}
		resp.ReplacementRunbook.Source = "server"
		resp.ReplacementRunbook.ExecutionCount = 0
		d.runbooks.Load([]*runbook.Runbook{resp.ReplacementRunbook})

	case "resolved", "diagnostic":
		if rb, ok := d.runbooks.ByID(resp.RunbookID); ok {
			rb.ExecutionCount = 0
		}

	case "ignore":
		d.addIgnoreEntry(IgnoreEntry{
			SignalKey: resp.SignalKey,
			DeviceID:  resp.DeviceID,
			Reason:    "server-directed ignore from reinvestigation",
			CreatedAt: now,
		})
		if rb, ok := d.runbooks.ByID(resp.RunbookID); ok {
			rb.ExecutionCount = 0
		}

	default:
		d.log.Warn("pipeline: unrecognized reinvestigation_response action", zap.String("action", resp.Action))
		return
	}

	d.persistServerRunbooksLocked()
}
