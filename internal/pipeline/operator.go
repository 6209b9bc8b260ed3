package pipeline

import (
	"time"

	"github.com/octoreflex/remediation-agent/internal/maintenance"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// ResetDampening implements operatorsock.Registry: clears remediation
// memory's dampening counters for a (signal_key, device) pair.
func (d *Domain) ResetDampening(signalKey, deviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mem.ResetDampening(signalKey, deviceID)
	return nil
}

// CancelPendingAction implements operatorsock.Registry: removes a
// signature from the awaiting-review set without a server reply,
// resolving its ticket.
func (d *Domain) CancelPendingAction(signatureID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelPendingActionLocked(signatureID, time.Now())
	return nil
}

// AddMaintenanceWindow declares a new maintenance window and persists
// the gate's window set. Not part of operatorsock.Registry, so no wire
// command exposes it, and nothing at startup calls it: persisted windows
// are loaded from maintenance-windows.json by loadLists.
func (d *Domain) AddMaintenanceWindow(w maintenance.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maintGate.Put(w)
	d.persistMaintenanceWindows()
}

// RemoveMaintenanceWindow cancels a maintenance window early.
func (d *Domain) RemoveMaintenanceWindow(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maintGate.Remove(id)
	d.persistMaintenanceWindows()
}

// ListTickets implements operatorsock.Registry.
func (d *Domain) ListTickets() []ticket.ActionTicket {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ticket.ActionTicket, 0, len(d.tickets))
	for _, t := range d.tickets {
		out = append(out, *t)
	}
	return out
}

// GetTicket implements operatorsock.Registry.
func (d *Domain) GetTicket(ticketID string) (ticket.ActionTicket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tickets[ticketID]
	if !ok {
		return ticket.ActionTicket{}, false
	}
	return *t, true
}
