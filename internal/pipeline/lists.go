package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/maintenance"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/store"
)

// IgnoreEntry is one server- or operator-declared instruction to ignore
// future occurrences of a signature, or every occurrence of a signal_key
// on a device (DeviceID empty means every device).
type IgnoreEntry struct {
	SignatureID string    `json:"signature_id,omitempty"`
	SignalKey   string    `json:"signal_key,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExclusionEntry marks a resource as permanently out of scope: the
// decision engine ignores its signatures, so they are neither
// remediated nor escalated.
type ExclusionEntry struct {
	ResourceID string    `json:"resource_id"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d *Domain) loadLists() error {
	var ignore []IgnoreEntry
	if err := d.fs.LoadJSON(store.FileIgnoreList, &ignore); err != nil {
		return err
	}
	d.ignoreList = ignore

	var exclusions []ExclusionEntry
	if err := d.fs.LoadJSON(store.FileExclusions, &exclusions); err != nil {
		return err
	}
	d.exclusionList = exclusions

	var windows []maintenance.Window
	if err := d.fs.LoadJSON(store.FileMaintenanceWindows, &windows); err != nil {
		return err
	}
	d.maintGate.LoadWindows(windows)
	return nil
}

// persistMaintenanceWindows re-persists the gate's current window set.
// Caller holds d.mu.
func (d *Domain) persistMaintenanceWindows() {
	if err := d.fs.SaveJSON(store.FileMaintenanceWindows, d.maintGate.Windows()); err != nil {
		d.log.Error("pipeline: maintenance window persistence failed", zap.Error(err))
	}
}

// persistServerRunbooksLocked re-persists every server-sourced runbook
// currently in the registry to server-runbooks.json, e.g. after an
// execution-count bump or a reinvestigation reply. Locally-bundled
// runbooks are never written here — they are reloaded from Builtins()
// on every startup, so persisting their transient ExecutionCount would
// be meaningless. Caller holds d.mu.
func (d *Domain) persistServerRunbooksLocked() {
	var cached []*runbook.Runbook
	for _, rb := range d.runbooks.All() {
		if rb.Source == "server" {
			cached = append(cached, rb)
		}
	}
	if err := d.fs.SaveJSON(store.FileServerRunbooks, cached); err != nil {
		d.log.Error("pipeline: server runbook cache persistence failed", zap.Error(err))
	}
}

// addIgnoreEntry appends e and persists the ignore list. Caller holds d.mu.
func (d *Domain) addIgnoreEntry(e IgnoreEntry) {
	d.ignoreList = append(d.ignoreList, e)
	if err := d.fs.SaveJSON(store.FileIgnoreList, d.ignoreList); err != nil {
		d.log.Error("pipeline: ignore list persistence failed", zap.Error(err))
	}
}
