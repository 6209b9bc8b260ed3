package pipeline

import (
	"testing"
	"time"

	"github.com/octoreflex/remediation-agent/internal/config"
	"github.com/octoreflex/remediation-agent/internal/maintenance"
	"github.com/octoreflex/remediation-agent/internal/signal"
	"github.com/octoreflex/remediation-agent/internal/signature"
)

func serviceDownObservation(target string) signal.RawObservation {
	return signal.RawObservation{
		Category: "services",
		Metric:   "service_status",
		Target:   target,
		Severity: signal.SeverityCritical,
		Message:  "service " + target + " stopped unexpectedly",
	}
}

func TestHandleSignal_MaintenanceWindowSuppressesWholeChain(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	now := time.Now()

	dom.maintGate.Put(maintenance.Window{
		ID:                  "w1",
		Scope:               maintenance.Scope{Kind: maintenance.ScopeAll},
		Start:               now.Add(-time.Minute),
		End:                 now.Add(time.Hour),
		SuppressRemediation: true,
		SuppressEscalation:  true,
	})

	dom.HandleSignal(serviceDownObservation("Spooler"), now)

	if len(dom.tickets) != 0 {
		t.Errorf("expected no ticket opened under an active maintenance window, got %d", len(dom.tickets))
	}
}

func TestHandleSignal_StateTrackerDedupSuppressesRepeat(t *testing.T) {
	dom, _ := newTestDomain(t, func(c *config.Config) { c.Signal.SustainedBreachCycles = 1 })
	now := time.Now()

	obs := serviceDownObservation("Spooler")
	dom.HandleSignal(obs, now)
	firstCount := len(dom.tickets)
	if firstCount == 0 {
		t.Fatal("expected the first observation to open a ticket")
	}

	// Identical repeat: the state tracker sees no change and suppresses
	// before the signal ever reaches hysteresis or emit.
	dom.HandleSignal(obs, now.Add(time.Second))
	if len(dom.tickets) != firstCount {
		t.Errorf("expected an identical repeat to be deduped, ticket count changed from %d to %d", firstCount, len(dom.tickets))
	}
}

func TestHandleSignal_DependencySuppressesDownstreamService(t *testing.T) {
	dom, _ := newTestDomain(t, func(c *config.Config) { c.Signal.SustainedBreachCycles = 1 })
	now := time.Now()

	dom.HandleSignal(serviceDownObservation("DependencyService"), now)
	afterAncestor := len(dom.tickets)

	dom.tracker.Dependencies().SetDependencies("service:DependentService", []string{"service:DependencyService"})

	dom.HandleSignal(serviceDownObservation("DependentService"), now.Add(time.Second))
	if len(dom.tickets) != afterAncestor {
		t.Errorf("expected dependent service signal to be suppressed, ticket count changed from %d to %d", afterAncestor, len(dom.tickets))
	}
}

func TestHandleSignal_SustainedBreachHysteresis(t *testing.T) {
	dom, _ := newTestDomain(t, nil) // default SustainedBreachCycles = 3

	now := time.Now()
	diskObservation := func(freePercent float64) signal.RawObservation {
		return signal.RawObservation{
			Category: "storage",
			Metric:   "disk_free",
			Target:   "C",
			Severity: signal.SeverityWarning,
			Value:    freePercent,
		}
	}

	// Three distinct, slightly different readings: each passes the state
	// tracker dedup gate (a different stateVal each time), and the
	// absolute ceiling (default floor 3.0) never bypasses since every
	// reading stays well above it.
	dom.HandleSignal(diskObservation(12.0), now)
	dom.HandleSignal(diskObservation(11.0), now.Add(time.Minute))
	if len(dom.tickets) != 0 {
		t.Fatalf("expected no emission before the sustained-breach cycle count is reached, got %d tickets", len(dom.tickets))
	}

	dom.HandleSignal(diskObservation(10.0), now.Add(2*time.Minute))
	if len(dom.tickets) == 0 {
		t.Error("expected the third consecutive breaching cycle to emit and open a ticket")
	}
}

func TestHandleSignal_PersistenceEscalatesDedupedRepeat(t *testing.T) {
	dom, _ := newTestDomain(t, func(c *config.Config) {
		c.Signal.SustainedBreachCycles = 1
		c.State.PersistenceEscalation = 10 * time.Minute
	})
	now := time.Now()

	obs := serviceDownObservation("Spooler")
	dom.HandleSignal(obs, now)
	firstCount := len(dom.tickets)
	if firstCount == 0 {
		t.Fatal("expected the first observation to open a ticket")
	}

	// A deduped repeat before the persistence threshold stays suppressed.
	dom.HandleSignal(obs, now.Add(time.Minute))
	if len(dom.tickets) != firstCount {
		t.Fatalf("expected early repeat to stay deduped, ticket count changed from %d to %d", firstCount, len(dom.tickets))
	}

	// Past the threshold, the deduped repeat is emitted as an escalated
	// (severity-raised) copy instead of staying suppressed.
	dom.HandleSignal(obs, now.Add(11*time.Minute))
	if len(dom.tickets) <= firstCount {
		t.Fatal("expected a persistence-escalated signal to open a new ticket")
	}
	escalatedCount := len(dom.tickets)

	// It fires at most once per streak: a further repeat at the same
	// severity stays suppressed until the next real transition.
	dom.HandleSignal(obs, now.Add(12*time.Minute))
	if len(dom.tickets) != escalatedCount {
		t.Errorf("expected persistence escalation to fire once per streak, ticket count changed from %d to %d", escalatedCount, len(dom.tickets))
	}
}

func TestIsIgnored_MatchesSignatureIDOrSignalKeyDevicePattern(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	dom.ignoreList = []IgnoreEntry{
		{SignatureID: "sig-1"},
		{SignalKey: "services-service_status", DeviceID: ""},
	}

	if !dom.isIgnored(signature.Signature{SignatureID: "sig-1"}) {
		t.Error("expected an exact signature_id match to be ignored")
	}
	if !dom.isIgnored(signature.Signature{SignatureID: "other", SignalKey: "services-service_status", DeviceID: "any-device"}) {
		t.Error("expected an empty-device_id ignore entry to match every device")
	}
	if dom.isIgnored(signature.Signature{SignatureID: "unrelated", SignalKey: "storage-disk_free"}) {
		t.Error("did not expect an unrelated signature to be ignored")
	}
}

func TestIsExcluded(t *testing.T) {
	dom, _ := newTestDomain(t, nil)
	dom.exclusionList = []ExclusionEntry{{ResourceID: "service:Spooler"}}

	if !dom.isExcluded("service:Spooler") {
		t.Error("expected service:Spooler to be excluded")
	}
	if dom.isExcluded("service:Other") {
		t.Error("did not expect service:Other to be excluded")
	}
}
