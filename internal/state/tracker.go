// Package state implements the State Tracker (C3): per-resource_id state
// deduplication, flap detection, severity escalation by persistence, and
// service-dependency-aware suppression.
package state

import (
	"time"

	"github.com/octoreflex/remediation-agent/internal/signal"
)

// Record is the last-observed state for one resource_id.
type Record struct {
	ResourceID string
	Type       string
	State      string
	Severity   signal.Severity
	Meta       map[string]string

	FirstSeen time.Time
	LastChange time.Time

	// TransitionHistory holds the timestamps of the most recent state
	// transitions, used by flap detection's sliding window.
	TransitionHistory []time.Time
	TransitionCount   int

	// flapping marks a resource currently rewritten to a synthetic FLAP
	// signal; cleared after QuietPeriod of no further transitions.
	flapping bool

	// persistenceEscalated marks that a persistence-escalation signal
	// has already fired for the resource's current non-OK streak;
	// cleared on the next recorded transition.
	persistenceEscalated bool
}

// ChangeEvent is returned by CheckState when the observed tuple differs
// from the stored one.
type ChangeEvent struct {
	ResourceID   string
	PreviousState string
	NewState     string
	Severity     signal.Severity
	Meta         map[string]string
	Timestamp    time.Time
}

// Config controls flap-detection and persistence-escalation behavior.
type Config struct {
	// FlapWindow is the sliding window within which transitions are
	// counted for flap detection.
	FlapWindow time.Duration
	// FlapThreshold is the number of transitions within FlapWindow that
	// triggers a flap rewrite.
	FlapThreshold int
	// QuietPeriod is how long a resource must stay unchanged after
	// flapping before its record is cleared.
	QuietPeriod time.Duration
	// PersistenceEscalation is how long a resource may remain in a
	// non-OK state before it is re-emitted with severity raised one
	// rank.
	PersistenceEscalation time.Duration
	// DependencyRefreshInterval controls how often the caller should
	// refresh the dependency DAG; Tracker does not own a timer itself.
	DependencyRefreshInterval time.Duration
}

// DefaultConfig returns reasonable flap/persistence defaults.
func DefaultConfig() Config {
	return Config{
		FlapWindow:                5 * time.Minute,
		FlapThreshold:             5,
		QuietPeriod:               10 * time.Minute,
		PersistenceEscalation:     30 * time.Minute,
		DependencyRefreshInterval: 15 * time.Minute,
	}
}

// Tracker holds all resource state records and the dependency DAG. All
// mutation happens on the caller's single pipeline domain; Tracker does
// not lock internally.
type Tracker struct {
	cfg     Config
	records map[string]*Record
	deps    *DependencyGraph
}

// New creates a Tracker with the given configuration.
func New(cfg Config, deps *DependencyGraph) *Tracker {
	if deps == nil {
		deps = NewDependencyGraph()
	}
	return &Tracker{cfg: cfg, records: make(map[string]*Record), deps: deps}
}

// CheckState returns a ChangeEvent only if (state, severity) differs
// from the stored record for resourceID; otherwise nil. The stored
// record is updated either way so transition history stays accurate.
func (t *Tracker) CheckState(resourceID, resourceType, stateVal string, sev signal.Severity, meta map[string]string, now time.Time) *ChangeEvent {
	rec, ok := t.records[resourceID]
	if !ok {
		rec = &Record{ResourceID: resourceID, Type: resourceType, FirstSeen: now}
		t.records[resourceID] = rec
	}

	changed := rec.State != stateVal || rec.Severity != sev
	if !changed {
		return nil
	}

	prev := rec.State
	rec.State = stateVal
	rec.Severity = sev
	rec.Meta = meta
	rec.LastChange = now
	rec.persistenceEscalated = false
	rec.TransitionHistory = append(rec.TransitionHistory, now)
	rec.TransitionCount++
	rec.TransitionHistory = pruneWindow(rec.TransitionHistory, now, t.cfg.FlapWindow)

	return &ChangeEvent{
		ResourceID:    resourceID,
		PreviousState: prev,
		NewState:      stateVal,
		Severity:      sev,
		Meta:          meta,
		Timestamp:     now,
	}
}

func pruneWindow(history []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(history); i++ {
		if history[i].After(cutoff) {
			break
		}
	}
	return history[i:]
}

// IsFlapping reports whether resourceID has reached FlapThreshold
// transitions within FlapWindow, as of the last CheckState call. If so,
// the caller should rewrite the current signal to a synthetic FLAP
// signal instead of emitting the original.
func (t *Tracker) IsFlapping(resourceID string, now time.Time) bool {
	rec, ok := t.records[resourceID]
	if !ok {
		return false
	}
	history := pruneWindow(rec.TransitionHistory, now, t.cfg.FlapWindow)
	rec.TransitionHistory = history
	if len(history) >= t.cfg.FlapThreshold {
		rec.flapping = true
		return true
	}
	if rec.flapping && !rec.LastChange.Before(now.Add(-t.cfg.QuietPeriod)) {
		return true
	}
	rec.flapping = false
	return false
}

// ClearIfQuiet clears a flapping record once QuietPeriod has elapsed
// since its last transition, called periodically by the caller.
func (t *Tracker) ClearIfQuiet(resourceID string, now time.Time) bool {
	rec, ok := t.records[resourceID]
	if !ok || !rec.flapping {
		return false
	}
	if now.Sub(rec.LastChange) >= t.cfg.QuietPeriod {
		delete(t.records, resourceID)
		return true
	}
	return false
}

// PersistedTooLong reports whether resourceID has remained in a non-OK
// state longer than PersistenceEscalation, meaning the caller should
// re-emit it with severity raised one rank.
func (t *Tracker) PersistedTooLong(resourceID, okState string, now time.Time) bool {
	rec, ok := t.records[resourceID]
	if !ok || rec.State == okState {
		return false
	}
	return now.Sub(rec.LastChange) >= t.cfg.PersistenceEscalation
}

// PersistedTooLongSeverity reports whether resourceID has sat at a
// non-info severity longer than PersistenceEscalation and has not
// already had a persistence-escalation emitted for the current streak.
// Unlike PersistedTooLong, which compares against a caller-supplied OK
// state string, this compares the tracked Severity directly — the form
// the pipeline's gate chain has on hand, since a dedup-suppressed
// repeat never changes rec.State's opaque stateVal.
func (t *Tracker) PersistedTooLongSeverity(resourceID string, now time.Time) bool {
	rec, ok := t.records[resourceID]
	if !ok || rec.Severity == signal.SeverityInfo || rec.persistenceEscalated {
		return false
	}
	return now.Sub(rec.LastChange) >= t.cfg.PersistenceEscalation
}

// MarkPersistenceEscalated records that a persistence-escalation signal
// has been emitted for resourceID's current streak, so it fires at most
// once until the next recorded transition.
func (t *Tracker) MarkPersistenceEscalated(resourceID string) {
	if rec, ok := t.records[resourceID]; ok {
		rec.persistenceEscalated = true
	}
}

// SweepQuiet calls ClearIfQuiet for every currently-flapping record,
// meant to be driven by the caller's periodic quiet-window sweep.
// Returns the number of records cleared.
func (t *Tracker) SweepQuiet(now time.Time) int {
	cleared := 0
	for id, rec := range t.records {
		if !rec.flapping {
			continue
		}
		if t.ClearIfQuiet(id, now) {
			cleared++
		}
	}
	return cleared
}

// SuppressForDependency reports whether resourceID (a service reporting
// DOWN) should be suppressed because an ancestor in the dependency DAG
// is also DOWN — only the root cause should be emitted.
func (t *Tracker) SuppressForDependency(resourceID string, isDown func(resourceID string) bool) bool {
	for _, ancestor := range t.deps.Ancestors(resourceID) {
		if isDown(ancestor) {
			return true
		}
	}
	return false
}

// Dependencies exposes the tracker's dependency graph for refresh by
// the caller's periodic task.
func (t *Tracker) Dependencies() *DependencyGraph {
	return t.deps
}

// ClearMatching clears every record whose resource_id satisfies match,
// used by the maintenance gate on window expiry to force
// re-evaluation.
func (t *Tracker) ClearMatching(match func(resourceID string) bool) int {
	cleared := 0
	for id := range t.records {
		if match(id) {
			delete(t.records, id)
			cleared++
		}
	}
	return cleared
}

// Record returns the stored record for resourceID, or nil.
func (t *Tracker) Record(resourceID string) *Record {
	return t.records[resourceID]
}
