package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/maintenance"
	"github.com/octoreflex/remediation-agent/internal/profiler"
	"github.com/octoreflex/remediation-agent/internal/signal"
	"github.com/octoreflex/remediation-agent/internal/signature"
	"github.com/octoreflex/remediation-agent/internal/state"
)

// HandleSignal runs one raw observation through the full gate chain —
// maintenance, state-tracker dedup, dependency suppression, flap
// rewrite, profiler consultation, sustained-breach hysteresis — in
// that exact order, short-circuiting on the first gate that suppresses.
// A maintenance window's Suppressed verdict halts the whole chain
// regardless of whether it was declared escalation-only or
// remediation-only: a window that suppresses anything about a resource
// also suspends that resource's state tracking for the duration, so
// dedup/flap/profiler state does not drift from an operator's
// intentionally-quiesced reality. State clears on window expiry via
// the Maintenance Gate's onExpiry callback, not mid-window.
//
// A dedup-suppressed repeat is not always a dead end: once the
// resource has sat at the same non-OK severity longer than
// PersistenceEscalation, the gate instead emits one severity-raised
// copy of the signal (bypassing dependency/flap/profiler/hysteresis,
// since the elapsed duration already establishes the breach is real)
// and marks the streak so it only fires once until the next transition.
func (d *Domain) HandleSignal(raw signal.RawObservation, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sig := signal.Normalize(raw)
	d.metrics.SignalsProcessedTotal.WithLabelValues(sig.Category).Inc()

	resourceID := sig.ResourceID()

	if mv := d.maintGate.IsUnderMaintenance(sig.Category, sig.Target, sig.SignalKey(), now); mv.Suppressed {
		d.metrics.SignalsSuppressedTotal.WithLabelValues("maintenance").Inc()
		return
	}

	stateVal := stateValueFor(sig)
	ev := d.tracker.CheckState(resourceID, sig.Category, stateVal, sig.Severity, sig.Attributes, now)
	if ev == nil {
		if sig.Severity != signal.SeverityInfo && d.tracker.PersistedTooLongSeverity(resourceID, now) {
			d.tracker.MarkPersistenceEscalated(resourceID)
			d.metrics.SignalsSuppressedTotal.WithLabelValues("state_tracker").Inc()
			d.emit(state.EscalateSeverity(sig), resourceID, escalation.BaselineDeviationFlags{}, now)
			return
		}
		d.metrics.SignalsSuppressedTotal.WithLabelValues("state_tracker").Inc()
		return
	}

	if sig.Category == "services" && sig.Severity != signal.SeverityInfo {
		down := d.tracker.SuppressForDependency(resourceID, func(ancestorID string) bool {
			rec := d.tracker.Record(ancestorID)
			return rec != nil && rec.Severity != signal.SeverityInfo
		})
		if down {
			d.metrics.SignalsSuppressedTotal.WithLabelValues("dependency").Inc()
			return
		}
	}

	if d.tracker.IsFlapping(resourceID, now) {
		sig = state.RewriteAsFlap(sig, now)
		resourceID = sig.ResourceID()
	}

	var flags escalation.BaselineDeviationFlags
	ceilingBypassed := false
	if category := profilerCategoryFor(sig); category != "" {
		key := sig.ResourceID()
		d.profiler.Observe(key, sig.Value, now)

		if bypass := d.profiler.CheckCeiling(category, sig.Value); bypass != profiler.BypassNone {
			ceilingBypassed = true
			applyBypassFlag(&flags, bypass)
		} else if d.profiler.IsAnomalous(key, sig.Value, now) == profiler.VerdictWithinNormal {
			d.metrics.SignalsSuppressedTotal.WithLabelValues("profiler").Inc()
			return
		}
	}

	breaching := sig.Severity != signal.SeverityInfo
	if ceilingBypassed {
		// An absolute ceiling breach is never subject to sustained-breach
		// smoothing: it is emitted on first observation.
		d.hysteresis.Reset(resourceID)
	} else if !d.hysteresis.Evaluate(resourceID, breaching, d.sustainedBreachCycles) {
		d.metrics.SignalsSuppressedTotal.WithLabelValues("sustained_breach").Inc()
		return
	}

	d.emit(sig, resourceID, flags, now)
}

func stateValueFor(sig signal.Signal) string {
	if sig.Message != "" {
		return sig.Message
	}
	return fmt.Sprintf("%s:%.4f", sig.Metric, sig.Value)
}

func profilerCategoryFor(sig signal.Signal) string {
	switch sig.Metric {
	case "cpu_usage":
		return "cpu"
	case "memory_usage":
		return "memory"
	case "disk_free":
		return "disk_free"
	default:
		return ""
	}
}

func applyBypassFlag(flags *escalation.BaselineDeviationFlags, bypass profiler.BypassCategory) {
	switch bypass {
	case profiler.BypassCPU:
		flags.CPU = true
	case profiler.BypassMemory:
		flags.Memory = true
	case profiler.BypassDisk:
		flags.Disk = true
	}
}

// windowMatchesResource approximates maintenance.Window.matches for a
// bare resource_id (the tracker only keys records by resource_id, not
// by the original category/signal_key), used to decide which state
// records a just-expired window's onExpiry should clear. signal_ids
// scoped windows cannot be mapped back to a resource_id this way and
// are left alone — their resources re-evaluate naturally on the next
// observed signal regardless.
func windowMatchesResource(w maintenance.Window, resourceID string) bool {
	switch w.Scope.Kind {
	case maintenance.ScopeAll:
		return true
	case maintenance.ScopeServices:
		for _, s := range w.Scope.Services {
			if resourceID == "service:"+s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchStrengthFor(sig signal.Signal) float64 {
	switch sig.Severity {
	case signal.SeverityCritical:
		return 1.0
	case signal.SeverityWarning:
		return 0.6
	default:
		return 0.3
	}
}

func thresholdDistanceFor(sig signal.Signal) float64 {
	if sig.Threshold == nil || *sig.Threshold == 0 {
		return 0.5
	}
	dist := (sig.Value - *sig.Threshold) / *sig.Threshold
	if dist < 0 {
		dist = -dist
	}
	if dist > 1 {
		dist = 1
	}
	return dist
}

// isIgnored reports whether sig matches a server-declared ignore entry:
// an exact signature_id match, or a (signal_key, device_id) pattern
// match with an empty device_id meaning "every device".
func (d *Domain) isIgnored(sig signature.Signature) bool {
	for _, e := range d.ignoreList {
		if e.SignatureID == sig.SignatureID {
			return true
		}
		if e.SignalKey == sig.SignalKey && (e.DeviceID == "" || e.DeviceID == sig.DeviceID) {
			return true
		}
	}
	return false
}

func (d *Domain) isExcluded(resourceID string) bool {
	for _, e := range d.exclusionList {
		if e.ResourceID == resourceID {
			return true
		}
	}
	return false
}

// RunQuietSweep periodically clears flap state for resources that have
// stayed unchanged for a full QuietPeriod, the part of the flap
// lifecycle that a maintenance window's onExpiry clear (ClearMatching)
// does not cover: state records quiesced by a window's own expiry get
// cleared immediately, but a resource that simply stops flapping on its
// own needs this sweep to release it.
func (d *Domain) RunQuietSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			d.tracker.SweepQuiet(time.Now())
			d.mu.Unlock()
		}
	}
}
