// Package maintenance implements the Maintenance Gate (C4): operator- or
// server-declared windows during which matching signals are suppressed
// from remediation, escalation, or both.
package maintenance

import (
	"time"
)

// Scope selects which resources a Window applies to.
type Scope struct {
	// Kind is one of "all", "services", "signal_ids".
	Kind string `json:"kind"`
	// Services names the affected service resources when Kind=="services".
	Services []string `json:"services,omitempty"`
	// SignalIDs names the affected signal_keys when Kind=="signal_ids".
	SignalIDs []string `json:"signal_ids,omitempty"`
}

const (
	ScopeAll       = "all"
	ScopeServices  = "services"
	ScopeSignalIDs = "signal_ids"
)

// Window is a maintenance window: active when now falls in [Start, End).
type Window struct {
	ID                 string    `json:"id"`
	Scope              Scope     `json:"scope"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	SuppressEscalation bool      `json:"suppress_escalation"`
	SuppressRemediation bool     `json:"suppress_remediation"`
}

func (w Window) active(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

func (w Window) matches(category, resourceName, signalID string) bool {
	switch w.Scope.Kind {
	case ScopeAll:
		return true
	case ScopeServices:
		if category != "services" {
			return false
		}
		for _, s := range w.Scope.Services {
			if s == resourceName {
				return true
			}
		}
		return false
	case ScopeSignalIDs:
		for _, id := range w.Scope.SignalIDs {
			if id == signalID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Verdict is the result of a maintenance check.
type Verdict struct {
	Suppressed          bool
	SuppressEscalation  bool
	SuppressRemediation bool
	Window              *Window
}

// ExpiryCallback is invoked with a window that just expired, so the
// caller (State Tracker) can clear the state records that window matches
// to force re-evaluation.
type ExpiryCallback func(window Window)

// Gate holds the set of active maintenance windows.
type Gate struct {
	windows  map[string]Window
	onExpiry ExpiryCallback
}

// New creates a Gate. onExpiry may be nil.
func New(onExpiry ExpiryCallback) *Gate {
	return &Gate{windows: make(map[string]Window), onExpiry: onExpiry}
}

// LoadWindows replaces the gate's window set, used at startup to load
// persisted windows.
func (g *Gate) LoadWindows(windows []Window) {
	g.windows = make(map[string]Window, len(windows))
	for _, w := range windows {
		g.windows[w.ID] = w
	}
}

// Windows returns all currently held windows, for persistence.
func (g *Gate) Windows() []Window {
	out := make([]Window, 0, len(g.windows))
	for _, w := range g.windows {
		out = append(out, w)
	}
	return out
}

// Put adds or replaces a window, created via IPC or server push.
func (g *Gate) Put(w Window) {
	g.windows[w.ID] = w
}

// Remove deletes a window by ID, e.g. on explicit operator cancellation.
func (g *Gate) Remove(id string) {
	delete(g.windows, id)
}

// IsUnderMaintenance answers whether (category, resourceName, signalID)
// currently falls under an active window. Expired windows visited
// before the first match are evicted and onExpiry fires once per
// evicted window so the caller can clear matching state records.
func (g *Gate) IsUnderMaintenance(category, resourceName, signalID string, now time.Time) Verdict {
	for id, w := range g.windows {
		if !w.active(now) {
			if !now.Before(w.End) {
				delete(g.windows, id)
				if g.onExpiry != nil {
					g.onExpiry(w)
				}
			}
			continue
		}
		if w.matches(category, resourceName, signalID) {
			window := w
			return Verdict{
				Suppressed:          true,
				SuppressEscalation:  w.SuppressEscalation,
				SuppressRemediation: w.SuppressRemediation,
				Window:              &window,
			}
		}
	}
	return Verdict{}
}
