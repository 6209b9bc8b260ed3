// Package signal implements the Signal Normalizer (C1): it turns raw
// telemetry observations into a uniform Signal value with a deterministic
// resource_id and signal_key, and buffers them into the pipeline domain
// with bounded, drop-counted backpressure.
package signal

import "time"

// Severity is the normalized severity of a Signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity's ordinal position, used by the state tracker
// to raise severity "one rank" on persistence-escalation.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// RaiseOneRank returns the next severity up, capped at critical.
func (s Severity) RaiseOneRank() Severity {
	switch s {
	case SeverityInfo:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// Signal is a normalized observation of one metric or event at one point
// in time. Immutable once created; discarded after the pipeline cycle
// terminates or it is forwarded as telemetry.
type Signal struct {
	// Category classifies the observation's source (services, storage,
	// metric, process, event).
	Category string `json:"category"`

	// Metric names the specific measurement within the category
	// (service_status, disk_free, cpu_usage, ...).
	Metric string `json:"metric"`

	// Target names the concrete instance the observation is about
	// (a service name, a drive letter, a process name, an event id).
	Target string `json:"target"`

	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold *float64  `json:"threshold,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Attributes carries free-form context: process name, drive letter,
	// service name, component class, event source/id, etc.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ResourceID returns the stable resource identifier this Signal concerns,
// e.g. "service:Spooler", "disk:C", "metric:cpu:usage", "process:notepad",
// "event:Application:7036". Deterministic given identical inputs.
func (s Signal) ResourceID() string {
	switch s.Category {
	case "services":
		return "service:" + s.Target
	case "storage":
		return "disk:" + s.Target
	case "process":
		return "process:" + s.Target
	case "event":
		source := s.Attributes["source"]
		id := s.Attributes["event_id"]
		if id == "" {
			id = s.Target
		}
		return "event:" + source + ":" + id
	case "metric":
		if s.Target == "" {
			return "metric:" + s.Metric
		}
		return "metric:" + s.Metric + ":" + s.Target
	default:
		if s.Target == "" {
			return s.Category + ":" + s.Metric
		}
		return s.Category + ":" + s.Metric + ":" + s.Target
	}
}

// SignalKey returns the category+metric identifier used to key
// remediation-memory and dampening lookups (e.g. "services-service_status").
// Deliberately excludes Target: memory is accounted per (signal_key, device),
// with per-resource accounting layered on top (C7 ResourceStats).
func (s Signal) SignalKey() string {
	return s.Category + "-" + s.Metric
}

// WithDefaults fills empty optional fields rather than leaving them
// null-bearing; collection failures must never surface as a panic here.
func (s Signal) WithDefaults() Signal {
	if s.Attributes == nil {
		s.Attributes = map[string]string{}
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	if s.Severity == "" {
		s.Severity = SeverityInfo
	}
	return s
}
