package memory

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/store"
)

// Config holds the bands and floors used by shouldAttemptRemediation.
type Config struct {
	MinAttempts                    int
	DampenAfterConsecutiveFailures int
	ProblematicSuccessRate         float64
	CachedSolutionSignalSuccessRate   float64
	CachedSolutionPlaybookSuccessRate float64
	AttemptRetentionDays           int
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		MinAttempts:                       5,
		DampenAfterConsecutiveFailures:    5,
		ProblematicSuccessRate:            0.30,
		CachedSolutionSignalSuccessRate:   0.70,
		CachedSolutionPlaybookSuccessRate: 0.50,
		AttemptRetentionDays:              90,
	}
}

// Reason explains why shouldAttemptRemediation refused.
type Reason string

const (
	ReasonResourceDampened Reason = "resource_dampened"
	ReasonSignalDampened   Reason = "signal_dampened"
	ReasonPlaybookProblematic Reason = "playbook_problematic"
	ReasonDeviceSensitive  Reason = "device_sensitive"
)

// Decision is the result of shouldAttemptRemediation.
type Decision struct {
	Allowed            bool
	Reason             Reason
	ConfidenceModifier float64
}

// Memory is the C7 Remediation Memory store: the four stat tables plus
// the append-only attempt log, persisted as a single JSON document
// after every write.
type Memory struct {
	cfg   Config
	doc   *Document
	fs    *store.FileStore
	log   *zap.Logger
}

// New loads Memory from disk (if present) or starts empty.
func New(cfg Config, fs *store.FileStore, log *zap.Logger) (*Memory, error) {
	doc := newDocument()
	if err := fs.LoadJSON(store.FileRemediationMemory, doc); err != nil {
		return nil, err
	}
	if doc.Playbooks == nil {
		doc.Playbooks = make(map[string]PlaybookStats)
	}
	if doc.Signals == nil {
		doc.Signals = make(map[string]SignalStats)
	}
	if doc.Resources == nil {
		doc.Resources = make(map[string]ResourceStats)
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]DeviceSensitivity)
	}
	return &Memory{cfg: cfg, doc: doc, fs: fs, log: log}, nil
}

// RecordAttempt updates all four stat tables, appends to the attempt
// log, prunes attempts older than AttemptRetentionDays, then persists.
func (m *Memory) RecordAttempt(playbook, signalKey, device, resourceName string, result Result, duration time.Duration, attemptErr string, now time.Time) {
	success := result == ResultSuccess

	ps := m.doc.Playbooks[playbook]
	ps.Total++
	if success {
		ps.Success++
	} else {
		ps.Failure++
	}
	m.doc.Playbooks[playbook] = ps

	sKey := signalKeyFor(device, signalKey)
	ss := m.doc.Signals[sKey]
	ss.Total++
	if success {
		ss.Success++
		ss.ConsecutiveFailures = 0
		ss.ConsecutiveSuccesses++
	} else {
		ss.Failure++
		ss.ConsecutiveFailures++
		ss.ConsecutiveSuccesses = 0
	}
	m.doc.Signals[sKey] = ss

	if resourceName != "" {
		rKey := resourceKeyFor(signalKey, resourceName)
		rs := m.doc.Resources[rKey]
		rs.Total++
		if success {
			rs.Success++
			rs.ConsecutiveFailures = 0
		} else {
			rs.Failure++
			rs.ConsecutiveFailures++
		}
		m.doc.Resources[rKey] = rs
	}

	dev := m.doc.Devices[device]
	dev.Total++
	if success {
		dev.Success++
	}
	if dev.SensitiveSignals == nil {
		dev.SensitiveSignals = make(map[string]int)
	}
	if dev.ProblemCategories == nil {
		dev.ProblemCategories = make(map[string]int)
	}
	if !success {
		dev.SensitiveSignals[signalKey]++
	}
	m.doc.Devices[device] = dev

	m.doc.Attempts = append(m.doc.Attempts, Attempt{
		Playbook:     playbook,
		SignalKey:    signalKey,
		Device:       device,
		ResourceName: resourceName,
		Result:       result,
		Duration:     duration,
		Error:        attemptErr,
		Timestamp:    now,
	})
	m.pruneAttempts(now)

	if err := m.save(); err != nil {
		m.log.Error("remediation memory: save failed", zap.Error(err))
	}
}

func (m *Memory) pruneAttempts(now time.Time) {
	cutoff := now.AddDate(0, 0, -m.cfg.AttemptRetentionDays)
	kept := m.doc.Attempts[:0]
	for _, a := range m.doc.Attempts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.doc.Attempts = kept
}

func (m *Memory) save() error {
	return m.fs.SaveJSON(store.FileRemediationMemory, m.doc)
}

// ShouldAttemptRemediation runs the four-stage check in order: resource
// dampening, signal dampening, playbook low-success, device
// sensitivity. The confidence modifier is always the resource band,
// regardless of which check (if any) refused.
func (m *Memory) ShouldAttemptRemediation(signalKey, device, playbook, resourceName string) Decision {
	var rs ResourceStats
	if resourceName != "" {
		rs = m.doc.Resources[resourceKeyFor(signalKey, resourceName)]
	}
	modifier := rs.ConfidenceModifier()

	if resourceName != "" && rs.Total >= m.cfg.MinAttempts && rs.ConsecutiveFailures >= m.cfg.DampenAfterConsecutiveFailures {
		return Decision{Allowed: false, Reason: ReasonResourceDampened, ConfidenceModifier: modifier}
	}

	ss := m.doc.Signals[signalKeyFor(device, signalKey)]
	if ss.Dampened(m.cfg.MinAttempts, m.cfg.DampenAfterConsecutiveFailures) {
		return Decision{Allowed: false, Reason: ReasonSignalDampened, ConfidenceModifier: modifier}
	}

	ps := m.doc.Playbooks[playbook]
	if ps.Total >= m.cfg.MinAttempts && ps.successRate() < m.cfg.ProblematicSuccessRate {
		return Decision{Allowed: false, Reason: ReasonPlaybookProblematic, ConfidenceModifier: modifier}
	}

	dev := m.doc.Devices[device]
	if dev.Sensitive(m.cfg.MinAttempts, 1.0-m.cfg.ProblematicSuccessRate) {
		return Decision{Allowed: false, Reason: ReasonDeviceSensitive, ConfidenceModifier: modifier}
	}

	return Decision{Allowed: true, ConfidenceModifier: modifier}
}

// FindCachedSolution returns the playbook most recently run successfully
// for (device, signal_key), if a cached solution exists: consecutive
// successes >= 1, signal success_rate >= CachedSolutionSignalSuccessRate,
// and that playbook's own success_rate >= CachedSolutionPlaybookSuccessRate.
func (m *Memory) FindCachedSolution(signalKey, device string) (string, bool) {
	ss := m.doc.Signals[signalKeyFor(device, signalKey)]
	if ss.ConsecutiveSuccesses < 1 || ss.successRate() < m.cfg.CachedSolutionSignalSuccessRate {
		return "", false
	}

	for i := len(m.doc.Attempts) - 1; i >= 0; i-- {
		a := m.doc.Attempts[i]
		if a.Device != device || a.SignalKey != signalKey || a.Result != ResultSuccess {
			continue
		}
		ps := m.doc.Playbooks[a.Playbook]
		if ps.successRate() >= m.cfg.CachedSolutionPlaybookSuccessRate {
			return a.Playbook, true
		}
	}
	return "", false
}

// ResetDampening clears dampened and consecutive_failures for one
// (signal_key, device) pair, for operator override. Resource-level
// consecutive failures recorded under signal_key are cleared too, since
// resource stats are not kept per device.
func (m *Memory) ResetDampening(signalKey, device string) {
	key := signalKeyFor(device, signalKey)
	ss := m.doc.Signals[key]
	ss.ConsecutiveFailures = 0
	m.doc.Signals[key] = ss
	prefix := resourceKeyFor(signalKey, "")
	for rKey, rs := range m.doc.Resources {
		if strings.HasPrefix(rKey, prefix) {
			rs.ConsecutiveFailures = 0
			m.doc.Resources[rKey] = rs
		}
	}
	if err := m.save(); err != nil {
		m.log.Error("remediation memory: save failed after reset", zap.Error(err))
	}
}

// ResourceStatsFor exposes a resource's stats (e.g. for diagnostics/UI).
func (m *Memory) ResourceStatsFor(signalKey, resourceName string) ResourceStats {
	return m.doc.Resources[resourceKeyFor(signalKey, resourceName)]
}
