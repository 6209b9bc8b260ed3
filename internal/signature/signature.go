// Package signature implements the Signature Generator (C5): turns a
// normalized Signal into a deterministic Signature, keyed so that an
// identical observation from an identical device always yields the
// same signature_id, the same way the teacher's storage layer derives
// a stable binary key via sha256 of its identifying fields.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/octoreflex/remediation-agent/internal/signal"
)

// Signature is the decision engine's unit of work: one symptom observed
// on one device, with a confidence score the decision engine and queue
// admission control consult.
type Signature struct {
	SignatureID string            `json:"signature_id"`
	DeviceID    string            `json:"device_id"`
	ResourceID  string            `json:"resource_id"`
	SignalKey   string            `json:"signal_key"`
	Category    string            `json:"category"`
	Severity    signal.Severity   `json:"severity"`
	Confidence  float64           `json:"confidence"`
	Symptoms    []string          `json:"symptoms"`
	Targets     []string          `json:"targets"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// id computes sha256(device_id || "\x00" || resource_id || "\x00" ||
// signal_key) hex-encoded: the same input always yields the same
// signature_id.
func id(deviceID string, sig signal.Signal) string {
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(sig.ResourceID()))
	h.Write([]byte{0})
	h.Write([]byte(sig.SignalKey()))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// RuleMatch describes how strongly a rule-based detector matched, used
// to seed initial confidence before the C7 confidence_modifier is
// applied.
type RuleMatch struct {
	// MatchStrength is in [0, 1]: how strong the rule/threshold match is.
	MatchStrength float64
	// ThresholdDistance is how far the observed value is past its
	// breach threshold, normalized to [0, 1] by the caller.
	ThresholdDistance float64
}

// baseConfidence converts a RuleMatch into an initial 0-100 confidence
// score, before the resource confidence_modifier is applied.
func baseConfidence(rm RuleMatch) float64 {
	score := 50 + 40*rm.MatchStrength + 10*rm.ThresholdDistance
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Generate builds a Signature from a normalized signal. confidenceModifier
// is the per-resource modifier from Remediation Memory (C7), multiplied
// into the rule-derived base confidence.
func Generate(deviceID string, sig signal.Signal, rm RuleMatch, confidenceModifier float64) Signature {
	confidence := baseConfidence(rm) * confidenceModifier
	if confidence > 100 {
		confidence = 100
	}

	symptoms := []string{sig.Message}
	if sig.Message == "" {
		symptoms = []string{fmt.Sprintf("%s %s breach on %s", sig.Category, sig.Metric, sig.Target)}
	}

	return Signature{
		SignatureID: id(deviceID, sig),
		DeviceID:    deviceID,
		ResourceID:  sig.ResourceID(),
		SignalKey:   sig.SignalKey(),
		Category:    sig.Category,
		Severity:    sig.Severity,
		Confidence:  confidence,
		Symptoms:    symptoms,
		Targets:     []string{sig.Target},
		Attributes:  sig.Attributes,
	}
}
