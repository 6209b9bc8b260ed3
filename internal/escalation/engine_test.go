package escalation

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/signature"
)

func TestCheckGates_Order(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	sig := signature.Signature{SignatureID: "s1"}
	now := time.Now()

	if got := e.CheckGates(sig, true, true, now); got != GateOnIgnoreList {
		t.Errorf("CheckGates = %q, want ignore_list first", got)
	}
	if got := e.CheckGates(sig, false, true, now); got != GateAwaitingReview {
		t.Errorf("CheckGates = %q, want awaiting_review", got)
	}
}

func TestCheckGates_Cooldown(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	sig := signature.Signature{SignatureID: "s1"}
	now := time.Now()

	p := e.BuildPayload("tenant-1", sig, BaselineDeviationFlags{}, EnvironmentTags{}, nil, OutcomeRecommendPlaybook, now)
	e.Dispatch(p, SeverityWarning, true, now)

	if got := e.CheckGates(sig, false, false, now.Add(time.Minute)); got != GateCooldown {
		t.Errorf("CheckGates = %q, want cooldown within 5 minutes", got)
	}
	if got := e.CheckGates(sig, false, false, now.Add(6*time.Minute)); got != GatePassed {
		t.Errorf("CheckGates = %q, want passed after cooldown expires", got)
	}
}

func TestDispatch_ImmediateFlushForHighSeverity(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	p := Payload{SignatureID: "s1"}

	flush, enqueued := e.Dispatch(p, SeverityCritical, true, time.Now())
	if enqueued || len(flush) != 1 {
		t.Errorf("critical severity should flush immediately, got flush=%v enqueued=%v", flush, enqueued)
	}
}

func TestDispatch_BatchesNonUrgentSeverity(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	p := Payload{SignatureID: "s1"}

	flush, enqueued := e.Dispatch(p, SeverityWarning, true, time.Now())
	if !enqueued || flush != nil {
		t.Errorf("warning severity should enqueue, got flush=%v enqueued=%v", flush, enqueued)
	}
	if e.PendingBatchSize() != 1 {
		t.Errorf("PendingBatchSize = %d, want 1", e.PendingBatchSize())
	}
}

func TestDispatch_BypassesBatchWhenDisconnected(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	p := Payload{SignatureID: "s1"}

	flush, enqueued := e.Dispatch(p, SeverityWarning, false, time.Now())
	if enqueued || len(flush) != 1 {
		t.Errorf("disconnected transport should bypass batching, got flush=%v enqueued=%v", flush, enqueued)
	}
}

func TestFlushBatch_DrainsAndResets(t *testing.T) {
	e := New(DefaultConfig(), nil, zap.NewNop())
	e.Dispatch(Payload{SignatureID: "s1"}, SeverityInfo, true, time.Now())
	e.Dispatch(Payload{SignatureID: "s2"}, SeverityInfo, true, time.Now())

	batch := e.FlushBatch()
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if e.PendingBatchSize() != 0 {
		t.Errorf("batch should be empty after flush, got %d", e.PendingBatchSize())
	}
}

func TestSanitize_RedactsIPUserPathAndCredential(t *testing.T) {
	s := Sanitize("connection from 10.0.0.5, path C:\\Users\\jdoe\\app.log, token=abc123")
	if got := s; got == "" {
		t.Fatal("unexpected empty sanitize result")
	}
	for _, want := range []string{"[REDACTED-IP]", "[REDACTED-USER]", "token=[REDACTED]"} {
		if !contains(s, want) {
			t.Errorf("Sanitize result %q missing %q", s, want)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestSignAndVerify(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"type":"welcome"}`)

	sig := Sign(secret, body)
	if !Verify(secret, body, sig) {
		t.Fatal("Verify should accept a signature produced by Sign")
	}
	if Verify(secret, []byte(`{"type":"tampered"}`), sig) {
		t.Fatal("Verify should reject a signature over different content")
	}
}

func TestVerifyInbound_SkipsWhenHMACDisabled(t *testing.T) {
	msg := InboundMessage{Type: "welcome", Body: []byte(`{}`)}
	if err := VerifyInbound("", msg); err != nil {
		t.Errorf("VerifyInbound with no secret should not error: %v", err)
	}
}

func TestVerifyInbound_RejectsMissingSignatureWhenEnabled(t *testing.T) {
	msg := InboundMessage{Type: "decision", Body: []byte(`{}`)}
	if err := VerifyInbound("secret", msg); err == nil {
		t.Error("expected rejection when HMAC is configured but message has no signature")
	}
}

func TestVerifyInbound_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"decision":"execute_A"}`)
	sig := Sign([]byte("secret"), body)
	msg := InboundMessage{Type: "decision", Body: body, Signature: sig}
	if err := VerifyInbound("secret", msg); err != nil {
		t.Errorf("expected valid signature to be accepted: %v", err)
	}
}
