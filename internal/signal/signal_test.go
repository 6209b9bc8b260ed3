package signal

import "testing"

func TestResourceID(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		want string
	}{
		{"service", Signal{Category: "services", Target: "Spooler"}, "service:Spooler"},
		{"disk", Signal{Category: "storage", Target: "C"}, "disk:C"},
		{"process", Signal{Category: "process", Target: "notepad"}, "process:notepad"},
		{"metric", Signal{Category: "metric", Metric: "cpu", Target: "usage"}, "metric:cpu:usage"},
		{"event", Signal{Category: "event", Target: "7036", Attributes: map[string]string{"source": "Application"}}, "event:Application:7036"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.sig.ResourceID(); got != c.want {
				t.Errorf("ResourceID() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestSignalKey(t *testing.T) {
	sig := Signal{Category: "services", Metric: "service_status", Target: "Spooler"}
	if got, want := sig.SignalKey(), "services-service_status"; got != want {
		t.Errorf("SignalKey() = %q, want %q", got, want)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := RawObservation{Category: "services", Metric: "service_status", Target: "Spooler", Severity: SeverityWarning}
	a := Normalize(raw)
	b := Normalize(raw)
	if a.ResourceID() != b.ResourceID() || a.SignalKey() != b.SignalKey() {
		t.Fatal("Normalize must be deterministic for identical inputs")
	}
}

func TestNormalize_DefaultsNeverPanic(t *testing.T) {
	sig := Normalize(RawObservation{})
	if sig.Attributes == nil {
		t.Error("expected non-nil Attributes default")
	}
	if sig.Severity != SeverityInfo {
		t.Errorf("expected default severity info, got %q", sig.Severity)
	}
}

func TestHysteresis_RequiresConsecutiveCycles(t *testing.T) {
	h := NewHysteresis()
	const resource = "disk:C"

	for i := 0; i < 2; i++ {
		if h.Evaluate(resource, true, 3) {
			t.Fatalf("cycle %d: should not emit before 3 consecutive breaches", i+1)
		}
	}
	if !h.Evaluate(resource, true, 3) {
		t.Fatal("3rd consecutive breach should emit")
	}
	if !h.Evaluate(resource, true, 3) {
		t.Fatal("breach should keep emitting once sustained")
	}
}

func TestHysteresis_NonBreachResets(t *testing.T) {
	h := NewHysteresis()
	const resource = "disk:C"
	h.Evaluate(resource, true, 3)
	h.Evaluate(resource, true, 3)
	h.Evaluate(resource, false, 3)
	if h.Evaluate(resource, true, 3) {
		t.Fatal("counter should have reset after a non-breaching cycle")
	}
}
