package memory

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/store"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m, err := New(DefaultConfig(), fs, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestShouldAttemptRemediation_AllowsWithNoHistory(t *testing.T) {
	m := newTestMemory(t)
	d := m.ShouldAttemptRemediation("services-service_status", "device-1", "service_start_generic", "Spooler")
	if !d.Allowed {
		t.Errorf("expected allowed with no history, got %+v", d)
	}
	if d.ConfidenceModifier != 1.0 {
		t.Errorf("ConfidenceModifier = %v, want 1.0 with no history", d.ConfidenceModifier)
	}
}

func TestRecordAttempt_DampensAfterConsecutiveFailures(t *testing.T) {
	m := newTestMemory(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		m.RecordAttempt("service_start_generic", "services-service_status", "device-1", "Spooler", ResultFailure, time.Second, "exit 1", now.Add(time.Duration(i)*time.Minute))
	}

	d := m.ShouldAttemptRemediation("services-service_status", "device-1", "service_start_generic", "Spooler")
	if d.Allowed {
		t.Error("expected dampening to refuse after 5 consecutive failures")
	}
	if d.Reason != ReasonResourceDampened {
		t.Errorf("Reason = %q, want resource_dampened", d.Reason)
	}
}

func TestRecordAttempt_SuccessResetsConsecutiveFailures(t *testing.T) {
	m := newTestMemory(t)
	now := time.Now()

	for i := 0; i < 4; i++ {
		m.RecordAttempt("p", "sk", "device-1", "r", ResultFailure, time.Second, "", now)
	}
	m.RecordAttempt("p", "sk", "device-1", "r", ResultSuccess, time.Second, "", now)

	if ss := m.doc.Signals[signalKeyFor("device-1", "sk")]; ss.ConsecutiveFailures != 0 {
		t.Errorf("signal ConsecutiveFailures = %d, want 0 after a success", ss.ConsecutiveFailures)
	}
	if rs := m.ResourceStatsFor("sk", "r"); rs.ConsecutiveFailures != 0 {
		t.Errorf("resource ConsecutiveFailures = %d, want 0 after a success", rs.ConsecutiveFailures)
	}

	// One success in five leaves playbook "p" at a 0.20 success rate,
	// below the 0.30 problematic ceiling, so the refusal now comes from
	// the playbook check rather than from dampening.
	d := m.ShouldAttemptRemediation("sk", "device-1", "p", "r")
	if d.Reason != ReasonPlaybookProblematic {
		t.Errorf("Reason = %q, want playbook_problematic once dampening is reset", d.Reason)
	}
}

func TestFindCachedSolution(t *testing.T) {
	m := newTestMemory(t)
	now := time.Now()

	for i := 0; i < 8; i++ {
		m.RecordAttempt("service_start_generic", "services-service_status", "device-1", "Spooler", ResultSuccess, time.Second, "", now.Add(time.Duration(i)*time.Minute))
	}

	pb, ok := m.FindCachedSolution("services-service_status", "device-1")
	if !ok {
		t.Fatal("expected a cached solution after a run of successes")
	}
	if pb != "service_start_generic" {
		t.Errorf("playbook = %q, want service_start_generic", pb)
	}
}

func TestFindCachedSolution_NoneWithMixedHistory(t *testing.T) {
	m := newTestMemory(t)
	now := time.Now()

	for i := 0; i < 10; i++ {
		res := ResultSuccess
		if i%2 == 0 {
			res = ResultFailure
		}
		m.RecordAttempt("p", "sk", "device-1", "r", res, time.Second, "", now.Add(time.Duration(i)*time.Minute))
	}

	if _, ok := m.FindCachedSolution("sk", "device-1"); ok {
		t.Error("a poor overall success rate should not yield a cached solution")
	}
}

func TestResetDampening(t *testing.T) {
	m := newTestMemory(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.RecordAttempt("p", "sk", "device-1", "r", ResultFailure, time.Second, "", now)
	}
	m.ResetDampening("sk", "device-1")

	ss := m.doc.Signals[signalKeyFor("device-1", "sk")]
	if ss.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after reset", ss.ConsecutiveFailures)
	}
}

func TestResourceStats_ConfidenceModifierBands(t *testing.T) {
	cases := []struct {
		success, total int
		want           float64
	}{
		{10, 10, 1.0},
		{8, 10, 0.9},
		{6, 10, 0.7},
		{4, 10, 0.5},
		{2, 10, 0.3},
		{0, 10, 0.1},
	}
	for _, c := range cases {
		rs := ResourceStats{Total: c.total, Success: c.success, Failure: c.total - c.success}
		if got := rs.ConfidenceModifier(); got != c.want {
			t.Errorf("success=%d/%d ConfidenceModifier() = %v, want %v", c.success, c.total, got, c.want)
		}
	}
}

func TestPersistence_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	fs, _ := store.NewFileStore(dir)
	m, _ := New(DefaultConfig(), fs, zap.NewNop())

	now := time.Now()
	m.RecordAttempt("p", "sk", "device-1", "r", ResultSuccess, time.Second, "", now)

	reloaded, err := New(DefaultConfig(), fs, zap.NewNop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rs := reloaded.ResourceStatsFor("sk", "r")
	if rs.Total != 1 || rs.Success != 1 {
		t.Errorf("reloaded stats = %+v, want Total=1 Success=1", rs)
	}
}
