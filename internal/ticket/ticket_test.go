package ticket

import (
	"testing"
	"time"
)

func TestNewActionTicket_StartsOpen(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := NewActionTicket("tk-1", "sig-1", now)
	if tk.Status != StatusOpen {
		t.Errorf("Status = %q, want %q", tk.Status, StatusOpen)
	}
	if !tk.CreatedAt.Equal(now) || !tk.UpdatedAt.Equal(now) {
		t.Error("CreatedAt/UpdatedAt should be stamped with now")
	}
	if tk.ResolvedAt != nil {
		t.Error("ResolvedAt should be nil for a new ticket")
	}
}

func TestTransition_StampsResolvedAtOnTerminalStates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Minute)

	tk := NewActionTicket("tk-1", "sig-1", now)
	tk.Transition(StatusInProgress, later)
	if tk.ResolvedAt != nil {
		t.Error("in-progress is not terminal, ResolvedAt should stay nil")
	}

	tk.Transition(StatusResolved, later)
	if tk.ResolvedAt == nil || !tk.ResolvedAt.Equal(later) {
		t.Error("resolved should stamp ResolvedAt")
	}
}

func TestExecutionLog_Summary(t *testing.T) {
	cases := []struct {
		name string
		log  ExecutionLog
		want string
	}{
		{"succeeded", ExecutionLog{Succeeded: true}, "completed"},
		{"failed and rolled back", ExecutionLog{Succeeded: false, RolledBack: true}, "failed, rolled back"},
		{"failed no rollback", ExecutionLog{Succeeded: false}, "failed"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.log.Summary(); got != c.want {
				t.Errorf("Summary() = %q, want %q", got, c.want)
			}
		})
	}
}
