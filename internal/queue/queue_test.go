package queue

import (
	"testing"

	"github.com/octoreflex/remediation-agent/internal/ticket"
)

func TestEnqueueDequeue_OrdersBySourceThenPriority(t *testing.T) {
	q := New(10)
	q.Enqueue(&ticket.PlaybookTask{TaskID: "local-high", Source: ticket.SourceLocal, Priority: ticket.PriorityHigh})
	q.Enqueue(&ticket.PlaybookTask{TaskID: "server-low", Source: ticket.SourceServer, Priority: ticket.PriorityLow})
	q.Enqueue(&ticket.PlaybookTask{TaskID: "admin-critical", Source: ticket.SourceAdmin, Priority: ticket.PriorityCritical})

	order := []string{}
	for q.Len() > 0 {
		order = append(order, q.Dequeue().TaskID)
	}
	want := []string{"server-low", "admin-critical", "local-high"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %q, want %q (full order %v)", i, order[i], w, order)
		}
	}
}

func TestEnqueueDequeue_FIFOWithinEqualKeys(t *testing.T) {
	q := New(10)
	q.Enqueue(&ticket.PlaybookTask{TaskID: "first", Source: ticket.SourceLocal, Priority: ticket.PriorityMedium})
	q.Enqueue(&ticket.PlaybookTask{TaskID: "second", Source: ticket.SourceLocal, Priority: ticket.PriorityMedium})

	if got := q.Dequeue().TaskID; got != "first" {
		t.Errorf("first dequeue = %q, want first", got)
	}
	if got := q.Dequeue().TaskID; got != "second" {
		t.Errorf("second dequeue = %q, want second", got)
	}
}

func TestEnqueue_RejectsWhenFull(t *testing.T) {
	q := New(1)
	if got := q.Enqueue(&ticket.PlaybookTask{TaskID: "a"}); got != AdmitOK {
		t.Fatalf("first enqueue = %q, want ok", got)
	}
	if got := q.Enqueue(&ticket.PlaybookTask{TaskID: "b"}); got != AdmitQueueFull {
		t.Errorf("second enqueue = %q, want queue_full", got)
	}
}

func TestDequeue_EmptyReturnsNil(t *testing.T) {
	q := New(1)
	if q.Dequeue() != nil {
		t.Error("Dequeue on empty queue should return nil")
	}
}

func TestResolvePlaceholders(t *testing.T) {
	out, err := ResolvePlaceholders("Start-Service -Name {{service_name}}", map[string]string{"service_name": "Spooler"})
	if err != nil {
		t.Fatalf("ResolvePlaceholders: %v", err)
	}
	if out != "Start-Service -Name Spooler" {
		t.Errorf("got %q", out)
	}
}

func TestResolvePlaceholders_MissingValueErrors(t *testing.T) {
	_, err := ResolvePlaceholders("Start-Service -Name {{service_name}}", map[string]string{})
	if err == nil {
		t.Error("expected an error for an unresolved placeholder")
	}
}
