// Package queue implements the Playbook Queue (C10): a single-executor,
// bounded priority queue that admits PlaybookTasks, resolves step
// placeholders, dispatches by step kind, and handles verification and
// rollback.
package queue

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// Capacity is the hard bound on queued (not yet executing) tasks.
const Capacity = 50

var sourceRank = map[ticket.Source]int{
	ticket.SourceServer: 0,
	ticket.SourceAdmin:  1,
	ticket.SourceLocal:  2,
}

var priorityRank = map[ticket.Priority]int{
	ticket.PriorityCritical: 0,
	ticket.PriorityHigh:     1,
	ticket.PriorityMedium:   2,
	ticket.PriorityLow:      3,
}

// item wraps a PlaybookTask with the queue-entry sequence number needed
// for FIFO tie-breaking within equal (source, priority) keys.
type item struct {
	task *ticket.PlaybookTask
	seq  int64
}

func less(a, b item) bool {
	sa, sb := sourceRank[a.task.Source], sourceRank[b.task.Source]
	if sa != sb {
		return sa < sb
	}
	pa, pb := priorityRank[a.task.Priority], priorityRank[b.task.Priority]
	if pa != pb {
		return pa < pb
	}
	return a.seq < b.seq
}

// priorityHeap implements container/heap.Interface over item, ordered
// by source then priority then FIFO sequence.
type priorityHeap []item

func (h priorityHeap) Len() int            { return len(h) }
func (h priorityHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h priorityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// AdmitReason names why Admit refused a task.
type AdmitReason string

const (
	AdmitOK                    AdmitReason = ""
	AdmitMissingSignature       AdmitReason = "missing_or_invalid_signature"
	AdmitStructurallyInvalid    AdmitReason = "structurally_invalid"
	AdmitIgnoreInstruction      AdmitReason = "ignore_instruction"
	AdmitMemoryRefused          AdmitReason = "memory_refused"
	AdmitQueueFull              AdmitReason = "queue_full"
)

// Queue is the bounded single-executor priority queue. All mutation
// happens on the caller's pipeline domain.
type Queue struct {
	heap     priorityHeap
	capacity int
	nextSeq  int64
}

// New creates a Queue bounded at capacity (use queue.Capacity for the
// spec default of 50).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = Capacity
	}
	q := &Queue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

// Len reports the number of tasks currently queued (not counting the
// one actively executing).
func (q *Queue) Len() int { return q.heap.Len() }

// Enqueue admits task if there is capacity, returning AdmitQueueFull
// otherwise. Callers must have already run admission checks (a)-(d)
// from spec §4.10 before calling Enqueue; Enqueue only enforces (e).
func (q *Queue) Enqueue(task *ticket.PlaybookTask) AdmitReason {
	if q.heap.Len() >= q.capacity {
		return AdmitQueueFull
	}
	heap.Push(&q.heap, item{task: task, seq: q.nextSeq})
	q.nextSeq++
	return AdmitOK
}

// Dequeue removes and returns the highest-priority task, or nil if the
// queue is empty.
func (q *Queue) Dequeue() *ticket.PlaybookTask {
	if q.heap.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.heap).(item)
	return it.task
}

// Snapshot returns the queued tasks in their current execution order,
// without dequeuing, for diagnostics/UI.
func (q *Queue) Snapshot() []*ticket.PlaybookTask {
	items := make([]item, len(q.heap))
	copy(items, q.heap)
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	out := make([]*ticket.PlaybookTask, len(items))
	for i, it := range items {
		out[i] = it.task
	}
	return out
}

// ResolvePlaceholders substitutes `{{key}}` occurrences in a step
// action/parameter template with values from the task's parameter
// mapping. Unresolved placeholders are left verbatim and surfaced as
// an error, since an unresolved placeholder reaching the shell is
// never safe.
func ResolvePlaceholders(template string, params map[string]string) (string, error) {
	out := template
	for i := 0; i < len(out); i++ {
		if out[i] != '{' || i+1 >= len(out) || out[i+1] != '{' {
			continue
		}
		end := indexFrom(out, i+2, "}}")
		if end < 0 {
			return "", fmt.Errorf("resolve placeholders: unterminated {{ in %q", template)
		}
		key := out[i+2 : end]
		val, ok := params[key]
		if !ok {
			return "", fmt.Errorf("resolve placeholders: no value for {{%s}}", key)
		}
		out = out[:i] + val + out[end+2:]
		i += len(val) - 1
	}
	return out, nil
}

func indexFrom(s string, from int, sub string) int {
	if from > len(s) {
		return -1
	}
	idx := indexOf(s[from:], sub)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
