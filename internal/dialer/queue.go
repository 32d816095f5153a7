// Package dialer places outbound calls from a priority queue, bounded by
// a per-minute rate limit, a concurrency cap, and the business-hours
// window.
package dialer

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// Priority orders queued calls. Lower values dial first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Result is delivered to the per-call callback when the call finishes,
// whatever the outcome.
type Result struct {
	CallID    uuid.UUID
	PatientID uuid.UUID
	CallType  string
	Answered  bool
	Outcome   string
	Err       error
}

// Callback receives the final result of a queued call.
type Callback func(Result)

// QueuedCall is one pending outbound call.
type QueuedCall struct {
	CallID      uuid.UUID
	TenantID    uuid.UUID
	PatientID   uuid.UUID
	Phone       string
	CallType    string
	Priority    Priority
	Metadata    map[string]string
	QueuedAt    time.Time
	ScheduledAt *time.Time
	Callback    Callback

	seq   uint64
	index int
}

// callQueue is a binary heap ordered by (priority, queued_at, seq).
type callQueue []*QueuedCall

func (q callQueue) Len() int { return len(q) }

func (q callQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	if !q[i].QueuedAt.Equal(q[j].QueuedAt) {
		return q[i].QueuedAt.Before(q[j].QueuedAt)
	}
	return q[i].seq < q[j].seq
}

func (q callQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *callQueue) Push(x any) {
	call := x.(*QueuedCall)
	call.index = len(*q)
	*q = append(*q, call)
}

func (q *callQueue) Pop() any {
	old := *q
	n := len(old)
	call := old[n-1]
	old[n-1] = nil
	call.index = -1
	*q = old[:n-1]
	return call
}

// remove takes a call out of the heap by queue position.
func (q *callQueue) remove(i int) *QueuedCall {
	return heap.Remove(q, i).(*QueuedCall)
}
