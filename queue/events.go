package queue

import (
	"time"

	"github.com/kbukum/tradeguard/task"
)

// EventType names a queue event.
type EventType string

// Queue event types.
const (
	EventEnqueue   EventType = "enqueue"
	EventDedup     EventType = "dedup"
	EventDequeue   EventType = "dequeue"
	EventRequeue   EventType = "requeue"
	EventEvict     EventType = "evict"
	EventReject    EventType = "reject"
	EventRemove    EventType = "remove"
	EventPromote   EventType = "promote"
	EventRebalance EventType = "rebalance"
	EventEscalate  EventType = "escalate"
)

// Event is one diagnostic record of queue activity.
type Event struct {
	Type     EventType     `json:"type"`
	TaskID   string        `json:"task_id"`
	Priority task.Priority `json:"priority"`
	From     task.Priority `json:"from"`
	Reason   string        `json:"reason,omitempty"`
	At       time.Time     `json:"at"`
}

// eventRing keeps the most recent events in a fixed-size buffer.
type eventRing struct {
	buf   []Event
	start int
	n     int
}

func newEventRing(size int) *eventRing {
	if size < 1 {
		size = 1
	}
	return &eventRing{buf: make([]Event, size)}
}

func (r *eventRing) add(e Event) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the events oldest first.
func (r *eventRing) snapshot() []Event {
	out := make([]Event, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *eventRing) reset() {
	r.start, r.n = 0, 0
}
