// Package queue provides the bounded in-memory event queue and the flush
// engine that delivers engagement events to the remote store with
// at-least-once semantics.
package queue

import (
	"sync"

	"github.com/okline/readpulse/internal/event"
)

// DefaultCapacity is the default maximum number of pending events.
const DefaultCapacity = 100

// Queue is a bounded FIFO of pending engagement events. When full, the
// oldest event is evicted to make room.
// Thread-safe for concurrent access.
type Queue struct {
	mu       sync.Mutex
	events   []*event.Event
	capacity int
	metrics  *Metrics
}

// NewQueue creates a queue with the given capacity.
// A capacity <= 0 falls back to DefaultCapacity.
func NewQueue(capacity int, metrics *Metrics) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		metrics:  metrics,
	}
}

// Enqueue appends an event, evicting the oldest pending event first when
// the queue is full. Eviction is silent toward the caller; it is only
// observable through the dropped-events counter.
func (q *Queue) Enqueue(ev *event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		q.events = q.events[1:]
		if q.metrics != nil {
			q.metrics.IncDropped()
		}
	}
	q.events = append(q.events, ev)
	if q.metrics != nil {
		q.metrics.IncEnqueued()
	}
}

// Drain atomically swaps out and returns all pending events in enqueue order.
func (q *Queue) Drain() []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.events
	q.events = nil
	return drained
}

// Requeue prepends a failed batch to the front of the queue so it retries
// before events enqueued since the drain. The queue may exceed its capacity
// as a result; each enqueue then evicts one event to make room for its own,
// so the bound is only restored by a successful flush.
func (q *Queue) Requeue(events []*event.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(append([]*event.Event{}, events...), q.events...)
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
