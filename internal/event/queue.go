package event

import "sync"

// Queue delivers events to a Publisher in the order they were enqueued.
//
// Producers enqueue while holding the lock that guards the state an event
// describes, then call Flush after releasing it. Whichever caller finds the
// queue idle drains it; concurrent callers return at once and their events
// are delivered by the drainer, so Publish is never called under the
// producer's lock and never concurrently for one queue.
type Queue struct {
	pub Publisher

	mu       sync.Mutex
	pending  []Event
	draining bool
}

// NewQueue creates a queue in front of pub. A nil pub discards events.
func NewQueue(pub Publisher) *Queue {
	if pub == nil {
		pub = Discard
	}
	return &Queue{pub: pub}
}

// Enqueue appends ev without publishing it.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
}

// Flush publishes pending events unless another caller is already doing so.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.pub.Publish(ev)

		q.mu.Lock()
	}
	q.pending = nil
	q.draining = false
	q.mu.Unlock()
}
