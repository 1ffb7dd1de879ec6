package net

import "sync"

// eventQueue is an unbounded, thread-safe FIFO.
//
// Producers are transport goroutines; the consumer is either the game loop
// (non-blocking TryDequeue) or a writer goroutine selecting on Wait.
type eventQueue[E any] struct {
	mu     sync.Mutex
	events []E
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue[E any]() *eventQueue[E] {
	return &eventQueue[E]{
		events: make([]E, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back. Returns false once the queue is closed.
func (q *eventQueue[E]) Enqueue(e E) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Coalesce: one pending signal is enough.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue[E]) TryDequeue() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero E
	if len(q.events) == 0 {
		return zero, false
	}
	e := q.events[0]
	q.events[0] = zero // release references for GC
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed once the queue closes.
func (q *eventQueue[E]) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes waiters. Queued events remain
// dequeueable.
func (q *eventQueue[E]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued event.
func (q *eventQueue[E]) Drain() []E {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}
