package router

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO between the router and the reconciler. Push never
// blocks, so a slow database cannot stall the stream reader; the backing ring
// doubles when full. Items are popped in push order.
type Queue[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	n      int
	closed bool

	// ready holds one token while the queue is non-empty or closed.
	ready chan struct{}

	stats  QueueStats
	onGrow func(capacity int)
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Depth     int   // Items waiting
	Capacity  int   // Current ring size
	HighWater int   // Largest depth observed
	Pushed    int64 // Items accepted
	Popped    int64 // Items handed out
	Grows     int   // Ring resizes
}

// NewQueue creates a queue with room for initialCapacity items before the
// first resize.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		ring:  make([]T, initialCapacity),
		ready: make(chan struct{}, 1),
	}
}

// OnGrow registers fn to run with the new capacity after each resize.
// fn runs with the queue lock held and must not call back into the queue.
func (q *Queue[T]) OnGrow(fn func(capacity int)) {
	q.mu.Lock()
	q.onGrow = fn
	q.mu.Unlock()
}

// Push appends item. It reports false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.n == len(q.ring) {
		q.resize(2 * len(q.ring))
	}
	q.ring[(q.head+q.n)%len(q.ring)] = item
	q.n++
	q.stats.Pushed++
	q.stats.HighWater = max(q.stats.HighWater, q.n)
	q.signal()
	return true
}

// Pop blocks until an item is available, the queue is closed and drained, or
// ctx is done. ok is false in the last two cases.
func (q *Queue[T]) Pop(ctx context.Context) (item T, ok bool) {
	for {
		if item, ok, done := q.take(); ok || done {
			return item, ok
		}
		select {
		case <-ctx.Done():
			return item, false
		case <-q.ready:
		}
	}
}

// TryPop returns the head item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok, _ := q.take()
	return item, ok
}

// take removes the head item. done reports a closed, empty queue.
func (q *Queue[T]) take() (item T, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return item, false, q.closed
	}
	var zero T
	item = q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	q.stats.Popped++
	if q.n > 0 {
		q.signal()
	}
	return item, true, false
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns a snapshot of queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Depth = q.n
	s.Capacity = len(q.ring)
	return s
}

// signal leaves a wake-up token without blocking. Caller holds mu.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// resize moves the queued items to the front of a ring of the given size.
// Caller holds mu.
func (q *Queue[T]) resize(capacity int) {
	ring := make([]T, capacity)
	if end := q.head + q.n; end <= len(q.ring) {
		copy(ring, q.ring[q.head:end])
	} else {
		k := copy(ring, q.ring[q.head:])
		copy(ring[k:], q.ring[:end-len(q.ring)])
	}
	q.ring = ring
	q.head = 0
	q.stats.Grows++
	if q.onGrow != nil {
		q.onGrow(capacity)
	}
}
