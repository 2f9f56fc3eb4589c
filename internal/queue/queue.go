// Package queue holds captured items, such as recorded frames, until they
// are drained in one batch.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO buffer with an optional capacity.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped int
}

// New creates an empty queue. A limit of zero or less means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		limit: limit,
	}
}

// Push appends item. It reports false, and counts the item as dropped,
// when the queue is at its limit.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.dropped++
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Full reports whether the next Push would be dropped.
func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit > 0 && len(q.items) >= q.limit
}

// Dropped returns how many items were refused since the last Reset.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards all items and the dropped count. References to the
// discarded items are released.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
	q.dropped = 0
}

// Drain returns all items in push order and empties the queue. The
// dropped count is kept until Reset.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
