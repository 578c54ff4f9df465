// Package queue provides the bounded blocking FIFO used to hand work between
// goroutines: accepted connections into the worker pool, and tasks into the
// script engine.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BoundedQueue is a fixed-capacity FIFO ring buffer safe for concurrent use.
//
// The ring is guarded by a mutex. Two FIFO counting semaphores play the role
// of the "not full" and "not empty" conditions: a producer acquires a free
// slot before inserting and releases a filled slot afterwards, a consumer does
// the reverse. Items are stored as-is; the queue never copies or inspects them.
type BoundedQueue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	tail  int
	count int

	notFull  *semaphore.Weighted // free slots
	notEmpty *semaphore.Weighted // filled slots
}

// New creates a queue holding at most capacity items. It panics if capacity
// is not positive.
func New[T any](capacity int) *BoundedQueue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	q := &BoundedQueue[T]{
		items:    make([]T, capacity),
		notFull:  semaphore.NewWeighted(int64(capacity)),
		notEmpty: semaphore.NewWeighted(int64(capacity)),
	}
	// An empty queue has no filled slots to take.
	q.notEmpty.TryAcquire(int64(capacity))
	return q
}

// Cap returns the fixed capacity.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.items)
}

// Len returns the number of queued items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Enqueue inserts item at the tail, blocking while the queue is full.
func (q *BoundedQueue[T]) Enqueue(item T) {
	// Acquire only fails on context cancellation.
	_ = q.notFull.Acquire(context.Background(), 1)
	q.put(item)
}

// EnqueueTimeout is like Enqueue but gives up after d. It reports whether the
// item was inserted; on false the caller still owns item. A non-positive d
// never blocks.
func (q *BoundedQueue[T]) EnqueueTimeout(item T, d time.Duration) bool {
	if d <= 0 {
		if !q.notFull.TryAcquire(1) {
			return false
		}
		q.put(item)
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.EnqueueContext(ctx, item) == nil
}

// EnqueueContext is like Enqueue but returns ctx.Err() if ctx is done before
// a slot frees up. The item is not inserted in that case.
func (q *BoundedQueue[T]) EnqueueContext(ctx context.Context, item T) error {
	if err := q.notFull.Acquire(ctx, 1); err != nil {
		return err
	}
	q.put(item)
	return nil
}

// Dequeue removes and returns the head item, blocking while the queue is
// empty.
func (q *BoundedQueue[T]) Dequeue() T {
	_ = q.notEmpty.Acquire(context.Background(), 1)
	return q.get()
}

// DequeueTimeout is like Dequeue but gives up after d, returning false.
// A non-positive d never blocks.
func (q *BoundedQueue[T]) DequeueTimeout(d time.Duration) (T, bool) {
	if d <= 0 {
		return q.DequeueNoWait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	item, err := q.DequeueContext(ctx)
	return item, err == nil
}

// DequeueContext is like Dequeue but returns ctx.Err() if ctx is done before
// an item arrives.
func (q *BoundedQueue[T]) DequeueContext(ctx context.Context) (T, error) {
	if err := q.notEmpty.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	return q.get(), nil
}

// DequeueNoWait removes the head item if one is available.
func (q *BoundedQueue[T]) DequeueNoWait() (T, bool) {
	if !q.notEmpty.TryAcquire(1) {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// put must be called holding a free-slot permit.
func (q *BoundedQueue[T]) put(item T) {
	q.mu.Lock()
	q.items[q.tail] = item
	q.tail++
	if q.tail == len(q.items) {
		q.tail = 0
	}
	q.count++
	q.mu.Unlock()
	q.notEmpty.Release(1)
}

// get must be called holding a filled-slot permit.
func (q *BoundedQueue[T]) get() T {
	var zero T
	q.mu.Lock()
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.head = 0
	}
	q.count--
	q.mu.Unlock()
	q.notFull.Release(1)
	return item
}
