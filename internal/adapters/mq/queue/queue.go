// Package queue provides the bounded in-memory task queue that feeds the
// pipeline's worker pools. A batch stage enqueues its tasks, closes the
// queue, and lets the workers drain it.
package queue

import (
	"context"
	"sync"

	"github.com/veyra/demandlens/pkg/metrics"
)

// defaultCapacity bounds a queue nobody configured.
const defaultCapacity = 10000

// InMemoryQueue is a bounded FIFO backed by a buffered channel. Enqueue
// never blocks: a full queue rejects the task and the caller decides what
// that means for the batch.
type InMemoryQueue[T any] struct {
	tasks    chan T
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option[T]) *InMemoryQueue[T] {
	q := &InMemoryQueue[T]{
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan T, q.capacity)

	metrics.UpdateTaskQueueDepth(0)
	return q
}

// Enqueue adds a task to the queue. It returns false when the queue is
// full, closed, or the context is done.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, task T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || ctx.Err() != nil {
		return false
	}

	select {
	case q.tasks <- task:
		metrics.UpdateTaskQueueDepth(len(q.tasks))
		return true
	default:
		return false
	}
}

// Dequeue returns a channel that receives tasks as they become available.
// The channel closes once the queue is closed and drained, or when ctx is
// done.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for task := range q.tasks {
			select {
			case out <- task:
				metrics.UpdateTaskQueueDepth(len(q.tasks))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued tasks.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	size := len(q.tasks)
	metrics.UpdateTaskQueueDepth(size)
	return size
}

// Close stops accepting tasks. Already queued tasks still drain through
// Dequeue.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
