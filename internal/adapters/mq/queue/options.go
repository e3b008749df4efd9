package queue

// Option applies a configuration option to the InMemoryQueue.
type Option[T any] func(*InMemoryQueue[T])

// WithCapacity sets the maximum number of queued tasks.
func WithCapacity[T any](capacity int) Option[T] {
	return func(q *InMemoryQueue[T]) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
