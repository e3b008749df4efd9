package worker

// Option applies a configuration option to the Pool.
type Option[T any] func(*Pool[T])

// WithWorkerCount sets the number of workers. Non-positive counts keep the
// CPU-count default.
func WithWorkerCount[T any](count int) Option[T] {
	return func(p *Pool[T]) {
		if count > 0 {
			p.count = count
		}
	}
}

// WithName names the pool's workers in logs.
func WithName[T any](name string) Option[T] {
	return func(p *Pool[T]) {
		if name != "" {
			p.name = name
		}
	}
}
