// Package worker runs pipeline stages over queued tasks with a fixed pool.
package worker

import (
	"context"
	"runtime"
	"strconv"
	"sync"

	"github.com/veyra/demandlens/pkg/logger"
	"github.com/veyra/demandlens/pkg/metrics"
)

// Processor handles one task drawn from the queue.
type Processor[T any] interface {
	Process(ctx context.Context, task T) error
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc[T any] func(ctx context.Context, task T) error

// Process calls f.
func (f ProcessorFunc[T]) Process(ctx context.Context, task T) error {
	return f(ctx, task)
}

// Source defines how workers receive tasks.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Pool fans tasks out to a fixed set of workers. Runs are batch-shaped: the
// caller enqueues everything, closes the queue, Starts the pool, and Waits
// for the drain. Processor errors are logged and counted; they never stop
// the other workers.
type Pool[T any] struct {
	source Source[T]
	proc   Processor[T]
	count  int
	name   string
	wg     sync.WaitGroup
}

// NewPool creates a pool with configuration options. The worker count
// defaults to runtime.NumCPU().
func NewPool[T any](source Source[T], proc Processor[T], opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{
		source: source,
		proc:   proc,
		count:  runtime.NumCPU(),
		name:   "worker",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers.
func (p *Pool[T]) Start(ctx context.Context) {
	metrics.UpdateWorkerCount(p.count)
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.name+"-"+strconv.Itoa(i))
	}
}

// Wait blocks until every worker has exited, either because the queue
// drained or because the context ended.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
	metrics.UpdateWorkerCount(0)
}

func (p *Pool[T]) run(ctx context.Context, name string) {
	defer p.wg.Done()
	log := logger.Named(name)

	tasks := p.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := p.proc.Process(ctx, task); err != nil {
				metrics.RecordWorkerError()
				log.Error(ctx, "task failed", logger.Error(err))
			}
		}
	}
}
