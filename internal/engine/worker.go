package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rendis/flowforge/pkg/schema"
)

// ErrPoolShutdown is returned by Do once the pool is shut down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics counts node behavior calls by outcome.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool runs node behaviors on at most size goroutines. The engine
// uses a size of one, which is what keeps node executions from overlapping
// even when a stopped run's behavior is still finishing.
type WorkerPool struct {
	slots chan struct{}
	quit  chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	active, completed, failed, panics atomic.Int64
}

func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots: make(chan struct{}, max(size, 1)),
		quit:  make(chan struct{}),
	}
}

// Do runs fn on a pool goroutine and waits for its error. It blocks while
// every slot is busy. A panic in fn comes back as an EXECUTION_ERROR. When
// ctx ends first Do returns ctx.Err() and fn keeps its slot until it
// returns.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolShutdown
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	done := make(chan error, 1)
	p.active.Add(1)
	go func() {
		defer p.inflight.Done()
		err := p.call(ctx, fn)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		p.active.Add(-1)
		<-p.slots
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			err = schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r).WithCause(fmt.Errorf("%v", r))
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started call has returned.
func (p *WorkerPool) Wait() {
	p.inflight.Wait()
}

// Shutdown rejects new work and waits for running calls. Repeated calls
// are no-ops.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.inflight.Wait()
}

func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
