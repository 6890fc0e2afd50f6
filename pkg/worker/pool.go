package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"talk-archive/pkg/logging"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs CPU-bound tasks on a fixed number of goroutines so they never occupy
// the goroutines driving network I/O.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewPool starts size workers. size < 1 is treated as 1.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks:  make(chan func()),
		logger: logging.OrDefault(logger).With("component", "worker_pool"),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
			p.logger.Debug("worker stopped", "worker_id", workerID)
		}(i)
	}
	return p
}

// Close stops accepting tasks and waits for running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on p and returns its Future. It blocks while every worker is busy.
// A panic inside fn is recovered and reported as the Future's error.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	task := func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", "panic", r)
				f.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
