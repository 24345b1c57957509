// Package batch provides the bounded worker pool that runs webhook handler
// work off the HTTP request thread. The webhook endpoint submits the remote
// I/O (GitLab calls, LLM calls, job submission) here and acknowledges the
// delivery immediately; nothing serializes per-issue work and submitted work
// cannot be cancelled.
package batch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool is a fixed-size worker pool consuming queued tasks.
type Pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

type task struct {
	name string
	fn   func(ctx context.Context)
}

// NewPool creates a pool with the given number of workers and queue size.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("task", t.name).Msg("Task panicked")
				}
			}()
			t.fn(p.ctx)
		}()
	}
}

// Submit enqueues a task for asynchronous execution. It returns false when
// the queue is full or the pool is shut down; the caller decides how to
// report that.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- task{name: name, fn: fn}:
		log.Debug().Str("task", name).Msg("Task submitted")
		return true
	default:
		log.Warn().Str("task", name).Msg("Task queue full, rejecting")
		return false
	}
}

// Shutdown stops accepting tasks and waits for in-flight work to drain, up
// to the deadline of ctx. Work still running past the deadline is cancelled
// via its context.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.once.Do(func() { close(p.tasks) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}
