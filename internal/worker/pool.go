package worker

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the pool
type Task[R any] func(ctx context.Context) R

// Pool runs tasks on a fixed number of workers and collects their
// results. Result order is not guaranteed; callers that need ordering
// carry an index inside R. Queue every task before calling Wait;
// Submit must not race with Wait.
type Pool[R any] struct {
	workers   int
	tasks     chan Task[R]
	results   chan R
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	collected   []R
	collectDone chan struct{}
}

// NewPool creates a pool with the given number of workers
func NewPool[R any](workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[R]{
		workers:     workers,
		tasks:       make(chan Task[R], workers*2),
		results:     make(chan R, workers*2),
		ctx:         ctx,
		cancel:      cancel,
		collectDone: make(chan struct{}),
	}
}

// Start launches the workers and the result collector. The collector
// drains results continuously, so submitting far more tasks than the
// channel buffers hold never wedges the workers.
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		defer close(p.collectDone)
		for r := range p.results {
			p.collected = append(p.collected, r)
		}
	}()
}

func (p *Pool[R]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			result := task(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a task. Submissions after Shutdown are dropped.
func (p *Pool[R]) Submit(task Task[R]) {
	select {
	case <-p.ctx.Done():
	case p.tasks <- task:
	}
}

// Wait closes the queue, waits for all tasks to finish, and returns
// every collected result. Call it exactly once, after the last Submit.
func (p *Pool[R]) Wait() []R {
	close(p.tasks)
	p.wg.Wait()
	p.closeResults()
	<-p.collectDone
	return p.collected
}

// Shutdown cancels outstanding work and waits for workers to exit
func (p *Pool[R]) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
	<-p.collectDone
}

func (p *Pool[R]) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
