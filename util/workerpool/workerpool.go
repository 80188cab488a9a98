package workerpool

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context)

// WorkerPool runs submitted tasks on a fixed number of goroutines. It is
// used for bounded fan-out over peer sets, where one slow peer must not
// serialize contact with the others.
type WorkerPool struct {
	tasks  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New creates a pool with numWorkers goroutines. The provided context is the
// base context passed to every task; cancelling it rejects new submissions
// and cancels running tasks, but only Shutdown stops the workers.
func New(ctx context.Context, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	wp := &WorkerPool{
		tasks:  make(chan Task, numWorkers*2),
		ctx:    ctx,
		cancel: cancel,
	}

	wp.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go wp.worker()
	}

	return wp
}

// worker runs until the queue is closed. It must not exit on context
// cancellation: every accepted task has a caller that may be waiting on its
// completion, so cancelled tasks still run, with the cancelled context
// making them return quickly.
func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task(wp.ctx)
	}
}

// Submit queues a task for execution. It blocks if the queue is full and
// returns false if the pool has been shut down.
func (wp *WorkerPool) Submit(task Task) bool {
	select {
	case <-wp.ctx.Done():
		return false
	default:
	}
	select {
	case wp.tasks <- task:
		return true
	case <-wp.ctx.Done():
		return false
	}
}

// Shutdown stops accepting tasks and waits for in-flight tasks to complete.
func (wp *WorkerPool) Shutdown() {
	wp.closeOnce.Do(func() {
		close(wp.tasks)
	})
	wp.wg.Wait()
	wp.cancel()
}
