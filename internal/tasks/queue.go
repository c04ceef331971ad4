// Package tasks runs fire-and-forget background jobs on a bounded worker pool.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"threadboard/internal/observability"
)

// Errors returned by Enqueue when a job is dropped.
var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueStopped = errors.New("task queue is stopped")
)

// Job is a unit of background work. The context is cancelled when the queue
// is shut down without draining in time.
type Job func(ctx context.Context)

type namedJob struct {
	name string
	run  Job
}

// Queue is a bounded job channel drained by a fixed set of workers.
type Queue struct {
	jobs    chan namedJob
	workers int

	mu      sync.RWMutex
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
}

// NewQueue creates a queue holding up to size pending jobs, processed by
// the given number of workers once Start is called.
func NewQueue(workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:    make(chan namedJob, size),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.start.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work()
		}
	})
}

// Enqueue schedules job without blocking. The job is dropped when the queue
// is full or stopped.
func (q *Queue) Enqueue(name string, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		observability.TaskJobs.WithLabelValues(name, "dropped").Inc()
		return ErrQueueStopped
	}

	select {
	case q.jobs <- namedJob{name: name, run: job}:
		observability.TaskQueueDepth.Inc()
		return nil
	default:
		observability.TaskJobs.WithLabelValues(name, "dropped").Inc()
		return ErrQueueFull
	}
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, running jobs see their context cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()

	// drain with the workers even if Start was never called
	q.Start()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return fmt.Errorf("task queue shutdown: %w", ctx.Err())
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		observability.TaskQueueDepth.Dec()
		q.run(job)
	}
}

func (q *Queue) run(job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			observability.TaskJobs.WithLabelValues(job.name, "panic").Inc()
			observability.LogAsyncOperationError(q.ctx, job.name, fmt.Errorf("panic: %v", r), map[string]interface{}{
				"stack": string(debug.Stack()),
			})
		}
	}()

	job.run(q.ctx)
	observability.TaskJobs.WithLabelValues(job.name, "done").Inc()
	observability.Logger.Debug("task finished", slog.String("task", job.name))
}
