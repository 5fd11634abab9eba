// Package workqueue runs jobs with a fixed concurrency cap.
//
// A [Queue] admits jobs in the order they were submitted and never runs more
// than its limit at once. Each [Submit] returns a [Future] through which the
// caller observes the job's result. The queue does not retry, time out or
// cancel jobs on its own; jobs receive the context passed to Submit and are
// expected to honour it.
//
//	q := workqueue.New(6)
//	f := workqueue.Submit(ctx, q, func(ctx context.Context) ([]byte, error) {
//	    return fetch(ctx, url)
//	})
//	body, err := f.Wait(ctx)
package workqueue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the cap used when New is given a non-positive limit.
const DefaultConcurrency = 6

// Queue is a bounded FIFO job runner. The zero value is not usable; create
// queues with New. A Queue is safe for concurrent use.
type Queue struct {
	limit int
	slots *semaphore.Weighted

	mu      sync.Mutex
	pending []func()
	stats   Stats

	wg sync.WaitGroup
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Submitted int // jobs handed to Submit
	Pending   int // submitted but not yet started
	Running   int // currently holding a slot
	Completed int // finished, successfully or not
}

// New returns a queue that runs at most concurrency jobs at once.
func New(concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Queue{
		limit: concurrency,
		slots: semaphore.NewWeighted(int64(concurrency)),
	}
}

// Limit returns the concurrency cap.
func (q *Queue) Limit() int { return q.limit }

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Wait blocks until every job submitted so far has completed.
func (q *Queue) Wait() { q.wg.Wait() }

// Future is the eventual result of a submitted job.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed when the job has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes or ctx is done. Abandoning a Future
// does not stop its job.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit enqueues job on q. The job starts once every earlier submission has
// started and a slot is free, and it runs exactly once.
func Submit[T any](ctx context.Context, q *Queue, job func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	q.wg.Add(1)

	task := func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("workqueue: job panicked: %v", r)
			}
		}()
		f.val, f.err = job(ctx)
	}

	q.mu.Lock()
	q.stats.Submitted++
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.pump()
	return f
}

// pump starts pending tasks, oldest first, while slots are free.
func (q *Queue) pump() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 && q.slots.TryAcquire(1) {
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.stats.Running++
		go q.run(task)
	}
}

func (q *Queue) run(task func()) {
	task()
	q.mu.Lock()
	q.stats.Running--
	q.stats.Completed++
	q.mu.Unlock()
	q.slots.Release(1)
	q.pump()
	q.wg.Done()
}
