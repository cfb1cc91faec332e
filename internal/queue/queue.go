// Package queue provides a concurrency limiter that starts tasks in the order
// they were added while keeping at most a fixed number running at once.
package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const DefaultLimit = 5

// Task is one unit of work submitted to a Queue.
type Task[T any] func() (T, error)

type job[T any] struct {
	task   Task[T]
	future *Future[T]
}

// Queue runs at most limit tasks concurrently. Tasks beyond the limit wait
// in FIFO order. A single dispatcher goroutine, alive while work is pending,
// takes one semaphore slot per task in the order tasks were added.
type Queue[T any] struct {
	limit int
	slots *semaphore.Weighted

	mu          sync.Mutex
	pending     []job[T]
	running     int
	dispatching bool
}

func New[T any](limit int) *Queue[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue[T]{limit: limit, slots: semaphore.NewWeighted(int64(limit))}
}

func (q *Queue[T]) Limit() int {
	return q.limit
}

// Add enqueues task and returns immediately with a Future for its outcome.
func (q *Queue[T]) Add(task Task[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	q.mu.Lock()
	q.pending = append(q.pending, job[T]{task: task, future: f})
	if !q.dispatching {
		q.dispatching = true
		go q.dispatch()
	}
	q.mu.Unlock()

	return f
}

// Running returns the number of tasks currently executing.
func (q *Queue[T]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of tasks waiting for a free slot.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) dispatch() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		// Only this goroutine pops, so the head is still there once a slot
		// is granted. Acquire cannot fail on a background context.
		_ = q.slots.Acquire(context.Background(), 1)

		q.mu.Lock()
		next := q.pending[0]
		q.pending[0] = job[T]{}
		q.pending = q.pending[1:]
		q.running++
		q.mu.Unlock()

		go q.run(next)
	}
}

func (q *Queue[T]) run(j job[T]) {
	value, err := execute(j.task)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.slots.Release(1)

	j.future.resolve(value, err)
}

func execute[T any](task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}

// Future holds the eventual outcome of a queued task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
