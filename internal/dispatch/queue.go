// Package dispatch serialises work onto one logical thread.
//
// A Queue runs posted tasks strictly in enqueue order on a single goroutine.
// A Scheduler delivers delayed tasks onto the same Queue, so timer callbacks
// and inbound events never race each other.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a stopped Queue.
var ErrStopped = errors.New("dispatch: queue stopped")

// Task is a unit of work executed on the queue goroutine.
type Task func()

// Queue is an unbounded FIFO with a single consumer. Post never blocks, so
// it is safe to call from transport I/O goroutines.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []Task
	started bool
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Tasks posted before Start are kept
// and run once it starts. Calling Start twice, or after Stop, does nothing.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.loop()
}

// Post appends task to the queue. It reports false if the queue is stopped.
func (q *Queue) Post(task Task) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop discards pending tasks and ends the consumer after the task in
// flight, if any. It does not wait. Safe to call from a task.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.tasks = nil
	q.mu.Unlock()
	close(q.done)
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Sync blocks until every task posted before the call has run.
func (q *Queue) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !q.Post(func() { close(reached) }) {
		return ErrStopped
	}
	select {
	case <-reached:
		return nil
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.done:
				return
			}
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

// run executes one task. A panicking task is logged and the loop carries on.
func (q *Queue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Dispatch task panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	task()
}
