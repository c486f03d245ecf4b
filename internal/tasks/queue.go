// Package tasks serializes background work by task type.
//
// Submit admits at most one task per type at a time and executes all admitted
// tasks strictly in admission order on a single runner, so tasks of different
// types never mutate shared state concurrently. SubmitUnique is the
// latest-wins path for interactive work: it cancels the previous task of the
// same type and runs immediately, off the serial queue.
package tasks

import (
	"context"
	"errors"
	"sync"

	"skyprofit/internal/logger"
)

// Task is a unit of background work. It should honor ctx cancellation
// between blocking steps.
type Task func(ctx context.Context) error

type job struct {
	taskType string
	run      Task
}

// Queue runs tasks serially with per-type deduplication.
type Queue struct {
	ctx context.Context

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	active map[string]struct{}
	unique map[string]context.CancelFunc
	closed bool

	runnerDone chan struct{}
	uniqueWG   sync.WaitGroup
}

// NewQueue creates a queue whose tasks derive from ctx. The runner goroutine
// starts immediately.
func NewQueue(ctx context.Context) *Queue {
	q := &Queue{
		ctx:        ctx,
		active:     make(map[string]struct{}),
		unique:     make(map[string]context.CancelFunc),
		runnerDone: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.runLoop()
	return q
}

// Submit admits a task unless one of the same type is already queued or
// running, in which case the call is ignored and false is returned. Admitted
// tasks run one at a time in admission order; a failure is logged and frees
// the type for resubmission.
func (q *Queue) Submit(taskType string, fn Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, running := q.active[taskType]; running {
		logger.Debug("Task %q already active or queued, skipping", taskType)
		return false
	}

	q.active[taskType] = struct{}{}
	q.queue = append(q.queue, job{taskType: taskType, run: fn})
	q.cond.Signal()
	return true
}

// SubmitUnique cancels any running task previously submitted under the same
// type via this method, then starts fn immediately, bypassing the serial
// queue. Cancellation of the superseded task is benign and not logged as a
// failure.
func (q *Queue) SubmitUnique(taskType string, fn Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if cancel, ok := q.unique[taskType]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(q.ctx)
	q.unique[taskType] = cancel
	q.mu.Unlock()

	q.uniqueWG.Add(1)
	go func() {
		defer q.uniqueWG.Done()
		defer cancel()
		q.runTask(ctx, taskType, fn)
	}()
}

// Close stops admission and blocks until the queued tasks drain and all
// unique tasks return. Unique tasks are cancelled rather than awaited to
// completion.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, cancel := range q.unique {
		cancel()
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.runnerDone
	q.uniqueWG.Wait()
}

func (q *Queue) runLoop() {
	defer close(q.runnerDone)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		logger.Debug("Starting serialized task %q", next.taskType)
		q.runTask(q.ctx, next.taskType, next.run)
		logger.Debug("Finished task %q", next.taskType)

		q.mu.Lock()
		delete(q.active, next.taskType)
		q.mu.Unlock()
	}
}

// runTask executes fn, containing failures: an error is logged, a
// cancellation is swallowed, and a panic never takes down the runner.
func (q *Queue) runTask(ctx context.Context, taskType string, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task %q panicked: %v", taskType, r)
		}
	}()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Task %q failed: %v", taskType, err)
	}
}
