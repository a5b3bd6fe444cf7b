// Package cmdqueue provides a FIFO asynchronous task runner with at most one
// in-flight task. Transports use one queue each so the engine adapter never
// observes overlapping negotiation calls.
package cmdqueue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned for tasks rejected because the queue was stopped
// before they started, and for every submission after Stop.
var ErrStopped = errors.New("command queue stopped")

// Task is a unit of work executed by the queue.
type Task func(ctx context.Context) (interface{}, error)

// Result settles a pushed task with its value or failure.
type Result struct {
	Value interface{}
	Err   error
}

type pending struct {
	ctx  context.Context
	name string
	task Task
	done chan Result
}

// Queue executes tasks strictly in submission order. A task only begins
// after the previous one has settled.
type Queue struct {
	mu      sync.Mutex
	tasks   []*pending
	running bool
	stopped bool
	logger  *zap.SugaredLogger
}

// New creates an idle queue. The logger may be nil.
func New(logger *zap.SugaredLogger) *Queue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{logger: logger}
}

// Push submits a named task and returns a channel that settles with the
// task's result. The name is a trace label only.
func (q *Queue) Push(ctx context.Context, name string, task Task) <-chan Result {
	done := make(chan Result, 1)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		done <- Result{Err: ErrStopped}
		return done
	}
	q.tasks = append(q.tasks, &pending{ctx: ctx, name: name, task: task, done: done})
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return done
}

// Do pushes a task and waits for it to settle.
func (q *Queue) Do(ctx context.Context, name string, task Task) (interface{}, error) {
	res := <-q.Push(ctx, name, task)
	return res.Value, res.Err
}

// Exec pushes a typed task and waits for it to settle.
func Exec[T any](ctx context.Context, q *Queue, name string, task func(ctx context.Context) (T, error)) (T, error) {
	value, err := q.Do(ctx, name, func(ctx context.Context) (interface{}, error) {
		return task(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if value == nil {
		var zero T
		return zero, nil
	}
	return value.(T), nil
}

// Stop rejects every task still waiting to start and every later submission
// with ErrStopped. A task already executing is not interrupted and settles
// normally. Stop is idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	rejected := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, p := range rejected {
		q.logger.Debugw("rejecting queued task", "task", p.name)
		p.done <- Result{Err: ErrStopped}
	}
}

// Stopped reports whether Stop was called.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.stopped || len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		p := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.logger.Debugw("executing task", "task", p.name)
		value, err := p.task(p.ctx)
		if err != nil {
			q.logger.Debugw("task failed", "task", p.name, "error", err)
		}
		p.done <- Result{Value: value, Err: err}
	}
}
