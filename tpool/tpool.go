// Package tpool implements a fixed-capacity worker pool with lazy thread
// spawn, a bounded FIFO task queue, blocking and timed join, and detach.
//
// Concurrency model: one mutex guards the queue, worker counters, and every
// task's state transitions; two condition variables signal task arrival and
// task completion, mirroring the original implementation's pthread_mutex_t
// plus pthread_cond_t pair.
package tpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
)

const (
	// MaxThreads is the largest pool capacity New accepts.
	MaxThreads = 20

	// MaxTasks is the largest number of queued-but-not-yet-running tasks a
	// pool will hold at once.
	MaxTasks = 100000
)

// Code identifies the kind of failure reported by an Error.
type Code int

const (
	CodeNone Code = iota
	CodeInvalidArgument
	CodeTooManyTasks
	CodeTaskNotPushed
	CodeTaskInPool
	CodeHasTasks
	CodeTimeout
	CodeNotImplemented
)

// Error is the closed error enum this package reports.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeInvalidArgument:
		return "tpool: invalid argument"
	case CodeTooManyTasks:
		return "tpool: too many tasks"
	case CodeTaskNotPushed:
		return "tpool: task not pushed"
	case CodeTaskInPool:
		return "tpool: task still in pool"
	case CodeHasTasks:
		return "tpool: pool has pending or running tasks"
	case CodeTimeout:
		return "tpool: timed out"
	case CodeNotImplemented:
		return "tpool: not implemented"
	default:
		return fmt.Sprintf("tpool: error code %d", e.Code)
	}
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var (
	ErrInvalidArgument error = &Error{CodeInvalidArgument}
	ErrTooManyTasks    error = &Error{CodeTooManyTasks}
	ErrTaskNotPushed   error = &Error{CodeTaskNotPushed}
	ErrTaskInPool      error = &Error{CodeTaskInPool}
	ErrHasTasks        error = &Error{CodeHasTasks}
	ErrTimeout         error = &Error{CodeTimeout}
)

// Status is a Task's position in its {New, Queued, Running, Finished}
// state machine.
type Status int

const (
	StatusNew Status = iota
	StatusQueued
	StatusRunning
	StatusFinished
)

// Func is the work a Task performs.
type Func func(arg any) any

// Task is a unit of work pushed onto a Pool.
type Task struct {
	fn  Func
	arg any

	mu       sync.Mutex // guards the fields below; a worker also holds the owning Pool's lock when it marks the task Finished
	status   Status
	result   any
	detached bool
	joined   bool
	pool     *Pool
}

// NewTask creates a Task in state New, not yet associated with any Pool.
func NewTask(fn Func, arg any) *Task {
	return &Task{fn: fn, arg: arg, status: StatusNew}
}

// IsFinished reports whether the task has completed.
func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusFinished
}

// IsRunning reports whether the task is currently executing.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusRunning
}

// Join blocks until the task finishes and returns its result. It fails with
// ErrTaskNotPushed if the task was never pushed to a pool.
func (t *Task) Join(ctx context.Context) (any, error) {
	t.mu.Lock()
	if t.status == StatusNew {
		t.mu.Unlock()
		return nil, ErrTaskNotPushed
	}
	pool := t.pool
	t.mu.Unlock()

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for t.status != StatusFinished {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pool.taskCompleted.Wait()
	}
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()
	return t.result, nil
}

// TimedJoin blocks until the task finishes or timeout elapses, whichever
// comes first, using the Pool's clock for the deadline -- on timeout the
// task is left running and TimedJoin returns ErrTimeout without marking it
// joined, so a later Join still succeeds.
func (t *Task) TimedJoin(timeout time.Duration) (any, error) {
	t.mu.Lock()
	if t.status == StatusNew {
		t.mu.Unlock()
		return nil, ErrTaskNotPushed
	}
	pool := t.pool
	t.mu.Unlock()

	deadline := pool.clock.Now().Add(timeout)

	// sync.Cond has no native deadline wait, so a helper goroutine wakes the
	// condition once the deadline passes; the main loop re-checks its
	// predicate on every wake regardless of which source woke it, the same
	// discipline corobus and the pool's own task_available loop use.
	done := make(chan struct{})
	defer close(done)
	go func() {
		d := deadline.Sub(pool.clock.Now())
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			pool.mu.Lock()
			pool.taskCompleted.Broadcast()
			pool.mu.Unlock()
		case <-done:
		}
	}()

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for t.status != StatusFinished {
		if !pool.clock.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		pool.taskCompleted.Wait()
	}
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()
	return t.result, nil
}

// Detach transfers ownership of the task to its pool: the worker that
// finishes it will free it rather than leaving it for Join. The caller must
// not touch the task again after Detach returns.
func (t *Task) Detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusNew {
		return ErrTaskNotPushed
	}
	t.detached = true
	return nil
}

// Delete releases a task. It is only legal in states New, or Finished after
// a successful Join.
func (t *Task) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusNew && !t.joined {
		return ErrTaskInPool
	}
	return nil
}

// Pool is a fixed-cap worker pool over goroutines.
type Pool struct {
	max   int
	clock timeutil.Clock

	mu            sync.Mutex
	live          int
	idle          int
	queue         []*Task
	taskAvailable *sync.Cond
	taskCompleted *sync.Cond
	active        bool
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithClock overrides the pool's clock, used by TimedJoin's deadline. The
// default is timeutil.RealClock().
func WithClock(c timeutil.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// New creates a Pool capped at max worker goroutines, max ∈ [1, MaxThreads].
func New(max int, opts ...Option) (*Pool, error) {
	if max < 1 || max > MaxThreads {
		return nil, ErrInvalidArgument
	}
	p := &Pool{max: max, active: true, clock: timeutil.RealClock()}
	for _, opt := range opts {
		opt(p)
	}
	p.taskAvailable = sync.NewCond(&p.mu)
	p.taskCompleted = sync.NewCond(&p.mu)
	return p, nil
}

// ThreadCount reports how many worker goroutines have been spawned so far.
func (p *Pool) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Push enqueues task, spawning a new worker if every idle worker is already
// spoken for by a queued task and the pool has not reached capacity. The
// spawn check and the enqueue happen under
// the same lock acquisition, so there is no outside-the-mutex race window
// like the original's double-checked pre-check -- the worker count can only
// grow while this call holds the lock.
func (p *Pool) Push(task *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= MaxTasks {
		return ErrTooManyTasks
	}

	if p.idle <= len(p.queue) && p.live < p.max {
		p.live++
		p.idle++
		go p.runWorker()
	}

	task.mu.Lock()
	task.pool = p
	task.status = StatusQueued
	task.joined = false
	task.mu.Unlock()

	p.queue = append(p.queue, task)
	p.taskAvailable.Signal()
	return nil
}

func (p *Pool) runWorker() {
	p.mu.Lock()
	for p.active {
		for len(p.queue) == 0 && p.active {
			p.taskAvailable.Wait()
		}
		if !p.active {
			break
		}

		task := p.queue[0]
		p.queue = p.queue[1:]
		p.idle--

		p.mu.Unlock()
		task.mu.Lock()
		task.status = StatusRunning
		fn, arg := task.fn, task.arg
		task.mu.Unlock()

		result := fn(arg)

		p.mu.Lock()
		task.mu.Lock()
		task.status = StatusFinished
		task.result = result
		task.mu.Unlock()
		p.idle++

		// Broadcast unconditionally: even a detached task (no joiner of its
		// own) must still wake any timed-join blocked on a different task.
		p.taskCompleted.Broadcast()
	}
	p.mu.Unlock()
}

// Delete shuts the pool down: fails with ErrHasTasks if any task is queued
// or any worker is not idle, otherwise stops every worker and releases pool
// resources.
func (p *Pool) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) != 0 || p.idle != p.live {
		return ErrHasTasks
	}

	p.active = false
	p.taskAvailable.Broadcast()
	return nil
}
