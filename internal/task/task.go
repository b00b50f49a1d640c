// Package task provides the cancellable handle returned for every metadata or
// image request.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAborted is returned to in-flight work when its task was cancelled without
// continuing in the background.
var ErrAborted = errors.New("task aborted")

// State is the lifecycle state of a Task.
type State int

const (
	// Active tasks deliver results to their caller.
	Active State = iota
	// Suppressed tasks were cancelled with continueInBackground: the work and its
	// cache writes go on, the caller hears nothing more.
	Suppressed
	// Aborted tasks were cancelled outright; their context is cancelled.
	Aborted
	// Completed tasks finished delivering.
	Completed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Suppressed:
		return "suppressed"
	case Aborted:
		return "aborted"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Task represents one logical in-flight operation. It carries no result; results
// are handed to the caller's completion through Deliver.
type Task struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  State
	closed bool
}

// New creates an active task whose context derives from parent.
func New(parent context.Context) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID identifies the task in logs.
func (t *Task) ID() string { return t.id }

// Context is cancelled when the task is aborted. Transfers bound to it stop.
func (t *Task) Context() context.Context { return t.ctx }

// Done is closed once the owner finished all work for the task.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Suppressed reports whether the task was cancelled but keeps working.
func (t *Task) Suppressed() bool { return t.State() == Suppressed }

// Aborted reports whether the task was cancelled outright.
func (t *Task) Aborted() bool { return t.State() == Aborted }

// Cancel stops delivery to the caller. With continueInBackground the underlying
// transfer keeps going so caches are still populated; without it the task
// context is cancelled. Cancelling a completed or cancelled task does nothing.
func (t *Task) Cancel(continueInBackground bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return
	}
	if continueInBackground {
		t.state = Suppressed
		return
	}
	t.state = Aborted
	t.cancel()
}

// Deliver runs fn if the task is still active and reports whether it ran.
// A Cancel that returns before Deliver is called suppresses fn. fn runs
// without the lock held, so a Cancel racing with the state check can still
// see one callback run.
func (t *Task) Deliver(fn func()) bool {
	if t.State() != Active {
		return false
	}
	fn()
	return true
}

// Finish marks the task completed (unless it was cancelled), releases its
// context and closes Done. Later calls do nothing.
func (t *Task) Finish() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.state == Active {
		t.state = Completed
	}
	t.mu.Unlock()

	t.cancel()
	close(t.done)
}
