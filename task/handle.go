package task

import (
	"context"
	"sync"
)

// Outcome is the settled result of a task.
type Outcome struct {
	Value any
	Err   error
}

// Handle is the caller's view of a queued task's eventual outcome. It settles
// exactly once; later Resolve or Reject calls are ignored.
type Handle struct {
	taskID string
	done   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	outcome Outcome
}

// NewHandle creates an unsettled handle for the given task id.
func NewHandle(taskID string) *Handle {
	return &Handle{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the id of the task that owns this handle.
func (h *Handle) TaskID() string { return h.taskID }

// Done is closed once the handle settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Resolve settles the handle with a value. It reports whether this call settled it.
func (h *Handle) Resolve(v any) bool {
	return h.settle(Outcome{Value: v})
}

// Reject settles the handle with an error. It reports whether this call settled it.
func (h *Handle) Reject(err error) bool {
	return h.settle(Outcome{Err: err})
}

func (h *Handle) settle(o Outcome) bool {
	settled := false
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = o
		h.mu.Unlock()
		close(h.done)
		settled = true
	})
	return settled
}

// Settled reports whether the handle has an outcome.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Outcome returns the settled outcome and true, or a zero Outcome and false.
func (h *Handle) Outcome() (Outcome, bool) {
	if !h.Settled() {
		return Outcome{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome, true
}

// Wait blocks until the handle settles or ctx is done. Cancelling ctx stops
// the wait only; the task stays queued.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		o, _ := h.Outcome()
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits on h and asserts the value to T. A nil value yields T's zero value.
func Await[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	v, err := h.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &resultTypeError{got: v}
	}
	return typed, nil
}
