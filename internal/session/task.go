package session

import (
	"context"
	"sync"
)

// Task is a cancelable background job owned by a session.
type Task interface {
	// Cancel asks the task to stop; it does not wait
	Cancel()

	// Done is closed once the task has returned
	Done() <-chan struct{}
}

// BackgroundTask runs a function on its own goroutine under a cancelable
// context.
type BackgroundTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Go starts fn with a child of parent. fn must return once its context is
// canceled.
func Go(parent context.Context, fn func(ctx context.Context)) *BackgroundTask {
	ctx, cancel := context.WithCancel(parent)
	t := &BackgroundTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return t
}

func (t *BackgroundTask) Cancel() {
	t.once.Do(t.cancel)
}

func (t *BackgroundTask) Done() <-chan struct{} {
	return t.done
}

func finished(t Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}
