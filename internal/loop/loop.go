package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when work is submitted to a loop that is no longer running.
var ErrStopped = errors.New("loop stopped")

// TimerID identifies a timer armed with SetTimer.
type TimerID uint64

// InvalidTimer is the zero TimerID. SetTimer never returns it.
const InvalidTimer TimerID = 0

const taskQueueLen = 64

// Loop runs tasks one at a time on a single goroutine. State that is only
// touched from tasks and timer callbacks needs no locking.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	nextID TimerID
	timers map[TimerID]*time.Timer

	stopOnce sync.Once
}

// New creates a Loop. It does nothing until Run is called.
func New() *Loop {
	return &Loop{
		tasks:  make(chan func(), taskQueueLen),
		done:   make(chan struct{}),
		timers: make(map[TimerID]*time.Timer),
	}
}

// Run executes submitted tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		for id, t := range l.timers {
			t.Stop()
			delete(l.timers, id)
		}
		l.mu.Unlock()
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Submit enqueues fn without waiting for it to run.
func (l *Loop) Submit(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have completed right before the loop exited.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// SetTimer arms a one-shot timer whose callback runs on the loop after d.
func (l *Loop) SetTimer(d time.Duration, fn func()) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.timers[id] = time.AfterFunc(d, func() {
		_ = l.Submit(func() {
			// Cleared between expiry and dispatch.
			if !l.take(id) {
				return
			}
			fn()
		})
	})
	return id
}

// ClearTimer cancels a timer. Unknown, expired and invalid ids are ignored.
func (l *Loop) ClearTimer(id TimerID) {
	if id == InvalidTimer {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// Pending reports whether the timer is armed and has not run yet.
func (l *Loop) Pending(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[id]
	return ok
}

func (l *Loop) take(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[id]; !ok {
		return false
	}
	delete(l.timers, id)
	return true
}
