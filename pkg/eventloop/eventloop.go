// Package eventloop provides the single execution context that the sync client runs on.
//
// Every callback (user input, transport events, timers) is funnelled through a Scheduler so
// that client state is only ever touched by one goroutine at a time.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs functions on a single execution context.
type Scheduler interface {
	Now() time.Time
	// Post queues fn to run on the execution context.
	Post(fn func())
	// AfterFunc runs fn on the execution context once d has elapsed, unless stopped first.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer already fired or was stopped.
	Stop() bool
}

type timer struct {
	inner *time.Timer
	done  atomic.Bool
}

func afterFunc(post func(func()), d time.Duration, fn func()) Timer {
	t := new(timer)
	t.inner = time.AfterFunc(d, func() {
		post(func() {
			// Stop may have run on the loop after the OS timer fired but before we got here.
			if t.done.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

func (t *timer) Stop() bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	t.inner.Stop()
	return true
}

// Loop is a Scheduler backed by its own goroutine. Post never blocks.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return afterFunc(l.Post, d, fn)
}

// Run executes posted functions in order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispatcher adapts an executor owned by someone else, such as a UI framework's update loop,
// into a Scheduler. The function must hand fn to that executor and must not be called from it.
type Dispatcher func(fn func())

func (d Dispatcher) Now() time.Time {
	return time.Now()
}

func (d Dispatcher) Post(fn func()) {
	d(fn)
}

func (d Dispatcher) AfterFunc(dur time.Duration, fn func()) Timer {
	return afterFunc(d, dur, fn)
}
