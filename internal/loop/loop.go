// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package loop provides a single-goroutine task executor with delayed tasks. All state owned
// by a loop is only ever touched from the goroutine running Run, which removes the need for
// locking in its users.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultQueueSize is the task buffer size used when New is called with a size below 1.
const DefaultQueueSize = 64

// Loop executes posted tasks one after another on the goroutine that calls Run.
type Loop struct {
	clock clockwork.Clock
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	timers  map[*Timer]struct{}
	stopped bool
	once    sync.Once
}

// Timer is a delayed task scheduled with After.
type Timer struct {
	loop  *Loop
	timer clockwork.Timer
}

// New returns a Loop using the given clock for delayed tasks. A nil clock falls back to the
// real clock.
func New(clock clockwork.Clock, size int) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Loop{
		clock:  clock,
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		timers: make(map[*Timer]struct{}),
	}
}

// Clock returns the clock the loop schedules delayed tasks on.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post enqueues fn for execution on the loop. It blocks while the queue is full and returns
// false if the loop has terminated before fn could be queued.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// After schedules fn to be posted to the loop once d has elapsed on the loop's clock. The
// returned Timer can be used to cancel the task before it fires. After returns nil if the
// loop has already terminated.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}

	t := &Timer{loop: l}
	t.timer = l.clock.AfterFunc(d, func() {
		if !l.forget(t) {
			return
		}
		l.Post(fn)
	})
	l.timers[t] = struct{}{}
	return t
}

// Stop cancels the delayed task. It reports whether the task was still pending.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if !t.loop.forget(t) {
		return false
	}
	return t.timer.Stop()
}

// Run executes posted tasks in order until ctx is cancelled. On return all pending delayed
// tasks are stopped and queued tasks are dropped. Run must only be called once.
func (l *Loop) Run(ctx context.Context) {
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of delayed tasks that have not fired yet.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func (l *Loop) forget(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[t]; !ok {
		return false
	}
	delete(l.timers, t)
	return true
}

func (l *Loop) shutdown() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		for t := range l.timers {
			t.timer.Stop()
			delete(l.timers, t)
		}
		l.mu.Unlock()
		close(l.done)
	})
}
