// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job represents a task that runs at a fixed interval and never overlaps with itself
// (singleton mode).
type Job struct {
	interval time.Duration
	task     func(context.Context)
	clock    clockwork.Clock
	trigger  chan struct{}
}

// New creates a new Job with the given interval and task.
func New(interval time.Duration, task func(context.Context)) *Job {
	return NewWithClock(clockwork.NewRealClock(), interval, task)
}

// NewWithClock creates a new Job that uses clock for its ticker.
func NewWithClock(clock clockwork.Clock, interval time.Duration, task func(context.Context)) *Job {
	return &Job{
		interval: interval,
		task:     task,
		clock:    clock,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate run. Triggers are coalesced while one is pending.
func (j *Job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Start begins executing the job on the given context. It returns when the context is cancelled.
// If a tick fires while a previous run is still executing, that tick is skipped.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	sem := make(chan struct{}, 1)
	run := func() {
		select {
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				j.task(runCtx)
			}()
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			run()
		case <-j.trigger:
			run()
		}
	}
}
