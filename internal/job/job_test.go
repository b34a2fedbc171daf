// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"
)

type testType struct {
	count     atomic.Int32
	completed atomic.Bool
}

func TestNew(t *testing.T) {
	job := New(time.Millisecond*100, func(context.Context) {})
	if job == nil {
		t.Fatal("expected job to be non-nil")
	}
}

func TestJob_Start(t *testing.T) {
	t.Run("job stops with the context", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			tester := &testType{}

			ctx, cancel := context.WithCancel(t.Context())
			context.AfterFunc(ctx, func() {
				tester.completed.Store(true)
			})

			testJob := New(time.Millisecond*100, tester.testFunc)
			go testJob.Start(ctx)

			synctest.Wait()
			if tester.completed.Load() {
				t.Fatal("expected job to not be completed before context was cancelled")
			}

			cancel()
			synctest.Wait()
			if !tester.completed.Load() {
				t.Fatal("expected job to be completed after context was cancelled")
			}
		})
	})
	t.Run("job ticker executes", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*55)
			defer cancel()
			tester := &testType{}

			testJob := New(time.Millisecond*10, tester.testFunc)
			testJob.Start(ctx)

			synctest.Wait()
			if tester.count.Load() != 5 {
				t.Errorf("expected job to execute 5 times, got %d", tester.count.Load())
			}
		})
	})
	t.Run("job runs on the fake clock", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			clock := clockwork.NewFakeClock()
			tester := &testType{}

			testJob := NewWithClock(clock, time.Minute, tester.testFunc)
			go testJob.Start(ctx)
			synctest.Wait()

			clock.Advance(time.Minute)
			synctest.Wait()
			if tester.count.Load() != 1 {
				t.Errorf("expected job to execute once, got %d", tester.count.Load())
			}
		})
	})
	t.Run("trigger runs the job right away", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			tester := &testType{}

			testJob := New(time.Hour, tester.testFunc)
			go testJob.Start(ctx)
			testJob.Trigger()
			synctest.Wait()
			if tester.count.Load() != 1 {
				t.Errorf("expected job to execute once, got %d", tester.count.Load())
			}
		})
	})
	t.Run("nil job returns", func(t *testing.T) {
		tester := New(time.Millisecond*100, nil)
		tester.Start(t.Context())
	})
}

func (t *testType) testFunc(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
		if t.count.Load() >= 5 {
			return
		}
		t.count.Add(1)
	}
}
