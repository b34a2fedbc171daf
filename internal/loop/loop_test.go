// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package loop

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLoop_Post(t *testing.T) {
	t.Run("tasks run in order", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			l := New(clockwork.NewFakeClock(), 4)
			go l.Run(ctx)

			var got []int
			for i := 0; i < 3; i++ {
				if !l.Post(func() { got = append(got, i) }) {
					t.Fatal("expected post to succeed")
				}
			}
			synctest.Wait()
			if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
				t.Errorf("unexpected task order: %v", got)
			}
			cancel()
			<-l.Done()
		})
	})
	t.Run("nil task is rejected", func(t *testing.T) {
		l := New(nil, 0)
		if l.Post(nil) {
			t.Error("expected nil task to be rejected")
		}
	})
	t.Run("post after shutdown fails", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			l := New(clockwork.NewFakeClock(), 1)
			go l.Run(ctx)
			cancel()
			<-l.Done()
			if l.Post(func() {}) {
				t.Error("expected post on a terminated loop to fail")
			}
		})
	})
}

func TestLoop_After(t *testing.T) {
	t.Run("delayed task fires after the delay", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			clock := clockwork.NewFakeClock()
			l := New(clock, 0)
			go l.Run(ctx)

			fired := false
			l.After(80*time.Millisecond, func() { fired = true })
			if l.Pending() != 1 {
				t.Errorf("expected 1 pending task, got %d", l.Pending())
			}

			clock.Advance(79 * time.Millisecond)
			synctest.Wait()
			if fired {
				t.Fatal("expected task not to fire before the delay")
			}
			clock.Advance(time.Millisecond)
			synctest.Wait()
			if !fired {
				t.Fatal("expected task to fire after the delay")
			}
			if l.Pending() != 0 {
				t.Errorf("expected no pending tasks, got %d", l.Pending())
			}
		})
	})
	t.Run("stopped timer never fires", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			clock := clockwork.NewFakeClock()
			l := New(clock, 0)
			go l.Run(ctx)

			fired := false
			timer := l.After(time.Second, func() { fired = true })
			if !timer.Stop() {
				t.Error("expected stop to report a pending timer")
			}
			if timer.Stop() {
				t.Error("expected second stop to report false")
			}
			clock.Advance(2 * time.Second)
			synctest.Wait()
			if fired {
				t.Error("expected stopped task not to fire")
			}
		})
	})
	t.Run("shutdown cancels pending timers", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			clock := clockwork.NewFakeClock()
			l := New(clock, 0)
			go l.Run(ctx)

			fired := false
			l.After(time.Second, func() { fired = true })
			cancel()
			<-l.Done()
			if l.Pending() != 0 {
				t.Errorf("expected no pending tasks after shutdown, got %d", l.Pending())
			}
			clock.Advance(2 * time.Second)
			synctest.Wait()
			if fired {
				t.Error("expected task not to fire after shutdown")
			}
			if l.After(time.Second, func() {}) != nil {
				t.Error("expected After on a terminated loop to return nil")
			}
		})
	})
}
