// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package marker

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/tracker"
	"github.com/wneessen/geopin/internal/viewport"
)

type fixedState tracker.State

func (s fixedState) State() tracker.State {
	return tracker.State(s)
}

func testCoordinator(t *testing.T, states StateReader) (*Coordinator, *clockwork.FakeClock) {
	t.Helper()
	proj, err := viewport.NewProjection(viewport.Bounds{North: 53, South: 52, East: 14, West: 13}, 800, 600)
	if err != nil {
		t.Fatalf("failed to create projection: %s", err)
	}
	view, err := viewport.New(viewport.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create viewport: %s", err)
	}
	clock := clockwork.NewFakeClock()
	return New(proj, view, states, logger.Discard(), WithClock(clock)), clock
}

func TestCoordinator_HandleEstimate(t *testing.T) {
	t.Run("estimate is placed on the map", func(t *testing.T) {
		c, clock := testCoordinator(t, fixedState(tracker.StateGranted))
		c.HandleEstimate(tracker.Estimate{Lat: 52.5, Lon: 13.5, Accuracy: 12})

		snap := c.Snapshot()
		if !snap.HasFix() {
			t.Fatal("expected snapshot to have a fix")
		}
		if *snap.MapPixel != (viewport.Point{X: 400, Y: 300}) {
			t.Errorf("expected map pixel 400,300, got %+v", *snap.MapPixel)
		}
		if *snap.Screen != *snap.MapPixel {
			t.Errorf("expected screen pixel to equal the map pixel at the default view, got %+v", *snap.Screen)
		}
		if !snap.InBounds {
			t.Error("expected position to be within the map")
		}
		if snap.State != tracker.StateGranted {
			t.Errorf("expected state to be %s, got %s", tracker.StateGranted, snap.State)
		}
		if !snap.Updated.Equal(clock.Now()) {
			t.Errorf("expected update time to be %s, got %s", clock.Now(), snap.Updated)
		}
	})
	t.Run("position outside of the map is clamped", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		c.HandleEstimate(tracker.Estimate{Lat: 40, Lon: 20})
		snap := c.Snapshot()
		if snap.InBounds {
			t.Error("expected position to be outside the map")
		}
		if *snap.MapPixel != (viewport.Point{X: 800, Y: 600}) {
			t.Errorf("expected map pixel to be clamped to 800,600, got %+v", *snap.MapPixel)
		}
	})
	t.Run("new estimate clears the error", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		c.HandleError(tracker.NewError(tracker.KindTimeout, "", nil))
		if snap := c.Snapshot(); snap.Error != "timeout" || snap.ErrorKind != "timeout" {
			t.Errorf("unexpected error in snapshot: %q (%s)", snap.Error, snap.ErrorKind)
		}
		c.HandleEstimate(tracker.Estimate{Lat: 52.5, Lon: 13.5})
		if snap := c.Snapshot(); snap.Error != "" {
			t.Errorf("expected error to be cleared, got %q", snap.Error)
		}
		c.HandleError(nil)
	})
}

func TestCoordinator_view(t *testing.T) {
	t.Run("view changes are published", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		c.HandleEstimate(tracker.Estimate{Lat: 52.5, Lon: 13.5})

		var got []Snapshot
		unsub := c.Subscribe(func(s Snapshot) { got = append(got, s) })
		defer unsub()

		c.PanBy(10, 10)
		c.Zoom(true, viewport.Point{})
		if len(got) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(got))
		}
		screen := got[1].Screen
		if screen == nil {
			t.Fatal("expected snapshot to have a screen position")
		}
		wantX := 10 + 1.2*400
		if diff := screen.X - wantX; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected screen x to be %f, got %f", wantX, screen.X)
		}
	})
	t.Run("drag gesture", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		if snap := c.UpdatePan(viewport.Point{X: 5, Y: 5}); snap.View.Pan != (viewport.Point{}) {
			t.Errorf("expected no pan without drag, got %+v", snap.View.Pan)
		}
		c.BeginPan(viewport.Point{X: 10, Y: 10})
		snap := c.UpdatePan(viewport.Point{X: 30, Y: 40})
		c.EndPan()
		if snap.View.Pan != (viewport.Point{X: 20, Y: 30}) {
			t.Errorf("expected pan to be 20,30, got %+v", snap.View.Pan)
		}
	})
	t.Run("center and reset", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		if snap := c.Center(1000, 800); snap.View.Pan != (viewport.Point{X: 100, Y: 100}) {
			t.Errorf("expected pan to be 100,100, got %+v", snap.View.Pan)
		}
		if snap := c.ZoomAt(2, viewport.Point{}); snap.View.Scale != 2 {
			t.Errorf("expected scale to be 2, got %f", snap.View.Scale)
		}
		if snap := c.Reset(); snap.View.Scale != 1 || snap.View.Pan != (viewport.Point{}) {
			t.Errorf("expected reset view, got %+v", snap.View)
		}
	})
	t.Run("channel subscribers get the latest snapshot", func(t *testing.T) {
		c, _ := testCoordinator(t, nil)
		c.HandleEstimate(tracker.Estimate{Lat: 52.5, Lon: 13.5, At: time.Unix(0, 0)})
		ch, unsub := c.SubscribeChan(1)
		defer unsub()
		snap := <-ch
		if !snap.HasFix() {
			t.Error("expected replayed snapshot to have a fix")
		}
	})
}
