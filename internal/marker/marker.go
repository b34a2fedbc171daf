// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package marker combines the position estimate of the tracker with the map view and
// publishes where the position marker has to be drawn.
package marker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/tracker"
	"github.com/wneessen/geopin/internal/viewport"
)

// StateReader reports the current tracker state.
type StateReader interface {
	State() tracker.State
}

// Snapshot describes the marker placement at a point in time.
type Snapshot struct {
	State     tracker.State      `json:"state"`
	Estimate  *tracker.Estimate  `json:"estimate,omitempty"`
	MapPixel  *viewport.Point    `json:"map_pixel,omitempty"`
	Screen    *viewport.Point    `json:"screen,omitempty"`
	InBounds  bool               `json:"in_bounds"`
	View      viewport.ViewState `json:"view"`
	Error     string             `json:"error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Updated   time.Time          `json:"updated"`
}

// HasFix reports whether the snapshot carries a position.
func (s Snapshot) HasFix() bool {
	return s.Estimate != nil
}

// Coordinator receives tracker output, places it on the map and notifies subscribers about
// every change of the estimate, the error or the view.
type Coordinator struct {
	proj   viewport.Projection
	view   *viewport.Viewport
	states StateReader
	log    *logger.Logger
	clock  clockwork.Clock
	bus    *geobus.Bus[Snapshot]

	mu       sync.RWMutex
	estimate *tracker.Estimate
	lastErr  *tracker.Error
	updated  time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for update timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New returns a Coordinator for the given map projection and viewport. states may be nil.
func New(proj viewport.Projection, view *viewport.Viewport, states StateReader, log *logger.Logger,
	opts ...Option,
) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		proj:   proj,
		view:   view,
		states: states,
		log:    log,
		clock:  clockwork.NewRealClock(),
		bus:    geobus.New[Snapshot](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleEstimate stores a new estimate. It matches tracker.EstimateFunc.
func (c *Coordinator) HandleEstimate(est tracker.Estimate) {
	c.mu.Lock()
	c.estimate = &est
	c.lastErr = nil
	c.updated = c.clock.Now()
	c.mu.Unlock()

	if !c.proj.Contains(est.Lat, est.Lon) {
		c.log.Debug("position is outside of the map bounds", slog.Float64("lat", est.Lat),
			slog.Float64("lon", est.Lon))
	}
	c.publish()
}

// HandleError stores the most recent error. It matches tracker.ErrorFunc.
func (c *Coordinator) HandleError(err *tracker.Error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.updated = c.clock.Now()
	c.mu.Unlock()
	c.publish()
}

// Snapshot returns the current marker placement.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		View:    c.view.State(),
		Updated: c.updated,
	}
	if c.states != nil {
		snap.State = c.states.State()
	}
	if c.estimate != nil {
		est := *c.estimate
		mapPixel := c.proj.Project(est.Lat, est.Lon)
		screen := snap.View.ToScreen(mapPixel)
		snap.Estimate = &est
		snap.MapPixel = &mapPixel
		snap.Screen = &screen
		snap.InBounds = c.proj.Contains(est.Lat, est.Lon)
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Text(c.lastErr.Kind.String())
		snap.ErrorKind = c.lastErr.Kind.String()
	}
	return snap
}

// Subscribe registers fn for every published snapshot.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	return c.bus.Subscribe(fn)
}

// SubscribeChan returns a channel receiving published snapshots. The most recent snapshot is
// delivered right away if there is one.
func (c *Coordinator) SubscribeChan(size int) (<-chan Snapshot, func()) {
	return c.bus.SubscribeChan(size)
}

// Projection returns the map projection.
func (c *Coordinator) Projection() viewport.Projection {
	return c.proj
}

// Viewport returns the map viewport.
func (c *Coordinator) Viewport() *viewport.Viewport {
	return c.view
}

// Zoom zooms according to the configured zoom mode.
func (c *Coordinator) Zoom(in bool, focal viewport.Point) Snapshot {
	c.view.Zoom(in, focal)
	return c.publish()
}

// ZoomAt zooms by factor around the focal pixel.
func (c *Coordinator) ZoomAt(factor float64, focal viewport.Point) Snapshot {
	c.view.ZoomAt(factor, focal)
	return c.publish()
}

// BeginPan starts a drag gesture.
func (c *Coordinator) BeginPan(p viewport.Point) {
	c.view.BeginPan(p)
}

// UpdatePan moves the map with an active drag gesture.
func (c *Coordinator) UpdatePan(p viewport.Point) Snapshot {
	if !c.view.UpdatePan(p) {
		return c.Snapshot()
	}
	return c.publish()
}

// EndPan finishes a drag gesture.
func (c *Coordinator) EndPan() {
	c.view.EndPan()
}

// PanBy moves the map by the given delta.
func (c *Coordinator) PanBy(dx, dy float64) Snapshot {
	c.view.PanBy(dx, dy)
	return c.publish()
}

// Center centers the map on a screen of the given size.
func (c *Coordinator) Center(width, height float64) Snapshot {
	c.view.Center(width, height, c.proj)
	return c.publish()
}

// Reset resets the view.
func (c *Coordinator) Reset() Snapshot {
	c.view.Reset()
	return c.publish()
}

func (c *Coordinator) publish() Snapshot {
	snap := c.Snapshot()
	c.bus.Publish(snap)
	return snap
}
