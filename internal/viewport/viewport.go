// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package viewport places geographic positions on a map image that can be panned and zoomed.
// A map pixel m is shown at the screen position pan + scale*m.
package viewport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	DefaultMinScale   = 0.5
	DefaultMaxScale   = 3.0
	DefaultZoomStep   = 0.2
	DefaultZoomFactor = 1.2
)

// ErrInvalidConfig is returned by New for unusable zoom settings.
var ErrInvalidConfig = errors.New("invalid viewport configuration")

// ZoomMode selects how Zoom changes the scale.
type ZoomMode int

const (
	// ZoomModeStep adds or subtracts a fixed step and keeps the pan offset.
	ZoomModeStep ZoomMode = iota
	// ZoomModeFocal multiplies the scale and keeps the map point under the focal pixel.
	ZoomModeFocal
)

// String satisfies the fmt.Stringer interface for the ZoomMode type.
func (m ZoomMode) String() string {
	if m == ZoomModeFocal {
		return "focal"
	}
	return "step"
}

// ParseZoomMode parses "step" or "focal".
func ParseZoomMode(value string) (ZoomMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "step", "":
		return ZoomModeStep, nil
	case "focal":
		return ZoomModeFocal, nil
	default:
		return ZoomModeStep, fmt.Errorf("unknown zoom mode: %q", value)
	}
}

// Config holds the zoom settings of a Viewport.
type Config struct {
	MinScale float64
	MaxScale float64
	Step     float64
	Factor   float64
	Mode     ZoomMode
}

// DefaultConfig returns the default zoom settings.
func DefaultConfig() Config {
	return Config{
		MinScale: DefaultMinScale,
		MaxScale: DefaultMaxScale,
		Step:     DefaultZoomStep,
		Factor:   DefaultZoomFactor,
		Mode:     ZoomModeStep,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MinScale <= 0 {
		return fmt.Errorf("%w: minimum scale must be positive", ErrInvalidConfig)
	}
	if c.MaxScale < c.MinScale {
		return fmt.Errorf("%w: maximum scale must not be lower than the minimum scale", ErrInvalidConfig)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: zoom step must be positive", ErrInvalidConfig)
	}
	if c.Factor <= 1 {
		return fmt.Errorf("%w: zoom factor must be greater than 1", ErrInvalidConfig)
	}
	return nil
}

// ViewState is the current zoom and pan of a Viewport.
type ViewState struct {
	Scale float64 `json:"scale"`
	Pan   Point   `json:"pan"`
}

// Viewport holds the view transformation of a map. It is safe for concurrent use.
type Viewport struct {
	mu        sync.RWMutex
	cfg       Config
	state     ViewState
	panning   bool
	dragStart Point
}

// New returns a Viewport at scale 1 without pan offset.
func New(cfg Config) (*Viewport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Viewport{
		cfg:   cfg,
		state: ViewState{Scale: clamp(1, cfg.MinScale, cfg.MaxScale)},
	}, nil
}

// Config returns the zoom settings.
func (v *Viewport) Config() Config {
	return v.cfg
}

// State returns the current view state.
func (v *Viewport) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// SetState replaces the view state. The scale is clamped to the configured bounds.
func (v *Viewport) SetState(state ViewState) ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	state.Scale = v.clampScale(state.Scale)
	v.state = state
	return v.state
}

// ZoomIn increases the scale by the zoom step.
func (v *Viewport) ZoomIn() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Scale = v.clampScale(v.state.Scale + v.cfg.Step)
	return v.state
}

// ZoomOut decreases the scale by the zoom step.
func (v *Viewport) ZoomOut() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Scale = v.clampScale(v.state.Scale - v.cfg.Step)
	return v.state
}

// ZoomAt multiplies the scale by factor and adjusts the pan offset so that the map point
// shown at the focal screen pixel stays there.
func (v *Viewport) ZoomAt(factor float64, focal Point) ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if factor <= 0 {
		return v.state
	}

	oldScale := v.state.Scale
	newScale := v.clampScale(oldScale * factor)
	ratio := newScale / oldScale
	v.state.Pan = Point{
		X: focal.X - ratio*(focal.X-v.state.Pan.X),
		Y: focal.Y - ratio*(focal.Y-v.state.Pan.Y),
	}
	v.state.Scale = newScale
	return v.state
}

// Zoom zooms in or out according to the configured zoom mode. focal is only used in focal
// mode.
func (v *Viewport) Zoom(in bool, focal Point) ViewState {
	if v.cfg.Mode == ZoomModeFocal {
		factor := v.cfg.Factor
		if !in {
			factor = 1 / factor
		}
		return v.ZoomAt(factor, focal)
	}
	if in {
		return v.ZoomIn()
	}
	return v.ZoomOut()
}

// BeginPan starts a drag gesture at the given screen pixel.
func (v *Viewport) BeginPan(p Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panning = true
	v.dragStart = Point{X: p.X - v.state.Pan.X, Y: p.Y - v.state.Pan.Y}
}

// UpdatePan moves the map along with the drag gesture. It returns false if no drag gesture
// is in progress.
func (v *Viewport) UpdatePan(p Point) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.panning {
		return false
	}
	v.state.Pan = Point{X: p.X - v.dragStart.X, Y: p.Y - v.dragStart.Y}
	return true
}

// EndPan finishes the drag gesture.
func (v *Viewport) EndPan() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panning = false
}

// Panning reports whether a drag gesture is in progress.
func (v *Viewport) Panning() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.panning
}

// PanBy moves the pan offset by the given delta.
func (v *Viewport) PanBy(dx, dy float64) ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Pan.X += dx
	v.state.Pan.Y += dy
	return v.state
}

// Center positions the map image in the middle of a screen of the given size at the current
// scale.
func (v *Viewport) Center(screenWidth, screenHeight float64, proj Projection) ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Pan = Point{
		X: (screenWidth - proj.Width()*v.state.Scale) / 2,
		Y: (screenHeight - proj.Height()*v.state.Scale) / 2,
	}
	return v.state
}

// Reset restores scale 1 and removes the pan offset.
func (v *Viewport) Reset() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = ViewState{Scale: v.clampScale(1)}
	v.panning = false
	return v.state
}

// ToScreen converts a map pixel to a screen pixel.
func (v *Viewport) ToScreen(m Point) Point {
	return v.State().ToScreen(m)
}

// ToMap converts a screen pixel to a map pixel.
func (v *Viewport) ToMap(s Point) Point {
	return v.State().ToMap(s)
}

// ToScreen converts a map pixel to a screen pixel under this view state.
func (s ViewState) ToScreen(m Point) Point {
	return Point{X: s.Pan.X + s.Scale*m.X, Y: s.Pan.Y + s.Scale*m.Y}
}

// ToMap converts a screen pixel to a map pixel under this view state.
func (s ViewState) ToMap(p Point) Point {
	return Point{X: (p.X - s.Pan.X) / s.Scale, Y: (p.Y - s.Pan.Y) / s.Scale}
}

func (v *Viewport) clampScale(scale float64) float64 {
	return clamp(scale, v.cfg.MinScale, v.cfg.MaxScale)
}
