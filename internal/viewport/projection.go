// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package viewport

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidProjection is returned for map bounds or sizes that can not be projected.
var ErrInvalidProjection = errors.New("invalid map projection")

// Point is a pixel position. X grows to the right and Y grows downwards.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is the geographic bounding box of a map image.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Projection linearly maps geographic coordinates within Bounds to pixels of a map image of
// the given size. The zero value is not usable, use NewProjection.
type Projection struct {
	bounds Bounds
	width  float64
	height float64
}

// NewProjection validates the bounds and map size and returns a Projection.
func NewProjection(bounds Bounds, width, height float64) (Projection, error) {
	for _, v := range []float64{bounds.North, bounds.South, bounds.East, bounds.West, width, height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Projection{}, fmt.Errorf("%w: non-finite value", ErrInvalidProjection)
		}
	}
	if bounds.North <= bounds.South {
		return Projection{}, fmt.Errorf("%w: north (%f) must be greater than south (%f)",
			ErrInvalidProjection, bounds.North, bounds.South)
	}
	if bounds.East <= bounds.West {
		return Projection{}, fmt.Errorf("%w: east (%f) must be greater than west (%f)",
			ErrInvalidProjection, bounds.East, bounds.West)
	}
	if width <= 0 || height <= 0 {
		return Projection{}, fmt.Errorf("%w: map size %fx%f must be positive", ErrInvalidProjection,
			width, height)
	}
	return Projection{bounds: bounds, width: width, height: height}, nil
}

// Bounds returns the geographic bounds of the map.
func (p Projection) Bounds() Bounds {
	return p.bounds
}

// Width returns the map width in pixels.
func (p Projection) Width() float64 {
	return p.width
}

// Height returns the map height in pixels.
func (p Projection) Height() float64 {
	return p.height
}

// Project returns the map pixel of the given coordinate. Coordinates outside the bounds are
// clamped to the nearest map edge.
func (p Projection) Project(lat, lon float64) Point {
	x := (lon - p.bounds.West) / (p.bounds.East - p.bounds.West) * p.width
	y := (p.bounds.North - lat) / (p.bounds.North - p.bounds.South) * p.height
	return Point{X: clamp(x, 0, p.width), Y: clamp(y, 0, p.height)}
}

// Unproject returns the coordinate of the given map pixel.
func (p Projection) Unproject(pt Point) (lat, lon float64) {
	lon = p.bounds.West + pt.X/p.width*(p.bounds.East-p.bounds.West)
	lat = p.bounds.North - pt.Y/p.height*(p.bounds.North-p.bounds.South)
	return lat, lon
}

// Contains reports whether the coordinate lies within the map bounds.
func (p Projection) Contains(lat, lon float64) bool {
	return lat <= p.bounds.North && lat >= p.bounds.South && lon >= p.bounds.West && lon <= p.bounds.East
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
