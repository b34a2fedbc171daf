// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wneessen/geopin/internal/vartype"
)

const (
	// DefaultWindowSize is the number of most recent samples the estimate is computed from.
	DefaultWindowSize = 8

	// DefaultFallbackAccuracy is the accuracy in meters assumed for samples that do not
	// report one.
	DefaultFallbackAccuracy = 1000.0

	// MinAccuracy is the accuracy floor in meters applied to every sample.
	MinAccuracy = 1.0
)

// ErrInvalidSample is returned when a sample can not be used for the estimate.
var ErrInvalidSample = errors.New("invalid location sample")

// Sample is a single raw position reading as delivered by a Source.
type Sample struct {
	Lat      float64
	Lon      float64
	Accuracy vartype.VarFloat64
	At       time.Time
}

// NewSample returns a Sample with the accuracy set.
func NewSample(lat, lon, accuracy float64, at time.Time) Sample {
	return Sample{Lat: lat, Lon: lon, Accuracy: vartype.NewVariable(accuracy), At: at}
}

// Estimate is the accuracy-weighted average of the samples in the window.
type Estimate struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy"`
	At       time.Time `json:"timestamp"`
	Samples  int       `json:"samples"`
}

// Window is a bounded FIFO of normalized samples. It is not safe for concurrent use.
type Window struct {
	capacity int
	fallback float64
	samples  []Sample
}

// NewWindow returns an empty window. Non-positive arguments are replaced with the defaults.
func NewWindow(capacity int, fallback float64) *Window {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	if fallback <= 0 || math.IsNaN(fallback) || math.IsInf(fallback, 0) {
		fallback = DefaultFallbackAccuracy
	}
	return &Window{
		capacity: capacity,
		fallback: fallback,
		samples:  make([]Sample, 0, capacity),
	}
}

// Normalize replaces a missing accuracy with the fallback and applies the accuracy floor.
// It returns ErrInvalidSample for samples that would corrupt the average.
func (w *Window) Normalize(s Sample) (Sample, error) {
	if !finite(s.Lat) || !finite(s.Lon) {
		return s, fmt.Errorf("%w: non-finite coordinate %f,%f", ErrInvalidSample, s.Lat, s.Lon)
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return s, fmt.Errorf("%w: coordinate %f,%f out of range", ErrInvalidSample, s.Lat, s.Lon)
	}

	acc := math.Max(MinAccuracy, s.Accuracy.ValueOr(w.fallback))
	if !finite(acc) || acc <= 0 {
		return s, fmt.Errorf("%w: unusable accuracy %f", ErrInvalidSample, acc)
	}
	s.Accuracy.Set(acc)
	return s, nil
}

// Add normalizes s, appends it to the window evicting the oldest sample on overflow, and
// returns the recomputed estimate. now is used as timestamp if no sample carries one.
func (w *Window) Add(s Sample, now time.Time) (Estimate, error) {
	normalized, err := w.Normalize(s)
	if err != nil {
		return Estimate{}, err
	}
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, normalized)
	return average(w.samples, now), nil
}

// Len returns the number of samples currently in the window.
func (w *Window) Len() int {
	return len(w.samples)
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return w.capacity
}

// Samples returns a copy of the window contents, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}

func average(samples []Sample, now time.Time) Estimate {
	if len(samples) == 0 {
		return Estimate{At: now}
	}

	var sumW, sumLat, sumLon float64
	var latest time.Time
	for _, s := range samples {
		weight := 1 / s.Accuracy.Value()
		sumW += weight
		sumLat += s.Lat * weight
		sumLon += s.Lon * weight
		if s.At.After(latest) {
			latest = s.At
		}
	}
	if latest.IsZero() {
		latest = now
	}

	if sumW <= 0 || !finite(sumW) {
		last := samples[len(samples)-1]
		at := last.At
		if at.IsZero() {
			at = now
		}
		return Estimate{
			Lat:      last.Lat,
			Lon:      last.Lon,
			Accuracy: last.Accuracy.Value(),
			At:       at,
			Samples:  len(samples),
		}
	}

	return Estimate{
		Lat:      sumLat / sumW,
		Lon:      sumLon / sumW,
		Accuracy: 1 / sumW,
		At:       latest,
		Samples:  len(samples),
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
