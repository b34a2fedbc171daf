// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package source contains helpers shared by the location sources in its sub packages.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/tracker"
)

// ErrUnchanged is returned by a LocateFunc if the position did not change since the last
// lookup. PollWatch does not report it.
var ErrUnchanged = errors.New("location unchanged")

// LocateFunc performs a single position lookup.
type LocateFunc func(ctx context.Context) (tracker.Sample, error)

// PollWatch calls locate right away and then once per interval until the returned handle is
// cleared or ctx is done. Samples are passed to onSample, failures to onError.
func PollWatch(ctx context.Context, clock clockwork.Clock, interval time.Duration, locate LocateFunc,
	onSample func(tracker.Sample), onError func(error),
) tracker.Handle {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			sample, err := locate(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrUnchanged):
			case err != nil:
				onError(err)
			default:
				onSample(sample)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
		}
	}()
	return tracker.HandleFunc(cancel)
}

// PollPermission calls query once per interval and reports every change of the result to
// fn. Query failures are ignored. The first result is only used as reference.
func PollPermission(ctx context.Context, clock clockwork.Clock, interval time.Duration,
	query func(context.Context) (tracker.Permission, error), fn func(tracker.Permission),
) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		last, err := query(ctx)
		known := err == nil
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
			perm, err := query(ctx)
			if err != nil || ctx.Err() != nil {
				continue
			}
			if !known || perm != last {
				fn(perm)
			}
			last, known = perm, true
		}
	}()
	return cancel
}

// Cache holds the most recent sample of a source so that requests allowing a cached position
// can be answered without a new lookup.
type Cache struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	sample tracker.Sample
	at     time.Time
	ok     bool
}

// NewCache returns an empty Cache.
func NewCache(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock}
}

// Get returns the cached sample if it is not older than maxAge.
func (c *Cache) Get(maxAge time.Duration) (tracker.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || maxAge <= 0 || c.clock.Since(c.at) > maxAge {
		return tracker.Sample{}, false
	}
	return c.sample, true
}

// Put stores the sample.
func (c *Cache) Put(sample tracker.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sample = sample
	c.at = c.clock.Now()
	c.ok = true
}

// Dedup wraps locate so that it returns ErrUnchanged if the lookup repeats the previous
// result exactly. Sources that poll a cached upstream answer would otherwise feed the same
// fix into the window over and over. Any change, however small, is passed on.
func Dedup(locate LocateFunc, fallbackAccuracy float64) LocateFunc {
	var mu sync.Mutex
	state := geobus.GeolocationState{}
	return func(ctx context.Context) (tracker.Sample, error) {
		sample, err := locate(ctx)
		if err != nil {
			return sample, err
		}
		coord := geobus.Coordinate{
			Lat: sample.Lat,
			Lon: sample.Lon,
			Acc: sample.Accuracy.ValueOr(fallbackAccuracy),
		}

		mu.Lock()
		defer mu.Unlock()
		if !state.HasChanged(coord) {
			return sample, ErrUnchanged
		}
		state.Update(coord)
		return sample, nil
	}
}
