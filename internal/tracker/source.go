// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"time"
)

// FixOptions control how a Source acquires a position.
type FixOptions struct {
	// HighAccuracy asks the source for the most precise position it can provide.
	HighAccuracy bool
	// MaxCacheAge is the maximum age of a cached position the source may return. Zero
	// requires a fresh fix.
	MaxCacheAge time.Duration
	// Timeout bounds a single acquisition. Zero means no timeout.
	Timeout time.Duration
}

// Source is a host location capability. Calls may block; the Tracker never calls them on its
// event loop.
type Source interface {
	// Name returns the name of the source.
	Name() string

	// CurrentFix acquires a single position.
	CurrentFix(ctx context.Context, opts FixOptions) (Sample, error)

	// Watch starts a continuous acquisition which reports every position to onSample and
	// every failure to onError until the returned Handle is cleared or ctx is done.
	Watch(ctx context.Context, opts FixOptions, onSample func(Sample), onError func(error)) (Handle, error)
}

// Handle is an active continuous acquisition. Clear must be idempotent and must not block
// on in-flight deliveries.
type Handle interface {
	Clear()
}

// PermissionQuerier is implemented by sources that can report the current permission.
type PermissionQuerier interface {
	QueryPermission(ctx context.Context) (Permission, error)
}

// PermissionNotifier is implemented by sources that notify about permission changes. The
// returned stop function ends the notifications.
type PermissionNotifier interface {
	NotifyPermission(ctx context.Context, fn func(Permission)) (func(), error)
}

// HandleFunc adapts a function to the Handle interface.
type HandleFunc func()

// Clear calls f.
func (f HandleFunc) Clear() {
	f()
}

// Recorder receives tracker events, e.g. for metrics.
type Recorder interface {
	SampleAccepted(source string)
	SampleRejected(source string)
	EstimateEmitted(est Estimate)
	ErrorEmitted(kind ErrorKind)
	StateChanged(state State)
}

type nopRecorder struct{}

func (nopRecorder) SampleAccepted(string)   {}
func (nopRecorder) SampleRejected(string)   {}
func (nopRecorder) EstimateEmitted(Estimate) {}
func (nopRecorder) ErrorEmitted(ErrorKind)  {}
func (nopRecorder) StateChanged(State)      {}
