// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSettleDelay is the delay before the initial request is issued when the host has
// to ask the user for permission.
const DefaultSettleDelay = 80 * time.Millisecond

var (
	// DefaultPromptFix is used for the request that triggers the permission prompt.
	DefaultPromptFix = FixOptions{HighAccuracy: true, MaxCacheAge: 0, Timeout: 20 * time.Second}
	// DefaultGrantedFix is used for one-shot requests once the permission is granted.
	DefaultGrantedFix = FixOptions{HighAccuracy: true, MaxCacheAge: 2 * time.Second}
	// DefaultWatchFix is used for the continuous watch.
	DefaultWatchFix = FixOptions{HighAccuracy: true, MaxCacheAge: 2 * time.Second, Timeout: 15 * time.Second}
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for delayed tasks and sample timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithWindowSize sets the number of samples the estimate is averaged over.
func WithWindowSize(size int) Option {
	return func(t *Tracker) {
		t.windowSize = size
	}
}

// WithFallbackAccuracy sets the accuracy assumed for samples without one.
func WithFallbackAccuracy(acc float64) Option {
	return func(t *Tracker) {
		t.fallback = acc
	}
}

// WithSettleDelay sets the delay before the permission prompting request.
func WithSettleDelay(delay time.Duration) Option {
	return func(t *Tracker) {
		if delay >= 0 {
			t.settleDelay = delay
		}
	}
}

// WithFixOptions overrides the options for the prompting request, the one-shot request
// after the permission was granted, and the continuous watch.
func WithFixOptions(prompt, granted, watch FixOptions) Option {
	return func(t *Tracker) {
		t.promptFix = prompt
		t.grantedFix = granted
		t.watchFix = watch
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(rec Recorder) Option {
	return func(t *Tracker) {
		if rec != nil {
			t.rec = rec
		}
	}
}
