// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a location source backed by a local gpsd daemon.
package gpsd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/gpspoll"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "gpsd"

	DefaultHost = "localhost"
	DefaultPort = "2947"

	// DefaultPeriod is the delay between two polls while waiting for a fix and between two
	// reconnect attempts of a watch.
	DefaultPeriod = time.Second * 5
)

// Source reads positions from gpsd.
type Source struct {
	log    *logger.Logger
	clock  clockwork.Clock
	period time.Duration
	cache  *source.Cache

	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	streamFn func(ctx context.Context, idle time.Duration, fn func(gpspoll.Fix)) error
}

// New returns a Source connecting to gpsd on host and port.
func New(host, port string, log *logger.Logger, clock clockwork.Clock) *Source {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	client := gpspoll.New(host, port)
	return &Source{
		log:      log,
		clock:    clock,
		period:   DefaultPeriod,
		cache:    source.NewCache(clock),
		locateFn: client.Poll,
		streamFn: client.Stream,
	}
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// CurrentFix polls gpsd until it reports at least a 2D fix or ctx is done.
func (s *Source) CurrentFix(ctx context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}
	for {
		fix, err := s.locateFn(ctx)
		if err != nil {
			return tracker.Sample{}, classify(err)
		}
		if fix.Has2DFix() {
			sample := s.sample(fix)
			s.cache.Put(sample)
			return sample, nil
		}

		s.log.Debug("gpsd has no fix yet", "mode", fix.Mode)
		select {
		case <-ctx.Done():
			return tracker.Sample{}, classify(ctx.Err())
		case <-s.clock.After(s.period):
		}
	}
}

// Watch streams positions from gpsd. A lost or silent connection is reported to onError
// and reconnected after the poll period. opts.Timeout bounds the silence on a connection.
func (s *Source) Watch(ctx context.Context, opts tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			err := s.streamFn(ctx, opts.Timeout, func(fix gpspoll.Fix) {
				if !fix.Has2DFix() {
					return
				}
				sample := s.sample(fix)
				s.cache.Put(sample)
				onSample(sample)
			})
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("gpsd stream ended, reconnecting", logger.Err(err), slog.Duration("retry_in", s.period))
			onError(classify(err))

			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.period):
			}
		}
	}()
	return tracker.HandleFunc(cancel), nil
}

func (s *Source) sample(fix gpspoll.Fix) tracker.Sample {
	at := fix.Time
	if at.IsZero() {
		at = s.clock.Now()
	}
	return tracker.NewSample(fix.Lat, fix.Lon, fix.Acc, at)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return tracker.NewError(tracker.KindTimeout, "", err)
	}
	return tracker.NewError(tracker.KindPositionUnavailable, "", err)
}
