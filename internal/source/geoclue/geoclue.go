// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue implements a location source backed by the GeoClue2 D-Bus service.
//
// GeoClue asks its agent for authorization when a client is started. The permission of the
// application is read from the AvailableAccuracyLevel property of the GeoClue manager.
package geoclue

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "geoclue"

	DefaultDesktopID = "geopin"
)

// GeoClue accuracy levels.
const (
	AccuracyLevelNone         uint32 = 0
	AccuracyLevelCountry      uint32 = 1
	AccuracyLevelCity         uint32 = 4
	AccuracyLevelNeighborhood uint32 = 5
	AccuracyLevelStreet       uint32 = 6
	AccuracyLevelExact        uint32 = 8
)

// D-Bus error names with a specific meaning for the Source.
const (
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

// Source reads positions from GeoClue.
type Source struct {
	desktopID string
	log       *logger.Logger
	clock     clockwork.Clock
	cache     *source.Cache
	dialFn    func(ctx context.Context) (manager, error)
}

// New returns a Source registering with GeoClue as desktopID.
func New(desktopID string, log *logger.Logger, clock clockwork.Clock) *Source {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{
		desktopID: desktopID,
		log:       log,
		clock:     clock,
		cache:     source.NewCache(clock),
		dialFn:    dialSystemBus,
	}
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// QueryPermission maps the available accuracy level to a permission.
func (s *Source) QueryPermission(ctx context.Context) (tracker.Permission, error) {
	m, err := s.dial(ctx)
	if err != nil {
		return tracker.PermissionUnknown, err
	}
	defer s.close(m)

	level, err := m.AvailableAccuracyLevel(ctx)
	if err != nil {
		return tracker.PermissionUnknown, classify(err)
	}
	return permission(level), nil
}

// NotifyPermission reports every change of the available accuracy level to fn.
func (s *Source) NotifyPermission(ctx context.Context, fn func(tracker.Permission)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	m, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err = m.WatchAccuracyLevel(ctx, func(level uint32) {
		fn(permission(level))
	}); err != nil {
		cancel()
		s.close(m)
		return nil, classify(err)
	}
	context.AfterFunc(ctx, func() {
		s.close(m)
	})
	return cancel, nil
}

// CurrentFix starts a GeoClue client and returns its first location.
func (s *Source) CurrentFix(ctx context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m, err := s.dial(ctx)
	if err != nil {
		return tracker.Sample{}, err
	}
	defer s.close(m)

	locations := make(chan Location, 1)
	failures := make(chan error, 1)
	if err = m.Track(ctx, s.desktopID, accuracyLevel(opts), func(loc Location) {
		select {
		case locations <- loc:
		default:
		}
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	}); err != nil {
		return tracker.Sample{}, classify(err)
	}

	select {
	case <-ctx.Done():
		return tracker.Sample{}, classify(ctx.Err())
	case err = <-failures:
		return tracker.Sample{}, classify(err)
	case loc := <-locations:
		sample := s.sample(loc)
		s.cache.Put(sample)
		return sample, nil
	}
}

// Watch starts a GeoClue client and reports every location update.
func (s *Source) Watch(ctx context.Context, opts tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	m, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err = m.Track(ctx, s.desktopID, accuracyLevel(opts), func(loc Location) {
		sample := s.sample(loc)
		s.cache.Put(sample)
		onSample(sample)
	}, func(err error) {
		onError(classify(err))
	}); err != nil {
		cancel()
		s.close(m)
		return nil, classify(err)
	}
	context.AfterFunc(ctx, func() {
		s.close(m)
	})
	return tracker.HandleFunc(cancel), nil
}

func (s *Source) dial(ctx context.Context) (manager, error) {
	m, err := s.dialFn(ctx)
	if err != nil {
		return nil, tracker.NewError(tracker.KindUnsupported, "", err)
	}
	return m, nil
}

func (s *Source) close(m manager) {
	if err := m.Close(); err != nil {
		s.log.Debug("failed to close geoclue connection", logger.Err(err))
	}
}

func (s *Source) sample(loc Location) tracker.Sample {
	at := loc.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	return tracker.NewSample(loc.Lat, loc.Lon, loc.Accuracy, at)
}

func accuracyLevel(opts tracker.FixOptions) uint32 {
	if opts.HighAccuracy {
		return AccuracyLevelExact
	}
	return AccuracyLevelCity
}

func permission(level uint32) tracker.Permission {
	if level == AccuracyLevelNone {
		return tracker.PermissionDenied
	}
	return tracker.PermissionGranted
}

func classify(err error) error {
	switch errorName(err) {
	case errAccessDenied:
		return tracker.NewError(tracker.KindPermissionDenied, "", err)
	case errServiceUnknown, errNameHasNoOwner:
		return tracker.NewError(tracker.KindUnsupported, "", fmt.Errorf("geoclue is not available: %w", err))
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return tracker.NewError(tracker.KindTimeout, "", err)
	default:
		return tracker.NewError(tracker.KindPositionUnavailable, "", err)
	}
}

func errorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) {
		return ptr.Name
	}
	return ""
}
