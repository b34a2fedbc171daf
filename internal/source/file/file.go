// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a location source that reads a position from a local file.
//
// The file holds a single "lat,lon" or "lat,lon,accuracy" line. Empty lines and lines
// starting with "#" are ignored. The modification time of the file is used as the
// timestamp of the position.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "file"

	// DefaultPeriod is the default interval in which the file is checked for changes.
	DefaultPeriod = time.Second * 30
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Source reads geolocation data from a file.
type Source struct {
	path   string
	period time.Duration
	clock  clockwork.Clock
	cache  *source.Cache

	mu      sync.Mutex
	lastMod time.Time
}

// New returns a Source for the file at path. A period of zero selects DefaultPeriod.
func New(path string, period time.Duration, clock clockwork.Clock) *Source {
	if period <= 0 {
		period = DefaultPeriod
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{
		path:   path,
		period: period,
		clock:  clock,
		cache:  source.NewCache(clock),
	}
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// CurrentFix reads the file, or returns the cached position if opts allow it.
func (s *Source) CurrentFix(_ context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}
	sample, _, err := s.readFile()
	if err != nil {
		return sample, err
	}
	s.cache.Put(sample)
	return sample, nil
}

// Watch reports the position every time the modification time of the file changes.
func (s *Source) Watch(ctx context.Context, _ tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	s.mu.Lock()
	s.lastMod = time.Time{}
	s.mu.Unlock()
	return source.PollWatch(ctx, s.clock, s.period, s.locate, onSample, onError), nil
}

// QueryPermission reports whether the file can be opened for reading. A missing file
// results in a prompt, since it might still be created.
func (s *Source) QueryPermission(context.Context) (tracker.Permission, error) {
	fh, err := os.Open(s.path)
	switch {
	case err == nil:
		_ = fh.Close()
		return tracker.PermissionGranted, nil
	case errors.Is(err, fs.ErrPermission):
		return tracker.PermissionDenied, nil
	case errors.Is(err, fs.ErrNotExist):
		return tracker.PermissionPrompt, nil
	default:
		return tracker.PermissionUnknown, err
	}
}

// NotifyPermission checks the permission once per period and reports changes to fn.
func (s *Source) NotifyPermission(ctx context.Context, fn func(tracker.Permission)) (func(), error) {
	return source.PollPermission(ctx, s.clock, s.period, s.QueryPermission, fn), nil
}

// locate returns source.ErrUnchanged if the file was not modified since the last call.
func (s *Source) locate(context.Context) (tracker.Sample, error) {
	sample, modTime, err := s.readFile()
	if err != nil {
		return sample, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if modTime.Equal(s.lastMod) {
		return sample, source.ErrUnchanged
	}
	s.lastMod = modTime
	s.cache.Put(sample)
	return sample, nil
}

// readFile reads and parses the file at the configured path.
func (s *Source) readFile() (tracker.Sample, time.Time, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return tracker.Sample{}, time.Time{}, classify(s.path, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return tracker.Sample{}, time.Time{}, classify(s.path, err)
	}
	sample, err := parse(string(data))
	if err != nil {
		return sample, time.Time{}, tracker.NewError(tracker.KindPositionUnavailable, "",
			fmt.Errorf("failed to parse geolocation file %q: %w", s.path, err))
	}
	sample.At = info.ModTime()
	return sample, info.ModTime(), nil
}

func parse(data string) (tracker.Sample, error) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 && len(fields) != 3 {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		sample := tracker.Sample{Lat: lat, Lon: lon}
		if len(fields) == 3 {
			acc, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
			if err != nil {
				continue
			}
			sample.Accuracy.Set(acc)
		}
		return sample, nil
	}
	return tracker.Sample{}, ErrNoCoordinates
}

func classify(path string, err error) error {
	err = fmt.Errorf("failed to read geolocation file %q: %w", path, err)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return tracker.NewError(tracker.KindPermissionDenied, "", err)
	case errors.Is(err, fs.ErrNotExist):
		return tracker.NewError(tracker.KindPositionUnavailable, "", err)
	default:
		return tracker.NewError(tracker.KindUnknown, "", err)
	}
}
