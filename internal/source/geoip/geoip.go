// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoip implements a coarse location source based on the public IP address of
// the host.
package geoip

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/http"
	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "geoip"

	DefaultEndpoint = "https://reallyfreegeoip.org/json/"
	DefaultPeriod   = time.Minute * 30

	lookupTimeout = time.Second * 5
)

var ErrNoHTTPClient = errors.New("http client is required")

// Source looks up the position of the host's public IP address.
type Source struct {
	endpoint string
	http     *http.Client
	clock    clockwork.Clock
	period   time.Duration
	cache    *source.Cache
}

// APIResult is the response of the GeoIP API.
type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// New returns a Source querying endpoint.
func New(client *http.Client, endpoint string, clock clockwork.Clock) (*Source, error) {
	if client == nil {
		return nil, ErrNoHTTPClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{
		endpoint: endpoint,
		http:     client,
		clock:    clock,
		period:   DefaultPeriod,
		cache:    source.NewCache(clock),
	}, nil
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// CurrentFix performs a single lookup.
func (s *Source) CurrentFix(ctx context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}
	return s.locate(ctx)
}

// Watch repeats the lookup once per period and reports positions that changed
// significantly.
func (s *Source) Watch(ctx context.Context, _ tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	return source.PollWatch(ctx, s.clock, s.period, source.Dedup(s.locate, tracker.DefaultFallbackAccuracy),
		onSample, onError), nil
}

func (s *Source) locate(ctx context.Context) (tracker.Sample, error) {
	result := new(APIResult)
	status, err := s.http.GetWithTimeout(ctx, s.endpoint, result, nil, nil, lookupTimeout)
	if err != nil {
		err = fmt.Errorf("failed to get geolocation data from API: %w", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return tracker.Sample{}, tracker.NewError(tracker.KindTimeout, "", err)
		}
		return tracker.Sample{}, tracker.NewError(tracker.KindPositionUnavailable, "", err)
	}
	if status != stdhttp.StatusOK {
		return tracker.Sample{}, tracker.NewError(tracker.KindPositionUnavailable, "",
			fmt.Errorf("geoip API returned unexpected status %d", status))
	}

	sample := tracker.NewSample(
		geobus.Truncate(result.Latitude, geobus.TruncPrecision),
		geobus.Truncate(result.Longitude, geobus.TruncPrecision),
		float64(accuracy(result)),
		s.clock.Now(),
	)
	s.cache.Put(sample)
	return sample, nil
}

// accuracy estimates the accuracy from the most detailed field of the result.
func accuracy(result *APIResult) int {
	switch {
	case result.ZipCode != "":
		return geobus.AccuracyZip
	case result.City != "":
		return geobus.AccuracyCity
	case result.RegionCode != "":
		return geobus.AccuracyRegion
	case result.CountryCode != "":
		return geobus.AccuracyCountry
	default:
		return geobus.AccuracyUnknown
	}
}
