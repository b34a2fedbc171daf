// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a location source that resolves nearby Wi-Fi access points
// through an Ichnaea compatible geolocation API such as beaconDB.
package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mdlayher/wifi"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/http"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "ichnaea"

	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	DefaultPeriod   = time.Minute * 5

	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Minute * 2
)

var ErrNoHTTPClient = errors.New("http client is required")

// Source looks up the position of the host via the Wi-Fi access points in range.
type Source struct {
	endpoint string
	http     *http.Client
	log      *logger.Logger
	clock    clockwork.Clock
	period   time.Duration
	cache    *source.Cache
	scanFn   func() ([]WirelessNetwork, error)

	apLock  sync.RWMutex
	aps     []WirelessNetwork
	scanned time.Time
}

// APIResult is the response of the geolocate API.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// WirelessNetwork is a single access point as sent to the geolocate API.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type request struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// New returns a Source querying endpoint. Without Wi-Fi support on the host, the lookup
// falls back to the IP address of the request.
func New(client *http.Client, endpoint string, log *logger.Logger, clock clockwork.Clock) (*Source, error) {
	if client == nil {
		return nil, ErrNoHTTPClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	src := &Source{
		endpoint: endpoint,
		http:     client,
		log:      log,
		clock:    clock,
		period:   DefaultPeriod,
		cache:    source.NewCache(clock),
		scanFn:   func() ([]WirelessNetwork, error) { return nil, nil },
	}
	wlan, err := wifi.New()
	if err != nil {
		log.Warn("no Wi-Fi support, locating by IP address only", logger.Err(err))
		return src, nil
	}
	src.scanFn = func() ([]WirelessNetwork, error) {
		return wifiAccessPoints(wlan)
	}
	return src, nil
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// CurrentFix performs a single lookup. Access points are only scanned for high accuracy
// requests.
func (s *Source) CurrentFix(ctx context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}
	if opts.HighAccuracy {
		s.refreshAccessPoints(false)
	}
	return s.locate(ctx)
}

// Watch repeats the lookup once per period and reports positions that changed
// significantly. Access points are rescanned in the background.
func (s *Source) Watch(ctx context.Context, _ tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.refreshAccessPoints(true)
	go s.monitorWifiAccessPoints(ctx)
	handle := source.PollWatch(ctx, s.clock, s.period, source.Dedup(s.locate, tracker.DefaultFallbackAccuracy),
		onSample, onError)
	return tracker.HandleFunc(func() {
		handle.Clear()
		cancel()
	}), nil
}

func (s *Source) monitorWifiAccessPoints(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wifiScanTime):
		}
		s.refreshAccessPoints(true)
	}
}

// refreshAccessPoints scans for access points unless the last scan is recent enough.
func (s *Source) refreshAccessPoints(force bool) {
	s.apLock.RLock()
	fresh := !s.scanned.IsZero() && s.clock.Since(s.scanned) < wifiScanTime
	s.apLock.RUnlock()
	if fresh && !force {
		return
	}

	list, err := s.scanFn()
	if err != nil {
		s.log.Debug("failed to scan Wi-Fi access points", logger.Err(err))
		return
	}
	s.apLock.Lock()
	s.aps = list
	s.scanned = s.clock.Now()
	s.apLock.Unlock()
}

func (s *Source) accessPoints() []WirelessNetwork {
	s.apLock.RLock()
	defer s.apLock.RUnlock()
	return s.aps
}

func (s *Source) locate(ctx context.Context) (tracker.Sample, error) {
	req := request{
		ConsiderIP:   true,
		Accesspoints: s.accessPoints(),
	}
	result := new(APIResult)
	status, err := s.http.PostJSON(ctx, s.endpoint, result, req, lookupTimeout)
	if err != nil {
		err = fmt.Errorf("failed to get geolocation data from API: %w", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return tracker.Sample{}, tracker.NewError(tracker.KindTimeout, "", err)
		}
		return tracker.Sample{}, tracker.NewError(tracker.KindPositionUnavailable, "", err)
	}
	switch {
	case status == stdhttp.StatusNotFound:
		return tracker.Sample{}, tracker.NewError(tracker.KindPositionUnavailable, "",
			errors.New("no location found for the access points in range"))
	case status != stdhttp.StatusOK:
		return tracker.Sample{}, tracker.NewError(tracker.KindPositionUnavailable, "",
			fmt.Errorf("geolocation API returned unexpected status %d", status))
	}

	s.log.Debug("located via ichnaea", slog.Int("access_points", len(req.Accesspoints)),
		slog.Float64("accuracy", result.Accuracy))
	sample := tracker.NewSample(
		geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		geobus.Truncate(result.Accuracy, geobus.TruncPrecision),
		s.clock.Now(),
	)
	s.cache.Put(sample)
	return sample, nil
}

func wifiAccessPoints(wlan *wifi.Client) ([]WirelessNetwork, error) {
	var list []WirelessNetwork
	ifaces, err := wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}
	return list, nil
}
