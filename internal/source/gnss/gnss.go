// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gnss implements a location source that reads NMEA 0183 sentences from a GNSS
// receiver attached to a serial port.
package gnss

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/source"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	name = "nmea"

	DefaultPort     = "/dev/ttyACM0"
	DefaultBaudRate = 9600

	// DefaultPeriod is the delay between two attempts to reopen the serial port.
	DefaultPeriod = time.Second * 5

	// UERE is the user equivalent range error in meters. Multiplied with the HDOP it gives
	// a rough horizontal accuracy.
	UERE = 5.0
)

// Source reads positions from a serial NMEA receiver.
type Source struct {
	port   string
	log    *logger.Logger
	clock  clockwork.Clock
	period time.Duration
	cache  *source.Cache
	openFn func() (io.ReadWriteCloser, error)
}

// New returns a Source for the serial device at port.
func New(port string, baud uint, log *logger.Logger, clock clockwork.Clock) *Source {
	if port == "" {
		port = DefaultPort
	}
	if baud == 0 {
		baud = DefaultBaudRate
	}
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	return &Source{
		port:   port,
		log:    log,
		clock:  clock,
		period: DefaultPeriod,
		cache:  source.NewCache(clock),
		openFn: func() (io.ReadWriteCloser, error) {
			return serial.Open(opts)
		},
	}
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return name
}

// CurrentFix reads sentences until the receiver reports a fix.
func (s *Source) CurrentFix(ctx context.Context, opts tracker.FixOptions) (tracker.Sample, error) {
	if sample, ok := s.cache.Get(opts.MaxCacheAge); ok {
		return sample, nil
	}

	var sample tracker.Sample
	found := false
	err := s.stream(ctx, opts.Timeout, func(fix tracker.Sample) bool {
		sample, found = fix, true
		return false
	})
	if err != nil {
		return sample, err
	}
	if !found {
		return sample, tracker.NewError(tracker.KindPositionUnavailable, "", errors.New("no fix received"))
	}
	return sample, nil
}

// Watch reports every fix of the receiver. A failing or silent port is reported to onError
// and reopened after the retry period.
func (s *Source) Watch(ctx context.Context, opts tracker.FixOptions, onSample func(tracker.Sample),
	onError func(error),
) (tracker.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			err := s.stream(ctx, opts.Timeout, func(sample tracker.Sample) bool {
				onSample(sample)
				return true
			})
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("NMEA stream ended, reopening serial port", logger.Err(err),
				slog.String("port", s.port), slog.Duration("retry_in", s.period))
			onError(err)

			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.period):
			}
		}
	}()
	return tracker.HandleFunc(cancel), nil
}

// stream opens the port and passes every decoded fix to fn until fn returns false, the port
// fails, ctx is done or no fix arrives within idle.
func (s *Source) stream(ctx context.Context, idle time.Duration, fn func(tracker.Sample) bool) error {
	port, err := s.openFn()
	if err != nil {
		return classify(fmt.Errorf("failed to open serial port %q: %w", s.port, err))
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Closing the port also unblocks the scanner goroutine
	defer func() {
		if err := port.Close(); err != nil {
			s.log.Error("failed to close serial port", logger.Err(err), slog.String("port", s.port))
		}
	}()

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	var timeout <-chan time.Time
	var timer clockwork.Timer
	if idle > 0 {
		timer = s.clock.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	dec := &decoder{clock: s.clock}
	for {
		select {
		case <-ctx.Done():
			return classify(ctx.Err())
		case err = <-errs:
			if err == nil {
				err = io.EOF
			}
			return classify(fmt.Errorf("failed to read from serial port %q: %w", s.port, err))
		case <-timeout:
			return tracker.NewError(tracker.KindTimeout, "",
				fmt.Errorf("no fix from serial port %q within %s", s.port, idle))
		case line := <-lines:
			sample, ok := dec.decode(line)
			if !ok {
				continue
			}
			if timer != nil {
				timer.Reset(idle)
			}
			s.cache.Put(sample)
			if !fn(sample) {
				return nil
			}
		}
	}
}

// decoder turns NMEA sentences into samples. GGA sentences carry the fix quality and HDOP
// and are preferred. RMC sentences provide the date and are only used as fixes if the
// receiver does not send GGA.
type decoder struct {
	clock  clockwork.Clock
	date   nmea.Date
	sawGGA bool
}

func (d *decoder) decode(line string) (tracker.Sample, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return tracker.Sample{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return tracker.Sample{}, false
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		gga := sentence.(nmea.GGA)
		d.sawGGA = true
		if gga.FixQuality == nmea.Invalid {
			return tracker.Sample{}, false
		}
		sample := tracker.Sample{Lat: gga.Latitude, Lon: gga.Longitude, At: d.timestamp(gga.Time)}
		if gga.HDOP > 0 {
			sample.Accuracy.Set(gga.HDOP * UERE)
		}
		return sample, true
	case nmea.TypeRMC:
		rmc := sentence.(nmea.RMC)
		if rmc.Date.Valid {
			d.date = rmc.Date
		}
		if d.sawGGA || rmc.Validity != nmea.ValidRMC {
			return tracker.Sample{}, false
		}
		return tracker.Sample{Lat: rmc.Latitude, Lon: rmc.Longitude, At: d.timestamp(rmc.Time)}, true
	default:
		return tracker.Sample{}, false
	}
}

// timestamp combines the time of a sentence with the last known date. Without a date the
// current time is used.
func (d *decoder) timestamp(t nmea.Time) time.Time {
	if !t.Valid || !d.date.Valid {
		return d.clock.Now()
	}
	return time.Date(2000+d.date.YY, time.Month(d.date.MM), d.date.DD, t.Hour, t.Minute, t.Second,
		t.Millisecond*int(time.Millisecond), time.UTC)
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return tracker.NewError(tracker.KindTimeout, "", err)
	case errors.Is(err, fs.ErrPermission):
		return tracker.NewError(tracker.KindPermissionDenied, "", err)
	default:
		return tracker.NewError(tracker.KindPositionUnavailable, "", err)
	}
}
