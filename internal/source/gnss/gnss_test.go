// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gnss

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	sentenceRMC      = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,170125,003.1,W*65"
	sentenceGGA      = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	sentenceGGANoFix = "$GPGGA,123520,4807.038,N,01131.000,E,0,00,,,M,,M,,*58"
	sentenceGGAMoved = "$GPGGA,123521,4807.100,N,01131.100,E,1,08,2.0,545.4,M,46.9,M,,*4C"
	sentenceRMCLater = "$GPRMC,123522,A,4807.200,N,01131.200,E,000.0,000.0,170125,,*11"
	sentenceBroken   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00"

	testLat = 48.1173
	testLon = 11.516666666666667
)

type fakePort struct {
	io.Reader
	closed   bool
	closeErr error
	mu       sync.Mutex
}

func (p *fakePort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.closeErr != nil {
		return p.closeErr
	}
	if c, ok := p.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newSource(t *testing.T, clock clockwork.Clock, ports ...*fakePort) *Source {
	t.Helper()
	src := New("/dev/test", 0, logger.Discard(), clock)
	var mu sync.Mutex
	src.openFn = func() (io.ReadWriteCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ports) == 0 {
			return nil, fs.ErrNotExist
		}
		port := ports[0]
		ports = ports[1:]
		return port, nil
	}
	return src
}

func lines(sentences ...string) *fakePort {
	return &fakePort{Reader: strings.NewReader(strings.Join(sentences, "\r\n") + "\r\n")}
}

func TestNew(t *testing.T) {
	src := New("", 0, nil, nil)
	if src == nil {
		t.Fatal("expected source to be non-nil")
	}
	if src.port != DefaultPort {
		t.Errorf("expected port to be %s, got %s", DefaultPort, src.port)
	}
	if !strings.EqualFold(src.Name(), name) {
		t.Errorf("expected source name to be %s, got %s", name, src.Name())
	}
}

func TestDecoder_decode(t *testing.T) {
	t.Run("GGA after RMC carries date and HDOP accuracy", func(t *testing.T) {
		dec := &decoder{clock: clockwork.NewFakeClock()}
		if _, ok := dec.decode(sentenceRMC); !ok {
			t.Fatal("expected RMC to be used while no GGA was seen")
		}
		sample, ok := dec.decode(sentenceGGA)
		if !ok {
			t.Fatal("expected GGA to be decoded")
		}
		if math.Abs(sample.Lat-testLat) > 1e-9 {
			t.Errorf("expected latitude to be %f, got %f", testLat, sample.Lat)
		}
		if math.Abs(sample.Lon-testLon) > 1e-9 {
			t.Errorf("expected longitude to be %f, got %f", testLon, sample.Lon)
		}
		if math.Abs(sample.Accuracy.Value()-4.5) > 1e-9 {
			t.Errorf("expected accuracy to be %f, got %f", 4.5, sample.Accuracy.Value())
		}
		want := time.Date(2025, time.January, 17, 12, 35, 19, 0, time.UTC)
		if !sample.At.Equal(want) {
			t.Errorf("expected timestamp to be %s, got %s", want, sample.At)
		}
	})
	t.Run("RMC is ignored once GGA was seen", func(t *testing.T) {
		dec := &decoder{clock: clockwork.NewFakeClock()}
		dec.decode(sentenceGGA)
		if _, ok := dec.decode(sentenceRMCLater); ok {
			t.Error("expected RMC to be ignored")
		}
		if !dec.date.Valid {
			t.Error("expected RMC date to be recorded")
		}
	})
	t.Run("GGA without date uses the clock", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		dec := &decoder{clock: clock}
		sample, ok := dec.decode(sentenceGGA)
		if !ok {
			t.Fatal("expected GGA to be decoded")
		}
		if !sample.At.Equal(clock.Now()) {
			t.Errorf("expected timestamp to be %s, got %s", clock.Now(), sample.At)
		}
	})
	t.Run("unusable sentences are skipped", func(t *testing.T) {
		tests := []struct {
			name string
			line string
		}{
			{"no fix", sentenceGGANoFix},
			{"bad checksum", sentenceBroken},
			{"no sentence", "hello world"},
			{"empty", ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				dec := &decoder{clock: clockwork.NewFakeClock()}
				if _, ok := dec.decode(tt.line); ok {
					t.Errorf("expected %q to be skipped", tt.line)
				}
			})
		}
	})
}

func TestSource_CurrentFix(t *testing.T) {
	t.Run("first fix is returned", func(t *testing.T) {
		port := lines("garbage", sentenceGGANoFix, sentenceRMC, sentenceGGAMoved, sentenceGGA)
		src := newSource(t, clockwork.NewFakeClock(), port)
		sample, err := src.CurrentFix(t.Context(), tracker.FixOptions{})
		if err != nil {
			t.Fatalf("failed to get current fix: %s", err)
		}
		if math.Abs(sample.Accuracy.Value()-10) > 1e-9 {
			t.Errorf("expected accuracy to be %f, got %f", 10.0, sample.Accuracy.Value())
		}
		if !port.isClosed() {
			t.Error("expected serial port to be closed")
		}
	})
	t.Run("failing close is logged", func(t *testing.T) {
		port := lines(sentenceGGA)
		port.closeErr = errors.New("intentionally failing")
		src := newSource(t, clockwork.NewFakeClock(), port)
		buf := bytes.NewBuffer(nil)
		src.log = logger.NewLogger(slog.LevelError, buf)
		if _, err := src.CurrentFix(t.Context(), tracker.FixOptions{}); err != nil {
			t.Fatalf("failed to get current fix: %s", err)
		}
		if !port.isClosed() {
			t.Error("expected serial port to be closed")
		}
		if !strings.Contains(buf.String(), "failed to close serial port") {
			t.Errorf("expected close error to be logged, got %q", buf.String())
		}
	})
	t.Run("stream without fix fails", func(t *testing.T) {
		src := newSource(t, clockwork.NewFakeClock(), lines(sentenceGGANoFix))
		_, err := src.CurrentFix(t.Context(), tracker.FixOptions{})
		if !errors.Is(err, tracker.ErrPositionUnavailable) {
			t.Errorf("expected error to be position unavailable, got %v", err)
		}
	})
	t.Run("missing port fails", func(t *testing.T) {
		src := newSource(t, clockwork.NewFakeClock())
		_, err := src.CurrentFix(t.Context(), tracker.FixOptions{})
		if !errors.Is(err, tracker.ErrPositionUnavailable) {
			t.Errorf("expected error to be position unavailable, got %v", err)
		}
	})
	t.Run("inaccessible port is a permission error", func(t *testing.T) {
		src := newSource(t, clockwork.NewFakeClock())
		src.openFn = func() (io.ReadWriteCloser, error) {
			return nil, &fs.PathError{Op: "open", Path: "/dev/test", Err: fs.ErrPermission}
		}
		_, err := src.CurrentFix(t.Context(), tracker.FixOptions{})
		if !errors.Is(err, tracker.ErrPermissionDenied) {
			t.Errorf("expected error to be permission denied, got %v", err)
		}
	})
	t.Run("silent port times out", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			reader, writer := io.Pipe()
			defer func() { _ = writer.Close() }()
			src := newSource(t, clock, &fakePort{Reader: reader})

			var err error
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, err = src.CurrentFix(t.Context(), tracker.FixOptions{Timeout: 20 * time.Second})
			}()
			synctest.Wait()
			clock.Advance(20 * time.Second)
			<-done

			if !errors.Is(err, tracker.ErrTimeout) {
				t.Errorf("expected error to be a timeout, got %v", err)
			}
		})
	})
}

func TestSource_Watch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		clock := clockwork.NewFakeClock()
		src := newSource(t, clock, lines(sentenceRMC, sentenceGGA, sentenceGGAMoved), lines(sentenceGGA))

		var mu sync.Mutex
		var samples []tracker.Sample
		var errs []error
		handle, err := src.Watch(ctx, tracker.FixOptions{},
			func(s tracker.Sample) { mu.Lock(); samples = append(samples, s); mu.Unlock() },
			func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() },
		)
		if err != nil {
			t.Fatalf("failed to start watch: %s", err)
		}
		synctest.Wait()
		clock.Advance(DefaultPeriod)
		synctest.Wait()
		handle.Clear()
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if len(samples) != 4 {
			t.Errorf("expected 4 samples, got %d", len(samples))
		}
		if len(errs) != 2 {
			t.Fatalf("expected 2 errors for the closed streams, got %d", len(errs))
		}
		if !errors.Is(errs[0], io.EOF) {
			t.Errorf("expected stream to end with EOF, got %s", errs[0])
		}
	})
}
