// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geopin/internal/config"
	"github.com/wneessen/geopin/internal/i18n"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/presenter"
	"github.com/wneessen/geopin/internal/tracker"
)

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("intentionally failing")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

type fakeSignalSource struct {
	mu sync.Mutex
	ch chan<- os.Signal
}

func (f *fakeSignalSource) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
}

func (f *fakeSignalSource) Stop(chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = nil
}

func (f *fakeSignalSource) send(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		f.ch <- sig
	}
}

func TestMain(m *testing.M) {
	_ = os.Setenv("GEOPIN_LOCALE", "en")
	os.Exit(m.Run())
}

func testService(_ *testing.T, nilLogger bool) (*Service, error) {
	conf, err := config.New()
	if err != nil {
		return nil, err
	}

	var log *logger.Logger
	if !nilLogger {
		log = logger.NewLogger(conf.LogLevel, io.Discard)
	}

	lang, err := i18n.New(conf.Locale)
	if err != nil {
		return nil, err
	}
	return New(conf, log, lang)
}

// fileSource configures the file location source with the given content. It has to be
// called outside of a synctest bubble.
func fileSource(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geolocation")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write geolocation file: %s", err)
	}
	t.Setenv("GEOPIN_LOCATION_SOURCE", "file")
	t.Setenv("GEOPIN_LOCATION_FILE_PATH", path)
}

// shutdownScheduler stops the scheduler of a service that was created but never run, so
// that no scheduler goroutines outlive a synctest bubble.
func shutdownScheduler(t *testing.T, serv *Service) {
	t.Helper()
	if err := serv.scheduler.Shutdown(); err != nil {
		t.Logf("failed to shut down scheduler: %s", err)
	}
}

func noSystemBus(t *testing.T) {
	t.Helper()
	orig := connectSystemBus
	connectSystemBus = func() (sleepBus, error) {
		return nil, errors.New("no system bus in tests")
	}
	t.Cleanup(func() { connectSystemBus = orig })
}

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		if serv.source.Name() != "gpsd" {
			t.Errorf("expected default source to be gpsd, got %s", serv.source.Name())
		}
		if serv.publisher != nil {
			t.Error("expected MQTT publisher to be disabled by default")
		}
	})
	t.Run("map is centered on the screen", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		pan := serv.coord.Snapshot().View.Pan
		if pan.X != 240 || pan.Y != 100 {
			t.Errorf("expected pan to be 240,100, got %+v", pan)
		}
	})
	t.Run("invalid template configuration should fail", func(t *testing.T) {
		t.Setenv("GEOPIN_TEMPLATES_TEXT", "{{")
		_, err := testService(t, false)
		if err == nil {
			t.Fatal("expected service creation to fail")
		}
		wantErr := "failed to parse template"
		if !strings.Contains(err.Error(), wantErr) {
			t.Errorf("expected error to contain %q, got %q", wantErr, err)
		}
	})
	t.Run("nil logger fails", func(t *testing.T) {
		_, err := testService(t, true)
		if !errors.Is(err, ErrNoLogger) {
			t.Errorf("expected error to be %s, got %v", ErrNoLogger, err)
		}
	})
	t.Run("MQTT publisher is created when enabled", func(t *testing.T) {
		t.Setenv("GEOPIN_MQTT_ENABLED", "true")
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		if serv.publisher == nil {
			t.Error("expected MQTT publisher to be set")
		}
	})
}

func TestService_selectSource(t *testing.T) {
	tests := []struct {
		source   string
		wantName string
		wantFail bool
	}{
		{"gpsd", "gpsd", false},
		{"geoclue", "geoclue", false},
		{"nmea", "nmea", false},
		{"file", "file", false},
		{"ichnaea", "ichnaea", false},
		{"geoip", "geoip", false},
		{"carrier-pigeon", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.config.Location.Source = tc.source
			src, err := serv.selectSource()
			if tc.wantFail {
				if err == nil {
					t.Fatal("expected source selection to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to select source: %s", err)
			}
			if src.Name() != tc.wantName {
				t.Errorf("expected source name to be %q, got %q", tc.wantName, src.Name())
			}
		})
	}
}

func TestService_printOutput(t *testing.T) {
	t.Run("print output to a buffer", func(t *testing.T) {
		t.Setenv("GEOPIN_TEMPLATES_TEXT", "text")
		t.Setenv("GEOPIN_TEMPLATES_TOOLTIP", "tooltip")

		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf
		serv.printOutput(t.Context())

		var output presenter.Output
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal JSON: %s", err)
		}
		if output.Text != "text" {
			t.Errorf("expected Text to be %q, got %q", "text", output.Text)
		}
		if output.Tooltip != "tooltip" {
			t.Errorf("expected Tooltip to be %q, got %q", "tooltip", output.Tooltip)
		}
		if len(output.Classes) != 2 {
			t.Fatalf("expected Classes to have length 2, got %d", len(output.Classes))
		}
		if output.Classes[0] != presenter.OutputClass {
			t.Errorf("expected first class to be %q, got %q", presenter.OutputClass, output.Classes[0])
		}
		if output.Classes[1] != string(presenter.StatusAcquiring) {
			t.Errorf("expected 2nd class to be %q, got %q", presenter.StatusAcquiring, output.Classes[1])
		}
	})
	t.Run("print alt_text to a buffer", func(t *testing.T) {
		t.Setenv("GEOPIN_TEMPLATES_ALT_TEXT", "alt_text")

		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf
		serv.displayAltText = true
		serv.printOutput(t.Context())

		var output presenter.Output
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal JSON: %s", err)
		}
		if output.Text != "alt_text" {
			t.Errorf("expected Text to be %q, got %q", "alt_text", output.Text)
		}
	})
	t.Run("estimate is shown", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := bytes.NewBuffer(nil)
		serv.output = buf
		serv.handleEstimate(tracker.Estimate{Lat: 37.5, Lon: -122.5, Accuracy: 8, Samples: 1})
		serv.printOutput(t.Context())

		var output presenter.Output
		if err = json.Unmarshal(buf.Bytes(), &output); err != nil {
			t.Fatalf("failed to unmarshal JSON: %s", err)
		}
		if output.Text != "📍 Location found" {
			t.Errorf("expected Text to be %q, got %q", "📍 Location found", output.Text)
		}
		if !strings.Contains(output.Tooltip, "37.500000, -122.500000") {
			t.Errorf("expected tooltip to contain the coordinates, got %q", output.Tooltip)
		}
	})
	t.Run("output is empty on failing writer", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		logBuf := bytes.NewBuffer(nil)
		serv.logger = logger.NewLogger(slog.LevelError, logBuf)
		serv.output = &failWriter{}
		serv.printOutput(t.Context())
		if !strings.Contains(logBuf.String(), "failed to encode marker output") {
			t.Errorf("expected encoding error to be logged, got %q", logBuf.String())
		}
	})
}

func TestService_HandleAltTextToggleSignal(t *testing.T) {
	t.Setenv("GEOPIN_TEMPLATES_TEXT", "text")
	t.Setenv("GEOPIN_TEMPLATES_ALT_TEXT", "alt")
	synctest.Test(t, func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		defer shutdownScheduler(t, serv)
		buf := &syncBuffer{}
		serv.output = buf

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		sigChan := make(chan os.Signal, 1)
		go serv.HandleAltTextToggleSignal(ctx, sigChan)

		sigChan <- os.Interrupt
		synctest.Wait()
		sigChan <- os.Interrupt
		synctest.Wait()

		lines := buf.Lines()
		if len(lines) != 2 {
			t.Fatalf("expected 2 output lines, got %d", len(lines))
		}
		for i, want := range []string{"alt", "text"} {
			var output presenter.Output
			if err = json.Unmarshal([]byte(lines[i]), &output); err != nil {
				t.Fatalf("failed to unmarshal JSON: %s", err)
			}
			if output.Text != want {
				t.Errorf("expected line %d to be %q, got %q", i, want, output.Text)
			}
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("position from the geolocation file is shown", func(t *testing.T) {
		noSystemBus(t)
		fileSource(t, "37.5,-122.5,10\n")
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{}
			serv.output = buf
			signals := &fakeSignalSource{}
			serv.signals = signals

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan error, 1)
			go func() {
				done <- serv.Run(ctx)
			}()
			synctest.Wait()

			if serv.tracker.State() != tracker.StateGranted {
				t.Errorf("expected tracker to be granted, got %s", serv.tracker.State())
			}
			lines := buf.Lines()
			var output presenter.Output
			if err = json.Unmarshal([]byte(lines[len(lines)-1]), &output); err != nil {
				t.Fatalf("failed to unmarshal JSON: %s", err)
			}
			if output.Alt != string(presenter.StatusLocated) {
				t.Errorf("expected status to be %q, got %q", presenter.StatusLocated, output.Alt)
			}

			signals.send(os.Interrupt)
			synctest.Wait()
			serv.displayAltLock.RLock()
			alt := serv.displayAltText
			serv.displayAltLock.RUnlock()
			if !alt {
				t.Error("expected alt text mode after the toggle signal")
			}

			cancel()
			synctest.Wait()
			select {
			case err = <-done:
				if err != nil {
					t.Errorf("failed to run service: %s", err)
				}
			default:
				t.Fatal("expected service to return after the context was cancelled")
			}
			if serv.tracker.State() != tracker.StateUnknown {
				t.Errorf("expected tracker to be stopped, got %s", serv.tracker.State())
			}
		})
	})
	t.Run("missing geolocation file prompts", func(t *testing.T) {
		noSystemBus(t)
		t.Setenv("GEOPIN_LOCATION_SOURCE", "file")
		t.Setenv("GEOPIN_LOCATION_FILE_PATH", filepath.Join(t.TempDir(), "missing"))
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.output = io.Discard
			serv.signals = &fakeSignalSource{}

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan error, 1)
			go func() {
				done <- serv.Run(ctx)
			}()
			synctest.Wait()
			if snap := serv.coord.Snapshot(); snap.HasFix() {
				t.Error("expected no fix without a geolocation file")
			}
			cancel()
			synctest.Wait()
			if err = <-done; err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
}

type fakeBus struct {
	matchErr error
	closed   atomic.Int32
	mu       sync.Mutex
	ch       chan<- *dbus.Signal
}

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error { return b.matchErr }

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = ch
}

func (b *fakeBus) RemoveSignal(chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = nil
}

func (b *fakeBus) Close() error {
	b.closed.Add(1)
	return nil
}

func (b *fakeBus) emit(sleeping bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch <- &dbus.Signal{Name: dbusInterface + "." + dbusWatchMember, Body: []any{sleeping}}
	}
}

func TestService_monitorSleepResume(t *testing.T) {
	t.Run("resume refreshes the tracker", func(t *testing.T) {
		bus := &fakeBus{}
		orig := connectSystemBus
		connectSystemBus = func() (sleepBus, error) { return bus, nil }
		t.Cleanup(func() { connectSystemBus = orig })
		fileSource(t, "37.5,-122.5,10\n")

		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			defer shutdownScheduler(t, serv)
			serv.output = io.Discard
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			serv.tracker.Start(ctx, serv.handleEstimate, serv.coord.HandleError)
			go serv.refresher.Start(ctx)
			go serv.monitorSleepResume(ctx)
			synctest.Wait()
			before := serv.coord.Snapshot().Estimate
			if before == nil {
				t.Fatal("expected an estimate before sleeping")
			}

			bus.emit(true)
			bus.emit(false)
			time.Sleep(networkWakeupDelay + time.Second)
			synctest.Wait()
			if serv.tracker.State() != tracker.StateGranted {
				t.Errorf("expected tracker to stay granted, got %s", serv.tracker.State())
			}

			cancel()
			synctest.Wait()
			if bus.closed.Load() == 0 {
				t.Error("expected the bus connection to be closed")
			}
		})
	})
	t.Run("non-boolean signals are ignored", func(t *testing.T) {
		serv, err := testService(t, false)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		var last atomic.Int64
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []any{"awake"}}, &last)
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []any{}}, &last)
		serv.processSleepSignal(t.Context(), nil, &last)
		if last.Load() != 0 {
			t.Error("expected no resume to be recorded")
		}
	})
	t.Run("failing subscription closes the connection", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, err := testService(t, false)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			defer shutdownScheduler(t, serv)
			bus := &fakeBus{matchErr: errors.New("access denied")}
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			go cancel()
			if serv.setupSleepMonitoring(ctx, bus) {
				t.Error("expected subscription to fail")
			}
			if bus.closed.Load() != 1 {
				t.Errorf("expected the connection to be closed once, got %d", bus.closed.Load())
			}
		})
	})
}
