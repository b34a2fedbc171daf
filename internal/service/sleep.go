// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geopin/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow   = 2 * time.Second
	signalBufferSize = 8

	busReconnectDelay   = 5 * time.Second
	networkWakeupDelay  = 10 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// sleepBus is the part of a system bus connection the sleep monitor needs.
type sleepBus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

var connectSystemBus = func() (sleepBus, error) {
	return dbus.ConnectSystemBus()
}

// monitorSleepResume watches logind for resume events and refreshes the position after the
// system woke up. Lost bus connections are re-established until ctx is done.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume atomic.Int64

	for {
		conn := s.connectToSystemBus(ctx)
		if conn == nil {
			return
		}
		if !s.setupSleepMonitoring(ctx, conn) {
			continue
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(sigCh)
		s.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember))

		s.handleSleepSignals(ctx, sigCh, &lastResume)

		conn.RemoveSignal(sigCh)
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(reconnectDelay):
		}
	}
}

// connectToSystemBus connects to the system bus, retrying until ctx is done. The connection
// is closed once ctx is done.
func (s *Service) connectToSystemBus(ctx context.Context) sleepBus {
	for {
		conn, err := connectSystemBus()
		if err != nil {
			s.logger.Debug("failed to connect to system bus", logger.Err(err))
			select {
			case <-s.clock.After(busReconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})
		return conn
	}
}

func (s *Service) setupSleepMonitoring(ctx context.Context, conn sleepBus) bool {
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusWatchMember),
	); err != nil {
		s.logger.Error("failed to subscribe to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember), logger.Err(err))
		if err = conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}
		select {
		case <-s.clock.After(subscribeRetryDelay):
		case <-ctx.Done():
		}
		return false
	}
	return true
}

func (s *Service) handleSleepSignals(ctx context.Context, sigCh chan *dbus.Signal, lastResume *atomic.Int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-sigCh:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sgn, lastResume)
		}
	}
}

// processSleepSignal handles PrepareForSleep(false), which logind emits after resume.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal, lastResume *atomic.Int64) {
	if sgn == nil || len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok || sleeping {
		return
	}
	s.handleResumeEvent(ctx, lastResume)
}

func (s *Service) handleResumeEvent(ctx context.Context, lastResume *atomic.Int64) {
	now := s.clock.Now().UnixNano()
	if now-lastResume.Load() < int64(debounceWindow) {
		return
	}
	lastResume.Store(now)

	// Give the system time to bring the network and the location devices back
	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(networkWakeupDelay):
	}

	s.logger.Debug("resumed from sleep, refreshing position")
	s.refresher.Trigger()
}
