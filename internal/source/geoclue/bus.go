// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName       = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"

	signalBufferSize = 8
)

var errBusClosed = errors.New("system bus connection closed")

// Location is a position as reported by GeoClue.
type Location struct {
	Lat      float64
	Lon      float64
	Accuracy float64
	At       time.Time
}

// manager is the part of the GeoClue D-Bus API used by the Source.
type manager interface {
	// AvailableAccuracyLevel returns the accuracy level GeoClue grants to this application.
	AvailableAccuracyLevel(ctx context.Context) (uint32, error)

	// WatchAccuracyLevel calls fn with every change of the available accuracy level until
	// ctx is done.
	WatchAccuracyLevel(ctx context.Context, fn func(uint32)) error

	// Track creates and starts a client and passes every location it reports to onLocation
	// until ctx is done. It returns once the client is started.
	Track(ctx context.Context, desktopID string, level uint32, onLocation func(Location),
		onError func(error)) error

	// Close stops all started clients and closes the connection.
	Close() error
}

type dbusManager struct {
	conn *dbus.Conn

	mu      sync.Mutex
	clients []dbus.BusObject
}

func dialSystemBus(ctx context.Context) (manager, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &dbusManager{conn: conn}, nil
}

func (m *dbusManager) AvailableAccuracyLevel(context.Context) (uint32, error) {
	value, err := m.conn.Object(busName, managerPath).GetProperty(managerIface + ".AvailableAccuracyLevel")
	if err != nil {
		return 0, fmt.Errorf("failed to get available accuracy level: %w", err)
	}
	level, ok := value.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected type %s for available accuracy level", value.Signature())
	}
	return level, nil
}

func (m *dbusManager) WatchAccuracyLevel(ctx context.Context, fn func(uint32)) error {
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(managerPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to accuracy level changes: %w", err)
	}
	signals := make(chan *dbus.Signal, signalBufferSize)
	m.conn.Signal(signals)

	go func() {
		defer m.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path != managerPath || sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
					continue
				}
				changed, ok := sig.Body[1].(map[string]dbus.Variant)
				if !ok {
					continue
				}
				if value, ok := changed["AvailableAccuracyLevel"]; ok {
					if level, ok := value.Value().(uint32); ok {
						fn(level)
					}
				}
			}
		}
	}()
	return nil
}

func (m *dbusManager) Track(ctx context.Context, desktopID string, level uint32, onLocation func(Location),
	onError func(error),
) error {
	var path dbus.ObjectPath
	if err := m.conn.Object(busName, managerPath).CallWithContext(ctx, managerIface+".GetClient", 0).
		Store(&path); err != nil {
		return fmt.Errorf("failed to get geoclue client: %w", err)
	}
	client := m.conn.Object(busName, path)
	if err := client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(desktopID)); err != nil {
		return fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err := client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(level)); err != nil {
		return fmt.Errorf("failed to set requested accuracy level: %w", err)
	}

	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to location updates: %w", err)
	}
	signals := make(chan *dbus.Signal, signalBufferSize)
	m.conn.Signal(signals)

	if err := client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		m.conn.RemoveSignal(signals)
		return fmt.Errorf("failed to start geoclue client: %w", err)
	}
	m.mu.Lock()
	m.clients = append(m.clients, client)
	m.mu.Unlock()

	go func() {
		defer m.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					if ctx.Err() == nil {
						onError(errBusClosed)
					}
					return
				}
				if sig.Path != path || sig.Name != clientIface+".LocationUpdated" || len(sig.Body) != 2 {
					continue
				}
				locPath, ok := sig.Body[1].(dbus.ObjectPath)
				if !ok {
					continue
				}
				loc, err := m.location(locPath)
				if err != nil {
					onError(err)
					continue
				}
				onLocation(loc)
			}
		}
	}()
	return nil
}

func (m *dbusManager) location(path dbus.ObjectPath) (Location, error) {
	obj := m.conn.Object(busName, path)
	var loc Location
	for prop, target := range map[string]*float64{
		"Latitude":  &loc.Lat,
		"Longitude": &loc.Lon,
		"Accuracy":  &loc.Accuracy,
	} {
		if err := obj.StoreProperty(locationIface+"."+prop, target); err != nil {
			return loc, fmt.Errorf("failed to get location %s: %w", prop, err)
		}
	}

	var ts struct {
		Seconds      uint64
		Microseconds uint64
	}
	if err := obj.StoreProperty(locationIface+".Timestamp", &ts); err == nil && ts.Seconds > 0 {
		loc.At = time.Unix(int64(ts.Seconds), int64(ts.Microseconds)*int64(time.Microsecond))
	}
	return loc, nil
}

func (m *dbusManager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.mu.Unlock()
	for _, client := range clients {
		_ = client.Call(clientIface+".Stop", 0).Err
	}
	return m.conn.Close()
}
