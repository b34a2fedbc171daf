// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2
	watchCommand          = `?WATCH={"enable":true,"json":true}` + "\n"
)

// ErrStreamClosed is returned by Stream when gpsd closes the connection.
var ErrStreamClosed = errors.New("gpspoll: gpsd closed the connection")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
	Time time.Time
}

// tpvReport is a gpsd TPV report. Eph and Time are declared on the outer struct so that they
// are decoded independently of the go-gpsd version in use.
type tpvReport struct {
	gpsd.TPVReport
	Eph  float64   `json:"eph"`
	Time time.Time `json:"time"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables a WATCH and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	conn, err := c.dial(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect context deadline if present, otherwise we add a safety net so we don't hang
	// forever if ctx has no deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		fix, ok := parseTPV(scanner.Bytes())
		if !ok {
			continue
		}
		return fix, nil
	}

	if err = scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, fmt.Errorf("failed to scan GPSd response: %w", err)
	}

	return zero, fmt.Errorf("no TPV response received from GPSd")
}

// Stream connects to gpsd and calls fn for every TPV report until ctx is done or the
// connection fails. If idle is positive, a connection that stays silent for longer than idle
// is treated as failed. Stream returns ctx.Err() when ctx ends the stream.
func (c *Client) Stream(ctx context.Context, idle time.Duration, fn func(Fix)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		if !scanner.Scan() {
			break
		}
		if fix, ok := parseTPV(scanner.Bytes()); ok {
			fn(fix)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err = scanner.Err(); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("gpspoll: no data from gpsd within %s: %w", idle, context.DeadlineExceeded)
		}
		return fmt.Errorf("gpspoll: failed to read from gpsd: %w", err)
	}
	return ErrStreamClosed
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= int(gpsd.Mode2D)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	if _, err = fmt.Fprint(conn, watchCommand); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}
	return conn, nil
}

func parseTPV(line []byte) (Fix, bool) {
	var report tpvReport
	if err := json.Unmarshal(line, &report); err != nil {
		return Fix{}, false
	}
	if report.Class != "TPV" {
		return Fix{}, false
	}
	return Fix{
		Lat:  report.Lat,
		Lon:  report.Lon,
		Alt:  report.Alt,
		Acc:  horizontalAccuracyMeters(report),
		Mode: int(report.Mode),
		Time: report.Time,
	}, true
}

func horizontalAccuracyMeters(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	default:
		return horizontalAccuracyFallback(tpv)
	}
}

func horizontalAccuracyFallback(tpv tpvReport) float64 {
	switch tpv.Mode {
	case gpsd.Mode3D:
		return fallbackAccuracy3DFix
	case gpsd.Mode2D:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
