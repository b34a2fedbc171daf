// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt publishes position estimates to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wneessen/geopin/internal/geobus"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/tracker"
)

const (
	DefaultTopic = "geopin/position"

	publishTimeout = time.Second * 5
	connectTimeout = time.Second * 10
	quiesce        = 250 // milliseconds
)

var (
	ErrNoBroker     = errors.New("mqtt broker address is required")
	ErrNotConnected = errors.New("mqtt client is not connected")
)

// Config configures the Publisher.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	// MinDistance in meters an estimate has to move before it is published again.
	MinDistance float64
	QoS         byte
	Retain      bool
}

// Message is the JSON payload of a published estimate.
type Message struct {
	tracker.Estimate
	Source string `json:"source,omitempty"`
}

// Publisher publishes estimates that moved significantly since the last publication.
type Publisher struct {
	client paho.Client
	config Config
	source string
	log    *logger.Logger

	mu   sync.Mutex
	last *geobus.Coordinate
}

// New returns a Publisher for the broker in cfg. Without a client id, a random one is used.
func New(cfg Config, source string, log *logger.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "geopin-" + uuid.NewString()
	}
	if log == nil {
		log = logger.Discard()
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("lost connection to MQTT broker", logger.Err(err), slog.String("broker", cfg.Broker))
		})
	return newPublisher(paho.NewClient(opts), cfg, source, log), nil
}

func newPublisher(client paho.Client, cfg Config, source string, log *logger.Logger) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = geobus.DistanceThreshold
	}
	return &Publisher{client: client, config: cfg, source: source, log: log}
}

// Connect connects to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %q: %w", p.config.Broker, err)
	}
	p.log.Info("connected to MQTT broker", slog.String("broker", p.config.Broker),
		slog.String("client_id", p.config.ClientID))
	return nil
}

// Publish sends est unless it is within the minimum distance of the last published estimate
// and not considerably more accurate. It reports whether the estimate was sent.
func (p *Publisher) Publish(est tracker.Estimate) (bool, error) {
	coord := geobus.Coordinate{Lat: est.Lat, Lon: est.Lon, Acc: est.Accuracy}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && !coord.ChangedBeyond(*p.last, p.config.MinDistance) {
		return false, nil
	}
	if !p.client.IsConnectionOpen() {
		return false, ErrNotConnected
	}

	payload, err := json.Marshal(Message{Estimate: est, Source: p.source})
	if err != nil {
		return false, fmt.Errorf("failed to encode estimate: %w", err)
	}
	token := p.client.Publish(p.config.Topic, p.config.QoS, p.config.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return false, fmt.Errorf("publishing to %q timed out", p.config.Topic)
	}
	if err = token.Error(); err != nil {
		return false, fmt.Errorf("failed to publish to %q: %w", p.config.Topic, err)
	}
	p.last = &coord
	return true, nil
}

// HandleEstimate publishes est and logs failures. It can be used as a tracker subscriber.
func (p *Publisher) HandleEstimate(est tracker.Estimate) {
	sent, err := p.Publish(est)
	if err != nil {
		p.log.Error("failed to publish estimate", logger.Err(err))
		return
	}
	if sent {
		p.log.Debug("published estimate", slog.String("topic", p.config.Topic),
			slog.Float64("lat", est.Lat), slog.Float64("lon", est.Lon))
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(quiesce)
}
