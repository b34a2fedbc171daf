// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exposes tracker events as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/geopin/internal/tracker"
)

const namespace = "geopin"

// Recorder implements tracker.Recorder on top of Prometheus collectors.
type Recorder struct {
	gatherer prometheus.Gatherer

	Samples   *prometheus.CounterVec
	Estimates prometheus.Counter
	Errors    *prometheus.CounterVec
	State     prometheus.Gauge
	Accuracy  prometheus.Gauge
	Window    prometheus.Gauge
	LastFix   prometheus.Gauge
}

// New registers the metrics with reg. A nil reg selects the default Prometheus registry.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	samples, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_total",
		Help:      "Location samples received from the source, labeled by source and result.",
	}, []string{"source", "result"}))
	if err != nil {
		return nil, err
	}
	estimates, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "estimates_total",
		Help:      "Emitted position estimates.",
	}))
	if err != nil {
		return nil, err
	}
	errs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Emitted location errors, labeled by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	state, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "permission_state",
		Help:      "Permission state of the tracker (0 unknown, 1 prompting, 2 granted, 3 denied).",
	}))
	if err != nil {
		return nil, err
	}
	accuracy, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "estimate_accuracy_meters",
		Help:      "Combined accuracy of the latest estimate in meters.",
	}))
	if err != nil {
		return nil, err
	}
	window, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "estimate_samples",
		Help:      "Number of samples the latest estimate was averaged from.",
	}))
	if err != nil {
		return nil, err
	}
	lastFix, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "estimate_timestamp_seconds",
		Help:      "Unix time of the latest estimate.",
	}))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		gatherer:  gatherer,
		Samples:   samples,
		Estimates: estimates,
		Errors:    errs,
		State:     state,
		Accuracy:  accuracy,
		Window:    window,
		LastFix:   lastFix,
	}, nil
}

// Handler returns the /metrics handler for the registry the Recorder was registered with.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) SampleAccepted(source string) {
	r.Samples.WithLabelValues(source, "accepted").Inc()
}

func (r *Recorder) SampleRejected(source string) {
	r.Samples.WithLabelValues(source, "rejected").Inc()
}

func (r *Recorder) EstimateEmitted(est tracker.Estimate) {
	r.Estimates.Inc()
	r.Accuracy.Set(est.Accuracy)
	r.Window.Set(float64(est.Samples))
	r.LastFix.Set(float64(est.At.Unix()))
}

func (r *Recorder) ErrorEmitted(kind tracker.ErrorKind) {
	r.Errors.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) StateChanged(state tracker.State) {
	r.State.Set(float64(state))
}

// register registers c with reg. If an equal collector is already registered, the existing
// one is returned.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return existing, nil
	}
	return c, nil
}
