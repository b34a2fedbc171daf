// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geopin/internal/api"
	"github.com/wneessen/geopin/internal/config"
	"github.com/wneessen/geopin/internal/job"
	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/marker"
	"github.com/wneessen/geopin/internal/metrics"
	"github.com/wneessen/geopin/internal/mqtt"
	"github.com/wneessen/geopin/internal/presenter"
	"github.com/wneessen/geopin/internal/tracker"
	"github.com/wneessen/geopin/internal/viewport"
)

const DesktopID = "geopin"

var ErrNoLogger = errors.New("logger is required")

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	clock     clockwork.Clock
	output    io.Writer
	scheduler gocron.Scheduler
	signals   signalSource

	source    tracker.Source
	tracker   *tracker.Tracker
	coord     *marker.Coordinator
	presenter *presenter.Presenter
	metrics   *metrics.Recorder
	publisher *mqtt.Publisher
	refresher *job.Job

	outputLock     sync.Mutex
	displayAltLock sync.RWMutex
	displayAltText bool
}

func New(conf *config.Config, log *logger.Logger, lang *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, ErrNoLogger
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	service := &Service{
		config:    conf,
		logger:    log,
		t:         lang,
		clock:     clockwork.NewRealClock(),
		output:    os.Stdout,
		scheduler: scheduler,
		signals:   stdLibSignalSource{},
	}

	service.source, err = service.selectSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create location source: %w", err)
	}
	service.metrics, err = metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	service.tracker = tracker.New(service.source, log,
		tracker.WithClock(service.clock),
		tracker.WithWindowSize(conf.Tracker.WindowSize),
		tracker.WithFallbackAccuracy(conf.Tracker.FallbackAccuracy),
		tracker.WithSettleDelay(conf.Tracker.SettleDelay),
		tracker.WithFixOptions(service.fixOptions()),
		tracker.WithRecorder(service.metrics),
	)

	service.coord, err = service.createCoordinator()
	if err != nil {
		return nil, err
	}

	service.presenter, err = presenter.New(conf, lang, service.source.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if conf.MQTT.Enabled {
		service.publisher, err = mqtt.New(mqtt.Config{
			Broker:      conf.MQTT.Broker,
			Topic:       conf.MQTT.Topic,
			ClientID:    conf.MQTT.ClientID,
			MinDistance: conf.MQTT.MinDistance,
			QoS:         conf.MQTT.QoS,
			Retain:      conf.MQTT.Retain,
		}, service.source.Name(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT publisher: %w", err)
		}
	}

	service.refresher = job.NewWithClock(service.clock, conf.Intervals.PermissionPoll,
		func(context.Context) { service.tracker.Refresh() })

	return service, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printOutput,
		"marker_output_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	if s.publisher != nil {
		if err := s.publisher.Connect(ctx); err != nil {
			s.logger.Error("failed to connect to MQTT broker", logger.Err(err))
		}
	}

	// Print the module output whenever the marker changes
	unsubSnapshots := s.coord.Subscribe(func(marker.Snapshot) { s.printOutput(ctx) })

	s.tracker.Start(ctx, s.handleEstimate, s.coord.HandleError)
	go s.refresher.Start(ctx)
	go s.monitorSleepResume(ctx)

	sigChan := make(chan os.Signal, 1)
	s.signals.Notify(sigChan, syscall.SIGUSR1)
	go s.HandleAltTextToggleSignal(ctx, sigChan)

	if s.config.API.Enabled {
		go s.serveAPI(ctx)
	}

	s.printOutput(ctx)

	// Wait for the context to cancel
	<-ctx.Done()
	s.signals.Stop(sigChan)
	s.tracker.Stop()
	unsubSnapshots()
	if s.publisher != nil {
		s.publisher.Close()
	}
	return s.scheduler.Shutdown()
}

func (s *Service) createCoordinator() (*marker.Coordinator, error) {
	proj, err := viewport.NewProjection(viewport.Bounds{
		North: s.config.Map.North,
		South: s.config.Map.South,
		East:  s.config.Map.East,
		West:  s.config.Map.West,
	}, s.config.Map.Width, s.config.Map.Height)
	if err != nil {
		return nil, fmt.Errorf("failed to create map projection: %w", err)
	}

	mode, err := viewport.ParseZoomMode(s.config.Viewport.ZoomMode)
	if err != nil {
		return nil, err
	}
	view, err := viewport.New(viewport.Config{
		MinScale: s.config.Viewport.MinScale,
		MaxScale: s.config.Viewport.MaxScale,
		Step:     s.config.Viewport.ZoomStep,
		Factor:   s.config.Viewport.ZoomFactor,
		Mode:     mode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create viewport: %w", err)
	}

	coord := marker.New(proj, view, s.tracker, s.logger, marker.WithClock(s.clock))
	if s.config.Map.ScreenWidth > 0 && s.config.Map.ScreenHeight > 0 {
		coord.Center(s.config.Map.ScreenWidth, s.config.Map.ScreenHeight)
	}
	return coord, nil
}

func (s *Service) fixOptions() (prompt, granted, watch tracker.FixOptions) {
	prompt = tracker.FixOptions{HighAccuracy: true, Timeout: s.config.Tracker.PromptTimeout}
	granted = tracker.FixOptions{HighAccuracy: true, MaxCacheAge: s.config.Tracker.GrantedMaxAge}
	watch = tracker.FixOptions{
		HighAccuracy: true,
		MaxCacheAge:  s.config.Tracker.WatchMaxAge,
		Timeout:      s.config.Tracker.WatchTimeout,
	}
	return prompt, granted, watch
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

func (s *Service) handleEstimate(est tracker.Estimate) {
	s.logger.Debug("received position estimate", slog.Float64("lat", est.Lat), slog.Float64("lon", est.Lon),
		slog.Float64("accuracy", est.Accuracy), slog.Int("samples", est.Samples))
	s.coord.HandleEstimate(est)
	if s.publisher != nil {
		s.publisher.HandleEstimate(est)
	}
}

func (s *Service) serveAPI(ctx context.Context) {
	server := api.New(s.coord, s.tracker, s.metrics.Handler(), api.Screen{
		Width:  s.config.Map.ScreenWidth,
		Height: s.config.Map.ScreenHeight,
	}, s.logger)
	if err := server.ListenAndServe(ctx, s.config.API.Listen); err != nil {
		s.logger.Error("API server failed", logger.Err(err), slog.String("listen", s.config.API.Listen))
	}
}

// printOutput renders the current marker state and writes it as waybar JSON.
func (s *Service) printOutput(context.Context) {
	s.displayAltLock.RLock()
	alt := s.displayAltText
	s.displayAltLock.RUnlock()

	out, err := s.presenter.Render(s.presenter.BuildContext(s.coord.Snapshot()), alt)
	if err != nil {
		s.logger.Error("failed to render marker template", logger.Err(err))
		return
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(out); err != nil {
		s.logger.Error("failed to encode marker output", logger.Err(err))
	}
}
