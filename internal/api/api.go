// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package api exposes the marker position and the map view over HTTP and a websocket stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/marker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Refresher triggers a position refresh.
type Refresher interface {
	Refresh()
}

// Screen is the size of the screen the map is centered on when no size is given.
type Screen struct {
	Width  float64
	Height float64
}

// Server exposes the marker coordinator over HTTP and streams snapshot updates to
// websocket clients.
type Server struct {
	coord   *marker.Coordinator
	refresh Refresher
	metrics http.Handler
	screen  Screen
	log     *logger.Logger
	router  *mux.Router
}

// New returns a Server for the coordinator. refresh and metrics may be nil.
func New(coord *marker.Coordinator, refresh Refresher, metrics http.Handler, screen Screen,
	log *logger.Logger,
) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		coord:   coord,
		refresh: refresh,
		metrics: metrics,
		screen:  screen,
		log:     log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	// Subrouters report a method mismatch as not found unless they have their own handler
	api := router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/project", s.handleProject).Methods(http.MethodGet)
	api.HandleFunc("/zoom", s.handleZoom).Methods(http.MethodPost)
	api.HandleFunc("/pan", s.handlePanBy).Methods(http.MethodPost)
	api.HandleFunc("/pan/{phase:begin|move|end}", s.handlePanGesture).Methods(http.MethodPost)
	api.HandleFunc("/center", s.handleCenter).Methods(http.MethodPost)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	router.HandleFunc("/ws", s.handleStream)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return router
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting API server", slog.String("listen", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve API: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down API server: %w", err)
		}
		return nil
	}
}
