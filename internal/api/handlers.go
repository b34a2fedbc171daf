// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wneessen/geopin/internal/logger"
	"github.com/wneessen/geopin/internal/viewport"
)

var errNotFinite = errors.New("values must be finite numbers")

type zoomRequest struct {
	In     bool     `json:"in"`
	Factor *float64 `json:"factor,omitempty"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type centerRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type projectResponse struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	MapPixel viewport.Point `json:"map_pixel"`
	Screen   viewport.Point `json:"screen"`
	InBounds bool           `json:"in_bounds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Viewport().State())
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid latitude: %w", err))
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid longitude: %w", err))
		return
	}
	if !finite(lat, lon) {
		s.writeError(w, http.StatusBadRequest, errNotFinite)
		return
	}

	proj := s.coord.Projection()
	mapPixel := proj.Project(lat, lon)
	s.writeJSON(w, http.StatusOK, projectResponse{
		Lat:      lat,
		Lon:      lon,
		MapPixel: mapPixel,
		Screen:   s.coord.Viewport().ToScreen(mapPixel),
		InBounds: proj.Contains(lat, lon),
	})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	focal := viewport.Point{X: req.X, Y: req.Y}
	if req.Factor != nil {
		if *req.Factor <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("zoom factor must be positive"))
			return
		}
		s.writeJSON(w, http.StatusOK, s.coord.ZoomAt(*req.Factor, focal))
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.Zoom(req.In, focal))
}

func (s *Server) handlePanBy(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.PanBy(req.DX, req.DY))
}

func (s *Server) handlePanGesture(w http.ResponseWriter, r *http.Request) {
	phase := mux.Vars(r)["phase"]
	if phase == "end" {
		s.coord.EndPan()
		s.writeJSON(w, http.StatusOK, s.coord.Snapshot())
		return
	}

	var pt viewport.Point
	if !s.decode(w, r, &pt) {
		return
	}
	if phase == "begin" {
		s.coord.BeginPan(pt)
		s.writeJSON(w, http.StatusOK, s.coord.Snapshot())
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.UpdatePan(pt))
}

func (s *Server) handleCenter(w http.ResponseWriter, r *http.Request) {
	req := centerRequest{Width: s.screen.Width, Height: s.screen.Height}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("screen size must be positive"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.Center(req.Width, req.Height))
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Reset())
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresh == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("refresh is not available"))
		return
	}
	s.refresh.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s is not allowed", r.Method))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, fmt.Errorf("no such endpoint: %s", r.URL.Path))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode API response", logger.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
