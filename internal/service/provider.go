// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"

	"github.com/wneessen/geopin/internal/http"
	"github.com/wneessen/geopin/internal/source/file"
	"github.com/wneessen/geopin/internal/source/geoclue"
	"github.com/wneessen/geopin/internal/source/geoip"
	"github.com/wneessen/geopin/internal/source/gnss"
	"github.com/wneessen/geopin/internal/source/gpsd"
	"github.com/wneessen/geopin/internal/source/ichnaea"
	"github.com/wneessen/geopin/internal/tracker"
)

// selectSource creates the location source configured in the location section.
func (s *Service) selectSource() (tracker.Source, error) {
	loc := s.config.Location
	switch loc.Source {
	case "gpsd":
		return gpsd.New(loc.GPSD.Host, loc.GPSD.Port, s.logger, s.clock), nil
	case "geoclue":
		desktopID := loc.GeoClue.DesktopID
		if desktopID == "" {
			desktopID = DesktopID
		}
		return geoclue.New(desktopID, s.logger, s.clock), nil
	case "nmea":
		return gnss.New(loc.NMEA.Port, loc.NMEA.BaudRate, s.logger, s.clock), nil
	case "file":
		return file.New(loc.File.Path, loc.File.Period, s.clock), nil
	case "ichnaea":
		return ichnaea.New(http.New(s.logger), loc.Ichnaea.Endpoint, s.logger, s.clock)
	case "geoip":
		return geoip.New(http.New(s.logger), loc.GeoIP.Endpoint, s.clock)
	default:
		return nil, fmt.Errorf("unsupported location source: %s", loc.Source)
	}
}
