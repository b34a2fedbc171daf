// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last known geolocation coordinates and accuracy values.
// It provides functionality to detect changes in geolocation data.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether the given coordinate differs from the last stored one in
// position or accuracy. An empty state always reports a change.
func (s *GeolocationState) HasChanged(coord Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return coord != s.last
}

// Update updates the stored geolocation state with the provided coordinate.
func (s *GeolocationState) Update(coord Coordinate) {
	s.last = coord
	s.haveLast = true
}

// Last returns the last stored coordinate and whether there is one.
func (s *GeolocationState) Last() (Coordinate, bool) {
	return s.last, s.haveLast
}
