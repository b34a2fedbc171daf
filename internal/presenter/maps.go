// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

// Status identifies what the marker currently shows.
type Status string

const (
	StatusAcquiring Status = "acquiring"
	StatusPrompting Status = "prompting"
	StatusDenied    Status = "denied"
	StatusError     Status = "error"
	StatusLocated   Status = "located"
	StatusOutside   Status = "outside"
)

// StatusIcons maps a marker status to its icon.
var StatusIcons = map[Status]string{
	StatusAcquiring: "📡",
	StatusPrompting: "❔",
	StatusDenied:    "🚫",
	StatusError:     "⚠️",
	StatusLocated:   "📍",
	StatusOutside:   "🧭",
}

// StatusMessages maps a marker status to its message. Errors carry their own message.
var StatusMessages = map[Status]localize.MsgID{
	StatusAcquiring: "Acquiring GPS signal...",
	StatusPrompting: "Requesting location permission...",
	StatusDenied:    "Location access denied",
	StatusLocated:   "Location found",
	StatusOutside:   "Outside of map",
}

// StatusHints maps a marker status to an optional hint on how to resolve it.
var StatusHints = map[Status]localize.MsgID{
	StatusDenied: "Enable location access in your system settings to see your position",
}
