// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"fmt"
	"strings"
)

// Permission is the location permission as reported by the host.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionPrompt
	PermissionGranted
	PermissionDenied
)

// String satisfies the fmt.Stringer interface for the Permission type.
func (p Permission) String() string {
	switch p {
	case PermissionPrompt:
		return "prompt"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission parses the textual representation of a Permission.
func ParsePermission(value string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "unknown", "":
		return PermissionUnknown, nil
	case "prompt":
		return PermissionPrompt, nil
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	default:
		return PermissionUnknown, fmt.Errorf("unknown permission state: %q", value)
	}
}

// State is the lifecycle state of the Tracker.
type State int32

const (
	StateUnknown State = iota
	StatePrompting
	StateGranted
	StateDenied
)

// String satisfies the fmt.Stringer interface for the State type.
func (s State) String() string {
	switch s {
	case StatePrompting:
		return "prompting"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "unknown", "":
		*s = StateUnknown
	case "prompting":
		*s = StatePrompting
	case "granted":
		*s = StateGranted
	case "denied":
		*s = StateDenied
	default:
		return fmt.Errorf("unknown tracker state: %q", text)
	}
	return nil
}
