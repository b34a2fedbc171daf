// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"errors"
	"os"
)

// ErrorKind classifies errors reported by a Source or the Tracker.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnsupported
	KindPermissionDenied
	KindTimeout
	KindPositionUnavailable
)

// User facing messages emitted by the Tracker.
const (
	MsgUnsupported      = "Geolocation is not supported by this host"
	MsgPermissionDenied = "Location permission denied"
	MsgFetchFailed      = "Unable to get location"
	MsgWatchFailed      = "Location watch error"
)

var (
	ErrUnknown             = &Error{Kind: KindUnknown}
	ErrUnsupported         = &Error{Kind: KindUnsupported}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrPositionUnavailable = &Error{Kind: KindPositionUnavailable}
)

// String satisfies the fmt.Stringer interface for the ErrorKind type.
func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindPermissionDenied:
		return "permission denied"
	case KindTimeout:
		return "timeout"
	case KindPositionUnavailable:
		return "position unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified location error. Message is the text shown to the user, Err the
// underlying cause if there is one.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError returns a new Error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that errors.Is matches
// against the package level sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Text returns the user facing message, or fallback if the error carries none.
func (e *Error) Text(fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// Classify maps err to an *Error. Errors already of type *Error are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, os.ErrPermission):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, os.ErrNotExist):
		return &Error{Kind: KindPositionUnavailable, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}
