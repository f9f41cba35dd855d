// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Error taxonomy. Every control operation fails with exactly one of
// these (possibly wrapped with context). None are retried internally:
// each represents either a user decision that must change or a lost
// race the caller should follow with a fresh status poll.
var (
	// ErrInvalidTransition means the requested transition has no
	// valid precondition in the current state (abandon with nothing
	// active, review with nothing pending).
	ErrInvalidTransition = errors.New("invalid transition for current state")

	// ErrConflict means the state changed out from under the caller,
	// typically a second StartSession racing the first. Exactly one
	// of two concurrent starts wins.
	ErrConflict = errors.New("conflicting session state")

	// ErrMissingField means a required request field was absent
	// (expected session without a priority, review without a due
	// rabbit-hole answer).
	ErrMissingField = errors.New("missing required field")

	// ErrNotFound means a referenced record does not exist (unknown
	// priority id).
	ErrNotFound = errors.New("not found")

	// ErrCapExceeded means the daily completed-session cap has been
	// reached and no further sessions may start today.
	ErrCapExceeded = errors.New("daily session cap reached")
)

// ErrorCode returns the machine-readable code for a taxonomy error,
// used by both the HTTP and socket surfaces. Unrecognized errors map
// to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	default:
		return "internal"
	}
}
