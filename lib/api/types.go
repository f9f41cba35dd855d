// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/balance-foundation/balance/lib/session"
)

// StatusResponse is the answer to a status poll (GET /status, socket
// action "status") and to the timer-complete nudge.
type StatusResponse struct {
	Mode string    `json:"mode"`
	Now  time.Time `json:"now"`

	// EndsAt is when the current timer elapses. Absent when idle.
	EndsAt *time.Time `json:"endsAt,omitempty"`

	// DurationSeconds is the running timer's full length; zero when
	// idle.
	DurationSeconds int64 `json:"durationSeconds,omitempty"`

	// Session is the active or pending-review session. Absent when
	// idle.
	Session *session.Session `json:"session,omitempty"`

	ReviewPending bool `json:"reviewPending"`
	LongBreak     bool `json:"longBreak"`
}

// FromSnapshot converts the machine's snapshot to the wire shape.
func FromSnapshot(snap session.Snapshot) StatusResponse {
	return StatusResponse{
		Mode:            string(snap.Mode),
		Now:             snap.Now,
		EndsAt:          snap.EndsAt,
		DurationSeconds: snap.DurationSeconds,
		Session:         snap.Session,
		ReviewPending:   snap.ReviewPending,
		LongBreak:       snap.LongBreak,
	}
}

// StartRequest is the body of POST /sessions/start and the fields of
// the socket "start" action.
type StartRequest struct {
	Type       string `json:"type"`
	Intention  string `json:"intention,omitempty"`
	PriorityID int64  `json:"priorityId,omitempty"`
}

// ReviewRequest is the body of POST /sessions/end (the review
// submission) and the fields of the socket "review" action. Pointer
// fields distinguish absent from false.
type ReviewRequest struct {
	Distractions string `json:"distractions"`
	DidTheThing  *bool  `json:"didTheThing"`
	RabbitHole   *bool  `json:"rabbitHole,omitempty"`
}

// Review converts the wire shape to the machine's input.
func (r ReviewRequest) Review() session.Review {
	return session.Review{
		Distractions: session.Distractions(r.Distractions),
		DidTheThing:  r.DidTheThing,
		RabbitHole:   r.RabbitHole,
	}
}

// SessionResponse wraps a single session record.
type SessionResponse struct {
	Session session.Session `json:"session"`
}

// RabbitHoleResponse is the answer to the rabbit-hole check.
type RabbitHoleResponse struct {
	ShouldAlert      bool `json:"shouldAlert"`
	ConsecutiveCount int  `json:"consecutiveCount"`
}

// TodayResponse summarizes the current day's accounting.
type TodayResponse struct {
	Day       string `json:"day"`
	Completed int    `json:"completed"`

	// CompletedByType breaks Completed down by session type. Types
	// with no completions are absent.
	CompletedByType map[string]int `json:"completedByType,omitempty"`

	// CapRemaining is how many more sessions may complete today.
	// Negative one means the cap is disabled.
	CapRemaining int `json:"capRemaining"`

	// Sessions lists the day's ended sessions, oldest first.
	Sessions []session.Session `json:"sessions"`
}

// PrioritiesResponse lists the ranked priorities available for
// expected sessions.
type PrioritiesResponse struct {
	Priorities []session.Priority `json:"priorities"`
}

// SettingsResponse reports the daemon's effective timer parameters so
// clients can render durations without hardcoding them.
type SettingsResponse struct {
	SessionDurationSeconds int64 `json:"sessionDurationSeconds"`
	ShortBreakSeconds      int64 `json:"shortBreakSeconds"`
	LongBreakSeconds       int64 `json:"longBreakSeconds"`
	LongBreakEvery         int   `json:"longBreakEvery"`
	DailyCap               int   `json:"dailyCap"`
	RabbitHoleThreshold    int   `json:"rabbitHoleThreshold"`
}

// ErrorResponse is the JSON error body on every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
