// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"
)

// Type distinguishes sessions tied to a ranked priority from free-form
// personal sessions.
type Type string

const (
	// Expected is a focus session bound to a Priority.
	Expected Type = "expected"

	// Personal is a focus session with no priority binding.
	Personal Type = "personal"
)

// Valid reports whether t is a known session type.
func (t Type) Valid() bool { return t == Expected || t == Personal }

// Status is the lifecycle state of a session record.
type Status string

const (
	// StatusActive means the session timer is (nominally) running.
	// At most one session is active at any time.
	StatusActive Status = "active"

	// StatusCompleted means the timer ran its full duration.
	StatusCompleted Status = "completed"

	// StatusAbandoned means the user gave up before the timer
	// elapsed. Abandoned sessions are excluded from all accounting.
	StatusAbandoned Status = "abandoned"
)

// Distractions is the self-reported distraction level captured during
// review.
type Distractions string

const (
	DistractionsNone     Distractions = "none"
	DistractionsFew      Distractions = "few"
	DistractionsMany     Distractions = "many"
	DistractionsConstant Distractions = "constant"
)

// Valid reports whether d is a known distraction level.
func (d Distractions) Valid() bool {
	switch d {
	case DistractionsNone, DistractionsFew, DistractionsMany, DistractionsConstant:
		return true
	}
	return false
}

// Session is one focus-session attempt.
type Session struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Intention string `json:"intention,omitempty"`

	// PriorityID references the Priority an expected session works
	// toward. Zero for personal sessions.
	PriorityID int64 `json:"priorityId,omitempty"`

	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int64     `json:"durationSeconds"`
	Status          Status    `json:"status"`

	// Review fields. Set only by SubmitReview; a session whose break
	// expired unreviewed keeps the zero values forever.
	Reviewed     bool         `json:"reviewed"`
	Distractions Distractions `json:"distractions,omitempty"`
	DidTheThing  bool         `json:"didTheThing"`

	// RabbitHole is meaningful only for personal sessions, and only
	// when the rabbit-hole prompt was due at review time.
	RabbitHole bool `json:"rabbitHole"`

	// EndedAt is when the session left the active state: the timer's
	// expiry instant for completed sessions, the abandon instant for
	// abandoned ones. Nil while active.
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

// EndsAt returns the instant the session timer elapses.
func (s *Session) EndsAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// BreakWindow is the break clock attached to a just-completed session.
// It is the sole driver of access-gate denial.
type BreakWindow struct {
	SessionID       string    `json:"sessionId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int64     `json:"durationSeconds"`

	// Long records whether this was the long break in the cadence.
	Long bool `json:"long"`

	Active bool `json:"active"`
}

// EndsAt returns the instant the break window elapses.
func (b *BreakWindow) EndsAt() time.Time {
	return b.StartedAt.Add(time.Duration(b.DurationSeconds) * time.Second)
}

// Priority is a user-ranked focus target, owned by the external
// settings application. Balance validates references and lists
// priorities; it never mutates them.
type Priority struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"createdAt"`
}

// Mode is the derived state of the machine, computed from the
// singleton rather than stored.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeSession Mode = "session"
	ModeBreak   Mode = "break"
)

// State is the singleton current state: at most one of {active
// session, completed session with an active break window} at any
// instant.
//
// Invariants: if Break is non-nil, Session is the completed session
// that owns it. If Break is nil and Session is non-nil, Session is
// active.
type State struct {
	Session *Session
	Break   *BreakWindow
}

// Mode derives the externally visible mode from the singleton.
func (st State) Mode() Mode {
	switch {
	case st.Break != nil:
		return ModeBreak
	case st.Session != nil:
		return ModeSession
	default:
		return ModeIdle
	}
}

// Review is the payload of a review submission.
type Review struct {
	Distractions Distractions `json:"distractions"`
	DidTheThing  *bool        `json:"didTheThing"`

	// RabbitHole must be non-nil iff the rabbit-hole prompt was due.
	// A value supplied when the prompt was not due is ignored.
	RabbitHole *bool `json:"rabbitHole,omitempty"`
}

// DayKey formats a timestamp as the daily-counter key. Always the UTC
// calendar day: stored timestamps come back in UTC, so keying by the
// host zone would split one day's accounting across two keys.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
