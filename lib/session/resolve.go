// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// BreakRule chooses the break duration for a completed session. The
// Nth completed session of its day gets the long break when N is a
// multiple of LongEvery; every other completion gets the short break.
type BreakRule struct {
	Short     time.Duration
	Long      time.Duration
	LongEvery int
}

// Pick builds the break window for a session completing at the given
// instant as the nthToday'th completion of its day.
func (r BreakRule) Pick(sessionID string, at time.Time, nthToday int) BreakWindow {
	duration := r.Short
	long := false
	if r.LongEvery > 0 && nthToday > 0 && nthToday%r.LongEvery == 0 {
		duration = r.Long
		long = true
	}
	return BreakWindow{
		SessionID:       sessionID,
		StartedAt:       at,
		DurationSeconds: int64(duration / time.Second),
		Long:            long,
		Active:          true,
	}
}

// BreakPicker supplies the break window for a session whose timer has
// elapsed. The machine closes over its accounting store to pick short
// vs long; tests pass a fixed rule.
type BreakPicker func(completed Session, at time.Time) BreakWindow

// Resolution describes the expiries Resolve found due, in the order
// they must be persisted. Completed and Window are set together when
// the active session's timer had elapsed; BreakExpired is set when a
// break window (pre-existing or just created) had also run out. State
// is the post-expiry singleton.
type Resolution struct {
	Completed *Session
	Window    *BreakWindow

	BreakExpired bool

	State State
}

// Resolve applies any due lazy-expiry transitions to the singleton and
// returns what happened. It is a pure function of (state, now): no
// I/O, no clocks, no locks — callers persist the reported transitions
// and adopt the returned state.
//
// Expiries are applied as of their due instant, not as of now. A
// session that elapsed while no one was asking gets its break window
// anchored at the session's end timestamp, so a long-dormant client
// polling after both timers have run out sees idle, never a phantom
// break.
func Resolve(state State, now time.Time, pick BreakPicker) Resolution {
	resolution := Resolution{State: state}

	if active := state.Session; active != nil && state.Break == nil && active.Status == StatusActive {
		if end := active.EndsAt(); !now.Before(end) {
			completed := *active
			completed.Status = StatusCompleted
			endedAt := end
			completed.EndedAt = &endedAt

			window := pick(completed, end)

			resolution.Completed = &completed
			resolution.Window = &window
			resolution.State = State{Session: &completed, Break: &window}
		}
	}

	if window := resolution.State.Break; window != nil && window.Active {
		if end := window.EndsAt(); !now.Before(end) {
			resolution.BreakExpired = true
			resolution.State = State{}
		}
	}

	return resolution
}

// DueAt returns the instant the current timer (session or break)
// elapses, or false when idle. The gate and status fast paths use this
// to decide whether Resolve could change anything at all.
func (st State) DueAt() (time.Time, bool) {
	switch {
	case st.Break != nil:
		return st.Break.EndsAt(), true
	case st.Session != nil && st.Session.Status == StatusActive:
		return st.Session.EndsAt(), true
	default:
		return time.Time{}, false
	}
}
