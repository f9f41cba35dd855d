// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/session"
)

// watchEpoch is the server clock in these tests. The local clock is
// deliberately skewed from it to exercise the offset math.
var watchEpoch = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

func sessionStatus(endsAt time.Time) api.StatusResponse {
	ends := endsAt
	return api.StatusResponse{
		Mode:            string(session.ModeSession),
		Now:             watchEpoch,
		EndsAt:          &ends,
		DurationSeconds: 1500,
		Session: &session.Session{
			ID:        "s-1",
			Type:      session.Personal,
			Intention: "draft the intro",
		},
	}
}

func updateWatch(t *testing.T, m watchModel, msg tea.Msg) (watchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(watchModel)
	if !ok {
		t.Fatalf("Update returned %T, expected watchModel", next)
	}
	return model, cmd
}

func TestWatchOffsetTracksServerClock(t *testing.T) {
	m := newWatchModel(nil)

	// Local clock runs 2 minutes ahead of the server.
	local := watchEpoch.Add(2 * time.Minute)
	m, _ = updateWatch(t, m, statusMsg{
		status:    sessionStatus(watchEpoch.Add(25 * time.Minute)),
		fetchedAt: local,
	})

	if !m.synced {
		t.Fatal("model not synced after statusMsg")
	}
	if m.offset != 2*time.Minute {
		t.Fatalf("offset = %v, expected 2m", m.offset)
	}
	if got := m.serverNow(local); !got.Equal(watchEpoch) {
		t.Fatalf("serverNow = %v, expected %v", got, watchEpoch)
	}
}

func TestWatchNudgesOnceWhenTimerElapses(t *testing.T) {
	m := newWatchModel(nil)
	endsAt := watchEpoch.Add(25 * time.Minute)
	m, _ = updateWatch(t, m, statusMsg{status: sessionStatus(endsAt), fetchedAt: watchEpoch})

	// Before the deadline: tick schedules only the next tick.
	m, _ = updateWatch(t, m, tickMsg(endsAt.Add(-time.Second)))
	if m.nudgeSent {
		t.Fatal("nudge sent before the deadline")
	}

	// At the deadline the nudge fires exactly once.
	m, _ = updateWatch(t, m, tickMsg(endsAt))
	if !m.nudgeSent {
		t.Fatal("nudge not sent at the deadline")
	}
	m, _ = updateWatch(t, m, tickMsg(endsAt.Add(time.Second)))
	if !m.nudgeSent {
		t.Fatal("nudgeSent flag cleared without a fresh snapshot")
	}

	// A fresh snapshot re-arms the nudge.
	m, _ = updateWatch(t, m, statusMsg{
		status:    sessionStatus(endsAt.Add(30 * time.Minute)),
		fetchedAt: endsAt,
	})
	if m.nudgeSent {
		t.Fatal("nudgeSent not re-armed by fresh snapshot")
	}
}

func TestWatchViewShowsSessionState(t *testing.T) {
	m := newWatchModel(nil)
	m, _ = updateWatch(t, m, statusMsg{
		status:    sessionStatus(watchEpoch.Add(25 * time.Minute)),
		fetchedAt: time.Now(),
	})

	view := m.View()
	if !strings.Contains(view, "personal session") {
		t.Errorf("view missing mode label:\n%s", view)
	}
	if !strings.Contains(view, "draft the intro") {
		t.Errorf("view missing intention:\n%s", view)
	}
}

func TestWatchViewBeforeSync(t *testing.T) {
	m := newWatchModel(nil)
	if view := m.View(); !strings.Contains(view, "connecting") {
		t.Errorf("unsynced view = %q, expected connecting message", view)
	}
}

func TestWatchBarClampsProgress(t *testing.T) {
	m := newWatchModel(nil)
	m.width = 60
	m.status = sessionStatus(watchEpoch.Add(25 * time.Minute))

	// Past the deadline the bar must be fully filled, never overflow.
	bar := m.renderBar(watchEpoch, watchEpoch.Add(time.Hour))
	if strings.Contains(bar, "░") {
		t.Errorf("expired bar still shows unfilled cells: %q", bar)
	}

	// Before the timer started (clock skew) the bar stays empty.
	bar = m.renderBar(watchEpoch.Add(25*time.Minute), watchEpoch.Add(-time.Hour))
	if strings.Contains(bar, "█") {
		t.Errorf("future bar shows filled cells: %q", bar)
	}
}

func TestFormatRemaining(t *testing.T) {
	now := watchEpoch
	cases := []struct {
		endsAt time.Time
		want   string
	}{
		{now.Add(25 * time.Minute), "25:00"},
		{now.Add(90 * time.Second), "1:30"},
		{now.Add(5 * time.Second), "0:05"},
		{now.Add(-time.Minute), "0:00"},
	}
	for _, c := range cases {
		if got := formatRemaining(c.endsAt, now); got != c.want {
			t.Errorf("formatRemaining(%v) = %q, expected %q", c.endsAt.Sub(now), got, c.want)
		}
	}
}
