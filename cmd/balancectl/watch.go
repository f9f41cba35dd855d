// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/service"
	"github.com/balance-foundation/balance/lib/session"
)

// resyncInterval bounds how long the watch view trusts its clock
// offset before fetching authoritative state again.
const resyncInterval = 30 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	breakStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	barFillStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	barRestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type watchKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

var watchKeys = watchKeyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// statusMsg carries a fresh server snapshot plus the local receive
// time, which anchors the clock offset.
type statusMsg struct {
	status    api.StatusResponse
	fetchedAt time.Time
}

type watchErrMsg struct{ err error }

type tickMsg time.Time

type watchModel struct {
	client *service.Client

	status api.StatusResponse
	// offset is local clock minus server clock. Remaining time is
	// always derived from the server's timeline, never the local one.
	offset     time.Duration
	synced     bool
	lastSync   time.Time
	nudgeSent  bool
	fetchError error

	width int
}

func newWatchModel(client *service.Client) watchModel {
	return watchModel{client: client, width: 60}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(fetchStatus(m.client, "status"), watchTick())
}

// fetchStatus calls the daemon. The timer-complete action doubles as
// the expiry nudge: the server resolves and returns the same snapshot
// shape as status.
func fetchStatus(client *service.Client, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var status api.StatusResponse
		if err := client.Call(ctx, action, nil, &status); err != nil {
			return watchErrMsg{err: err}
		}
		return statusMsg{status: status, fetchedAt: time.Now()}
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// serverNow maps the local clock onto the server's timeline using the
// last measured offset.
func (m watchModel) serverNow(local time.Time) time.Time {
	return local.Add(-m.offset)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, watchKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, watchKeys.Refresh):
			return m, fetchStatus(m.client, "status")
		}
		return m, nil

	case statusMsg:
		m.status = msg.status
		m.offset = msg.fetchedAt.Sub(msg.status.Now)
		m.synced = true
		m.lastSync = msg.fetchedAt
		m.nudgeSent = false
		m.fetchError = nil
		return m, nil

	case watchErrMsg:
		m.fetchError = msg.err
		return m, nil

	case tickMsg:
		local := time.Time(msg)
		commands := []tea.Cmd{watchTick()}

		switch {
		case !m.synced:
			commands = append(commands, fetchStatus(m.client, "status"))
		case m.status.EndsAt != nil && !m.status.EndsAt.After(m.serverNow(local)) && !m.nudgeSent:
			// The local countdown hit zero. Nudge the server; its
			// clock decides whether anything actually expires.
			m.nudgeSent = true
			commands = append(commands, fetchStatus(m.client, "timer-complete"))
		case local.Sub(m.lastSync) >= resyncInterval:
			commands = append(commands, fetchStatus(m.client, "status"))
		}
		return m, tea.Batch(commands...)
	}
	return m, nil
}

func (m watchModel) View() string {
	if !m.synced {
		if m.fetchError != nil {
			return errorStyle.Render("cannot reach daemon: "+m.fetchError.Error()) + "\n" +
				faintStyle.Render("r refresh · q quit") + "\n"
		}
		return faintStyle.Render("connecting...") + "\n"
	}

	var b strings.Builder

	switch m.status.Mode {
	case string(session.ModeSession):
		label := "session"
		if m.status.Session != nil {
			label = string(m.status.Session.Type) + " session"
		}
		b.WriteString(titleStyle.Render("Balance") + "  " + sessionStyle.Render(label))
	case string(session.ModeBreak):
		label := "break"
		if m.status.LongBreak {
			label = "long break"
		}
		b.WriteString(titleStyle.Render("Balance") + "  " + breakStyle.Render(label))
	default:
		b.WriteString(titleStyle.Render("Balance") + "  " + idleStyle.Render("idle"))
	}
	b.WriteString("\n\n")

	if m.status.EndsAt != nil {
		now := m.serverNow(time.Now())
		b.WriteString("  " + formatRemaining(*m.status.EndsAt, now) + "\n")
		b.WriteString("  " + m.renderBar(*m.status.EndsAt, now) + "\n")
	} else {
		b.WriteString("  " + faintStyle.Render("no timer running") + "\n")
	}

	if m.status.Session != nil && m.status.Session.Intention != "" {
		b.WriteString("\n  " + faintStyle.Render(m.status.Session.Intention) + "\n")
	}
	if m.status.ReviewPending {
		b.WriteString("\n  " + alertStyle.Render("review pending: balancectl review") + "\n")
	}
	if m.fetchError != nil {
		b.WriteString("\n  " + errorStyle.Render("sync failed: "+m.fetchError.Error()) + "\n")
	}

	b.WriteString("\n" + faintStyle.Render("  r refresh · q quit") + "\n")
	return b.String()
}

// renderBar draws elapsed progress over the timer's full duration.
func (m watchModel) renderBar(endsAt, now time.Time) string {
	barWidth := m.width - 6
	if barWidth > 50 {
		barWidth = 50
	}
	if barWidth < 10 {
		barWidth = 10
	}

	total := time.Duration(m.status.DurationSeconds) * time.Second
	if total <= 0 {
		return ""
	}
	remaining := endsAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}

	filled := barWidth - int(float64(barWidth)*remaining.Seconds()/total.Seconds())
	if filled > barWidth {
		filled = barWidth
	}
	return barFillStyle.Render(strings.Repeat("█", filled)) +
		barRestStyle.Render(strings.Repeat("░", barWidth-filled))
}

// runWatch runs the live timer view until the user quits.
func runWatch(ctx context.Context, client *service.Client) error {
	program := tea.NewProgram(newWatchModel(client), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
