// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/balance-foundation/balance/lib/clock"
)

// Store is the persistence the machine needs. lib/sessionstore
// implements it on SQLite; tests substitute an in-memory fake.
//
// CompleteSession must apply the session update, the break-window
// insert, the daily-counter increment, and the consecutive-personal
// streak update in one transaction — completion is the transition all
// accounting hangs off.
type Store interface {
	// LoadCurrent restores the singleton after a restart: the active
	// session, or the completed session owning an active break
	// window, or the zero State.
	LoadCurrent(ctx context.Context) (State, error)

	CreateSession(ctx context.Context, s Session) error
	AbandonSession(ctx context.Context, sessionID string, endedAt time.Time) error
	CompleteSession(ctx context.Context, completed Session, window BreakWindow) error
	ExpireBreak(ctx context.Context, sessionID string) error
	SetReview(ctx context.Context, sessionID string, review Review) error

	// GetPriority returns ErrNotFound (wrapped) for unknown ids.
	GetPriority(ctx context.Context, id int64) (Priority, error)

	// CompletedOnDay is the completed-session count for a day key,
	// summed across both types.
	CompletedOnDay(ctx context.Context, day string) (int, error)

	// ConsecutivePersonal is the current streak of completed personal
	// sessions since the last completed expected session.
	ConsecutivePersonal(ctx context.Context) (int, error)
}

// Rules are the timer parameters the machine enforces. They come from
// configuration owned by the settings application.
type Rules struct {
	SessionDuration time.Duration
	Break           BreakRule

	// DailyCap is the maximum completed sessions per day; zero
	// disables the cap.
	DailyCap int

	// RabbitHoleThreshold is the consecutive-personal streak at which
	// the next personal review must answer the rabbit-hole question.
	RabbitHoleThreshold int
}

// Machine serializes every transition on the session/break singleton.
// All control operations and both lazy expiries run under mu; the
// access gate reads under an RLock and upgrades only when an expiry is
// due.
type Machine struct {
	store  Store
	clock  clock.Clock
	rules  Rules
	logger *slog.Logger

	// failOpen is the gate's answer when the store is unreachable
	// during an expiry resolution.
	failOpen bool

	mu    sync.RWMutex
	state State
}

// MachineConfig holds the parameters for creating a Machine.
type MachineConfig struct {
	Store  Store
	Clock  clock.Clock
	Rules  Rules
	Logger *slog.Logger

	// GateFailOpen selects the gate's fail policy when the store is
	// unreachable: true allows, false denies.
	GateFailOpen bool
}

// NewMachine creates a machine and restores the singleton from the
// store, so a restarted process resumes mid-session (or mid-break) and
// lazy expiry takes it from there.
func NewMachine(ctx context.Context, cfg MachineConfig) (*Machine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session machine: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("session machine: Clock is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	state, err := cfg.Store.LoadCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("session machine: restoring current state: %w", err)
	}

	m := &Machine{
		store:    cfg.Store,
		clock:    cfg.Clock,
		rules:    cfg.Rules,
		logger:   cfg.Logger,
		failOpen: cfg.GateFailOpen,
		state:    state,
	}

	if mode := state.Mode(); mode != ModeIdle {
		m.logger.Info("restored in-flight timer", "mode", string(mode))
	}
	return m, nil
}

// resolveLocked applies any due expiry transitions, persisting each
// stage before adopting it in memory. If a store write fails the
// in-memory state keeps its pre-stage value and the same expiry is
// retried on the next operation — completion is never double-counted.
// Must be called with m.mu held for writing.
func (m *Machine) resolveLocked(ctx context.Context) error {
	now := m.clock.Now()
	due, ok := m.state.DueAt()
	if !ok || now.Before(due) {
		return nil
	}

	var pickErr error
	resolution := Resolve(m.state, now, func(completed Session, at time.Time) BreakWindow {
		completedBefore, err := m.store.CompletedOnDay(ctx, DayKey(at))
		if err != nil {
			pickErr = err
		}
		return m.rules.Break.Pick(completed.ID, at, completedBefore+1)
	})
	if pickErr != nil {
		return fmt.Errorf("resolving session expiry: %w", pickErr)
	}

	if resolution.Completed != nil {
		if err := m.store.CompleteSession(ctx, *resolution.Completed, *resolution.Window); err != nil {
			return fmt.Errorf("recording session completion: %w", err)
		}
		m.state = State{Session: resolution.Completed, Break: resolution.Window}
		m.logger.Info("session completed by timer",
			"session_id", resolution.Completed.ID,
			"type", string(resolution.Completed.Type),
			"break_seconds", resolution.Window.DurationSeconds,
			"long_break", resolution.Window.Long,
		)
	}

	if resolution.BreakExpired {
		sessionID := m.state.Break.SessionID
		if err := m.store.ExpireBreak(ctx, sessionID); err != nil {
			return fmt.Errorf("recording break expiry: %w", err)
		}
		reviewed := m.state.Session != nil && m.state.Session.Reviewed
		m.state = State{}
		m.logger.Info("break window elapsed",
			"session_id", sessionID,
			"reviewed", reviewed,
		)
	}

	return nil
}

// StartRequest is the input to StartSession.
type StartRequest struct {
	Type      Type
	Intention string

	// PriorityID must reference an existing priority when Type is
	// Expected. Ignored for personal sessions.
	PriorityID int64
}

// StartSession begins a new focus session. Fails with ErrConflict if a
// session or break is already running (two racing starts: exactly one
// wins), ErrMissingField / ErrNotFound on a bad priority binding, and
// ErrCapExceeded once today's completed count has reached the cap.
func (m *Machine) StartSession(ctx context.Context, req StartRequest) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		return Session{}, err
	}

	if mode := m.state.Mode(); mode != ModeIdle {
		return Session{}, fmt.Errorf("%w: cannot start while mode is %s", ErrConflict, mode)
	}

	if !req.Type.Valid() {
		return Session{}, fmt.Errorf("%w: type must be %q or %q", ErrMissingField, Expected, Personal)
	}

	priorityID := int64(0)
	if req.Type == Expected {
		if req.PriorityID == 0 {
			return Session{}, fmt.Errorf("%w: priorityId is required for expected sessions", ErrMissingField)
		}
		if _, err := m.store.GetPriority(ctx, req.PriorityID); err != nil {
			return Session{}, fmt.Errorf("priority %d: %w", req.PriorityID, err)
		}
		priorityID = req.PriorityID
	}

	now := m.clock.Now()
	if m.rules.DailyCap > 0 {
		completed, err := m.store.CompletedOnDay(ctx, DayKey(now))
		if err != nil {
			return Session{}, fmt.Errorf("checking daily cap: %w", err)
		}
		if completed >= m.rules.DailyCap {
			return Session{}, fmt.Errorf("%w: %d sessions completed today", ErrCapExceeded, completed)
		}
	}

	created := Session{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Intention:       req.Intention,
		PriorityID:      priorityID,
		StartedAt:       now,
		DurationSeconds: int64(m.rules.SessionDuration / time.Second),
		Status:          StatusActive,
	}
	if err := m.store.CreateSession(ctx, created); err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}

	m.state = State{Session: &created}
	m.logger.Info("session started",
		"session_id", created.ID,
		"type", string(created.Type),
		"duration_seconds", created.DurationSeconds,
	)
	return created, nil
}

// AbandonSession ends the active session without credit: no break
// window, no daily-counter increment, no streak contribution. The
// abandon takes effect immediately and atomically.
func (m *Machine) AbandonSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		return Session{}, err
	}

	if m.state.Session == nil || m.state.Session.Status != StatusActive {
		return Session{}, fmt.Errorf("%w: no active session to abandon", ErrInvalidTransition)
	}

	now := m.clock.Now()
	abandoned := *m.state.Session
	if err := m.store.AbandonSession(ctx, abandoned.ID, now); err != nil {
		return Session{}, fmt.Errorf("recording abandon: %w", err)
	}

	abandoned.Status = StatusAbandoned
	abandoned.EndedAt = &now
	m.state = State{}
	m.logger.Info("session abandoned", "session_id", abandoned.ID)
	return abandoned, nil
}

// SubmitReview records the review for the completed session whose
// break is still running. The rabbit-hole answer is required exactly
// when the prompt was due (see RabbitHoleCheck); a value supplied when
// the prompt was not due is ignored.
func (m *Machine) SubmitReview(ctx context.Context, review Review) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		return Session{}, err
	}

	pending := m.state.Session
	if m.state.Break == nil || pending == nil {
		return Session{}, fmt.Errorf("%w: no review is pending", ErrInvalidTransition)
	}
	if pending.Reviewed {
		return Session{}, fmt.Errorf("%w: session %s is already reviewed", ErrInvalidTransition, pending.ID)
	}

	if !review.Distractions.Valid() {
		return Session{}, fmt.Errorf("%w: distractions must be one of none, few, many, constant", ErrMissingField)
	}
	if review.DidTheThing == nil {
		return Session{}, fmt.Errorf("%w: didTheThing is required", ErrMissingField)
	}

	promptDue, _, err := m.rabbitHoleLocked(ctx)
	if err != nil {
		return Session{}, err
	}
	if promptDue && review.RabbitHole == nil {
		return Session{}, fmt.Errorf("%w: rabbitHole answer is required after consecutive personal sessions", ErrMissingField)
	}
	if !promptDue {
		review.RabbitHole = nil
	}

	if err := m.store.SetReview(ctx, pending.ID, review); err != nil {
		return Session{}, fmt.Errorf("recording review: %w", err)
	}

	pending.Reviewed = true
	pending.Distractions = review.Distractions
	pending.DidTheThing = *review.DidTheThing
	pending.RabbitHole = review.RabbitHole != nil && *review.RabbitHole
	m.logger.Info("review recorded",
		"session_id", pending.ID,
		"distractions", string(review.Distractions),
		"did_the_thing", pending.DidTheThing,
		"rabbit_hole_prompted", promptDue,
	)
	return *pending, nil
}

// RabbitHoleStatus is the answer to "should the review form ask the
// rabbit-hole question".
type RabbitHoleStatus struct {
	ShouldAlert      bool `json:"shouldAlert"`
	ConsecutiveCount int  `json:"consecutiveCount"`
}

// RabbitHoleCheck reports whether the rabbit-hole prompt is (or would
// be) due, and the consecutive-personal count it is based on. The
// count excludes the currently pending-review session so that the
// check agrees with what SubmitReview will enforce.
func (m *Machine) RabbitHoleCheck(ctx context.Context) (RabbitHoleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		return RabbitHoleStatus{}, err
	}

	shouldAlert, count, err := m.rabbitHoleLocked(ctx)
	if err != nil {
		return RabbitHoleStatus{}, err
	}
	return RabbitHoleStatus{ShouldAlert: shouldAlert, ConsecutiveCount: count}, nil
}

// rabbitHoleLocked computes the prompt decision from the persisted
// streak. The streak already includes a completed-but-unreviewed
// personal session sitting in the singleton, so that one is subtracted
// to get the count of sessions preceding it. Must be called with m.mu
// held.
func (m *Machine) rabbitHoleLocked(ctx context.Context) (bool, int, error) {
	streak, err := m.store.ConsecutivePersonal(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("reading personal streak: %w", err)
	}

	preceding := streak
	if pending := m.state.Session; pending != nil &&
		pending.Status == StatusCompleted && pending.Type == Personal {
		preceding = streak - 1
		if preceding < 0 {
			preceding = 0
		}
	}

	return preceding >= m.rules.RabbitHoleThreshold, preceding, nil
}

// Snapshot is the state a status poll reports. Absolute timestamps
// only: the client derives remaining time from EndsAt and its own
// clock offset, never from a countdown we push.
type Snapshot struct {
	Mode Mode

	// Now is the server's clock reading for this snapshot; clients
	// compute their offset from it.
	Now time.Time

	// EndsAt is when the current timer (session or break) elapses.
	// Nil when idle.
	EndsAt *time.Time

	// DurationSeconds is the current timer's full length. Zero when
	// idle.
	DurationSeconds int64

	// Session is the active or pending-review session. Nil when idle.
	Session *Session

	// ReviewPending is true during a break whose owning session has
	// not been reviewed yet.
	ReviewPending bool

	// LongBreak is true while a long break window is running.
	LongBreak bool
}

// Status resolves any due expiry and reports the post-expiry state.
func (m *Machine) Status(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	return m.snapshotLocked(), nil
}

// TimerComplete is the client-initiated expiry nudge. It is exactly a
// resolve-then-report: harmless if the timer already expired via some
// other call, a no-op if the client's clock ran fast and nothing is
// due yet.
func (m *Machine) TimerComplete(ctx context.Context) (Snapshot, error) {
	return m.Status(ctx)
}

// snapshotLocked builds a Snapshot from the current singleton. Must be
// called with m.mu held.
func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode: m.state.Mode(),
		Now:  m.clock.Now(),
	}

	switch snap.Mode {
	case ModeSession:
		active := *m.state.Session
		end := active.EndsAt()
		snap.EndsAt = &end
		snap.DurationSeconds = active.DurationSeconds
		snap.Session = &active
	case ModeBreak:
		owner := *m.state.Session
		end := m.state.Break.EndsAt()
		snap.EndsAt = &end
		snap.DurationSeconds = m.state.Break.DurationSeconds
		snap.Session = &owner
		snap.ReviewPending = !owner.Reviewed
		snap.LongBreak = m.state.Break.Long
	}
	return snap
}

// Decision is the access gate's verdict for one proxied request.
type Decision struct {
	// Allow is false exactly while a break window is active.
	Allow bool
}

// CheckAccess is the gate the reverse proxy consults before every
// proxied request. The common case — nothing due to expire — takes
// only a read lock and touches no storage, so the gate stays cheap at
// hundreds of calls per second. When an expiry is due, the call
// upgrades to the write lock and resolves it like any other operation.
//
// If the store is unreachable while an expiry needs persisting, the
// verdict follows the configured fail policy (default fail-open: a
// storage fault must not take down every proxied service) and the
// error is logged. CheckAccess itself never returns an error.
func (m *Machine) CheckAccess(ctx context.Context) Decision {
	m.mu.RLock()
	due, ok := m.state.DueAt()
	if !ok || m.clock.Now().Before(due) {
		decision := Decision{Allow: m.state.Mode() != ModeBreak}
		m.mu.RUnlock()
		return decision
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.resolveLocked(ctx); err != nil {
		m.logger.Error("gate could not resolve expiry, applying fail policy",
			"fail_open", m.failOpen,
			"error", err,
		)
		return Decision{Allow: m.failOpen}
	}
	return Decision{Allow: m.state.Mode() != ModeBreak}
}
