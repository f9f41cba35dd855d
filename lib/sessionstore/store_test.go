// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/balance-foundation/balance/lib/session"
	"github.com/balance-foundation/balance/lib/sessionstore"
)

var storeEpoch = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *sessionstore.Store {
	t.Helper()
	store, err := sessionstore.Open(sessionstore.Config{
		Path: filepath.Join(t.TempDir(), "balance.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func activeRecord(id string, startedAt time.Time) session.Session {
	return session.Session{
		ID:              id,
		Type:            session.Personal,
		Intention:       "read the paper",
		StartedAt:       startedAt,
		DurationSeconds: 1500,
		Status:          session.StatusActive,
	}
}

// completeRecord drives one session through create + complete so the
// accounting side effects land.
func completeRecord(t *testing.T, store *sessionstore.Store, id string, sessionType session.Type, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	record := activeRecord(id, startedAt)
	record.Type = sessionType
	if err := store.CreateSession(ctx, record); err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}

	endedAt := startedAt.Add(25 * time.Minute)
	record.Status = session.StatusCompleted
	record.EndedAt = &endedAt
	window := session.BreakWindow{
		SessionID:       id,
		StartedAt:       endedAt,
		DurationSeconds: 300,
		Active:          true,
	}
	if err := store.CompleteSession(ctx, record, window); err != nil {
		t.Fatalf("CompleteSession(%s): %v", id, err)
	}
	if err := store.ExpireBreak(ctx, id); err != nil {
		t.Fatalf("ExpireBreak(%s): %v", id, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Empty database restores to idle.
	state, err := store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeIdle {
		t.Fatalf("fresh database mode = %v, want idle", state.Mode())
	}

	record := activeRecord("s-1", storeEpoch)
	if err := store.CreateSession(ctx, record); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	state, err = store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeSession {
		t.Fatalf("mode = %v, want session", state.Mode())
	}
	if state.Session.ID != "s-1" || state.Session.Intention != "read the paper" {
		t.Errorf("restored session = %+v", state.Session)
	}
	if !state.Session.StartedAt.Equal(storeEpoch) {
		t.Errorf("StartedAt = %v, want %v", state.Session.StartedAt, storeEpoch)
	}

	// Complete: session row flips, break row appears, counters move.
	endedAt := storeEpoch.Add(25 * time.Minute)
	completed := record
	completed.Status = session.StatusCompleted
	completed.EndedAt = &endedAt
	window := session.BreakWindow{
		SessionID:       "s-1",
		StartedAt:       endedAt,
		DurationSeconds: 300,
		Active:          true,
	}
	if err := store.CompleteSession(ctx, completed, window); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	state, err = store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeBreak {
		t.Fatalf("mode = %v, want break", state.Mode())
	}
	if state.Break.SessionID != "s-1" || !state.Break.StartedAt.Equal(endedAt) {
		t.Errorf("restored break = %+v", state.Break)
	}
	if state.Session == nil || state.Session.Status != session.StatusCompleted {
		t.Errorf("break owner = %+v", state.Session)
	}

	count, err := store.CompletedOnDay(ctx, session.DayKey(endedAt))
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 1 {
		t.Errorf("completed count = %d, want 1", count)
	}

	// Review, then expire the break: back to idle.
	didTheThing := true
	review := session.Review{Distractions: session.DistractionsFew, DidTheThing: &didTheThing}
	if err := store.SetReview(ctx, "s-1", review); err != nil {
		t.Fatalf("SetReview: %v", err)
	}
	if err := store.ExpireBreak(ctx, "s-1"); err != nil {
		t.Fatalf("ExpireBreak: %v", err)
	}

	state, err = store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeIdle {
		t.Fatalf("mode after expiry = %v, want idle", state.Mode())
	}
}

func TestSingletonEnforcedByIndex(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeRecord("s-1", storeEpoch)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err := store.CreateSession(ctx, activeRecord("s-2", storeEpoch.Add(time.Minute)))
	if !errors.Is(err, session.ErrConflict) {
		t.Fatalf("second active insert: err = %v, want ErrConflict", err)
	}
}

func TestAbandonSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeRecord("s-1", storeEpoch)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	endedAt := storeEpoch.Add(10 * time.Minute)
	if err := store.AbandonSession(ctx, "s-1", endedAt); err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}

	state, err := store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeIdle {
		t.Errorf("mode = %v, want idle", state.Mode())
	}
	count, err := store.CompletedOnDay(ctx, session.DayKey(endedAt))
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 0 {
		t.Errorf("completed count = %d after abandon, want 0", count)
	}

	// Abandoning a row that is no longer active fails.
	if err := store.AbandonSession(ctx, "s-1", endedAt); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("repeat abandon: err = %v, want ErrNotFound", err)
	}
}

func TestPersonalStreak(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	streak, err := store.ConsecutivePersonal(ctx)
	if err != nil {
		t.Fatalf("ConsecutivePersonal: %v", err)
	}
	if streak != 0 {
		t.Fatalf("fresh streak = %d, want 0", streak)
	}

	completeRecord(t, store, "p-1", session.Personal, storeEpoch)
	completeRecord(t, store, "p-2", session.Personal, storeEpoch.Add(time.Hour))

	streak, err = store.ConsecutivePersonal(ctx)
	if err != nil {
		t.Fatalf("ConsecutivePersonal: %v", err)
	}
	if streak != 2 {
		t.Fatalf("streak = %d, want 2", streak)
	}

	// A completed expected session resets the streak.
	completeRecord(t, store, "e-1", session.Expected, storeEpoch.Add(2*time.Hour))
	streak, err = store.ConsecutivePersonal(ctx)
	if err != nil {
		t.Fatalf("ConsecutivePersonal: %v", err)
	}
	if streak != 0 {
		t.Fatalf("streak after expected = %d, want 0", streak)
	}
}

func TestDailyCountsPerType(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	completeRecord(t, store, "p-1", session.Personal, storeEpoch)
	completeRecord(t, store, "p-2", session.Personal, storeEpoch.Add(time.Hour))
	completeRecord(t, store, "e-1", session.Expected, storeEpoch.Add(2*time.Hour))

	day := session.DayKey(storeEpoch)
	byType, err := store.CompletedByType(ctx, day)
	if err != nil {
		t.Fatalf("CompletedByType: %v", err)
	}
	if byType[session.Personal] != 2 || byType[session.Expected] != 1 {
		t.Errorf("byType = %v, want personal:2 expected:1", byType)
	}

	// The cap total is the sum over types.
	count, err := store.CompletedOnDay(ctx, day)
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestDailyCountKeyedByUTCDay(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Ends at 21:25 Feb 6 in a UTC-4 zone, which is Feb 7 in UTC. The
	// counter must land under the UTC key, the same one LoadCurrent's
	// UTC timestamps produce on the read side.
	local := time.Date(2026, 2, 6, 21, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60))
	completeRecord(t, store, "tz-1", session.Personal, local)

	count, err := store.CompletedOnDay(ctx, "2026-02-07")
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 1 {
		t.Errorf("UTC day count = %d, want 1", count)
	}

	count, err = store.CompletedOnDay(ctx, "2026-02-06")
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 0 {
		t.Errorf("local day count = %d, want 0", count)
	}
}

func TestPriorities(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.GetPriority(ctx, 42); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("missing priority: err = %v, want ErrNotFound", err)
	}

	second, err := store.PutPriority(ctx, session.Priority{Name: "Exercise", Rank: 2, CreatedAt: storeEpoch})
	if err != nil {
		t.Fatalf("PutPriority: %v", err)
	}
	first, err := store.PutPriority(ctx, session.Priority{Name: "Thesis", Rank: 1, CreatedAt: storeEpoch})
	if err != nil {
		t.Fatalf("PutPriority: %v", err)
	}
	if first.ID == 0 || second.ID == 0 || first.ID == second.ID {
		t.Fatalf("assigned ids = %d, %d", first.ID, second.ID)
	}

	got, err := store.GetPriority(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetPriority: %v", err)
	}
	if got.Name != "Thesis" || got.Rank != 1 {
		t.Errorf("GetPriority = %+v", got)
	}

	// Replace through the sync path.
	first.Rank = 3
	if _, err := store.PutPriority(ctx, first); err != nil {
		t.Fatalf("PutPriority update: %v", err)
	}

	listed, err := store.ListPriorities(ctx)
	if err != nil {
		t.Fatalf("ListPriorities: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("len(listed) = %d, want 2", len(listed))
	}
	// Ordered by rank: Exercise (2) now precedes Thesis (3).
	if listed[0].Name != "Exercise" || listed[1].Name != "Thesis" {
		t.Errorf("order = %s, %s", listed[0].Name, listed[1].Name)
	}
}

func TestListDay(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	completeRecord(t, store, "d1-1", session.Personal, storeEpoch)
	completeRecord(t, store, "d1-2", session.Personal, storeEpoch.Add(time.Hour))
	completeRecord(t, store, "d2-1", session.Personal, storeEpoch.Add(24*time.Hour))

	// An abandoned session on day one shows up in the listing too.
	abandoned := activeRecord("d1-3", storeEpoch.Add(2*time.Hour))
	if err := store.CreateSession(ctx, abandoned); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.AbandonSession(ctx, "d1-3", storeEpoch.Add(2*time.Hour+5*time.Minute)); err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}

	dayStart := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	listed, err := store.ListDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListDay: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("len(listed) = %d, want 3", len(listed))
	}
	if listed[0].ID != "d1-1" || listed[2].ID != "d1-3" {
		t.Errorf("order = %s, %s, %s", listed[0].ID, listed[1].ID, listed[2].ID)
	}
}

func TestPruneHistory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	completeRecord(t, store, "old-1", session.Personal, storeEpoch)
	completeRecord(t, store, "recent-1", session.Personal, storeEpoch.Add(60*24*time.Hour))

	// An in-flight session must survive pruning regardless of age.
	if err := store.CreateSession(ctx, activeRecord("live-1", storeEpoch.Add(61*24*time.Hour))); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	cutoff := storeEpoch.Add(30 * 24 * time.Hour)
	pruned, err := store.PruneHistory(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}

	dayStart := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	listed, err := store.ListDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListDay: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("old session still listed after prune")
	}

	// Daily counters keep their history even after rows are pruned.
	count, err := store.CompletedOnDay(ctx, session.DayKey(storeEpoch.Add(25*time.Minute)))
	if err != nil {
		t.Fatalf("CompletedOnDay: %v", err)
	}
	if count != 1 {
		t.Errorf("daily count = %d after prune, want 1", count)
	}

	state, err := store.LoadCurrent(ctx)
	if err != nil {
		t.Fatalf("LoadCurrent: %v", err)
	}
	if state.Mode() != session.ModeSession || state.Session.ID != "live-1" {
		t.Errorf("active session lost by prune: %+v", state)
	}
}
