// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/balance-foundation/balance/lib/session"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		type             TEXT NOT NULL,
		intention        TEXT NOT NULL DEFAULT '',
		priority_id      INTEGER NOT NULL DEFAULT 0,
		started_at       INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		status           TEXT NOT NULL,
		reviewed         INTEGER NOT NULL DEFAULT 0,
		distractions     TEXT NOT NULL DEFAULT '',
		did_the_thing    INTEGER NOT NULL DEFAULT 0,
		rabbit_hole      INTEGER NOT NULL DEFAULT 0,
		ended_at         INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions(status) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_sessions_ended_at
		ON sessions(ended_at);

	CREATE TABLE IF NOT EXISTS breaks (
		session_id       TEXT PRIMARY KEY,
		started_at       INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		long             INTEGER NOT NULL DEFAULT 0,
		active           INTEGER NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_breaks_one_active
		ON breaks(active) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS priorities (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		rank       INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_counts (
		day       TEXT NOT NULL,
		type      TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, type)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
`

// Store is a SQLite-backed implementation of session.Store plus the
// read-side queries the daemon serves directly. Safe for concurrent
// use; each call borrows a connection from the pool.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist; the file is created on first open.
	Path string

	// PoolSize is the number of connections. Defaults to 4. Writes
	// serialize in SQLite anyway; extra connections only help
	// concurrent readers.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Open opens (creating if necessary) the database, applies the
// standard pragmas to every connection, and ensures the schema. The
// caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sessionstore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("session store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// prepareConnection applies WAL mode and the standard pragmas, then
// ensures the schema. Runs once per pooled connection on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sessionstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sessionstore: applying schema: %w", err)
	}
	return nil
}

// Close closes the pool. Blocks until all borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sessionstore: closing %s: %w", s.path, err)
	}
	return nil
}

// --- Timestamp helpers ---

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// --- session.Store implementation ---

// LoadCurrent restores the singleton: the completed session owning the
// active break window if one exists, otherwise the active session,
// otherwise the zero state.
func (s *Store) LoadCurrent(ctx context.Context) (session.State, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return session.State{}, fmt.Errorf("sessionstore: load current: %w", err)
	}
	defer s.pool.Put(conn)

	var state session.State
	err = sqlitex.Execute(conn,
		`SELECT session_id, started_at, duration_seconds, long FROM breaks WHERE active = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state.Break = &session.BreakWindow{
					SessionID:       stmt.ColumnText(0),
					StartedAt:       fromMillis(stmt.ColumnInt64(1)),
					DurationSeconds: stmt.ColumnInt64(2),
					Long:            stmt.ColumnInt(3) != 0,
					Active:          true,
				}
				return nil
			},
		})
	if err != nil {
		return session.State{}, fmt.Errorf("sessionstore: load current break: %w", err)
	}

	if state.Break != nil {
		owner, err := s.getSession(conn, state.Break.SessionID)
		if err != nil {
			return session.State{}, fmt.Errorf("sessionstore: load break owner: %w", err)
		}
		state.Session = owner
		return state, nil
	}

	err = sqlitex.Execute(conn,
		selectSessionColumns+` FROM sessions WHERE status = 'active'`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record := scanSession(stmt)
				state.Session = &record
				return nil
			},
		})
	if err != nil {
		return session.State{}, fmt.Errorf("sessionstore: load active session: %w", err)
	}
	return state, nil
}

// CreateSession inserts a new active session. The partial unique index
// on status rejects a second active row.
func (s *Store) CreateSession(ctx context.Context, record session.Session) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: create session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (id, type, intention, priority_id, started_at, duration_seconds, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID,
				string(record.Type),
				record.Intention,
				record.PriorityID,
				toMillis(record.StartedAt),
				record.DurationSeconds,
				string(record.Status),
			},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return fmt.Errorf("sessionstore: %w: another session is already active", session.ErrConflict)
		}
		return fmt.Errorf("sessionstore: create session %s: %w", record.ID, err)
	}
	return nil
}

// AbandonSession marks the active session abandoned. No break window,
// no counter updates.
func (s *Store) AbandonSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: abandon session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET status = 'abandoned', ended_at = ? WHERE id = ? AND status = 'active'`,
		&sqlitex.ExecOptions{Args: []any{toMillis(endedAt), sessionID}})
	if err != nil {
		return fmt.Errorf("sessionstore: abandon session %s: %w", sessionID, err)
	}
	if conn.Changes() != 1 {
		return fmt.Errorf("sessionstore: abandon session %s: %w", sessionID, session.ErrNotFound)
	}
	return nil
}

// CompleteSession records a timer completion: the session update, the
// break-window insert, the daily-counter increment, and the
// consecutive-personal streak update, all in one IMMEDIATE
// transaction.
func (s *Store) CompleteSession(ctx context.Context, completed session.Session, window session.BreakWindow) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: complete session: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sessionstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET status = 'completed', ended_at = ? WHERE id = ? AND status = 'active'`,
		&sqlitex.ExecOptions{Args: []any{toMillis(*completed.EndedAt), completed.ID}})
	if err != nil {
		return fmt.Errorf("sessionstore: complete session %s: %w", completed.ID, err)
	}
	if conn.Changes() != 1 {
		return fmt.Errorf("sessionstore: complete session %s: no active row", completed.ID)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO breaks (session_id, started_at, duration_seconds, long, active)
		 VALUES (?, ?, ?, ?, 1)`,
		&sqlitex.ExecOptions{
			Args: []any{
				window.SessionID,
				toMillis(window.StartedAt),
				window.DurationSeconds,
				boolInt(window.Long),
			},
		})
	if err != nil {
		return fmt.Errorf("sessionstore: insert break for %s: %w", window.SessionID, err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO daily_counts (day, type, completed) VALUES (?, ?, 1)
		 ON CONFLICT(day, type) DO UPDATE SET completed = completed + 1`,
		&sqlitex.ExecOptions{Args: []any{session.DayKey(*completed.EndedAt), string(completed.Type)}})
	if err != nil {
		return fmt.Errorf("sessionstore: bump daily count: %w", err)
	}

	streakQuery := `INSERT INTO meta (key, value) VALUES ('personal_streak', 0)
		ON CONFLICT(key) DO UPDATE SET value = 0`
	if completed.Type == session.Personal {
		streakQuery = `INSERT INTO meta (key, value) VALUES ('personal_streak', 1)
			ON CONFLICT(key) DO UPDATE SET value = value + 1`
	}
	if err = sqlitex.Execute(conn, streakQuery, nil); err != nil {
		return fmt.Errorf("sessionstore: update personal streak: %w", err)
	}

	return nil
}

// ExpireBreak deactivates the break window owned by the given session.
// Idempotent: expiring an already-inactive break is a no-op.
func (s *Store) ExpireBreak(ctx context.Context, sessionID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: expire break: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE breaks SET active = 0 WHERE session_id = ?`,
		&sqlitex.ExecOptions{Args: []any{sessionID}})
	if err != nil {
		return fmt.Errorf("sessionstore: expire break for %s: %w", sessionID, err)
	}
	return nil
}

// SetReview records the review answers on a completed session.
func (s *Store) SetReview(ctx context.Context, sessionID string, review session.Review) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sessionstore: set review: %w", err)
	}
	defer s.pool.Put(conn)

	rabbitHole := review.RabbitHole != nil && *review.RabbitHole
	err = sqlitex.Execute(conn,
		`UPDATE sessions SET reviewed = 1, distractions = ?, did_the_thing = ?, rabbit_hole = ?
		 WHERE id = ? AND status = 'completed' AND reviewed = 0`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(review.Distractions),
				boolInt(*review.DidTheThing),
				boolInt(rabbitHole),
				sessionID,
			},
		})
	if err != nil {
		return fmt.Errorf("sessionstore: set review for %s: %w", sessionID, err)
	}
	if conn.Changes() != 1 {
		return fmt.Errorf("sessionstore: set review for %s: %w", sessionID, session.ErrNotFound)
	}
	return nil
}

// GetPriority returns the priority with the given id, or wrapped
// session.ErrNotFound.
func (s *Store) GetPriority(ctx context.Context, id int64) (session.Priority, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return session.Priority{}, fmt.Errorf("sessionstore: get priority: %w", err)
	}
	defer s.pool.Put(conn)

	var priority session.Priority
	found := false
	err = sqlitex.Execute(conn,
		`SELECT id, name, rank, created_at FROM priorities WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				priority = scanPriority(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return session.Priority{}, fmt.Errorf("sessionstore: get priority %d: %w", id, err)
	}
	if !found {
		return session.Priority{}, fmt.Errorf("sessionstore: priority %d: %w", id, session.ErrNotFound)
	}
	return priority, nil
}

// CompletedOnDay returns the completed-session count for a day key,
// both types combined. The cap counts every completion regardless of
// type.
func (s *Store) CompletedOnDay(ctx context.Context, day string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: completed on day: %w", err)
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn,
		`SELECT COALESCE(SUM(completed), 0) FROM daily_counts WHERE day = ?`,
		&sqlitex.ExecOptions{
			Args: []any{day},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sessionstore: completed on day %s: %w", day, err)
	}
	return count, nil
}

// CompletedByType returns the per-type completed counts for a day key.
// Types with no completions are absent from the map.
func (s *Store) CompletedByType(ctx context.Context, day string) (map[session.Type]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: completed by type: %w", err)
	}
	defer s.pool.Put(conn)

	counts := make(map[session.Type]int)
	err = sqlitex.Execute(conn,
		`SELECT type, completed FROM daily_counts WHERE day = ?`,
		&sqlitex.ExecOptions{
			Args: []any{day},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts[session.Type(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: completed by type on day %s: %w", day, err)
	}
	return counts, nil
}

// ConsecutivePersonal returns the current streak of completed personal
// sessions since the last completed expected session.
func (s *Store) ConsecutivePersonal(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: consecutive personal: %w", err)
	}
	defer s.pool.Put(conn)

	var streak int
	err = sqlitex.Execute(conn,
		`SELECT value FROM meta WHERE key = 'personal_streak'`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				streak = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sessionstore: consecutive personal: %w", err)
	}
	return streak, nil
}

// --- Read-side queries ---

// ListPriorities returns all priorities ordered by rank.
func (s *Store) ListPriorities(ctx context.Context) ([]session.Priority, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list priorities: %w", err)
	}
	defer s.pool.Put(conn)

	var priorities []session.Priority
	err = sqlitex.Execute(conn,
		`SELECT id, name, rank, created_at FROM priorities ORDER BY rank, id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				priorities = append(priorities, scanPriority(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list priorities: %w", err)
	}
	return priorities, nil
}

// PutPriority inserts a priority (when ID is zero) or replaces the
// existing row. The priority list is owned by the settings
// application; this is the sync path it writes through.
func (s *Store) PutPriority(ctx context.Context, priority session.Priority) (session.Priority, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return session.Priority{}, fmt.Errorf("sessionstore: put priority: %w", err)
	}
	defer s.pool.Put(conn)

	if priority.ID == 0 {
		err = sqlitex.Execute(conn,
			`INSERT INTO priorities (name, rank, created_at) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{priority.Name, priority.Rank, toMillis(priority.CreatedAt)},
			})
		if err != nil {
			return session.Priority{}, fmt.Errorf("sessionstore: insert priority: %w", err)
		}
		priority.ID = conn.LastInsertRowID()
		return priority, nil
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO priorities (id, name, rank, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, rank = excluded.rank`,
		&sqlitex.ExecOptions{
			Args: []any{priority.ID, priority.Name, priority.Rank, toMillis(priority.CreatedAt)},
		})
	if err != nil {
		return session.Priority{}, fmt.Errorf("sessionstore: put priority %d: %w", priority.ID, err)
	}
	return priority, nil
}

// ListDay returns the sessions that ended on the given day (completed
// and abandoned), oldest first.
func (s *Store) ListDay(ctx context.Context, dayStart, dayEnd time.Time) ([]session.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list day: %w", err)
	}
	defer s.pool.Put(conn)

	var sessions []session.Session
	err = sqlitex.Execute(conn,
		selectSessionColumns+` FROM sessions
		 WHERE ended_at IS NOT NULL AND ended_at >= ? AND ended_at < ?
		 ORDER BY ended_at`,
		&sqlitex.ExecOptions{
			Args: []any{toMillis(dayStart), toMillis(dayEnd)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessions = append(sessions, scanSession(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list day: %w", err)
	}
	return sessions, nil
}

// PruneHistory deletes ended sessions (and their break rows) whose
// ended_at is before the cutoff. Active rows and daily counters are
// never touched. Returns the number of sessions removed.
func (s *Store) PruneHistory(ctx context.Context, cutoff time.Time) (pruned int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: prune history: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: begin prune transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`DELETE FROM breaks WHERE active = 0 AND session_id IN
		 (SELECT id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?)`,
		&sqlitex.ExecOptions{Args: []any{toMillis(cutoff)}})
	if err != nil {
		return 0, fmt.Errorf("sessionstore: prune breaks: %w", err)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?
		 AND id NOT IN (SELECT session_id FROM breaks WHERE active = 1)`,
		&sqlitex.ExecOptions{Args: []any{toMillis(cutoff)}})
	if err != nil {
		return 0, fmt.Errorf("sessionstore: prune sessions: %w", err)
	}
	pruned = conn.Changes()

	if pruned > 0 {
		s.logger.Info("history pruned",
			"sessions_removed", pruned,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return pruned, nil
}

// --- Row scanning ---

const selectSessionColumns = `SELECT id, type, intention, priority_id,
	started_at, duration_seconds, status, reviewed, distractions,
	did_the_thing, rabbit_hole, ended_at`

func (s *Store) getSession(conn *sqlite.Conn, id string) (*session.Session, error) {
	var record *session.Session
	err := sqlitex.Execute(conn,
		selectSessionColumns+` FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanSession(stmt)
				record = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	return record, nil
}

func scanSession(stmt *sqlite.Stmt) session.Session {
	record := session.Session{
		ID:              stmt.ColumnText(0),
		Type:            session.Type(stmt.ColumnText(1)),
		Intention:       stmt.ColumnText(2),
		PriorityID:      stmt.ColumnInt64(3),
		StartedAt:       fromMillis(stmt.ColumnInt64(4)),
		DurationSeconds: stmt.ColumnInt64(5),
		Status:          session.Status(stmt.ColumnText(6)),
		Reviewed:        stmt.ColumnInt(7) != 0,
		Distractions:    session.Distractions(stmt.ColumnText(8)),
		DidTheThing:     stmt.ColumnInt(9) != 0,
		RabbitHole:      stmt.ColumnInt(10) != 0,
	}
	if !stmt.ColumnIsNull(11) {
		endedAt := fromMillis(stmt.ColumnInt64(11))
		record.EndedAt = &endedAt
	}
	return record
}

func scanPriority(stmt *sqlite.Stmt) session.Priority {
	return session.Priority{
		ID:        stmt.ColumnInt64(0),
		Name:      stmt.ColumnText(1),
		Rank:      stmt.ColumnInt(2),
		CreatedAt: fromMillis(stmt.ColumnInt64(3)),
	}
}
