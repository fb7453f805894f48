package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing the combat journal.
type DB struct {
	conn *sql.DB
}

// ResolutionRow is one resolved attack.
type ResolutionRow struct {
	SessionID   string
	AgentID     uint32
	Variant     string
	Damage      float64
	Applied     bool
	Stale       bool
	CommittedAt time.Time
	ResolvedAt  time.Time
}

// DiagnosticRow is a non-fatal anomaly worth keeping, e.g. a stale attack or
// a protocol desync.
type DiagnosticRow struct {
	SessionID string
	Kind      string
	Message   string
	At        time.Time
}

// SessionSummary aggregates a session's resolutions.
type SessionSummary struct {
	SessionID     string
	Attacks       int
	Applied       int
	Stale         int
	DamageApplied float64
}

// Open opens (or creates) the journal database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the batched writer is the only heavy user.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		end_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attack_resolutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		variant TEXT NOT NULL,
		damage REAL NOT NULL,
		applied INTEGER NOT NULL,
		stale INTEGER NOT NULL,
		committed_at TEXT NOT NULL,
		resolved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS diagnostics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resolutions_session ON attack_resolutions(session_id);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_session ON diagnostics(session_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns the stored value for key, or "" when unset.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// StartSession records a new session.
func (db *DB) StartSession(id string, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO sessions (id, started_at) VALUES (?, ?)",
		id, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// EndSession stamps the end of a session and why it ended.
func (db *DB) EndSession(id string, at time.Time, reason string) error {
	_, err := db.conn.Exec(
		"UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), reason, id,
	)
	return err
}

// Resolutions returns a session's resolved attacks, oldest first.
func (db *DB) Resolutions(sessionID string, limit int) ([]ResolutionRow, error) {
	rows, err := db.conn.Query(`
		SELECT session_id, agent_id, variant, damage, applied, stale, committed_at, resolved_at
		FROM attack_resolutions
		WHERE session_id = ?
		ORDER BY id
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ResolutionRow
	for rows.Next() {
		var (
			r                      ResolutionRow
			committedAt, resolveAt string
		)
		if err := rows.Scan(&r.SessionID, &r.AgentID, &r.Variant, &r.Damage, &r.Applied, &r.Stale, &committedAt, &resolveAt); err != nil {
			return nil, err
		}
		r.CommittedAt, _ = time.Parse(time.RFC3339Nano, committedAt)
		r.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolveAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

// Diagnostics returns a session's diagnostics, oldest first.
func (db *DB) Diagnostics(sessionID string, limit int) ([]DiagnosticRow, error) {
	rows, err := db.conn.Query(`
		SELECT session_id, kind, message, created_at
		FROM diagnostics
		WHERE session_id = ?
		ORDER BY id
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DiagnosticRow
	for rows.Next() {
		var (
			d  DiagnosticRow
			at string
		)
		if err := rows.Scan(&d.SessionID, &d.Kind, &d.Message, &at); err != nil {
			return nil, err
		}
		d.At, _ = time.Parse(time.RFC3339Nano, at)
		result = append(result, d)
	}
	return result, rows.Err()
}

// Summary aggregates the attacks recorded for a session.
func (db *DB) Summary(sessionID string) (SessionSummary, error) {
	s := SessionSummary{SessionID: sessionID}
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(applied), 0),
			COALESCE(SUM(stale), 0),
			COALESCE(SUM(CASE WHEN applied = 1 THEN damage ELSE 0 END), 0)
		FROM attack_resolutions
		WHERE session_id = ?`,
		sessionID,
	).Scan(&s.Attacks, &s.Applied, &s.Stale, &s.DamageApplied)
	return s, err
}
