// Package store persists connection sessions and server settings in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// SessionRow is one client connection, open or completed.
type SessionRow struct {
	ID               uuid.UUID
	Name             string
	Addr             string
	Profile          string
	Slot             int
	Started          time.Time
	Ended            time.Time
	Reason           string
	FramesSent       uint64
	FramesSuppressed uint64
	FullFrames       uint64
	BytesSent        uint64
}

// Open reports whether the session has not been completed.
func (r *SessionRow) Open() bool { return r.Ended.IsZero() }

// OpenDB opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		conn.SetMaxOpenConns(1)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		addr TEXT NOT NULL DEFAULT '',
		profile TEXT NOT NULL DEFAULT '',
		slot INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		reason TEXT NOT NULL DEFAULT '',
		frames_sent INTEGER NOT NULL DEFAULT 0,
		frames_suppressed INTEGER NOT NULL DEFAULT 0,
		full_frames INTEGER NOT NULL DEFAULT 0,
		bytes_sent INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns the stored value for key, or "" when unset.
func (db *DB) GetSetting(key string) (string, error) {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetSetting stores value under key.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// Session returns a session by id, or nil when it does not exist.
func (db *DB) Session(id uuid.UUID) (*SessionRow, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, addr, profile, slot, started_at, ended_at, reason,
		       frames_sent, frames_suppressed, full_frames, bytes_sent
		FROM sessions WHERE id = ?`, id.String())
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]SessionRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, addr, profile, slot, started_at, ended_at, reason,
		       frames_sent, frames_suppressed, full_frames, bytes_sent
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*SessionRow, error) {
	var (
		r     SessionRow
		id    string
		ended sql.NullTime
	)
	err := s.Scan(&id, &r.Name, &r.Addr, &r.Profile, &r.Slot, &r.Started, &ended, &r.Reason,
		&r.FramesSent, &r.FramesSuppressed, &r.FullFrames, &r.BytesSent)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session id %q: %w", id, err)
	}
	if ended.Valid {
		r.Ended = ended.Time
	}
	return &r, nil
}

func insertSession(tx *sql.Tx, r *SessionRow) error {
	_, err := tx.Exec(
		`INSERT INTO sessions (id, name, addr, profile, slot, started_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID.String(), r.Name, r.Addr, r.Profile, r.Slot, r.Started.UTC(),
	)
	return err
}

func completeSession(tx *sql.Tx, r *SessionRow) error {
	_, err := tx.Exec(`
		UPDATE sessions SET ended_at = ?, reason = ?, frames_sent = ?, frames_suppressed = ?,
		       full_frames = ?, bytes_sent = ?
		WHERE id = ?`,
		r.Ended.UTC(), r.Reason, r.FramesSent, r.FramesSuppressed, r.FullFrames, r.BytesSent,
		r.ID.String(),
	)
	return err
}
