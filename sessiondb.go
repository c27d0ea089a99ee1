package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// handleKey is the fixed slot a session's handle is stored under.
const handleKey = "handle"

const sessionSchema = `
CREATE TABLE IF NOT EXISTS session_values (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, key)
);
CREATE INDEX IF NOT EXISTS session_values_updated_at ON session_values (updated_at);
`

// SQLiteHandleStore persists session handles in a SQLite file.
type SQLiteHandleStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenHandleStore opens (creating if needed) the SQLite database at path.
func OpenHandleStore(path string) (*SQLiteHandleStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session db path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("session db %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session db schema: %w", err)
	}
	return &SQLiteHandleStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteHandleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadHandle returns the session's handle, or "" when none was saved.
func (s *SQLiteHandleStore) LoadHandle(ctx context.Context, sessionID string) (string, error) {
	var handle string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_values WHERE session_id = ? AND key = ?`,
		sessionID, handleKey,
	).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load handle: %w", err)
	}
	return handle, nil
}

// SaveHandle stores the session's handle, replacing any previous one.
func (s *SQLiteHandleStore) SaveHandle(ctx context.Context, sessionID, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_values (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionID, handleKey, handle, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save handle: %w", err)
	}
	return nil
}

// TouchHandles records that the given sessions were seen, so PruneHandles
// keeps their handles. Rows never move back in time.
func (s *SQLiteHandleStore) TouchHandles(ctx context.Context, seen map[string]time.Time) error {
	if len(seen) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("touch handles: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE session_values SET updated_at = MAX(updated_at, ?) WHERE session_id = ? AND key = ?`,
	)
	if err != nil {
		return fmt.Errorf("touch handles: %w", err)
	}
	defer stmt.Close()

	for id, at := range seen {
		if _, err := stmt.ExecContext(ctx, at.UTC().UnixMilli(), id, handleKey); err != nil {
			return fmt.Errorf("touch handle %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("touch handles: %w", err)
	}
	return nil
}

// PruneHandles deletes handles not saved or touched since the cutoff.
func (s *SQLiteHandleStore) PruneHandles(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_values WHERE key = ? AND updated_at < ?`,
		handleKey, before.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune handles: %w", err)
	}
	return res.RowsAffected()
}
