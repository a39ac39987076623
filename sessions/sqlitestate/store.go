// Package sqlitestate keeps the local session state in a SQLite file so a
// session survives restarts of the CLI.
package sqlitestate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/notifica/sessions"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

var _ sessions.StateRepo = (*Store)(nil)

// Store is a sessions.StateRepo backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the file at path (and its directory) when missing.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "[sqlitestate.Open] create state directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestate.Open] open database")
	}
	// One connection serialises writers inside this process; SQLite's file
	// lock does the same across processes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlitestate.Open] set busy timeout")
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an existing connection and makes sure the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("[sqlitestate.New] db is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "[sqlitestate.New] create schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[Store.Get] %s", key)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now())
	return errors.Wrapf(err, "[Store.Set] %s", key)
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "[Store.SetIfAbsent] begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO NOTHING`, key, value, now()); err != nil {
		return "", errors.Wrapf(err, "[Store.SetIfAbsent] insert %s", key)
	}
	var current string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&current); err != nil {
		return "", errors.Wrapf(err, "[Store.SetIfAbsent] read back %s", key)
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "[Store.SetIfAbsent] commit")
	}
	return current, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key)
	return errors.Wrapf(err, "[Store.Delete] %s", key)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
