// Package sqlite implements store.Store on an embedded SQLite file, the
// default single-host deployment.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

func init() {
	store.Register(func(ctx context.Context, databaseURL string) (store.Store, error) {
		return Open(ctx, PathFromURL(databaseURL))
	}, "sqlite", "file")
}

// Store implements store.Store backed by SQLite in WAL mode.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// PathFromURL strips a sqlite:// or file:// prefix.
func PathFromURL(databaseURL string) string {
	for _, prefix := range []string{"sqlite://", "file://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Open creates the database file and its parent directory if needed and
// applies the schema. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS motion_events (
		id INTEGER PRIMARY KEY,
		timestamp_ns INTEGER NOT NULL,
		source TEXT NOT NULL,
		severity TEXT NOT NULL,
		zone TEXT,
		message TEXT NOT NULL DEFAULT '',
		area INTEGER NOT NULL DEFAULT 0,
		frame_timestamp_ns INTEGER,
		detections TEXT,
		thumbnail_url TEXT,
		snapshot_key TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_motion_events_timestamp ON motion_events(timestamp_ns);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		last_token TEXT,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordEvent(ctx context.Context, ev *model.MotionEvent) error {
	return recordEvent(ctx, s.db, ev)
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]*model.MotionEvent, error) {
	return listEvents(ctx, s.db, limit)
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*model.MotionEvent, error) {
	return getEvent(ctx, s.db, id)
}

func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int, []string, error) {
	return pruneEvents(ctx, s.db, before)
}

func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	return getUser(ctx, s.db, username)
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return createUser(ctx, s.db, u)
}

func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	return updateUser(ctx, s.db, u)
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) RecordEvent(ctx context.Context, ev *model.MotionEvent) error {
	return recordEvent(ctx, s.tx, ev)
}

func (s *txStore) ListEvents(ctx context.Context, limit int) ([]*model.MotionEvent, error) {
	return listEvents(ctx, s.tx, limit)
}

func (s *txStore) GetEvent(ctx context.Context, id int64) (*model.MotionEvent, error) {
	return getEvent(ctx, s.tx, id)
}

func (s *txStore) PruneEvents(ctx context.Context, before time.Time) (int, []string, error) {
	return pruneEvents(ctx, s.tx, before)
}

func (s *txStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	return getUser(ctx, s.tx, username)
}

func (s *txStore) CreateUser(ctx context.Context, u *model.User) error {
	return createUser(ctx, s.tx, u)
}

func (s *txStore) UpdateUser(ctx context.Context, u *model.User) error {
	return updateUser(ctx, s.tx, u)
}

func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Close() error { return nil }

// isUnique reports whether err is a UNIQUE constraint violation.
func isUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
