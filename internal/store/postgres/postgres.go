// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	store.Register(func(ctx context.Context, databaseURL string) (store.Store, error) {
		return New(ctx, databaseURL)
	}, "postgres", "postgresql")
}

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *model.MotionEvent) error {
	return queryRecordEvent(ctx, s.db, ev)
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]*model.MotionEvent, error) {
	return queryListEvents(ctx, s.db, limit)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*model.MotionEvent, error) {
	return queryGetEvent(ctx, s.db, id)
}

func (s *PostgresStore) PruneEvents(ctx context.Context, before time.Time) (int, []string, error) {
	return queryPruneEvents(ctx, s.db, before)
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	return queryGetUser(ctx, s.db, username)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	return queryCreateUser(ctx, s.db, u)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *model.User) error {
	return queryUpdateUser(ctx, s.db, u)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) RecordEvent(ctx context.Context, ev *model.MotionEvent) error {
	return queryRecordEvent(ctx, s.tx, ev)
}

func (s *txStore) ListEvents(ctx context.Context, limit int) ([]*model.MotionEvent, error) {
	return queryListEvents(ctx, s.tx, limit)
}

func (s *txStore) GetEvent(ctx context.Context, id int64) (*model.MotionEvent, error) {
	return queryGetEvent(ctx, s.tx, id)
}

func (s *txStore) PruneEvents(ctx context.Context, before time.Time) (int, []string, error) {
	return queryPruneEvents(ctx, s.tx, before)
}

func (s *txStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	return queryGetUser(ctx, s.tx, username)
}

func (s *txStore) CreateUser(ctx context.Context, u *model.User) error {
	return queryCreateUser(ctx, s.tx, u)
}

func (s *txStore) UpdateUser(ctx context.Context, u *model.User) error {
	return queryUpdateUser(ctx, s.tx, u)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
