package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

// eventColumns is the column list used for SELECT statements on motion_events.
const eventColumns = `id, timestamp, source, severity, zone, message, area,
	frame_timestamp, detections, thumbnail_url, snapshot_key`

// userColumns is the column list used for SELECT statements on users.
const userColumns = `id, username, password_hash, last_token`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryRecordEvent inserts an event under the ID assigned by the event log.
// Re-recording the same ID is a no-op.
func queryRecordEvent(ctx context.Context, db executor, ev *model.MotionEvent) error {
	detections, err := detectionsJSON(ev.Detections)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO motion_events (
			id, timestamp, source, severity, zone, message, area,
			frame_timestamp, detections, thumbnail_url, snapshot_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		ev.Timestamp,
		ev.Source,
		string(ev.Severity),
		nullString(ev.Zone),
		ev.Message,
		ev.Area,
		nullTimePtr(ev.FrameTimestamp),
		detections,
		nullString(ev.ThumbnailURL),
		nullString(ev.SnapshotKey),
	)
	return err
}

func queryListEvents(ctx context.Context, db executor, limit int) ([]*model.MotionEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.QueryContext(ctx, `SELECT `+eventColumns+` FROM motion_events ORDER BY id DESC LIMIT $1`, limit)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+eventColumns+` FROM motion_events ORDER BY id DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

func queryGetEvent(ctx context.Context, db executor, id int64) (*model.MotionEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM motion_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return ev, err
}

func queryPruneEvents(ctx context.Context, db executor, before time.Time) (int, []string, error) {
	rows, err := db.QueryContext(ctx, `DELETE FROM motion_events WHERE timestamp < $1 RETURNING snapshot_key`, before)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	n := 0
	keys := []string{}
	for rows.Next() {
		n++
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return 0, nil, err
		}
		if key.Valid && key.String != "" {
			keys = append(keys, key.String)
		}
	}
	return n, keys, rows.Err()
}

func queryGetUser(ctx context.Context, db executor, username string) (*model.User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return u, err
}

func queryCreateUser(ctx context.Context, db executor, u *model.User) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, last_token)
		VALUES ($1, $2, $3)
		RETURNING id`,
		u.Username, u.PasswordHash, nullString(u.LastToken),
	).Scan(&u.ID)
	return mapUnique(err)
}

func queryUpdateUser(ctx context.Context, db executor, u *model.User) error {
	result, err := db.ExecContext(ctx, `
		UPDATE users SET username = $2, password_hash = $3, last_token = $4
		WHERE id = $1`,
		u.ID, u.Username, u.PasswordHash, nullString(u.LastToken),
	)
	if err != nil {
		return mapUnique(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapUnique converts a unique_violation into store.ErrConflict.
func mapUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

func reverse(events []*model.MotionEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
