package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

const eventColumns = `id, timestamp_ns, source, severity, zone, message, area,
	frame_timestamp_ns, detections, thumbnail_url, snapshot_key`

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scannable interface {
	Scan(dest ...any) error
}

func recordEvent(ctx context.Context, db executor, ev *model.MotionEvent) error {
	var detections sql.NullString
	if len(ev.Detections) > 0 {
		b, err := json.Marshal(ev.Detections)
		if err != nil {
			return fmt.Errorf("encode detections: %w", err)
		}
		detections = sql.NullString{String: string(b), Valid: true}
	}
	var frameTS sql.NullInt64
	if ev.FrameTimestamp != nil {
		frameTS = sql.NullInt64{Int64: ev.FrameTimestamp.UnixNano(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO motion_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Timestamp.UnixNano(), ev.Source, string(ev.Severity), nullString(ev.Zone),
		ev.Message, ev.Area, frameTS, detections, nullString(ev.ThumbnailURL), nullString(ev.SnapshotKey),
	)
	return err
}

func listEvents(ctx context.Context, db executor, limit int) ([]*model.MotionEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM motion_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*model.MotionEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func getEvent(ctx context.Context, db executor, id int64) (*model.MotionEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM motion_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return ev, err
}

func pruneEvents(ctx context.Context, db executor, before time.Time) (int, []string, error) {
	rows, err := db.QueryContext(ctx, `DELETE FROM motion_events WHERE timestamp_ns < ? RETURNING snapshot_key`, before.UnixNano())
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
		if key.String != "" {
			keys = append(keys, key.String)
		}
	}
	return n, keys, rows.Err()
}

func getUser(ctx context.Context, db executor, username string) (*model.User, error) {
	var u model.User
	var lastToken sql.NullString
	err := db.QueryRowContext(ctx, `SELECT id, username, password_hash, last_token FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &lastToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LastToken = lastToken.String
	return &u, nil
}

func createUser(ctx context.Context, db executor, u *model.User) error {
	res, err := db.ExecContext(ctx, `INSERT INTO users (username, password_hash, last_token, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, nullString(u.LastToken), time.Now().UnixNano())
	if err != nil {
		if isUnique(err) {
			return store.ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func updateUser(ctx context.Context, db executor, u *model.User) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET username = ?, password_hash = ?, last_token = ? WHERE id = ?`,
		u.Username, u.PasswordHash, nullString(u.LastToken), u.ID)
	if err != nil {
		if isUnique(err) {
			return store.ErrConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanEvent(row scannable) (*model.MotionEvent, error) {
	var (
		ev           model.MotionEvent
		tsNS         int64
		severity     string
		zone         sql.NullString
		frameTSNS    sql.NullInt64
		detections   sql.NullString
		thumbnailURL sql.NullString
		snapshotKey  sql.NullString
	)
	err := row.Scan(&ev.ID, &tsNS, &ev.Source, &severity, &zone, &ev.Message, &ev.Area,
		&frameTSNS, &detections, &thumbnailURL, &snapshotKey)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = time.Unix(0, tsNS).UTC()
	ev.Severity = model.Severity(severity)
	ev.Zone = zone.String
	ev.ThumbnailURL = thumbnailURL.String
	ev.SnapshotKey = snapshotKey.String
	if frameTSNS.Valid {
		t := time.Unix(0, frameTSNS.Int64).UTC()
		ev.FrameTimestamp = &t
	}
	ev.Detections = []model.Detection{}
	if detections.String != "" {
		if err := json.Unmarshal([]byte(detections.String), &ev.Detections); err != nil {
			return nil, fmt.Errorf("decode detections for event %d: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
