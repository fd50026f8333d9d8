package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.MotionEvent.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.MotionEvent, error) {
	var ev model.MotionEvent
	var (
		severity       string
		zone           sql.NullString
		frameTimestamp sql.NullTime
		detections     []byte
		thumbnailURL   sql.NullString
		snapshotKey    sql.NullString
	)

	err := row.Scan(
		&ev.ID,
		&ev.Timestamp,
		&ev.Source,
		&severity,
		&zone,
		&ev.Message,
		&ev.Area,
		&frameTimestamp,
		&detections,
		&thumbnailURL,
		&snapshotKey,
	)
	if err != nil {
		return nil, err
	}

	ev.Severity = model.Severity(severity)
	ev.Zone = zone.String
	ev.ThumbnailURL = thumbnailURL.String
	ev.SnapshotKey = snapshotKey.String
	if frameTimestamp.Valid {
		t := frameTimestamp.Time
		ev.FrameTimestamp = &t
	}
	ev.Detections = []model.Detection{}
	if len(detections) > 0 {
		if err := json.Unmarshal(detections, &ev.Detections); err != nil {
			return nil, fmt.Errorf("decode detections for event %d: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// scanEvents scans multiple rows into a slice of model.MotionEvent pointers.
func scanEvents(rows *sql.Rows) ([]*model.MotionEvent, error) {
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
	return events, nil
}

// scanUser scans a single row into a model.User.
func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var lastToken sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &lastToken); err != nil {
		return nil, err
	}
	u.LastToken = lastToken.String
	return &u, nil
}

// detectionsJSON encodes detections for the JSONB column; none is null.
func detectionsJSON(dets []model.Detection) (any, error) {
	if len(dets) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(dets)
	if err != nil {
		return nil, fmt.Errorf("encode detections: %w", err)
	}
	return b, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
