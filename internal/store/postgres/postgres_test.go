package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// eventRowColumns is the column list for scanEvent results.
var eventRowColumns = []string{
	"id", "timestamp", "source", "severity", "zone", "message", "area",
	"frame_timestamp", "detections", "thumbnail_url", "snapshot_key",
}

func TestQueryRecordEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := &model.MotionEvent{
		ID: 7, Timestamp: now, Source: "camera", Severity: model.SeverityHigh,
		Zone: "Garage", Message: "Camera detected motion", Area: 1200,
		FrameTimestamp: &now,
		Detections:     []model.Detection{{Label: "person", Confidence: 0.8}},
		ThumbnailURL:   "/api/snapshots/k.jpg", SnapshotKey: "k.jpg",
	}
	mock.ExpectExec("INSERT INTO motion_events .+ ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs(
			int64(7), now, "camera", "high", "Garage", "Camera detected motion", 1200,
			now, []byte(`[{"label":"person","confidence":0.8}]`), "/api/snapshots/k.jpg", "k.jpg",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryRecordEvent(context.Background(), db, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryRecordEvent_NullableColumns(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	ev := &model.MotionEvent{ID: 1, Timestamp: now, Source: "test-cam-1", Severity: model.SeverityLow, Message: "m"}
	mock.ExpectExec("INSERT INTO motion_events").
		WithArgs(int64(1), now, "test-cam-1", "low", nil, "m", 0, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryRecordEvent(context.Background(), db, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryListEvents(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(int64(3), now, "camera", "high", "Garage", "c", 900, now, []byte(`[{"label":"cat","confidence":0.5}]`), nil, nil).
		AddRow(int64(2), now, "test-cam-1", "low", nil, "b", 0, nil, nil, "https://placehold.co/x", nil)
	mock.ExpectQuery("SELECT .+ FROM motion_events ORDER BY id DESC LIMIT \\$1").WithArgs(2).WillReturnRows(rows)

	events, err := queryListEvents(context.Background(), db, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != 2 || events[1].ID != 3 {
		t.Errorf("got IDs [%d %d], want oldest first [2 3]", events[0].ID, events[1].ID)
	}
	if events[0].Detections == nil || len(events[0].Detections) != 0 {
		t.Errorf("null detections = %#v, want empty slice", events[0].Detections)
	}
	if events[1].FrameTimestamp == nil || events[1].Detections[0].Label != "cat" {
		t.Errorf("camera event decoded as %+v", events[1])
	}
	if events[0].ThumbnailURL != "https://placehold.co/x" {
		t.Errorf("ThumbnailURL = %q", events[0].ThumbnailURL)
	}
}

func TestQueryListEvents_NoLimit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM motion_events ORDER BY id DESC").
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	events, err := queryListEvents(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("got %#v, want empty slice", events)
	}
}

func TestQueryGetEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM motion_events WHERE id = \\$1").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	_, err := queryGetEvent(context.Background(), db, 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryGetEvent_BadDetections(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM motion_events WHERE id = \\$1").WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow(int64(4), now, "camera", "low", nil, "m", 0, nil, []byte(`{`), nil, nil))

	if _, err := queryGetEvent(context.Background(), db, 4); err == nil {
		t.Fatal("expected decode error for malformed detections")
	}
}

func TestQueryPruneEvents(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("DELETE FROM motion_events WHERE timestamp < \\$1 RETURNING snapshot_key").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_key"}).
			AddRow("20260301/snap-a.jpg").
			AddRow(nil).
			AddRow("20260302/snap-b.jpg"))

	n, keys, err := queryPruneEvents(context.Background(), db, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned %d rows, want 3", n)
	}
	if len(keys) != 2 || keys[0] != "20260301/snap-a.jpg" || keys[1] != "20260302/snap-b.jpg" {
		t.Errorf("got keys %v", keys)
	}
}

func TestQueryCreateUser(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO users .+ RETURNING id").
		WithArgs("admin", "$2a$hash", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	u := &model.User{Username: "admin", PasswordHash: "$2a$hash"}
	if err := queryCreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 1 {
		t.Errorf("ID = %d, want 1", u.ID)
	}
}

func TestQueryCreateUser_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := queryCreateUser(context.Background(), db, &model.User{Username: "admin", PasswordHash: "x"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected store.ErrConflict, got %v", err)
	}
}

func TestQueryGetUser(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM users WHERE username = \\$1").WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "last_token"}).
			AddRow(int64(1), "admin", "$2a$hash", nil))

	u, err := queryGetUser(context.Background(), db, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 1 || u.Username != "admin" || u.LastToken != "" {
		t.Errorf("got %+v", u)
	}

	mock.ExpectQuery("SELECT .+ FROM users WHERE username = \\$1").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	if _, err := queryGetUser(context.Background(), db, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryUpdateUser_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE users SET").
		WithArgs(int64(5), "admin", "h", "tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := queryUpdateUser(context.Background(), db, &model.User{ID: 5, Username: "admin", PasswordHash: "h", LastToken: "tok"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestRunInTransaction(t *testing.T) {
	t.Run("Commit", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := &PostgresStore{db: db}
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
			return tx.UpdateUser(context.Background(), &model.User{ID: 1, Username: "a", PasswordHash: "h"})
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Rollback", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := &PostgresStore{db: db}
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := s.RunInTransaction(context.Background(), func(tx store.Store) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}
	})
}
