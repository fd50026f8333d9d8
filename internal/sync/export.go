package sync

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Source is anything that can list motion events oldest first.
type Source interface {
	List(filter model.EventFilter) []*model.MotionEvent
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
	LastID     int64     `json:"last_id"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every event from src as JSONL to w, oldest first, and
// returns the number of events written.
func ExportJSONL(src Source, w io.Writer) (int, error) {
	events := src.List(model.EventFilter{})

	var lastID int64
	if len(events) > 0 {
		lastID = events[len(events)-1].ID
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: len(events),
		LastID:     lastID,
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, ev := range events {
		if err := enc.Encode(record{Type: "motion_event", Data: ev}); err != nil {
			return 0, fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
	}
	return len(events), nil
}
