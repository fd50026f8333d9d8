package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

func TestNotifierPostsEvents(t *testing.T) {
	got := make(chan map[string]json.RawMessage, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		got <- body
	}))
	defer srv.Close()

	n := New(srv.URL, Options{})
	n.Start()
	defer n.Stop()

	if !n.Enqueue(&model.MotionEvent{ID: 7, Severity: model.SeverityHigh, Message: "Camera detected motion"}) {
		t.Fatal("Enqueue() = false, want true")
	}

	select {
	case body := <-got:
		if string(body["type"]) != `"motion_event"` {
			t.Errorf("type = %s, want \"motion_event\"", body["type"])
		}
		var ev model.MotionEvent
		if err := json.Unmarshal(body["payload"], &ev); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if ev.ID != 7 || ev.Message != "Camera detected motion" {
			t.Errorf("payload = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestNotifierDisabled(t *testing.T) {
	n := New("", Options{})
	if n.Enabled() {
		t.Fatal("Enabled() = true, want false")
	}
	n.Start()
	if n.Enqueue(&model.MotionEvent{ID: 1}) {
		t.Error("Enqueue() on disabled notifier = true, want false")
	}
	n.Stop()
}

func TestNotifierDropsWhenFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	n := New("http://127.0.0.1:1/hook", Options{QueueSize: 2})
	results := []bool{}
	for i := int64(1); i <= 3; i++ {
		results = append(results, n.Enqueue(&model.MotionEvent{ID: i}))
	}
	want := []bool{true, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("Enqueue #%d = %v, want %v", i+1, results[i], want[i])
		}
	}
}

func TestNotifierStopWithoutStart(t *testing.T) {
	n := New("http://example.invalid", Options{})
	n.Stop()
}

func TestNotifierSurvivesWebhookErrors(t *testing.T) {
	calls := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, Options{})
	n.Start()
	defer n.Stop()

	n.Enqueue(&model.MotionEvent{ID: 1})
	n.Enqueue(&model.MotionEvent{ID: 2})
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d webhook calls, want 2", i)
		}
	}
}
