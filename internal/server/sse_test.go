package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/motion"
)

type sseEvent struct {
	id    string
	event string
	data  string
}

// readSSE parses events from the stream until n have been read.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id:"):
			cur.id = strings.TrimPrefix(line, "id:")
		case strings.HasPrefix(line, "event:"):
			cur.event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			cur.data = strings.TrimPrefix(line, "data:")
		}
	}
	if len(out) < n {
		t.Fatalf("stream ended after %d events, want %d (err %v)", len(out), n, sc.Err())
	}
	return out
}

func openSSE(t *testing.T, env *testEnv, query string, header http.Header) *bufio.Scanner {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, "GET", env.http.URL+"/api/events/stream?"+query, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	return bufio.NewScanner(resp.Body)
}

func waitSubscribers(t *testing.T, env *testEnv, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for env.motion.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", env.motion.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func simulate(t *testing.T, env *testEnv, zone string) *model.MotionEvent {
	t.Helper()
	ev, err := env.motion.Simulate(context.Background(), motion.SimulateRequest{Zone: zone})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestHandleEventStream_ReplayThenLive(t *testing.T) {
	env := newTestEnv(t)
	simulate(t, env, "a")
	simulate(t, env, "b")

	sc := openSSE(t, env, "since=1", nil)
	waitSubscribers(t, env, 1)
	simulate(t, env, "c")

	got := readSSE(t, sc, 2)
	for i, want := range []string{"2", "3"} {
		if got[i].id != want {
			t.Errorf("event %d id = %q, want %q", i, got[i].id, want)
		}
		if got[i].event != api.SSEEventMotion {
			t.Errorf("event %d name = %q, want %q", i, got[i].event, api.SSEEventMotion)
		}
	}
	var ev model.MotionEvent
	if err := json.Unmarshal([]byte(got[1].data), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Zone != "c" {
		t.Errorf("live event zone = %q, want %q", ev.Zone, "c")
	}
}

func TestHandleEventStream_LastEventID(t *testing.T) {
	env := newTestEnv(t)
	simulate(t, env, "a")
	simulate(t, env, "b")
	simulate(t, env, "c")

	// Last-Event-ID wins over the since query.
	sc := openSSE(t, env, "since=0", http.Header{"Last-Event-ID": {"2"}})
	got := readSSE(t, sc, 1)
	if got[0].id != "3" {
		t.Errorf("first id = %q, want %q", got[0].id, "3")
	}
}

func TestHandleEventStream_PresenceAndCleanup(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", env.http.URL+"/api/events/stream?token="+env.token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	waitSubscribers(t, env, 1)
	roster := env.srv.Presence.Roster()
	if len(roster) != 1 || roster[0].User != testUser {
		t.Fatalf("roster = %+v, want one entry for %s", roster, testUser)
	}

	cancel()
	waitSubscribers(t, env, 0)
	deadline := time.Now().Add(5 * time.Second)
	for env.srv.Presence.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplayFrom(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   int64
	}{
		{"none", "/", "", -1},
		{"since", "/?since=4", "", 4},
		{"header", "/?since=4", "7", 7},
		{"bad header falls back", "/?since=4", "x", 4},
		{"negative", "/?since=-3", "", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Last-Event-ID", tt.header)
			}
			if got := replayFrom(r); got != tt.want {
				t.Errorf("replayFrom() = %d, want %d", got, tt.want)
			}
		})
	}
}
