package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/presence"
)

func dialWS(t *testing.T, env *testEnv, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readWS(t *testing.T, conn *websocket.Conn) api.WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return msg
}

func TestWebSocket_InfoReplayLive(t *testing.T) {
	env := newTestEnv(t)
	simulate(t, env, "a")

	conn, _, err := dialWS(t, env, "token="+env.token+"&since=0", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	info := readWS(t, conn)
	if info.Type != api.MessageInfo || info.Message == "" {
		t.Fatalf("first message = %+v, want info", info)
	}
	replayed := readWS(t, conn)
	if replayed.Type != api.MessageMotion || replayed.Payload == nil || replayed.Payload.ID != 1 {
		t.Fatalf("replayed = %+v, want motion event 1", replayed)
	}

	simulate(t, env, "b")
	live := readWS(t, conn)
	if live.Payload == nil || live.Payload.ID != 2 || live.Payload.Zone != "b" {
		t.Fatalf("live = %+v, want motion event 2 in zone b", live)
	}

	roster := env.srv.Presence.Roster()
	if len(roster) != 1 || roster[0].Transport != presence.TransportWebSocket {
		t.Fatalf("roster = %+v, want one websocket viewer", roster)
	}
	// Touch runs after the write, so give it a moment.
	deadline := time.Now().Add(5 * time.Second)
	for env.srv.Presence.Roster()[0].Delivered != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Delivered = %d, want 1", env.srv.Presence.Roster()[0].Delivered)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_NoReplayWithoutSince(t *testing.T) {
	env := newTestEnv(t)
	simulate(t, env, "old")

	conn, _, err := dialWS(t, env, "token="+env.token, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	readWS(t, conn) // info

	simulate(t, env, "new")
	msg := readWS(t, conn)
	if msg.Payload == nil || msg.Payload.Zone != "new" {
		t.Fatalf("got %+v, want the live event only", msg)
	}
}

func TestWebSocket_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	_, resp, err := dialWS(t, env, "token=garbage", nil)
	if err == nil {
		t.Fatal("Dial() succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v, want 401", resp)
	}
}

func TestWebSocket_OriginCheck(t *testing.T) {
	env := newTestEnv(t)
	_, resp, err := dialWS(t, env, "token="+env.token, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("Dial() succeeded from a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %v, want 403", resp)
	}

	conn, _, err := dialWS(t, env, "token="+env.token, http.Header{"Origin": {"http://localhost:5173"}})
	if err != nil {
		t.Fatalf("Dial() from allowed origin error: %v", err)
	}
	readWS(t, conn)
}

func TestWebSocket_DisconnectUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	conn, _, err := dialWS(t, env, "token="+env.token, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	readWS(t, conn)
	waitSubscribers(t, env, 1)

	conn.Close()
	waitSubscribers(t, env, 0)
}
