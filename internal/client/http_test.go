package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func TestHTTPClient_Login(t *testing.T) {
	h := &testHandler{responseBody: `{"token":"tok","token_type":"bearer","expires_in":3600,"username":"admin"}`}
	c := newTestClient(t, h, "")

	resp, err := c.Login(context.Background(), "admin", "pw")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/api/login" {
		t.Errorf("request = %s %s, want POST /api/login", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", h.contentType)
	}
	var sent api.LoginRequest
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Username != "admin" || sent.Password != "pw" {
		t.Errorf("sent %+v, want admin/pw", sent)
	}
	if h.auth != "" {
		t.Errorf("Authorization = %q, want none", h.auth)
	}
	if resp.Token != "tok" || resp.ExpiresIn != 3600 {
		t.Errorf("got %+v", resp)
	}
}

func TestHTTPClient_ListEvents(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[{"id":4,"source":"camera","severity":"high","message":"m","detections":[]}]}`}
	c := newTestClient(t, h, "tok")

	evs, err := c.ListEvents(context.Background(), model.EventFilter{
		Severity: model.SeverityHigh,
		Zone:     "Front Door",
		SinceID:  3,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if h.path != "/api/motion-events" {
		t.Errorf("path = %q, want /api/motion-events", h.path)
	}
	for _, want := range []string{"severity=high", "zone=Front+Door", "since_id=3", "limit=10"} {
		if !strings.Contains(h.query, want) {
			t.Errorf("query %q missing %q", h.query, want)
		}
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", h.auth, "Bearer tok")
	}
	if len(evs) != 1 || evs[0].ID != 4 || evs[0].Severity != model.SeverityHigh {
		t.Errorf("got %+v", evs)
	}
}

func TestHTTPClient_ListEvents_NoFilter(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[]}`}
	c := newTestClient(t, h, "tok")

	if _, err := c.ListEvents(context.Background(), model.EventFilter{}); err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if h.query != "" {
		t.Errorf("query = %q, want empty", h.query)
	}
}

func TestHTTPClient_Simulate(t *testing.T) {
	h := &testHandler{responseBody: `{"id":1,"source":"sim","severity":"low","zone":"Garage","message":"x","detections":[]}`}
	c := newTestClient(t, h, "tok")

	ev, err := c.Simulate(context.Background(), api.SimulateRequest{Zone: "Garage"})
	if err != nil {
		t.Fatalf("Simulate() error: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/api/motion-events/simulate" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if !strings.Contains(h.body, `"zone":"Garage"`) {
		t.Errorf("body = %s, want zone", h.body)
	}
	if ev.Zone != "Garage" {
		t.Errorf("Zone = %q, want Garage", ev.Zone)
	}
}

func TestHTTPClient_HealthAndMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded","watcher":{"enabled":true,"state":"disabled"},"subscribers":2}`))
	})
	mux.HandleFunc("GET /api/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"username":"admin"}`))
	})
	c := newTestClient(t, mux, "tok")

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if h.Status != api.StatusDegraded || h.Subscribers != 2 || h.Watcher.State != model.WatcherDisabled {
		t.Errorf("got %+v", h)
	}

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if user != "admin" {
		t.Errorf("Me() = %q, want admin", user)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantMsg  string
		wantCode int
	}{
		{"json error", http.StatusUnauthorized, `{"error":"invalid or expired token"}`, "invalid or expired token", 401},
		{"plain body", http.StatusBadGateway, "upstream down\n", "upstream down", 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tt.code, responseBody: tt.body}, "tok")
			_, err := c.Me(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", apiErr.StatusCode, apiErr.Message, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestHTTPClient_SetToken(t *testing.T) {
	h := &testHandler{responseBody: `{"username":"admin"}`}
	c := newTestClient(t, h, "")
	c.SetToken("fresh")
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.auth != "Bearer fresh" {
		t.Errorf("Authorization = %q, want %q", h.auth, "Bearer fresh")
	}
}
