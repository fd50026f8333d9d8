// Package presence tracks who is watching the live motion feed.
//
// Every live transport (WebSocket, SSE, gRPC stream) joins the roster when
// a client connects, touches its entry on each delivered event, and leaves
// on disconnect. GET /api/viewers reads the roster.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Transport names used by the server.
const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportGRPC      = "grpc"
)

// Entry represents a single connected viewer.
type Entry struct {
	ID           string     `json:"id"`
	User         string     `json:"user"`
	Transport    string     `json:"transport"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastDelivery *time.Time `json:"last_delivery,omitempty"`
	Delivered    int64      `json:"delivered"`
	IdleSecs     float64    `json:"idle_secs"` // seconds since last delivery or connect
}

// Viewer identifies a connection joining the roster.
type Viewer struct {
	ID         string // subscriber ID, unique per connection
	User       string
	Transport  string
	RemoteAddr string
}

// Tracker maintains an in-memory roster of live viewers.
type Tracker struct {
	mu      sync.RWMutex
	viewers map[string]*viewerState
	now     func() time.Time
}

type viewerState struct {
	Viewer
	connectedAt  time.Time
	lastDelivery time.Time
	delivered    int64
}

// New creates a new presence tracker.
func New() *Tracker {
	return &Tracker{
		viewers: make(map[string]*viewerState),
		now:     time.Now,
	}
}

// Join adds a viewer. Joining again with the same ID resets its counters.
func (t *Tracker) Join(v Viewer) {
	if v.ID == "" {
		return
	}
	t.mu.Lock()
	t.viewers[v.ID] = &viewerState{Viewer: v, connectedAt: t.now()}
	n := len(t.viewers)
	t.mu.Unlock()

	slog.Debug("presence: viewer joined", "id", v.ID, "user", v.User, "transport", v.Transport, "viewers", n)
}

// Touch records one event delivered to the viewer. Unknown IDs are ignored.
func (t *Tracker) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.viewers[id]; ok {
		st.lastDelivery = t.now()
		st.delivered++
	}
}

// Leave removes a viewer. It is safe to call more than once.
func (t *Tracker) Leave(id string) {
	t.mu.Lock()
	st, ok := t.viewers[id]
	delete(t.viewers, id)
	t.mu.Unlock()

	if ok {
		slog.Debug("presence: viewer left", "id", id, "user", st.User, "delivered", st.delivered)
	}
}

// Count returns the number of connected viewers.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.viewers)
}

// Roster returns a snapshot of all viewers, most recently connected first.
func (t *Tracker) Roster() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.viewers))
	for _, st := range t.viewers {
		e := Entry{
			ID:          st.ID,
			User:        st.User,
			Transport:   st.Transport,
			RemoteAddr:  st.RemoteAddr,
			ConnectedAt: st.connectedAt,
			Delivered:   st.delivered,
		}
		last := st.connectedAt
		if !st.lastDelivery.IsZero() {
			ld := st.lastDelivery
			e.LastDelivery = &ld
			last = ld
		}
		e.IdleSecs = now.Sub(last).Seconds()
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].ConnectedAt.After(entries[j].ConnectedAt)
	})
	return entries
}
