package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/broadcast"
	"github.com/alfredjeanlab/homewatch/internal/idgen"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/presence"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent connection timeouts.
var sseKeepaliveInterval = 15 * time.Second

// replayFrom returns the id after which logged events should be replayed,
// or -1 for no replay. The Last-Event-ID header wins over the since query
// parameter.
func replayFrom(r *http.Request) int64 {
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("since")} {
		if v == "" {
			continue
		}
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id >= 0 {
			return id
		}
	}
	return -1
}

// handleEventStream handles GET /api/events/stream (SSE endpoint).
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := broadcast.NewQueueSubscriber(idgen.SubscriberID(), s.subscriberBuffer)
	replay, err := s.motion.SubscribeFrom(sub, replayFrom(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer s.motion.Unsubscribe(sub)

	s.Presence.Join(presence.Viewer{
		ID:         sub.ID(),
		User:       UserFromContext(r.Context()),
		Transport:  presence.TransportSSE,
		RemoteAddr: r.RemoteAddr,
	})
	defer s.Presence.Leave(sub.ID())

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	for _, ev := range replay {
		if err := writeSSEEvent(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	// Stream events until client disconnects.
	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				// Dropped for falling behind; the client reconnects with
				// Last-Event-ID and catches up from the log.
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			s.Presence.Touch(sub.ID())
		case <-keepalive.C:
			// Send a comment line as keepalive.
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, ev *model.MotionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", ev.ID, api.SSEEventMotion, data)
	return err
}
