package client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Stream is a connection to the /ws motion event feed.
type Stream struct {
	conn *websocket.Conn
}

// streamURL turns an http(s) base URL into the ws(s) feed URL.
func streamURL(baseURL, token string, sinceID int64) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if sinceID >= 0 {
		q.Set("since", strconv.FormatInt(sinceID, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialStream opens the feed. Logged events after sinceID are replayed
// first; a negative sinceID skips the replay.
func DialStream(ctx context.Context, baseURL, token string, sinceID int64) (*Stream, error) {
	u, err := streamURL(baseURL, token, sinceID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, apiError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next motion event arrives. Info messages are
// skipped. It returns io.EOF when the server closes the feed normally.
func (s *Stream) Next() (*model.MotionEvent, error) {
	for {
		var msg api.WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msg.Type == api.MessageMotion && msg.Payload != nil {
			return msg.Payload, nil
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	return s.conn.Close()
}
