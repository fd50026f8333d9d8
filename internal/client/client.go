// Package client provides the transports the homewatch CLI uses to talk to
// a running server: HTTP/JSON for the REST API, a WebSocket feed, and gRPC.
package client

import (
	"context"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// EventSource is the interface the events and watch commands use. It is
// implemented by HTTPClient (REST plus the WebSocket feed) and GRPCClient.
type EventSource interface {
	// ListEvents returns logged events matching f, oldest first.
	ListEvents(ctx context.Context, f model.EventFilter) ([]*model.MotionEvent, error)

	// StreamEvents calls fn for every event until ctx is done, fn returns
	// an error, or the server ends the feed. A negative sinceID skips the
	// replay of logged events.
	StreamEvents(ctx context.Context, sinceID int64, fn func(*model.MotionEvent) error) error

	Close() error
}

var (
	_ EventSource = (*HTTPClient)(nil)
	_ EventSource = (*GRPCClient)(nil)
)
