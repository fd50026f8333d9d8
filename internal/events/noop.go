package events

import (
	"context"
	"sync/atomic"
)

// NoopPublisher drops every message. serve uses it when no NATS URL is
// configured so the motion service never has to nil-check its publisher.
type NoopPublisher struct {
	dropped atomic.Int64
}

var _ Publisher = (*NoopPublisher)(nil)

func (n *NoopPublisher) Publish(_ context.Context, _ string, _ any) error {
	n.dropped.Add(1)
	return nil
}

// Dropped returns how many messages were discarded.
func (n *NoopPublisher) Dropped() int64 { return n.dropped.Load() }

func (n *NoopPublisher) Close() error { return nil }
