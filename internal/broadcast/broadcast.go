// Package broadcast fans motion events out to live subscribers without ever
// blocking the publisher.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/homewatch/internal/idgen"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

var (
	// ErrSubscriberClosed is returned by Deliver after Close.
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrQueueFull is returned by Deliver when a subscriber cannot keep up.
	ErrQueueFull = errors.New("subscriber queue full")
	// ErrClosed is returned by Register after the broadcaster is closed.
	ErrClosed = errors.New("broadcaster closed")
)

// Subscriber is a live delivery target: a WebSocket, an SSE stream, a gRPC
// stream or a test harness. Deliver must not block. Delivered events are
// shared between subscribers and must be treated as read-only.
type Subscriber interface {
	ID() string
	Deliver(ev *model.MotionEvent) error
	Close() error
}

// Broadcaster delivers each published event to every subscriber registered
// at the time of publication. A subscriber whose Deliver fails is removed.
type Broadcaster struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]Subscriber
	closed bool
}

// New returns an empty broadcaster. A nil logger discards drop messages.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broadcaster{
		logger: logger,
		subs:   make(map[string]Subscriber),
	}
}

// Subscribe registers a queue-backed subscriber with room for buffer
// pending events. On a closed broadcaster the returned subscriber is
// already closed.
func (b *Broadcaster) Subscribe(buffer int) *QueueSubscriber {
	s := NewQueueSubscriber(idgen.SubscriberID(), buffer)
	if err := b.Register(s); err != nil {
		s.Close()
	}
	return s
}

// Register adds a custom subscriber.
func (b *Broadcaster) Register(s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs[s.ID()] = s
	return nil
}

// Unsubscribe removes s and closes it. Calling it again, or for a
// subscriber that was already dropped, does nothing.
func (b *Broadcaster) Unsubscribe(s Subscriber) {
	b.remove(s, nil)
}

func (b *Broadcaster) remove(s Subscriber, cause error) {
	b.mu.Lock()
	cur, ok := b.subs[s.ID()]
	if ok && cur == s {
		delete(b.subs, s.ID())
	}
	b.mu.Unlock()
	if !ok || cur != s {
		return
	}

	if cause != nil {
		b.logger.Info("subscriber dropped", "subscriber", s.ID(), "err", cause)
	}
	if err := s.Close(); err != nil {
		b.logger.Debug("close subscriber", "subscriber", s.ID(), "err", err)
	}
}

// Publish delivers ev to every current subscriber. It never blocks and
// never fails; subscribers that cannot accept the event are dropped.
func (b *Broadcaster) Publish(ev *model.MotionEvent) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.Deliver(ev); err != nil {
			b.remove(s, err)
		}
	}
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber and rejects new registrations.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// QueueSubscriber buffers events in a bounded channel. Deliver fails with
// ErrQueueFull instead of blocking once the buffer is full.
type QueueSubscriber struct {
	id string
	ch chan *model.MotionEvent

	mu     sync.Mutex
	closed bool
}

// NewQueueSubscriber returns a subscriber with room for buffer events.
// A buffer below 1 is clamped to 1.
func NewQueueSubscriber(id string, buffer int) *QueueSubscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &QueueSubscriber{id: id, ch: make(chan *model.MotionEvent, buffer)}
}

func (q *QueueSubscriber) ID() string { return q.id }

// C returns the delivery channel. It is closed when the subscriber is
// unsubscribed or dropped.
func (q *QueueSubscriber) C() <-chan *model.MotionEvent { return q.ch }

func (q *QueueSubscriber) Deliver(ev *model.MotionEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSubscriberClosed
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *QueueSubscriber) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}
