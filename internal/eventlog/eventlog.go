// Package eventlog holds the bounded, in-memory log of recent motion events.
// It is the single source of truth for listings and reconnect replay.
package eventlog

import (
	"sync"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Log is a fixed-capacity ring of motion events ordered by insertion.
// Once full, each Append evicts the oldest event.
type Log struct {
	mu       sync.RWMutex
	ring     []*model.MotionEvent
	pos      int // next write position (wraps around)
	n        int // number of valid entries (up to len(ring))
	lastID   int64
	capacity int
}

// New returns an empty log holding at most capacity events. A capacity
// below 1 is clamped to 1.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		ring:     make([]*model.MotionEvent, capacity),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of events retained.
func (l *Log) Capacity() int { return l.capacity }

// Append stores a copy of ev and returns it. The event keeps its ID only if
// that ID is above every ID seen so far; otherwise it is given last+1.
func (l *Log) Append(ev *model.MotionEvent) *model.MotionEvent {
	stored := ev.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	if stored.ID <= l.lastID {
		stored.ID = l.lastID + 1
	}
	l.lastID = stored.ID
	l.push(stored)
	return stored.Clone()
}

// push writes at the tail, overwriting the head when full. Caller holds mu.
func (l *Log) push(ev *model.MotionEvent) {
	l.ring[l.pos] = ev
	l.pos = (l.pos + 1) % l.capacity
	if l.n < l.capacity {
		l.n++
	}
}

// at returns the i-th event counting from the oldest. Caller holds mu.
func (l *Log) at(i int) *model.MotionEvent {
	start := (l.pos - l.n + l.capacity) % l.capacity
	return l.ring[(start+i)%l.capacity]
}

// List returns the events matching f, oldest first. When f.Limit > 0 only
// the most recent Limit matches are returned, still oldest first.
func (l *Log) List(f model.EventFilter) []*model.MotionEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*model.MotionEvent
	// Walk newest to oldest so Limit can stop early.
	for i := l.n - 1; i >= 0; i-- {
		ev := l.at(i)
		if !f.Match(ev) {
			continue
		}
		out = append(out, ev.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []*model.MotionEvent{}
	}
	return out
}

// Since returns every retained event with ID > id, oldest first.
func (l *Log) Since(id int64) []*model.MotionEvent {
	return l.List(model.EventFilter{SinceID: id})
}

// Get returns the retained event with the given ID.
func (l *Log) Get(id int64) (*model.MotionEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := l.n - 1; i >= 0; i-- {
		ev := l.at(i)
		if ev.ID == id {
			return ev.Clone(), true
		}
		if ev.ID < id {
			break
		}
	}
	return nil, false
}

// LastID returns the highest ID ever assigned, or 0 for a fresh log.
func (l *Log) LastID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastID
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.n
}

// DropBefore removes every event whose Timestamp is before cutoff and
// returns the removed events, oldest first. The remaining events keep their
// order and the ID counter is unchanged.
func (l *Log) DropBefore(cutoff time.Time) []*model.MotionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept, dropped []*model.MotionEvent
	for i := 0; i < l.n; i++ {
		ev := l.at(i)
		if ev.Timestamp.Before(cutoff) {
			dropped = append(dropped, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	if len(dropped) == 0 {
		return nil
	}
	clear(l.ring)
	l.pos, l.n = 0, 0
	for _, ev := range kept {
		l.push(ev)
	}
	return dropped
}

// Seed loads previously persisted events, which must be in ascending ID
// order. Events that do not advance the ID counter are skipped, and only
// the newest Capacity events are kept.
func (l *Log) Seed(events []*model.MotionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range events {
		if ev == nil || ev.ID <= l.lastID {
			continue
		}
		l.lastID = ev.ID
		l.push(ev.Clone())
	}
}
