// Package events mirrors motion events and watcher state changes onto NATS
// so other processes can follow them.
package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Event topic constants
const (
	TopicMotionDetected  = "homewatch.motion.detected"
	TopicMotionSimulated = "homewatch.motion.simulated"
	TopicWatcherState    = "homewatch.watcher.state"

	// TopicAll matches every homewatch subject.
	TopicAll = "homewatch.>"
)

// MotionTopic returns the subject an event is mirrored to: camera events go
// to TopicMotionDetected, everything else to TopicMotionSimulated.
func MotionTopic(ev *model.MotionEvent) string {
	if ev.Source == model.SourceCamera {
		return TopicMotionDetected
	}
	return TopicMotionSimulated
}

// Event types. Motion topics carry a bare model.MotionEvent.

type WatcherStateChanged struct {
	From      model.WatcherState `json:"from"`
	To        model.WatcherState `json:"to"`
	Error     string             `json:"error,omitempty"`
	ChangedAt time.Time          `json:"changed_at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
