package model

import "time"

// WatcherState is the motion watcher's lifecycle state.
type WatcherState string

const (
	WatcherIdle      WatcherState = "idle"
	WatcherCapturing WatcherState = "capturing"
	WatcherComparing WatcherState = "comparing"
	WatcherQuiet     WatcherState = "quiet"
	WatcherMotion    WatcherState = "motion_detected"
	WatcherDisabled  WatcherState = "disabled"
	WatcherStopped   WatcherState = "stopped"
)

// Running reports whether the watcher loop is still producing frames.
func (s WatcherState) Running() bool {
	switch s {
	case WatcherCapturing, WatcherComparing, WatcherQuiet, WatcherMotion:
		return true
	}
	return false
}

// WatcherHealth is a point-in-time view of the watcher exposed to the
// request layer.
type WatcherHealth struct {
	Enabled             bool         `json:"enabled"`
	State               WatcherState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	LastCaptureAt       *time.Time   `json:"last_capture_at,omitempty"`
	LastMotionAt        *time.Time   `json:"last_motion_at,omitempty"`
	Ticks               int64        `json:"ticks"`
	Events              int64        `json:"events"`
}

// Degraded reports whether the watcher was enabled but has given up.
func (h WatcherHealth) Degraded() bool {
	return h.Enabled && h.State == WatcherDisabled
}
