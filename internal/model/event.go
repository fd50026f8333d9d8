package model

import (
	"fmt"
	"time"
)

// Severity grades a motion event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SourceCamera tags events raised by the local camera watcher.
const SourceCamera = "camera"

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// MotionEvent is an immutable record of detected or simulated motion.
// JSON field names follow the dashboard's camelCase contract.
type MotionEvent struct {
	ID             int64       `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Source         string      `json:"source"`
	Severity       Severity    `json:"severity"`
	Zone           string      `json:"zone,omitempty"`
	Message        string      `json:"message"`
	Area           int         `json:"area,omitempty"`
	FrameTimestamp *time.Time  `json:"frameTimestamp,omitempty"`
	Detections     []Detection `json:"detections"`
	ThumbnailURL   string      `json:"thumbnailUrl,omitempty"`

	// SnapshotKey locates the captured frame in the snapshot store.
	SnapshotKey string `json:"-"`
}

// Clone returns a deep copy so that stored events can never be mutated
// through a returned pointer.
func (e *MotionEvent) Clone() *MotionEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.FrameTimestamp != nil {
		ts := *e.FrameTimestamp
		c.FrameTimestamp = &ts
	}
	if e.Detections != nil {
		c.Detections = make([]Detection, len(e.Detections))
		for i, d := range e.Detections {
			c.Detections[i] = d
			if d.BBox != nil {
				bb := *d.BBox
				c.Detections[i].BBox = &bb
			}
		}
	}
	return &c
}

// Detection is a single object label reported by a detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

// BBox is a bounding box in coordinates normalized to [0,1].
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// String renders a detection as "label (NN%)".
func (d Detection) String() string {
	return fmt.Sprintf("%s (%.0f%%)", d.Label, d.Confidence*100)
}
