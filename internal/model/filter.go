package model

// EventFilter holds criteria for listing motion events.
type EventFilter struct {
	Source   string   `json:"source,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Zone     string   `json:"zone,omitempty"`
	SinceID  int64    `json:"since_id,omitempty"` // exclusive
	Limit    int      `json:"limit,omitempty"`    // most recent N; 0 = all
}

// Match reports whether ev satisfies every non-empty criterion.
// Limit is applied by the caller.
func (f EventFilter) Match(ev *MotionEvent) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.Zone != "" && ev.Zone != f.Zone {
		return false
	}
	if f.SinceID > 0 && ev.ID <= f.SinceID {
		return false
	}
	return true
}
