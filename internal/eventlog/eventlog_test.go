package eventlog

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

func ev(source string, sev model.Severity, zone string) *model.MotionEvent {
	return &model.MotionEvent{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:    source,
		Severity:  sev,
		Zone:      zone,
		Message:   "motion",
	}
}

func ids(events []*model.MotionEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAppend_AssignsIncreasingIDs(t *testing.T) {
	l := New(10)
	for want := int64(1); want <= 3; want++ {
		got := l.Append(ev("cam", model.SeverityLow, "Garage"))
		if got.ID != want {
			t.Errorf("Append() ID = %d, want %d", got.ID, want)
		}
	}
	if l.LastID() != 3 {
		t.Errorf("LastID() = %d, want 3", l.LastID())
	}
}

func TestAppend_PreassignedIDs(t *testing.T) {
	for _, tc := range []struct {
		name  string
		given []int64
		want  []int64
	}{
		{name: "Zero", given: []int64{0, 0}, want: []int64{1, 2}},
		{name: "HigherKept", given: []int64{0, 10, 0}, want: []int64{1, 10, 11}},
		{name: "DuplicateReassigned", given: []int64{5, 5}, want: []int64{5, 6}},
		{name: "LowerReassigned", given: []int64{7, 3}, want: []int64{7, 8}},
		{name: "Negative", given: []int64{-4}, want: []int64{1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := New(10)
			var got []int64
			for _, id := range tc.given {
				e := ev("cam", model.SeverityLow, "")
				e.ID = id
				got = append(got, l.Append(e).ID)
			}
			if !equalIDs(got, tc.want) {
				t.Errorf("got IDs %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAppend_EvictsOldest(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Append(ev("cam", model.SeverityLow, ""))
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if got, want := ids(l.List(model.EventFilter{})), []int64{3, 4, 5}; !equalIDs(got, want) {
		t.Errorf("List() IDs = %v, want %v", got, want)
	}
	if _, ok := l.Get(1); ok {
		t.Error("Get(1) found an evicted event")
	}
}

func TestList_KeepsMostRecentCapacity(t *testing.T) {
	l := New(3)
	for _, msg := range []string{"A", "B", "C", "D"} {
		e := ev("cam", model.SeverityLow, "")
		e.Message = msg
		l.Append(e)
	}
	var got []string
	for _, e := range l.List(model.EventFilter{}) {
		got = append(got, e.Message)
	}
	if want := []string{"B", "C", "D"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestNew_ClampsCapacity(t *testing.T) {
	l := New(0)
	if l.Capacity() != 1 {
		t.Fatalf("Capacity() = %d, want 1", l.Capacity())
	}
	l.Append(ev("a", model.SeverityLow, ""))
	l.Append(ev("b", model.SeverityLow, ""))
	got := l.List(model.EventFilter{})
	if len(got) != 1 || got[0].Source != "b" {
		t.Errorf("List() = %v, want only the newest event", ids(got))
	}
}

func TestList_Filters(t *testing.T) {
	l := New(20)
	l.Append(ev("cam-1", model.SeverityLow, "Garage"))
	l.Append(ev("cam-2", model.SeverityHigh, "Backyard"))
	l.Append(ev("cam-1", model.SeverityHigh, "Garage"))
	l.Append(ev("cam-1", model.SeverityMedium, "Garage"))
	l.Append(ev("cam-2", model.SeverityHigh, "Garage"))

	for _, tc := range []struct {
		name   string
		filter model.EventFilter
		want   []int64
	}{
		{name: "All", filter: model.EventFilter{}, want: []int64{1, 2, 3, 4, 5}},
		{name: "Limit", filter: model.EventFilter{Limit: 2}, want: []int64{4, 5}},
		{name: "LimitAboveLen", filter: model.EventFilter{Limit: 50}, want: []int64{1, 2, 3, 4, 5}},
		{name: "Source", filter: model.EventFilter{Source: "cam-1"}, want: []int64{1, 3, 4}},
		{name: "Severity", filter: model.EventFilter{Severity: model.SeverityHigh}, want: []int64{2, 3, 5}},
		{name: "Zone", filter: model.EventFilter{Zone: "Backyard"}, want: []int64{2}},
		{name: "SinceID", filter: model.EventFilter{SinceID: 3}, want: []int64{4, 5}},
		{name: "Combined", filter: model.EventFilter{Source: "cam-1", Zone: "Garage", Limit: 2}, want: []int64{3, 4}},
		{name: "NoMatch", filter: model.EventFilter{Zone: "Attic"}, want: []int64{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := l.List(tc.filter)
			if got == nil {
				t.Fatal("List() returned nil, want empty slice")
			}
			if !equalIDs(ids(got), tc.want) {
				t.Errorf("List(%+v) IDs = %v, want %v", tc.filter, ids(got), tc.want)
			}
		})
	}
}

func TestList_ReturnsCopies(t *testing.T) {
	l := New(5)
	in := ev("cam", model.SeverityLow, "Garage")
	in.Detections = []model.Detection{{Label: "person", Confidence: 0.9, BBox: &model.BBox{X2: 1, Y2: 1}}}
	appended := l.Append(in)

	in.Source = "mutated-input"
	appended.Source = "mutated-return"
	listed := l.List(model.EventFilter{})
	listed[0].Detections[0].BBox.X2 = 0.1

	got, ok := l.Get(appended.ID)
	if !ok {
		t.Fatal("Get() did not find the appended event")
	}
	if got.Source != "cam" {
		t.Errorf("stored Source = %q, want %q", got.Source, "cam")
	}
	if got.Detections[0].BBox.X2 != 1 {
		t.Errorf("stored BBox.X2 = %v, want 1", got.Detections[0].BBox.X2)
	}
}

func TestSince(t *testing.T) {
	l := New(5)
	for i := 0; i < 4; i++ {
		l.Append(ev("cam", model.SeverityLow, ""))
	}
	if got, want := ids(l.Since(2)), []int64{3, 4}; !equalIDs(got, want) {
		t.Errorf("Since(2) = %v, want %v", got, want)
	}
	if got := l.Since(4); len(got) != 0 {
		t.Errorf("Since(4) = %v, want none", ids(got))
	}
}

func TestSeed(t *testing.T) {
	l := New(3)
	var seed []*model.MotionEvent
	for _, id := range []int64{2, 4, 6, 8} {
		e := ev("cam", model.SeverityLow, "")
		e.ID = id
		seed = append(seed, e)
	}
	l.Seed(seed)

	if got, want := ids(l.List(model.EventFilter{})), []int64{4, 6, 8}; !equalIDs(got, want) {
		t.Errorf("List() after Seed = %v, want %v", got, want)
	}
	if next := l.Append(ev("cam", model.SeverityLow, "")); next.ID != 9 {
		t.Errorf("Append() after Seed ID = %d, want 9", next.ID)
	}
}

func TestConcurrentAppendAndList(t *testing.T) {
	const writers, perWriter = 4, 200
	l := New(100)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(ev("cam", model.SeverityLow, ""))
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			got := l.List(model.EventFilter{})
			for j := 1; j < len(got); j++ {
				if got[j].ID <= got[j-1].ID {
					t.Errorf("List() not strictly increasing: %d then %d", got[j-1].ID, got[j].ID)
					return
				}
			}
		}
	}()
	wg.Wait()
	<-done

	if l.LastID() != writers*perWriter {
		t.Errorf("LastID() = %d, want %d", l.LastID(), writers*perWriter)
	}
	if l.Len() != 100 {
		t.Errorf("Len() = %d, want 100", l.Len())
	}
}

func TestDropBefore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(4)
	for _, age := range []int{10, 9, 1, 0, 8} {
		e := ev("cam", model.SeverityLow, "")
		e.Timestamp = base.Add(-time.Duration(age) * 24 * time.Hour)
		l.Append(e)
	}
	// Capacity 4 evicted id 1; ids 2..5 remain with ages 9, 1, 0, 8.
	dropped := l.DropBefore(base.Add(-7 * 24 * time.Hour))
	if got, want := ids(dropped), []int64{2, 5}; !equalIDs(got, want) {
		t.Errorf("dropped IDs = %v, want %v", got, want)
	}
	if got, want := ids(l.List(model.EventFilter{})), []int64{3, 4}; !equalIDs(got, want) {
		t.Errorf("List() IDs = %v, want %v", got, want)
	}
	if _, ok := l.Get(5); ok {
		t.Error("Get(5) found a dropped event")
	}
	if l.LastID() != 5 {
		t.Errorf("LastID() = %d, want 5", l.LastID())
	}

	// Appends continue after the last assigned id and fill freed slots.
	for i := 0; i < 3; i++ {
		l.Append(ev("cam", model.SeverityLow, ""))
	}
	if got, want := ids(l.List(model.EventFilter{})), []int64{4, 6, 7, 8}; !equalIDs(got, want) {
		t.Errorf("List() after append IDs = %v, want %v", got, want)
	}
	if got := l.DropBefore(base.Add(-30 * 24 * time.Hour)); got != nil {
		t.Errorf("DropBefore(old cutoff) = %v, want nil", ids(got))
	}
}
