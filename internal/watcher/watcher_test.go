package watcher

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// scriptCamera replays a fixed list of images, repeating the last one.
type scriptCamera struct {
	mu       sync.Mutex
	frames   []image.Image
	next     int
	openErr  error
	failFrom int // captures numbered >= failFrom fail (0 = never)
	captures int
	block    chan struct{} // when set, Capture waits for it
	entered  chan struct{}
	closes   atomic.Int32
}

func (c *scriptCamera) Open(ctx context.Context) error { return c.openErr }

func (c *scriptCamera) Capture(ctx context.Context) (*Frame, error) {
	if c.block != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if c.failFrom > 0 && c.captures >= c.failFrom {
		return nil, &CaptureError{Source: "script", Err: errors.New("device busy")}
	}
	img := c.frames[min(c.next, len(c.frames)-1)]
	c.next++
	b := img.Bounds()
	return &Frame{Image: img, JPEG: []byte("jpeg"), Width: b.Dx(), Height: b.Dy(), CapturedAt: time.Now().UTC()}, nil
}

func (c *scriptCamera) Close() error {
	c.closes.Add(1)
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	events    []*model.MotionEvent
	snapshots [][]byte
	nextID    int64
}

func (s *recordingSink) Ingest(ctx context.Context, ev *model.MotionEvent, snapshot []byte) (*model.MotionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := ev.Clone()
	c.ID = s.nextID
	s.events = append(s.events, c)
	s.snapshots = append(s.snapshots, snapshot)
	return c, nil
}

func (s *recordingSink) Events() []*model.MotionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.MotionEvent(nil), s.events...)
}

type stubDetector struct{ dets []model.Detection }

func (d stubDetector) Detect(ctx context.Context, jpeg []byte) ([]model.Detection, error) {
	return d.dets, nil
}

func testConfig() Config {
	return Config{
		Interval:        time.Millisecond,
		CaptureTimeout:  time.Second,
		PixelThreshold:  25,
		MinArea:         500,
		MinRegion:       1,
		BlurRadius:      0,
		BaselineRefresh: 1000,
		RebaseOnMotion:  true,
		MaxFailures:     3,
		Zone:            "Hallway",
	}
}

func motionFrame(n int) *image.Gray {
	g := grayFrame(100, 100, 0)
	fillRect(g, 10, 10, 25, n, 255)
	return g
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatcher_AreaThreshold(t *testing.T) {
	for _, tc := range []struct {
		name       string
		changed    int
		wantEvents int
	}{
		{name: "BelowMinArea", changed: 499, wantEvents: 0},
		{name: "AtMinArea", changed: 500, wantEvents: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cam := &scriptCamera{frames: []image.Image{grayFrame(100, 100, 0), motionFrame(tc.changed)}}
			sink := &recordingSink{}
			w := New(testConfig(), cam, sink)
			if err := w.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			waitFor(t, "ticks", func() bool { return w.Health().Ticks >= 6 })
			w.Stop()

			got := sink.Events()
			if len(got) != tc.wantEvents {
				t.Fatalf("got %d events, want %d", len(got), tc.wantEvents)
			}
			if tc.wantEvents == 0 {
				return
			}
			ev := got[0]
			if ev.Area != 500 {
				t.Errorf("Area = %d, want 500", ev.Area)
			}
			if ev.Source != model.SourceCamera {
				t.Errorf("Source = %q, want %q", ev.Source, model.SourceCamera)
			}
			if ev.Zone != "Hallway" {
				t.Errorf("Zone = %q, want Hallway", ev.Zone)
			}
			if ev.Severity != model.SeverityMedium {
				t.Errorf("Severity = %q, want medium", ev.Severity)
			}
			if ev.FrameTimestamp == nil {
				t.Error("FrameTimestamp not set")
			}
			if string(sink.snapshots[0]) != "jpeg" {
				t.Errorf("snapshot = %q, want the frame JPEG", sink.snapshots[0])
			}
		})
	}
}

func TestWatcher_FirstFrameIsBaseline(t *testing.T) {
	cam := &scriptCamera{frames: []image.Image{motionFrame(5000)}}
	sink := &recordingSink{}
	w := New(testConfig(), cam, sink)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ticks", func() bool { return w.Health().Ticks >= 3 })
	w.Stop()

	if n := len(sink.Events()); n != 0 {
		t.Errorf("got %d events from a static scene, want 0", n)
	}
}

func TestWatcher_BaselineRefresh(t *testing.T) {
	for _, tc := range []struct {
		name       string
		rebase     bool
		wantEvents int
	}{
		// Sustained motion is reported until the periodic refresh absorbs it.
		{name: "RefreshOnly", rebase: false, wantEvents: 3},
		{name: "RebaseOnMotion", rebase: true, wantEvents: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BaselineRefresh = 3
			cfg.RebaseOnMotion = tc.rebase
			cam := &scriptCamera{frames: []image.Image{grayFrame(100, 100, 0), motionFrame(2000)}}
			sink := &recordingSink{}
			w := New(cfg, cam, sink)
			if err := w.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			waitFor(t, "ticks", func() bool { return w.Health().Ticks >= 10 })
			w.Stop()

			if n := len(sink.Events()); n != tc.wantEvents {
				t.Errorf("got %d events, want %d", n, tc.wantEvents)
			}
		})
	}
}

func TestWatcher_Detections(t *testing.T) {
	cam := &scriptCamera{frames: []image.Image{grayFrame(100, 100, 0), motionFrame(600)}}
	sink := &recordingSink{}
	det := stubDetector{dets: []model.Detection{{Label: "person", Confidence: 0.91}, {Label: "cat", Confidence: 0.4}}}
	w := New(testConfig(), cam, sink, WithDetector(det))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "event", func() bool { return len(sink.Events()) == 1 })
	w.Stop()

	ev := sink.Events()[0]
	if want := "Camera detected motion: person (91%), cat (40%)"; ev.Message != want {
		t.Errorf("Message = %q, want %q", ev.Message, want)
	}
	if len(ev.Detections) != 2 {
		t.Errorf("got %d detections, want 2", len(ev.Detections))
	}
	if h := w.Health(); h.Events != 1 || h.LastMotionAt == nil {
		t.Errorf("Health() = %+v, want one event with LastMotionAt", h)
	}
}

func TestWatcher_OpenFailureDisables(t *testing.T) {
	cam := &scriptCamera{openErr: errors.New("no such device")}
	var states []model.WatcherState
	w := New(testConfig(), cam, &recordingSink{}, OnStateChange(func(s model.WatcherState) {
		states = append(states, s)
	}))

	err := w.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("Start() error = %v, want open failure", err)
	}
	h := w.Health()
	if h.State != model.WatcherDisabled || !h.Degraded() {
		t.Errorf("Health() = %+v, want disabled", h)
	}
	if h.LastError == "" {
		t.Error("LastError not recorded")
	}
	w.Stop()
	if n := cam.closes.Load(); n != 1 {
		t.Errorf("camera closed %d times, want 1", n)
	}
	if len(states) != 1 || states[0] != model.WatcherDisabled {
		t.Errorf("state changes = %v, want [disabled]", states)
	}
}

func TestWatcher_RepeatedFailuresDisable(t *testing.T) {
	cam := &scriptCamera{frames: []image.Image{grayFrame(10, 10, 0)}, failFrom: 2}
	var disabled atomic.Bool
	w := New(testConfig(), cam, &recordingSink{}, OnStateChange(func(s model.WatcherState) {
		if s == model.WatcherDisabled {
			disabled.Store(true)
		}
	}))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not disable itself")
	}

	h := w.Health()
	if h.State != model.WatcherDisabled {
		t.Errorf("State = %q, want disabled", h.State)
	}
	if h.ConsecutiveFailures != 4 {
		t.Errorf("ConsecutiveFailures = %d, want 4", h.ConsecutiveFailures)
	}
	if !strings.Contains(h.LastError, "device busy") {
		t.Errorf("LastError = %q", h.LastError)
	}
	if !disabled.Load() {
		t.Error("OnStateChange did not report disabled")
	}
	if n := cam.closes.Load(); n != 1 {
		t.Errorf("camera closed %d times, want 1", n)
	}
	w.Stop()
	if n := cam.closes.Load(); n != 1 {
		t.Errorf("camera closed %d times after Stop, want 1", n)
	}
}

func TestWatcher_StopWaitsForInFlightCapture(t *testing.T) {
	cam := &scriptCamera{
		frames:  []image.Image{grayFrame(10, 10, 0)},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	w := New(testConfig(), cam, &recordingSink{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-cam.entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a capture was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if n := cam.closes.Load(); n != 0 {
		t.Fatalf("camera closed during capture")
	}

	close(cam.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if w.State() != model.WatcherStopped {
		t.Errorf("State = %q, want stopped", w.State())
	}
	if n := cam.closes.Load(); n != 1 {
		t.Errorf("camera closed %d times, want 1", n)
	}
	if w.LatestFrame() == nil {
		t.Error("LatestFrame() = nil after a completed capture")
	}
	w.Stop()
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	cam := &scriptCamera{frames: []image.Image{grayFrame(10, 10, 0)}}
	w := New(testConfig(), cam, &recordingSink{})
	w.Stop()
	if w.State() != model.WatcherStopped {
		t.Errorf("State = %q, want stopped", w.State())
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() after Stop succeeded")
	}
}

func TestBackoff(t *testing.T) {
	for _, tc := range []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 8 * time.Second},
	} {
		if got := backoff(time.Second, tc.failures); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}
