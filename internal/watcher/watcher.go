// Package watcher runs the camera motion-detection loop.
//
// A Watcher owns one Camera. Each tick captures a frame, compares it with a
// rolling baseline and hands any detected motion to a Sink. Capture failures
// are retried with backoff; after too many in a row the watcher disables
// itself and releases the camera. Nothing here is ever surfaced to request
// handlers except through Health.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Sink receives detected motion. motion.Service implements it.
type Sink interface {
	Ingest(ctx context.Context, ev *model.MotionEvent, snapshot []byte) (*model.MotionEvent, error)
}

// Detector labels objects in a frame. It is optional.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]model.Detection, error)
}

// Config tunes the detection loop. Zero values are replaced by defaults.
type Config struct {
	Interval        time.Duration
	CaptureTimeout  time.Duration
	PixelThreshold  int // per-pixel difference, 1..255
	MinArea         int // changed pixels needed to report motion
	MinRegion       int // smallest connected region that counts
	BlurRadius      int
	BaselineRefresh int // ticks between unconditional baseline swaps
	RebaseOnMotion  bool
	MaxFailures     int // consecutive capture failures tolerated
	Zone            string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 5 * time.Second
	}
	if c.PixelThreshold <= 0 {
		c.PixelThreshold = 25
	}
	if c.MinArea <= 0 {
		c.MinArea = 5000
	}
	if c.MinRegion <= 0 {
		c.MinRegion = 1
	}
	if c.BaselineRefresh <= 0 {
		c.BaselineRefresh = 150
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	return c
}

// maxBackoffFactor caps the retry delay at this many intervals.
const maxBackoffFactor = 8

// MotionMessage is the message of every camera event before detections
// are appended.
const MotionMessage = "Camera detected motion"

// Option configures a Watcher.
type Option func(*Watcher)

// WithDetector attaches an object detector to motion events.
func WithDetector(d Detector) Option {
	return func(w *Watcher) { w.detector = d }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// OnStateChange registers fn to run after every state transition. It is
// called from the watcher goroutine and must not block.
func OnStateChange(fn func(model.WatcherState)) Option {
	return func(w *Watcher) { w.onState = fn }
}

type Watcher struct {
	cfg      Config
	cam      Camera
	sink     Sink
	detector Detector
	logger   *slog.Logger
	onState  func(model.WatcherState)

	// loop-owned
	baseline    *image.Gray
	sinceRebase int

	mu        sync.Mutex
	state     model.WatcherState
	failures  int
	lastErr   string
	lastCap   *time.Time
	lastMot   *time.Time
	ticks     int64
	events    int64
	latest    []byte
	started   bool
	closeOnce sync.Once

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns an idle watcher. Call Start to acquire the camera.
func New(cfg Config, cam Camera, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:    cfg.withDefaults(),
		cam:    cam,
		sink:   sink,
		logger: slog.New(slog.DiscardHandler),
		state:  model.WatcherIdle,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start opens the camera and launches the loop. If the camera cannot be
// opened the watcher is Disabled and the error returned; the caller may
// keep serving without it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	select {
	case <-w.stop:
		w.mu.Unlock()
		return errors.New("watcher stopped")
	default:
	}
	w.started = true
	w.mu.Unlock()

	if err := w.cam.Open(ctx); err != nil {
		w.setError(err)
		w.releaseCamera()
		w.setState(model.WatcherDisabled)
		close(w.done)
		return fmt.Errorf("open camera: %w", err)
	}

	w.logger.Info("watcher started", "interval", w.cfg.Interval, "min_area", w.cfg.MinArea)
	go w.run()
	return nil
}

// Stop asks the loop to exit and waits for the in-flight tick to finish.
// The camera is released before Stop returns. Stop is safe to call more
// than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		w.setState(model.WatcherStopped)
		return
	}
	<-w.done
}

// Done is closed once the loop has exited and the camera is released.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) run() {
	defer close(w.done)
	defer w.releaseCamera()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.setState(model.WatcherStopped)
			w.logger.Info("watcher stopped")
			return
		case <-timer.C:
		}

		err := w.tick()
		if err == nil {
			timer.Reset(w.cfg.Interval)
			continue
		}

		failures := w.recordFailure(err)
		if failures > w.cfg.MaxFailures {
			w.logger.Error("watcher disabled after repeated capture failures", "failures", failures, "err", err)
			w.setState(model.WatcherDisabled)
			return
		}
		delay := backoff(w.cfg.Interval, failures)
		w.logger.Warn("capture failed", "failures", failures, "retry_in", delay, "err", err)
		timer.Reset(delay)
	}
}

// backoff doubles the interval per consecutive failure, capped at 8x.
func backoff(interval time.Duration, failures int) time.Duration {
	factor := 1
	for i := 0; i < failures && factor < maxBackoffFactor; i++ {
		factor *= 2
	}
	return interval * time.Duration(factor)
}

func (w *Watcher) releaseCamera() {
	w.closeOnce.Do(func() {
		if err := w.cam.Close(); err != nil {
			w.logger.Warn("close camera", "err", err)
		}
	})
}

// tick runs one capture and compare cycle. The context is detached from
// Stop so an in-flight cycle always completes.
func (w *Watcher) tick() error {
	w.setState(model.WatcherCapturing)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CaptureTimeout)
	defer cancel()

	frame, err := w.cam.Capture(ctx)
	if err != nil {
		var cerr *CaptureError
		if !errors.As(err, &cerr) {
			err = &CaptureError{Source: "camera", Err: err}
		}
		return err
	}

	captured := frame.CapturedAt
	if captured.IsZero() {
		captured = time.Now().UTC()
	}
	w.mu.Lock()
	w.ticks++
	w.failures = 0
	w.lastErr = ""
	w.lastCap = &captured
	w.latest = frame.JPEG
	w.mu.Unlock()

	w.setState(model.WatcherComparing)
	current := Preprocess(frame.Image, w.cfg.BlurRadius)

	if w.baseline == nil {
		w.rebase(current)
		w.setState(model.WatcherQuiet)
		return nil
	}

	mask, err := DiffMask(w.baseline, current, w.cfg.PixelThreshold)
	if err != nil {
		// Camera resolution changed; start over from this frame.
		w.logger.Info("frame size changed, resetting baseline", "width", frame.Width, "height", frame.Height)
		w.rebase(current)
		w.setState(model.WatcherQuiet)
		return nil
	}

	w.sinceRebase++
	area := ChangedArea(mask, w.cfg.MinRegion)
	if area >= w.cfg.MinArea {
		w.setState(model.WatcherMotion)
		w.emit(frame, captured, area)
		if w.cfg.RebaseOnMotion {
			w.rebase(current)
		}
	} else {
		w.setState(model.WatcherQuiet)
	}

	if w.sinceRebase >= w.cfg.BaselineRefresh {
		w.rebase(current)
	}
	return nil
}

func (w *Watcher) rebase(g *image.Gray) {
	w.baseline = g
	w.sinceRebase = 0
}

func (w *Watcher) emit(frame *Frame, captured time.Time, area int) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CaptureTimeout)
	defer cancel()

	ts := captured
	ev := &model.MotionEvent{
		Timestamp:      time.Now().UTC(),
		Source:         model.SourceCamera,
		Severity:       severityFor(area, frame.Width, frame.Height),
		Zone:           w.cfg.Zone,
		Message:        MotionMessage,
		Area:           area,
		FrameTimestamp: &ts,
		Detections:     []model.Detection{},
	}

	if w.detector != nil {
		dets, err := w.detector.Detect(ctx, frame.JPEG)
		if err != nil {
			w.logger.Warn("object detection failed", "err", err)
		} else if len(dets) > 0 {
			ev.Detections = dets
			ev.Message = MotionMessage + ": " + describe(dets)
		}
	}

	stored, err := w.sink.Ingest(ctx, ev, frame.JPEG)
	if err != nil {
		w.logger.Error("record motion event", "area", area, "err", err)
		return
	}

	w.mu.Lock()
	w.events++
	w.lastMot = &ts
	w.mu.Unlock()
	w.logger.Info("motion detected", "id", stored.ID, "area", area, "severity", stored.Severity)
}

func describe(dets []model.Detection) string {
	parts := make([]string, len(dets))
	for i, d := range dets {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

func (w *Watcher) recordFailure(err error) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	w.lastErr = err.Error()
	return w.failures
}

func (w *Watcher) setError(err error) {
	w.mu.Lock()
	w.lastErr = err.Error()
	w.mu.Unlock()
}

func (w *Watcher) setState(s model.WatcherState) {
	w.mu.Lock()
	if w.state == s {
		w.mu.Unlock()
		return
	}
	w.state = s
	w.mu.Unlock()

	if w.onState != nil {
		w.onState(s)
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() model.WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Health returns a snapshot of the watcher's status.
func (w *Watcher) Health() model.WatcherHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.WatcherHealth{
		Enabled:             true,
		State:               w.state,
		ConsecutiveFailures: w.failures,
		LastError:           w.lastErr,
		LastCaptureAt:       copyTime(w.lastCap),
		LastMotionAt:        copyTime(w.lastMot),
		Ticks:               w.ticks,
		Events:              w.events,
	}
}

// LatestFrame returns the most recently captured JPEG, or nil.
func (w *Watcher) LatestFrame() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
