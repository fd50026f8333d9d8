// Package motion is the single ingestion path for motion events. Camera
// detections and simulated events both go through Service.Ingest, which
// appends to the event log and fans out to live subscribers before any
// best-effort side effects run.
package motion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/broadcast"
	"github.com/alfredjeanlab/homewatch/internal/eventlog"
	"github.com/alfredjeanlab/homewatch/internal/events"
	"github.com/alfredjeanlab/homewatch/internal/idgen"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/snapshot"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

// SimulatedMessage is the message of every simulated event.
const SimulatedMessage = "Simulated motion detected"

// SnapshotURLPrefix is prepended to a snapshot key to form its thumbnail URL.
const SnapshotURLPrefix = "/api/snapshots/"

// ErrNoSnapshot is returned by Snapshot when an event has no stored frame.
var ErrNoSnapshot = errors.New("no snapshot for event")

// Notifier accepts events for out-of-band delivery. notify.Notifier
// implements it.
type Notifier interface {
	Enqueue(ev *model.MotionEvent) bool
}

// Options wires the optional collaborators of a Service. Nil fields are
// skipped.
type Options struct {
	Store     store.Store
	Snapshots snapshot.Store
	Publisher events.Publisher
	Notifier  Notifier
	Logger    *slog.Logger

	// Simulation vocabulary.
	Sources      []string
	Zones        []string
	Severities   []model.Severity
	ThumbnailURL string
}

// Service owns the event log and the broadcaster.
type Service struct {
	log  *eventlog.Log
	bc   *broadcast.Broadcaster
	opts Options

	// ingestMu serializes append+publish so subscribers see log order.
	ingestMu sync.Mutex

	stateMu   sync.Mutex
	lastState model.WatcherState

	now  func() time.Time
	pick func(n int) int
}

// New creates a service over log and bc.
func New(log *eventlog.Log, bc *broadcast.Broadcaster, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if len(opts.Severities) == 0 {
		opts.Severities = []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh}
	}
	return &Service{
		log:  log,
		bc:   bc,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
		pick: rand.IntN,
	}
}

// Ingest records ev and delivers it to live subscribers. The caller's event
// is not modified; the stored copy is returned. A non-empty snapshot is
// saved first and linked through ThumbnailURL. Archive, NATS and webhook
// failures are logged and never fail the ingest.
func (s *Service) Ingest(ctx context.Context, ev *model.MotionEvent, snap []byte) (*model.MotionEvent, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	ev = ev.Clone()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if !ev.Severity.IsValid() {
		ev.Severity = model.SeverityLow
	}
	if ev.Detections == nil {
		ev.Detections = []model.Detection{}
	}

	if len(snap) > 0 && s.opts.Snapshots != nil {
		if key, err := s.saveSnapshot(ctx, ev.Timestamp, snap); err != nil {
			s.opts.Logger.Warn("save event snapshot", "err", err)
		} else {
			ev.SnapshotKey = key
			ev.ThumbnailURL = SnapshotURLPrefix + key
		}
	}

	s.ingestMu.Lock()
	stored := s.log.Append(ev)
	s.bc.Publish(stored)
	s.ingestMu.Unlock()

	if s.opts.Store != nil {
		if err := s.opts.Store.RecordEvent(ctx, stored); err != nil {
			s.opts.Logger.Warn("archive motion event", "id", stored.ID, "err", err)
		}
	}
	if err := s.opts.Publisher.Publish(ctx, events.MotionTopic(stored), stored); err != nil {
		s.opts.Logger.Warn("publish motion event", "id", stored.ID, "err", err)
	}
	if stored.Severity == model.SeverityHigh && s.opts.Notifier != nil {
		s.opts.Notifier.Enqueue(stored)
	}

	s.opts.Logger.Debug("motion event", "id", stored.ID, "source", stored.Source, "severity", stored.Severity)
	return stored.Clone(), nil
}

func (s *Service) saveSnapshot(ctx context.Context, ts time.Time, data []byte) (string, error) {
	key, err := idgen.SnapshotKey(ts)
	if err != nil {
		return "", err
	}
	if err := s.opts.Snapshots.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// SimulateRequest overrides parts of a simulated event. Empty fields are
// picked at random from the configured vocabulary.
type SimulateRequest struct {
	Source   string         `json:"source,omitempty"`
	Severity model.Severity `json:"severity,omitempty"`
	Zone     string         `json:"zone,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Simulate builds a synthetic event and ingests it like any other.
func (s *Service) Simulate(ctx context.Context, req SimulateRequest) (*model.MotionEvent, error) {
	if req.Severity != "" && !req.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", req.Severity)
	}
	ev := &model.MotionEvent{
		Timestamp:    s.now(),
		Source:       orPick(req.Source, s.opts.Sources, s.pick),
		Severity:     req.Severity,
		Zone:         orPick(req.Zone, s.opts.Zones, s.pick),
		Message:      req.Message,
		ThumbnailURL: s.opts.ThumbnailURL,
	}
	if ev.Severity == "" {
		ev.Severity = s.opts.Severities[s.pick(len(s.opts.Severities))]
	}
	if ev.Source == "" {
		ev.Source = "simulated"
	}
	if ev.Message == "" {
		ev.Message = SimulatedMessage
	}
	return s.Ingest(ctx, ev, nil)
}

func orPick(v string, choices []string, pick func(int) int) string {
	if v != "" || len(choices) == 0 {
		return v
	}
	return choices[pick(len(choices))]
}

// List returns events from the log, oldest first.
func (s *Service) List(f model.EventFilter) []*model.MotionEvent {
	return s.log.List(f)
}

// Since returns every logged event with an id above id, for replay.
func (s *Service) Since(id int64) []*model.MotionEvent {
	return s.log.Since(id)
}

// Get returns one event from the log, falling back to the archive for
// events already evicted.
func (s *Service) Get(ctx context.Context, id int64) (*model.MotionEvent, error) {
	if ev, ok := s.log.Get(id); ok {
		return ev, nil
	}
	if s.opts.Store == nil {
		return nil, store.ErrNotFound
	}
	return s.opts.Store.GetEvent(ctx, id)
}

// Subscribe registers a live subscriber with a bounded queue.
func (s *Service) Subscribe(buffer int) *broadcast.QueueSubscriber {
	return s.bc.Subscribe(buffer)
}

// Register adds a custom transport subscriber.
func (s *Service) Register(sub broadcast.Subscriber) error {
	return s.bc.Register(sub)
}

// SubscribeFrom registers a subscriber and returns the logged events after
// sinceID that it would otherwise have missed. Holding the ingest lock
// keeps the replay and the live feed free of gaps and duplicates.
func (s *Service) SubscribeFrom(sub broadcast.Subscriber, sinceID int64) ([]*model.MotionEvent, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if err := s.bc.Register(sub); err != nil {
		return nil, err
	}
	if sinceID < 0 {
		return nil, nil
	}
	return s.log.Since(sinceID), nil
}

// Unsubscribe removes and closes sub. It is idempotent.
func (s *Service) Unsubscribe(sub broadcast.Subscriber) {
	s.bc.Unsubscribe(sub)
}

// Subscribers reports the number of live subscribers.
func (s *Service) Subscribers() int {
	return s.bc.Count()
}

// Hydrate seeds the log with the newest n archived events.
func (s *Service) Hydrate(ctx context.Context, n int) (int, error) {
	if s.opts.Store == nil {
		return 0, nil
	}
	evs, err := s.opts.Store.ListEvents(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("load archived events: %w", err)
	}
	s.ingestMu.Lock()
	s.log.Seed(evs)
	s.ingestMu.Unlock()
	return len(evs), nil
}

// PruneEvents removes events older than before from the log and from the
// archive, so listings and replay stop serving them. It returns how many
// events were removed and the snapshot keys they referenced. retention.Pruner
// calls it on every tick.
func (s *Service) PruneEvents(ctx context.Context, before time.Time) (int, []string, error) {
	s.ingestMu.Lock()
	dropped := s.log.DropBefore(before)
	s.ingestMu.Unlock()

	n := len(dropped)
	seen := make(map[string]bool)
	var keys []string
	addKey := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, ev := range dropped {
		addKey(ev.SnapshotKey)
	}
	if s.opts.Store == nil {
		return n, keys, nil
	}
	archived, archivedKeys, err := s.opts.Store.PruneEvents(ctx, before)
	if err != nil {
		return n, keys, fmt.Errorf("prune archived events: %w", err)
	}
	for _, k := range archivedKeys {
		addKey(k)
	}
	return max(n, archived), keys, nil
}

// Snapshot returns the stored frame of event id.
func (s *Service) Snapshot(ctx context.Context, id int64) ([]byte, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.SnapshotKey == "" || s.opts.Snapshots == nil {
		return nil, ErrNoSnapshot
	}
	return s.opts.Snapshots.Get(ctx, ev.SnapshotKey)
}

// SnapshotByKey returns a stored frame by key.
func (s *Service) SnapshotByKey(ctx context.Context, key string) ([]byte, error) {
	if s.opts.Snapshots == nil {
		return nil, snapshot.ErrNotFound
	}
	return s.opts.Snapshots.Get(ctx, key)
}

// WatcherStateChanged mirrors watcher transitions to the event bus. The
// per-tick capturing and comparing states are not published.
func (s *Service) WatcherStateChanged(to model.WatcherState, lastErr string) {
	if to == model.WatcherCapturing || to == model.WatcherComparing {
		return
	}
	s.stateMu.Lock()
	from := s.lastState
	if from == to {
		s.stateMu.Unlock()
		return
	}
	s.lastState = to
	s.stateMu.Unlock()

	msg := events.WatcherStateChanged{From: from, To: to, Error: lastErr, ChangedAt: s.now()}
	if err := s.opts.Publisher.Publish(context.Background(), events.TopicWatcherState, msg); err != nil {
		s.opts.Logger.Warn("publish watcher state", "state", to, "err", err)
	}
}

// Close drops every live subscriber.
func (s *Service) Close() {
	s.bc.Close()
}
