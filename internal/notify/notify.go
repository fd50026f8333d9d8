// Package notify posts motion events to a webhook from a background worker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// DefaultQueueSize bounds the number of events waiting for delivery.
const DefaultQueueSize = 100

const postTimeout = 5 * time.Second

// Options tunes a Notifier.
type Options struct {
	QueueSize   int
	MinInterval time.Duration // minimum spacing between webhook posts
	Client      *http.Client
	Logger      *slog.Logger
}

// Notifier delivers events to a webhook. Enqueue never blocks; when the
// queue is full the event is dropped.
type Notifier struct {
	url     string
	queue   chan *model.MotionEvent
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a notifier for url. An empty url yields a disabled notifier
// whose methods are no-ops.
func New(url string, opts Options) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Notifier{
		url:     url,
		queue:   make(chan *model.MotionEvent, opts.QueueSize),
		limiter: rate.NewLimiter(limit, 1),
		client:  opts.Client,
		logger:  opts.Logger,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Start launches the delivery worker.
func (n *Notifier) Start() {
	if !n.Enabled() || n.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run(ctx)
	}()
}

// Stop cancels the worker and waits for the current post (if any) to finish.
// Events still queued are discarded.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

// Enqueue schedules ev for delivery and reports whether it was accepted.
func (n *Notifier) Enqueue(ev *model.MotionEvent) bool {
	if !n.Enabled() {
		return false
	}
	select {
	case n.queue <- ev:
		return true
	default:
		n.logger.Warn("notification queue full, dropping event", "id", ev.ID)
		return false
	}
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			if err := n.post(ctx, ev); err != nil {
				n.logger.Warn("notification webhook failed", "id", ev.ID, "err", err)
			}
		}
	}
}

type message struct {
	Type    string             `json:"type"`
	Payload *model.MotionEvent `json:"payload"`
}

func (n *Notifier) post(ctx context.Context, ev *model.MotionEvent) error {
	body, err := json.Marshal(message{Type: "motion_event", Payload: ev})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
