// Package retention prunes archived motion events and their snapshots once
// they age past the retention window.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventPruner deletes events older than a cutoff and returns how many were
// removed along with their snapshot keys. motion.Service satisfies it by
// pruning both the live log and the archive.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int, []string, error)
}

// SnapshotDeleter removes a stored snapshot. snapshot.Store satisfies it.
type SnapshotDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Pruner periodically removes events older than the retention window.
type Pruner struct {
	events    EventPruner
	snapshots SnapshotDeleter
	days      int
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pruner keeping days of history and running every interval.
// snapshots may be nil when snapshot storage is disabled.
func New(events EventPruner, snapshots SnapshotDeleter, days int, interval time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		events:    events,
		snapshots: snapshots,
		days:      days,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled reports whether a retention window is configured.
func (p *Pruner) Enabled() bool { return p.days > 0 }

// Start prunes once immediately, then on each tick.
func (p *Pruner) Start() {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop cancels the loop and waits for an in-progress prune to finish.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pruner) run(ctx context.Context) {
	p.pruneAndLog(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneAndLog(ctx)
		}
	}
}

func (p *Pruner) pruneAndLog(ctx context.Context) {
	n, err := p.PruneOnce(ctx)
	if err != nil {
		p.logger.Error("retention prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("pruned old events", "count", n, "days", p.days)
	}
}

// PruneOnce deletes events older than the retention window and their
// snapshots. Snapshot deletion failures are logged and do not fail the prune.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}
	cutoff := p.now().Add(-time.Duration(p.days) * 24 * time.Hour)
	n, keys, err := p.events.PruneEvents(ctx, cutoff)
	// Keys come back even on a partial failure; their events are already gone.
	if p.snapshots != nil {
		for _, key := range keys {
			if err := p.snapshots.Delete(ctx, key); err != nil {
				p.logger.Warn("delete pruned snapshot", "key", key, "err", err)
			}
		}
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
