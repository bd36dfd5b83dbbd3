package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Worker grades every user on a fixed interval and stores the grades as
// snapshots, so the history endpoint can show how a user's standing moved.
type Worker struct {
	calculator *Calculator
	provider   MetricsProvider
	store      SnapshotStore
	interval   time.Duration
	logger     *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates a reputation snapshot worker.
func NewWorker(provider MetricsProvider, store SnapshotStore, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		calculator: NewCalculator(),
		provider:   provider,
		store:      store,
		interval:   interval,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start snapshots once, then on every tick until ctx ends or Stop is called.
// It blocks; run it in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.snapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// RunOnce grades every known user and saves the snapshots. It returns the
// number saved and the users whose tier dropped since their last snapshot.
func (w *Worker) RunOnce(ctx context.Context) (saved int, downgraded []string, err error) {
	all, err := w.provider.GetAllUserMetrics(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load user metrics: %w", err)
	}
	if len(all) == 0 {
		return 0, nil, nil
	}

	userIDs := make([]string, 0, len(all))
	for id := range all {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	snaps := make([]*Snapshot, 0, len(userIDs))
	for _, id := range userIDs {
		snap := SnapshotFromScore(w.calculator.Calculate(id, *all[id]))
		prev, err := w.store.Latest(ctx, id)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to load latest snapshot for %s: %w", id, err)
		}
		if prev != nil && snap.Tier.Rank() < prev.Tier.Rank() {
			downgraded = append(downgraded, id)
		}
		snaps = append(snaps, snap)
	}

	if err := w.store.SaveBatch(ctx, snaps); err != nil {
		return 0, nil, fmt.Errorf("failed to save %d snapshots: %w", len(snaps), err)
	}
	return len(snaps), downgraded, nil
}

func (w *Worker) snapshot(ctx context.Context) {
	start := time.Now()
	saved, downgraded, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Warn("reputation snapshot failed", "error", err)
		return
	}
	if saved == 0 {
		return
	}
	if len(downgraded) > 0 {
		w.logger.Warn("reputation downgraded", "users", downgraded)
	}
	w.logger.Info("reputation snapshot completed",
		"users", saved,
		"downgraded", len(downgraded),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
