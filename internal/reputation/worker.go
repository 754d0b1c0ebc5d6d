package reputation

import (
	"context"
	"log/slog"
	"time"
)

// Worker periodically snapshots reputation scores for all agents.
type Worker struct {
	calculator *Calculator
	store      Store
	snapshots  SnapshotStore
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
}

// NewWorker creates a reputation snapshot worker.
// interval is typically 1 hour in production, 10 seconds in demo mode.
func NewWorker(store Store, snapshots SnapshotStore, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		calculator: NewCalculator(),
		store:      store,
		snapshots:  snapshots,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start begins the snapshot loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.snapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) snapshot(ctx context.Context) {
	agents, err := w.store.ListAgents(ctx)
	if err != nil {
		w.logger.Warn("reputation snapshot failed to list agents", "error", err)
		return
	}

	if len(agents) == 0 {
		return
	}

	weekAgo := time.Now().Add(-7 * 24 * time.Hour)

	var snaps []*Snapshot
	for _, address := range agents {
		stats, err := w.store.GetStats(ctx, address)
		if err != nil {
			w.logger.Warn("reputation snapshot failed to get stats", "agent", address, "error", err)
			continue
		}
		weekly, err := w.store.VolumeSince(ctx, address, weekAgo)
		if err != nil {
			w.logger.Warn("reputation snapshot failed to get weekly volume", "agent", address, "error", err)
			continue
		}
		score := w.calculator.Calculate(address, *stats, weekly)
		snaps = append(snaps, SnapshotFromScore(score))
	}

	if len(snaps) == 0 {
		return
	}

	if err := w.snapshots.SaveBatch(ctx, snaps); err != nil {
		w.logger.Warn("reputation snapshot failed to save", "error", err, "count", len(snaps))
		return
	}

	w.logger.Info("reputation snapshot completed", "agents", len(snaps))
}
