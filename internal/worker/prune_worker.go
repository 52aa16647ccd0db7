package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sdiallo/bulkdisburse/internal/idempotency"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"go.uber.org/zap"
)

// PruneWorker periodically deletes finished idempotency keys that have
// outlived their TTL so the replay table does not grow without bound.
type PruneWorker struct {
	store    *idempotency.Store
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPruneWorker constructs a worker with a default hourly interval.
func NewPruneWorker(store *idempotency.Store) *PruneWorker {
	return &PruneWorker{
		store:    store,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *PruneWorker) WithInterval(interval time.Duration) *PruneWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and prunes at the configured interval.
func (w *PruneWorker) Start(ctx context.Context) {
	zap.L().Info("idempotency prune worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("idempotency prune worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("idempotency prune worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *PruneWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PruneWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PruneWorker) runOnce(ctx context.Context) {
	deleted, err := w.store.PruneExpired(ctx)
	if err != nil {
		observability.IncrementWorkerRun("idempotency_prune", "failed")
		zap.L().Error("idempotency prune failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("idempotency_prune", "success")
	if deleted > 0 {
		zap.L().Info("expired idempotency keys pruned", zap.Int64("deleted", deleted))
	}
}
