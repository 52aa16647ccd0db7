package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/service"
)

// DispatchWorker hands accepted batches to the scheme adapter in the
// background. It polls for undispatched batches at regular intervals.
// Safe for concurrent instances: the PENDING to IN_PROGRESS flip inside
// the dispatch service makes each batch claimable exactly once.
type DispatchWorker struct {
	dispatchService *service.DispatchService
	pollInterval    time.Duration
	batchSize       int32
	stopCh          chan struct{}
}

// NewDispatchWorker creates a new DispatchWorker instance.
func NewDispatchWorker(dispatchSvc *service.DispatchService) *DispatchWorker {
	return &DispatchWorker{
		dispatchService: dispatchSvc,
		pollInterval:    5 * time.Second, // Default: poll every 5 seconds
		batchSize:       10,              // Dispatch up to 10 batches at a time
		stopCh:          make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *DispatchWorker) WithPollInterval(interval time.Duration) *DispatchWorker {
	w.pollInterval = interval
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *DispatchWorker) WithBatchSize(size int32) *DispatchWorker {
	w.batchSize = size
	return w
}

// Start begins the background worker.
// It runs in a loop until Stop is called or the context is canceled.
func (w *DispatchWorker) Start(ctx context.Context) {
	log.Printf("[DispatchWorker] Starting with poll interval: %v, batch size: %d", w.pollInterval, w.batchSize)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DispatchWorker] Context canceled, stopping...")
			return
		case <-w.stopCh:
			log.Println("[DispatchWorker] Stop signal received, stopping...")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *DispatchWorker) Stop() {
	close(w.stopCh)
}

// processBatch dispatches a single round of undispatched batches.
func (w *DispatchWorker) processBatch(ctx context.Context) {
	_, err := w.dispatchService.DispatchPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("dispatch", "error")
		log.Printf("[DispatchWorker] Error dispatching batches: %v", err)
		return
	}
	observability.IncrementWorkerRun("dispatch", "ok")
}

// ProcessOnce dispatches a single round immediately.
// Useful for testing or manual triggering.
func (w *DispatchWorker) ProcessOnce(ctx context.Context) error {
	_, err := w.dispatchService.DispatchPending(ctx, w.batchSize)
	return err
}

// Run starts the worker and returns a function that can be called to stop it.
// This is useful for starting the worker in a goroutine.
func (w *DispatchWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// String returns a string representation of the worker.
func (w *DispatchWorker) String() string {
	return fmt.Sprintf("DispatchWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
