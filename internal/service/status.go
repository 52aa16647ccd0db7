package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"go.uber.org/zap"
)

// StatusService aggregates batch progress for snapshots, server-sent
// streams and blocking waits.
type StatusService struct {
	store QueryStore
	log   *zap.Logger

	// WaitCeiling bounds every blocking wait regardless of the caller's
	// requested timeout.
	WaitCeiling time.Duration
}

func NewStatusService(store QueryStore, log *zap.Logger) *StatusService {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusService{
		store:       store,
		log:         log,
		WaitCeiling: 600 * time.Second,
	}
}

// BulkSnapshot is a point-in-time view of a batch.
type BulkSnapshot struct {
	BulkTransferID  string                      `json:"bulkTransferId"`
	State           string                      `json:"state"`
	TotalAmount     int64                       `json:"total_amount"`
	Currency        string                      `json:"currency"`
	Counts          domain.StatusCounts         `json:"counts"`
	ProgressPercent float64                     `json:"progress_percent"`
	CreatedAt       time.Time                   `json:"created_at"`
	Transfers       []models.IndividualTransfer `json:"transfers,omitempty"`
}

func snapshotOf(bulk models.BulkTransfer, counts domain.StatusCounts) BulkSnapshot {
	return BulkSnapshot{
		BulkTransferID:  bulk.BulkID,
		State:           bulk.State,
		TotalAmount:     bulk.TotalAmount,
		Currency:        bulk.Currency,
		Counts:          counts,
		ProgressPercent: counts.ProgressPercent(),
		CreatedAt:       bulk.CreatedAt,
	}
}

// Snapshot returns the current view of a batch without writing anything.
// With includeTransfers the child transfers ride along.
func (s *StatusService) Snapshot(ctx context.Context, bulkID string, includeTransfers bool) (*BulkSnapshot, error) {
	q := s.store.Queries()
	bulk, err := q.GetBulkByBulkID(ctx, bulkID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrBulkNotFound, bulkID)
	}
	if err != nil {
		return nil, err
	}
	counts, err := q.CountTransferStatuses(ctx, bulk.ID)
	if err != nil {
		return nil, err
	}
	snap := snapshotOf(bulk, counts)
	if includeTransfers {
		snap.Transfers, err = q.ListTransfersByBulk(ctx, bulk.ID)
		if err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

// pollOnce reads counts under the batch lock and persists a re-derived
// state when the stored one lags. Settlement normally keeps the state
// current; this makes polling self-healing if a recomputation was lost.
func (s *StatusService) pollOnce(ctx context.Context, bulkID string) (*BulkSnapshot, error) {
	var snap BulkSnapshot
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		bulk, err := q.GetBulkForUpdate(ctx, bulkID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrBulkNotFound, bulkID)
		}
		if err != nil {
			return err
		}
		counts, err := q.CountTransferStatuses(ctx, bulk.ID)
		if err != nil {
			return err
		}
		if next := domain.DeriveBulkState(bulk.State, counts); next != bulk.State {
			if _, err := q.UpdateBulkState(ctx, bulk.ID, next); err != nil {
				return err
			}
			s.log.Info("bulk state re-derived on poll",
				zap.String("bulk_transfer_id", bulk.BulkID),
				zap.String("from", bulk.State),
				zap.String("to", next))
			bulk.State = next
		}
		snap = snapshotOf(bulk, counts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// StreamEventKind labels the events on a status stream.
type StreamEventKind string

const (
	StreamEventProgress StreamEventKind = "progress"
	StreamEventDone     StreamEventKind = "done"
	StreamEventError    StreamEventKind = "error"
)

// StreamEvent is one emission on a status stream.
type StreamEvent struct {
	Kind     StreamEventKind
	Snapshot *BulkSnapshot
	Err      error
}

// Stream polls the batch at the given interval and emits a progress event
// whenever the state or the settled count changes, an initial progress
// event immediately, and a final done event once the batch is terminal.
// The channel closes after the done or error event, or when ctx ends.
func (s *StatusService) Stream(ctx context.Context, bulkID string, interval time.Duration) <-chan StreamEvent {
	events := make(chan StreamEvent, 1)
	go func() {
		defer close(events)
		observability.IncActiveStreams()
		defer observability.DecActiveStreams()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastState string
		var lastSettled int64 = -1
		for {
			snap, err := s.pollOnce(ctx, bulkID)
			if err != nil {
				select {
				case events <- StreamEvent{Kind: StreamEventError, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			settled := snap.Counts.Completed + snap.Counts.Failed
			if snap.State != lastState || settled != lastSettled {
				lastState, lastSettled = snap.State, settled
				kind := StreamEventProgress
				if domain.IsTerminalBulkState(snap.State) {
					kind = StreamEventDone
				}
				select {
				case events <- StreamEvent{Kind: kind, Snapshot: snap}:
				case <-ctx.Done():
					return
				}
				if kind == StreamEventDone {
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

// WaitForCompletion blocks until the batch reaches a terminal state or the
// timeout elapses, polling at pollInterval. The timeout is clamped to
// WaitCeiling and fires independently of the poll cadence, so a timeout
// shorter than the interval still returns on time. On timeout the
// in-flight snapshot is returned with timedOut true so callers can report
// how far the batch got.
func (s *StatusService) WaitForCompletion(ctx context.Context, bulkID string, timeout, pollInterval time.Duration) (*BulkSnapshot, bool, error) {
	if timeout <= 0 || timeout > s.WaitCeiling {
		timeout = s.WaitCeiling
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := s.pollOnce(ctx, bulkID)
		if err != nil {
			return nil, false, err
		}
		if domain.IsTerminalBulkState(snap.State) {
			return snap, false, nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return snap, true, nil
		case <-ctx.Done():
			return snap, true, ctx.Err()
		}
	}
}
