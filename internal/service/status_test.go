package service

import (
	"context"
	"testing"
	"time"

	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	statusSvc := NewStatusService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS001", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 200, 300)

	snap, err := statusSvc.Snapshot(ctx, batch.Bulk.BulkID, false)
	require.NoError(t, err)
	assert.Equal(t, batch.Bulk.BulkID, snap.BulkTransferID)
	assert.Equal(t, domain.BulkStatePending, snap.State)
	assert.Equal(t, int64(3), snap.Counts.Total)
	assert.Equal(t, int64(3), snap.Counts.Pending)
	assert.Zero(t, snap.ProgressPercent)
	assert.Nil(t, snap.Transfers)

	_, err = settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[0].TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)
	_, err = settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[1].TransferID, ReportedState: "FAILED"})
	require.NoError(t, err)

	snap, err = statusSvc.Snapshot(ctx, batch.Bulk.BulkID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Counts.Completed)
	assert.Equal(t, int64(1), snap.Counts.Failed)
	assert.Equal(t, int64(1), snap.Counts.Pending)
	assert.InDelta(t, 66.67, snap.ProgressPercent, 0.001)
	require.Len(t, snap.Transfers, 3)

	_, err = statusSvc.Snapshot(ctx, "bulk-missing", false)
	require.ErrorIs(t, err, models.ErrBulkNotFound)
}

// pollOnce persists a re-derived state when the stored one lags, so a
// lost recomputation heals on the next poll.
func TestPollSelfHeals(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	statusSvc := NewStatusService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS002", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	_, err := settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[0].TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)

	// Force the stored state backwards to simulate the lag.
	_, err = db.Exec(ctx, "UPDATE bulk_transfers SET state = 'IN_PROGRESS' WHERE id = $1", batch.Bulk.ID)
	require.NoError(t, err)

	snap, err := statusSvc.pollOnce(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStateCompleted, snap.State)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStateCompleted, bulk.State)
}

func TestStreamEmitsOnChangeAndCloses(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	statusSvc := NewStatusService(store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payer := createPayerAccount(t, db, "ACC-STATUS003", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 200)

	events := statusSvc.Stream(ctx, batch.Bulk.BulkID, 20*time.Millisecond)

	first := <-events
	require.Equal(t, StreamEventProgress, first.Kind)
	assert.Equal(t, int64(0), first.Snapshot.Counts.Completed)

	_, err := settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[0].TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)

	second := <-events
	require.Equal(t, StreamEventProgress, second.Kind)
	assert.Equal(t, int64(1), second.Snapshot.Counts.Completed)

	_, err = settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[1].TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)

	done := <-events
	require.Equal(t, StreamEventDone, done.Kind)
	assert.Equal(t, domain.BulkStateCompleted, done.Snapshot.State)

	_, open := <-events
	assert.False(t, open, "channel closes after the done event")
}

func TestStreamUnknownBatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	statusSvc := NewStatusService(store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := statusSvc.Stream(ctx, "bulk-missing", 20*time.Millisecond)
	event := <-events
	require.Equal(t, StreamEventError, event.Kind)
	require.ErrorIs(t, event.Err, models.ErrBulkNotFound)
}

func TestWaitForCompletionReturnsTerminalSnapshot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	statusSvc := NewStatusService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS004", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = settleSvc.Apply(ctx, SettlementNotice{TransferID: batch.Transfers[0].TransferID, ReportedState: "COMMITTED"})
	}()

	snap, timedOut, err := statusSvc.WaitForCompletion(ctx, batch.Bulk.BulkID, 5*time.Second, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Equal(t, domain.BulkStateCompleted, snap.State)
}

// A timed-out wait still reports how far the batch got.
func TestWaitForCompletionTimeout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	statusSvc := NewStatusService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS005", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	snap, timedOut, err := statusSvc.WaitForCompletion(ctx, batch.Bulk.BulkID, 150*time.Millisecond, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Equal(t, int64(1), snap.Counts.Total)
	assert.Equal(t, int64(0), snap.Counts.Completed)
}

// The deadline fires on its own timer, not on the next poll tick, so a
// timeout shorter than the poll interval still returns on time.
func TestWaitForCompletionTimeoutShorterThanPoll(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	statusSvc := NewStatusService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS007", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	start := time.Now()
	snap, timedOut, err := statusSvc.WaitForCompletion(ctx, batch.Bulk.BulkID, 150*time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), snap.Counts.Total)
}

func TestWaitForCompletionClampsTimeout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	statusSvc := NewStatusService(store, nil)
	statusSvc.WaitCeiling = 100 * time.Millisecond
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-STATUS006", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	start := time.Now()
	_, timedOut, err := statusSvc.WaitForCompletion(ctx, batch.Bulk.BulkID, time.Hour, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Less(t, time.Since(start), 2*time.Second, "requested timeout is clamped to the ceiling")
}
