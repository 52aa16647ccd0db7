package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBatch(t *testing.T, db *pgxpool.Pool, svc *BulkService, payerAccountID string, amounts ...int64) *CreateBulkResponse {
	t.Helper()

	transfers := make([]TransferInput, 0, len(amounts))
	for i, amount := range amounts {
		transfers = append(transfers, TransferInput{
			PayeeIDType:     "MSISDN",
			PayeeIdentifier: "2250788" + string(rune('0'+i)) + payerAccountID[len(payerAccountID)-3:],
			Amount:          amount,
		})
	}
	resp, err := svc.CreateBulkTransfer(context.Background(), CreateBulkRequest{
		PayerAccountID: payerAccountID,
		Transfers:      transfers,
	})
	require.NoError(t, err)
	return resp
}

// Three transfers of 100, 200 and 300 against a balance of 1000. Two
// complete and one fails: the batch ends PARTIALLY_COMPLETED, the payer
// keeps the failed transfer's reservation, and only the settled amounts
// leave the balance.
func TestSettlementPartialBatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE001", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 200, 300)

	balance, reserved := accountState(t, db, payer.ID)
	require.Equal(t, int64(1000), balance)
	require.Equal(t, int64(600), reserved)

	res, err := settleSvc.Apply(ctx, SettlementNotice{
		TransferID:    batch.Transfers[0].TransferID,
		ReportedState: "COMMITTED",
		Fulfilment:    "proof-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.TransferStatusCompleted, res.Status)
	assert.Equal(t, batch.Bulk.BulkID, res.BulkID)

	res, err = settleSvc.Apply(ctx, SettlementNotice{
		TransferID:    batch.Transfers[1].TransferID,
		ReportedState: "COMPLETED",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = settleSvc.Apply(ctx, SettlementNotice{
		TransferID:    batch.Transfers[2].TransferID,
		ReportedState: "FAILED",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.TransferStatusFailed, res.Status)

	balance, reserved = accountState(t, db, payer.ID)
	assert.Equal(t, int64(700), balance)
	assert.Equal(t, int64(300), reserved)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStatePartiallyCompleted, bulk.State)
}

func TestSettlementAllCompleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE002", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 250, 250)

	for _, tr := range batch.Transfers {
		_, err := settleSvc.Apply(ctx, SettlementNotice{TransferID: tr.TransferID, ReportedState: "COMMITTED"})
		require.NoError(t, err)
	}

	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(500), balance)
	assert.Zero(t, reserved)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStateCompleted, bulk.State)
}

func TestSettlementAllFailed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE003", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 100)

	for _, tr := range batch.Transfers {
		_, err := settleSvc.Apply(ctx, SettlementNotice{TransferID: tr.TransferID, ReportedState: "ABORTED"})
		require.NoError(t, err)
	}

	// Failure moves no money and keeps the reservation held.
	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, int64(200), reserved)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStateFailed, bulk.State)
}

func TestSettlementIdempotentReplay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE004", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 400)
	notice := SettlementNotice{
		TransferID:    batch.Transfers[0].TransferID,
		ReportedState: "COMMITTED",
		Fulfilment:    "proof-x",
	}

	first, err := settleSvc.Apply(ctx, notice)
	require.NoError(t, err)
	require.True(t, first.Applied)

	// Replay: same recorded outcome, no second ledger movement.
	second, err := settleSvc.Apply(ctx, notice)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.TransferStatusCompleted, second.Status)
	require.NotNil(t, second.Fulfilment)
	assert.Equal(t, "proof-x", *second.Fulfilment)

	// A contradictory replay does not flip the terminal status either.
	third, err := settleSvc.Apply(ctx, SettlementNotice{
		TransferID:    notice.TransferID,
		ReportedState: "FAILED",
	})
	require.NoError(t, err)
	assert.False(t, third.Applied)
	assert.Equal(t, domain.TransferStatusCompleted, third.Status)

	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(600), balance)
	assert.Zero(t, reserved)
}

func TestSettlementUnknownTransfer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	settleSvc := NewSettlementService(store, nil)

	_, err := settleSvc.Apply(context.Background(), SettlementNotice{TransferID: "no-such-transfer", ReportedState: "COMMITTED"})
	require.ErrorIs(t, err, models.ErrUnknownTransfer)
}

func TestSettlementUnrecognizedStateIsAcked(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE005", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)

	res, err := settleSvc.Apply(ctx, SettlementNotice{
		TransferID:    batch.Transfers[0].TransferID,
		ReportedState: "RESERVED",
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.TransferStatusPending, res.Status)

	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, int64(100), reserved)
}

func TestSettlementCreatesPayeeAccountLazily(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE006", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 275)
	transfer := batch.Transfers[0]

	_, err := store.Queries().GetAccountByParty(ctx, transfer.PayeePartyIDType, transfer.PayeePartyIdentifier)
	require.Error(t, err, "payee account must not exist before settlement")

	_, err = settleSvc.Apply(ctx, SettlementNotice{TransferID: transfer.TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)

	payee, err := store.Queries().GetAccountByParty(ctx, transfer.PayeePartyIDType, transfer.PayeePartyIdentifier)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payee.AccountID, domain.AccountIDPrefix))
	assert.Equal(t, int64(275), payee.Balance)
	assert.Zero(t, payee.Reserved)

	// A second disbursement to the same party reuses the account.
	batch2 := seedBatch(t, db, bulkSvc, payer.AccountID, 25)
	_, err = db.Exec(ctx, "UPDATE individual_transfers SET payee_party_identifier = $1 WHERE transfer_id = $2",
		transfer.PayeePartyIdentifier, batch2.Transfers[0].TransferID)
	require.NoError(t, err)

	_, err = settleSvc.Apply(ctx, SettlementNotice{TransferID: batch2.Transfers[0].TransferID, ReportedState: "COMMITTED"})
	require.NoError(t, err)

	payee, err = store.Queries().GetAccountByParty(ctx, transfer.PayeePartyIDType, transfer.PayeePartyIdentifier)
	require.NoError(t, err)
	assert.Equal(t, int64(300), payee.Balance)
}

func TestSettlementConcurrentDistinctTransfers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE007", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 100, 100, 100, 100)

	var wg sync.WaitGroup
	for _, tr := range batch.Transfers {
		wg.Add(1)
		go func(transferID string) {
			defer wg.Done()
			_, err := settleSvc.Apply(ctx, SettlementNotice{TransferID: transferID, ReportedState: "COMMITTED"})
			assert.NoError(t, err)
		}(tr.TransferID)
	}
	wg.Wait()

	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(500), balance)
	assert.Zero(t, reserved)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStateCompleted, bulk.State)
}

func TestSettlementConcurrentDuplicateCallbacks(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE008", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100)
	notice := SettlementNotice{TransferID: batch.Transfers[0].TransferID, ReportedState: "COMMITTED"}

	var wg sync.WaitGroup
	applied := make([]bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := settleSvc.Apply(ctx, notice)
			if assert.NoError(t, err) {
				applied[i] = res.Applied
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, a := range applied {
		if a {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one callback may move money")

	balance, reserved := accountState(t, db, payer.ID)
	assert.Equal(t, int64(900), balance)
	assert.Zero(t, reserved)
}

func TestApplyBatchResults(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	bulkSvc := NewBulkService(store)
	settleSvc := NewSettlementService(store, nil)
	ctx := context.Background()

	payer := createPayerAccount(t, db, "ACC-SETTLE009", 1000)
	batch := seedBatch(t, db, bulkSvc, payer.AccountID, 100, 200)

	results, err := settleSvc.ApplyBatchResults(ctx, []map[string]any{
		{"transferId": batch.Transfers[0].TransferID, "transferState": "COMMITTED", "fulfilment": "f-1"},
		{"transferId": batch.Transfers[1].TransferID, "transferState": "REJECTED"},
		{"transferState": "COMMITTED"}, // no id, skipped
	})
	require.Error(t, err, "the malformed entry is reported")
	require.Len(t, results, 2)
	assert.Equal(t, domain.TransferStatusCompleted, results[0].Status)
	assert.Equal(t, domain.TransferStatusFailed, results[1].Status)

	bulk, err := store.Queries().GetBulkByBulkID(ctx, batch.Bulk.BulkID)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkStatePartiallyCompleted, bulk.State)
}
