package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sdiallo/bulkdisburse/internal/adapter"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"go.uber.org/zap"
)

// DispatchService hands accepted batches to the scheme adapter. Dispatch
// is fire and forget: the adapter acknowledges receipt, and outcomes come
// back later through settlement callbacks. An unreachable adapter never
// fails the batch; its transfers stay PENDING, the client has already
// retried transient failures, and anything still unacknowledged shows up
// in the dispatch metrics.
type DispatchService struct {
	store   QueryStore
	adapter adapter.SchemeAdapter
	log     *zap.Logger
}

func NewDispatchService(store QueryStore, schemeAdapter adapter.SchemeAdapter, log *zap.Logger) *DispatchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DispatchService{store: store, adapter: schemeAdapter, log: log}
}

// DispatchBulk moves a PENDING batch to IN_PROGRESS and submits its
// pending transfers for execution. The state flip commits before the
// adapter call so that two dispatchers cannot submit the same batch
// twice: only the one that wins the flip proceeds.
//
// Returns false when the batch was not PENDING, which is not an error.
func (s *DispatchService) DispatchBulk(ctx context.Context, bulkID string) (bool, error) {
	var (
		bulk      models.BulkTransfer
		payer     models.Account
		transfers []models.IndividualTransfer
		claimed   bool
	)
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		var err error
		bulk, err = q.GetBulkForUpdate(ctx, bulkID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrBulkNotFound, bulkID)
		}
		if err != nil {
			return fmt.Errorf("lock batch: %w", err)
		}
		if bulk.State != domain.BulkStatePending {
			return nil
		}
		if _, err := q.UpdateBulkState(ctx, bulk.ID, domain.BulkStateInProgress); err != nil {
			return err
		}
		payer, err = q.GetAccount(ctx, bulk.PayerAccountID)
		if err != nil {
			return fmt.Errorf("load payer account: %w", err)
		}
		transfers, err = q.ListTransfersByBulk(ctx, bulk.ID)
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	pending := make([]adapter.IndividualExecutionRequest, 0, len(transfers))
	for _, t := range transfers {
		if t.Status != domain.TransferStatusPending {
			continue
		}
		// Party lookup is best effort. The adapter resolves payees
		// itself during execution, so a failed lookup does not hold
		// the batch back.
		if err := s.adapter.LookupParty(ctx, t.PayeePartyIDType, t.PayeePartyIdentifier); err != nil {
			s.log.Warn("party lookup failed",
				zap.String("transfer_id", t.TransferID),
				zap.String("party_identifier", t.PayeePartyIdentifier),
				zap.Error(err))
		}
		pending = append(pending, adapter.IndividualExecutionRequest{
			TransferID: t.TransferID,
			TransferAmount: adapter.Amount{
				Amount:   domain.NewMoney(t.Amount, t.Currency).WireAmount(),
				Currency: t.Currency,
			},
			Payee: adapter.Party{
				PartyIDInfo: adapter.PartyIDInfo{
					PartyIDType:     t.PayeePartyIDType,
					PartyIdentifier: t.PayeePartyIdentifier,
				},
			},
		})
	}
	if len(pending) == 0 {
		return true, nil
	}

	req := adapter.BulkExecutionRequest{
		BulkTransferID:      bulk.BulkID,
		PayerFsp:            payer.AccountID,
		IndividualTransfers: pending,
	}
	if err := s.adapter.ExecuteBulkTransfers(ctx, req); err != nil {
		observability.IncrementDispatch("unreachable")
		s.log.Warn("batch dispatch not acknowledged",
			zap.String("bulk_transfer_id", bulk.BulkID),
			zap.Int("transfers", len(pending)),
			zap.Error(err))
		return true, nil
	}
	observability.IncrementDispatch("accepted")
	s.log.Info("batch dispatched",
		zap.String("bulk_transfer_id", bulk.BulkID),
		zap.Int("transfers", len(pending)),
		zap.String("total", domain.NewMoney(bulk.TotalAmount, bulk.Currency).String()))
	return true, nil
}

// DispatchPending dispatches up to limit undispatched batches, oldest
// first. The worker calls this on every tick.
func (s *DispatchService) DispatchPending(ctx context.Context, limit int32) (int, error) {
	ids, err := s.store.Queries().ListBulkIDsByState(ctx, domain.BulkStatePending, limit)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, id := range ids {
		ok, err := s.DispatchBulk(ctx, id)
		if err != nil {
			s.log.Error("dispatch failed",
				zap.String("bulk_transfer_id", id),
				zap.Error(err))
			continue
		}
		if ok {
			dispatched++
		}
	}
	return dispatched, nil
}
