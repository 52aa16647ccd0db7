package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"go.uber.org/zap"
)

// SettlementService reconciles adapter-reported outcomes into the ledger.
// Apply is idempotent: reprocessing a settled transfer returns the recorded
// outcome without moving money again.
type SettlementService struct {
	store QueryStore
	log   *zap.Logger
}

func NewSettlementService(store QueryStore, log *zap.Logger) *SettlementService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementService{store: store, log: log}
}

// SettlementResult is the recorded state of the transfer after Apply.
// Applied is false when the callback was a duplicate or carried a state
// that has no local effect.
type SettlementResult struct {
	TransferID string  `json:"transferId"`
	Status     string  `json:"status"`
	Fulfilment *string `json:"fulfilment,omitempty"`
	BulkID     string  `json:"bulkTransferId,omitempty"`
	Applied    bool    `json:"-"`
}

// Apply finalizes one transfer from a settlement notice.
//
// Completion credits the payee, then releases and debits the reserved
// amount on the payer. Failure flips the status only; the reservation
// stays held until an operator resolves it. Everything, including the
// parent batch recomputation, commits in one transaction, so a crash
// mid-settlement leaves the transfer PENDING and the callback retryable.
func (s *SettlementService) Apply(ctx context.Context, notice SettlementNotice) (*SettlementResult, error) {
	if notice.TransferID == "" {
		return nil, errors.New("transfer id is required")
	}
	outcome := domain.OutcomeForReportedState(notice.ReportedState)

	result := &SettlementResult{TransferID: notice.TransferID}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		transfer, err := q.GetTransferForUpdate(ctx, notice.TransferID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrUnknownTransfer, notice.TransferID)
		}
		if err != nil {
			return fmt.Errorf("lock transfer: %w", err)
		}

		if outcome == domain.OutcomeIgnored {
			result.Status = transfer.Status
			result.Fulfilment = transfer.Fulfilment
			if domain.IsTerminalTransferStatus(transfer.Status) {
				observability.IncrementSettlement("duplicate")
				s.log.Debug("settlement replay acknowledged",
					zap.String("transfer_id", transfer.TransferID),
					zap.String("status", transfer.Status))
			} else {
				observability.IncrementSettlement("ignored")
				s.log.Warn("settlement state has no local effect",
					zap.String("transfer_id", transfer.TransferID),
					zap.String("reported_state", notice.ReportedState))
			}
			return nil
		}

		target := domain.TransferStatusCompleted
		if outcome == domain.OutcomeFailed {
			target = domain.TransferStatusFailed
		}

		// Duplicate callbacks and losers of a concurrent race land here:
		// the status machine admits no transition out of a terminal row,
		// so the recorded outcome is acked as-is.
		if !domain.CanTransitionTransfer(transfer.Status, target) {
			result.Status = transfer.Status
			result.Fulfilment = transfer.Fulfilment
			observability.IncrementSettlement("duplicate")
			s.log.Debug("settlement replay acknowledged",
				zap.String("transfer_id", transfer.TransferID),
				zap.String("status", transfer.Status))
			return nil
		}

		switch outcome {
		case domain.OutcomeFailed:
			rows, err := q.MarkTransferFailed(ctx, transfer.ID, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := requireExactlyOne(rows, "mark transfer failed"); err != nil {
				return err
			}
			result.Status = domain.TransferStatusFailed
			observability.IncrementSettlement("failed")

		case domain.OutcomeCompleted:
			payeeID, err := s.resolvePayeeAccount(ctx, q, transfer)
			if err != nil {
				return err
			}
			if _, err := q.CreditBalance(ctx, payeeID, transfer.Amount); err != nil {
				return err
			}
			if transfer.BulkID != nil {
				bulk, err := q.GetBulk(ctx, *transfer.BulkID)
				if err != nil {
					return fmt.Errorf("load parent batch: %w", err)
				}
				if _, err := q.ReleaseFunds(ctx, bulk.PayerAccountID, transfer.Amount); err != nil {
					return err
				}
				if _, err := q.DebitBalance(ctx, bulk.PayerAccountID, transfer.Amount); err != nil {
					return err
				}
			}
			rows, err := q.MarkTransferCompleted(ctx, transfer.ID, payeeID, notice.Fulfilment, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := requireExactlyOne(rows, "mark transfer completed"); err != nil {
				return err
			}
			result.Status = domain.TransferStatusCompleted
			if notice.Fulfilment != "" {
				f := notice.Fulfilment
				result.Fulfilment = &f
			}
			observability.IncrementSettlement("completed")
		}

		result.Applied = true
		if transfer.BulkID != nil {
			bulkID, err := s.recomputeBulkState(ctx, q, *transfer.BulkID)
			if err != nil {
				return err
			}
			result.BulkID = bulkID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		s.log.Info("settlement applied",
			zap.String("transfer_id", result.TransferID),
			zap.String("status", result.Status),
			zap.String("bulk_transfer_id", result.BulkID))
	}
	return result, nil
}

// ApplyBatchResults fans a batch callback's per-transfer results into
// Apply one by one. Each result settles in its own transaction, so one
// malformed entry does not block the rest of the batch.
func (s *SettlementService) ApplyBatchResults(ctx context.Context, results []map[string]any) ([]SettlementResult, error) {
	applied := make([]SettlementResult, 0, len(results))
	var firstErr error
	for i, raw := range results {
		notice, err := NoticeFromResult(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("individualTransferResults[%d]: %w", i, err)
			}
			continue
		}
		res, err := s.Apply(ctx, notice)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("individualTransferResults[%d]: %w", i, err)
			}
			s.log.Warn("batch settlement entry rejected",
				zap.String("transfer_id", notice.TransferID),
				zap.Error(err))
			continue
		}
		applied = append(applied, *res)
	}
	return applied, firstErr
}

// resolvePayeeAccount finds or lazily creates the payee's ledger account.
// Recipients are external parties, so a first-ever disbursement to them
// opens a zero-balance account keyed by their scheme identity.
func (s *SettlementService) resolvePayeeAccount(ctx context.Context, q *repository.Queries, transfer models.IndividualTransfer) (uuid.UUID, error) {
	if transfer.PayeeAccountID != nil {
		return *transfer.PayeeAccountID, nil
	}
	account, err := q.GetAccountByParty(ctx, transfer.PayeePartyIDType, transfer.PayeePartyIdentifier)
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("lookup payee account: %w", err)
	}

	created := models.Account{
		ID:              uuid.New(),
		AccountID:       NewAccountID(),
		PartyIDType:     transfer.PayeePartyIDType,
		PartyIdentifier: transfer.PayeePartyIdentifier,
	}
	if err := q.CreateAccount(ctx, &created); err != nil {
		return uuid.Nil, fmt.Errorf("create payee account: %w", err)
	}
	s.log.Info("payee account created",
		zap.String("account_id", created.AccountID),
		zap.String("party_id_type", created.PartyIDType),
		zap.String("party_identifier", created.PartyIdentifier))
	return created.ID, nil
}

// recomputeBulkState re-derives the parent state from child counts under
// the batch row lock. Always taken after the transfer and account locks,
// never before, keeping lock order consistent across settlements.
func (s *SettlementService) recomputeBulkState(ctx context.Context, q *repository.Queries, id uuid.UUID) (string, error) {
	bulk, err := q.GetBulkForUpdateByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("lock parent batch: %w", err)
	}
	counts, err := q.CountTransferStatuses(ctx, bulk.ID)
	if err != nil {
		return "", err
	}
	next := domain.DeriveBulkState(bulk.State, counts)
	if next != bulk.State {
		if _, err := q.UpdateBulkState(ctx, bulk.ID, next); err != nil {
			return "", err
		}
	}
	return bulk.BulkID, nil
}

// NewAccountID generates a human-facing account identifier.
func NewAccountID() string {
	raw := uuid.New()
	return domain.AccountIDPrefix + fmt.Sprintf("%X", raw[:])[:10]
}
