package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
	"github.com/sdiallo/bulkdisburse/internal/observability"
	"github.com/sdiallo/bulkdisburse/internal/repository"
)

// BulkService handles business logic for accepting disbursement batches.
// Accepting a batch and reserving the payer's funds happen in one
// transaction; a batch never exists without its reservation.
type BulkService struct {
	store QueryStore
}

func NewBulkService(store QueryStore) *BulkService {
	return &BulkService{store: store}
}

// TransferInput is one payee leg of a submission.
type TransferInput struct {
	TransferID      string `json:"transferId"`
	PayeeIDType     string `json:"payeeIdType"`
	PayeeIdentifier string `json:"payeeIdentifier"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// Validate checks the leg in isolation. Cross-leg checks (duplicate ids,
// uniform currency) happen in CreateBulkTransfer.
func (t TransferInput) Validate() error {
	if t.Amount <= 0 {
		return fmt.Errorf("invalid amount: %d", t.Amount)
	}
	if t.PayeeIDType == "" {
		return errors.New("payeeIdType is required")
	}
	if t.PayeeIdentifier == "" {
		return errors.New("payeeIdentifier is required")
	}
	return nil
}

// CreateBulkRequest holds the parameters for creating a batch.
type CreateBulkRequest struct {
	PayerAccountID string          `json:"payerAccountId"`
	Transfers      []TransferInput `json:"transfers"`
}

// CreateBulkResponse is the accepted batch plus its persisted transfers.
type CreateBulkResponse struct {
	Bulk      models.BulkTransfer         `json:"bulk"`
	Transfers []models.IndividualTransfer `json:"transfers"`
}

// CreateBulkTransfer validates a submission, reserves the batch total on
// the payer account, and persists the batch with its transfers in PENDING.
// All of it happens in one transaction: a rejected submission leaves no
// trace and no reservation.
func (s *BulkService) CreateBulkTransfer(ctx context.Context, req CreateBulkRequest) (*CreateBulkResponse, error) {
	if strings.TrimSpace(req.PayerAccountID) == "" {
		return nil, errors.New("payerAccountId is required")
	}
	if len(req.Transfers) == 0 {
		return nil, errors.New("at least one transfer is required")
	}

	currency := ""
	var total int64
	seen := make(map[string]struct{}, len(req.Transfers))
	transferIDs := make([]string, 0, len(req.Transfers))
	for i := range req.Transfers {
		t := &req.Transfers[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("transfers[%d]: %w", i, err)
		}
		t.TransferID = strings.TrimSpace(t.TransferID)
		if t.TransferID == "" {
			t.TransferID = uuid.NewString()
		}
		if _, dup := seen[t.TransferID]; dup {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateTransferID, t.TransferID)
		}
		seen[t.TransferID] = struct{}{}
		transferIDs = append(transferIDs, t.TransferID)

		t.Currency = domain.NormalizeCurrency(t.Currency)
		if t.Currency == "" {
			t.Currency = domain.DefaultCurrency
		}
		if currency == "" {
			currency = t.Currency
		} else if t.Currency != currency {
			return nil, fmt.Errorf("currency mismatch: batch is %s, transfers[%d] is %s", currency, i, t.Currency)
		}
		total += t.Amount
	}

	resp := &CreateBulkResponse{}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		payer, err := q.GetAccountByAccountIDForUpdate(ctx, strings.TrimSpace(req.PayerAccountID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrAccountNotFound, req.PayerAccountID)
		}
		if err != nil {
			return fmt.Errorf("lock payer account: %w", err)
		}

		existing, err := q.CountExistingTransferIDs(ctx, transferIDs)
		if err != nil {
			return err
		}
		if existing > 0 {
			return models.ErrDuplicateTransferID
		}

		rows, err := q.ReserveFunds(ctx, payer.ID, total)
		if err != nil {
			return err
		}
		if rows == 0 {
			observability.IncrementReservation("insufficient")
			return fmt.Errorf("%w: need %d, available %d", models.ErrInsufficientFunds, total, payer.Available())
		}
		observability.IncrementReservation("reserved")

		bulk := models.BulkTransfer{
			ID:             uuid.New(),
			BulkID:         NewBulkID(),
			PayerAccountID: payer.ID,
			TotalAmount:    total,
			Currency:       currency,
			State:          domain.BulkStatePending,
		}
		if err := q.InsertBulkTransfer(ctx, &bulk); err != nil {
			return err
		}

		transfers := make([]models.IndividualTransfer, 0, len(req.Transfers))
		for _, in := range req.Transfers {
			transfer := models.IndividualTransfer{
				ID:                   uuid.New(),
				TransferID:           in.TransferID,
				BulkID:               &bulk.ID,
				PayeePartyIDType:     in.PayeeIDType,
				PayeePartyIdentifier: in.PayeeIdentifier,
				Amount:               in.Amount,
				Currency:             in.Currency,
				Status:               domain.TransferStatusPending,
			}
			if err := q.InsertIndividualTransfer(ctx, &transfer); err != nil {
				return err
			}
			transfers = append(transfers, transfer)
		}

		resp.Bulk = bulk
		resp.Transfers = transfers
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateTransfer accepts a standalone transfer by folding it into a batch
// of size one. Funding, dispatch and settlement then run through the same
// machinery as any other batch.
func (s *BulkService) CreateTransfer(ctx context.Context, payerAccountID string, input TransferInput) (*models.IndividualTransfer, error) {
	resp, err := s.CreateBulkTransfer(ctx, CreateBulkRequest{
		PayerAccountID: payerAccountID,
		Transfers:      []TransferInput{input},
	})
	if err != nil {
		return nil, err
	}
	return &resp.Transfers[0], nil
}

// GetBulk returns a batch by its external identifier.
func (s *BulkService) GetBulk(ctx context.Context, bulkID string) (*models.BulkTransfer, error) {
	bulk, err := s.store.Queries().GetBulkByBulkID(ctx, bulkID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrBulkNotFound, bulkID)
	}
	if err != nil {
		return nil, err
	}
	return &bulk, nil
}

// GetTransfer returns one transfer by its external identifier.
func (s *BulkService) GetTransfer(ctx context.Context, transferID string) (*models.IndividualTransfer, error) {
	transfer, err := s.store.Queries().GetTransferByTransferID(ctx, transferID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTransfer, transferID)
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// NewBulkID generates a human-facing batch identifier.
func NewBulkID() string {
	raw := uuid.New()
	return domain.BulkIDPrefix + hex.EncodeToString(raw[:])[:12]
}
