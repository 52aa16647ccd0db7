package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sdiallo/bulkdisburse/internal/models"
)

const transferColumns = `id, transfer_id, bulk_id, payee_party_id_type, payee_party_identifier, payee_account_id, amount, currency, status, fulfilment, completed_at, created_at`

func scanTransfer(row interface{ Scan(dest ...any) error }) (models.IndividualTransfer, error) {
	var t models.IndividualTransfer
	err := row.Scan(
		&t.ID, &t.TransferID, &t.BulkID,
		&t.PayeePartyIDType, &t.PayeePartyIdentifier, &t.PayeeAccountID,
		&t.Amount, &t.Currency, &t.Status,
		&t.Fulfilment, &t.CompletedAt, &t.CreatedAt,
	)
	return t, err
}

func (q *Queries) InsertIndividualTransfer(ctx context.Context, transfer *models.IndividualTransfer) error {
	query := `
		INSERT INTO individual_transfers
			(id, transfer_id, bulk_id, payee_party_id_type, payee_party_identifier, payee_account_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query,
		transfer.ID, transfer.TransferID, transfer.BulkID,
		transfer.PayeePartyIDType, transfer.PayeePartyIdentifier, transfer.PayeeAccountID,
		transfer.Amount, transfer.Currency, transfer.Status,
	).Scan(&transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert individual transfer: %w", err)
	}
	return nil
}

func (q *Queries) GetTransferByTransferID(ctx context.Context, transferID string) (models.IndividualTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM individual_transfers WHERE transfer_id = $1`
	return scanTransfer(q.db.QueryRow(ctx, query, transferID))
}

// GetTransferForUpdate locks the transfer row. Two concurrent settlement
// attempts for the same identifier serialize here, so the second observes
// the first's terminal status after commit.
func (q *Queries) GetTransferForUpdate(ctx context.Context, transferID string) (models.IndividualTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM individual_transfers WHERE transfer_id = $1 FOR UPDATE`
	return scanTransfer(q.db.QueryRow(ctx, query, transferID))
}

// CountExistingTransferIDs reports how many of the given identifiers are
// already persisted. Used to reject colliding submissions before anything
// is written.
func (q *Queries) CountExistingTransferIDs(ctx context.Context, transferIDs []string) (int64, error) {
	query := `SELECT COUNT(*) FROM individual_transfers WHERE transfer_id = ANY($1)`
	var count int64
	if err := q.db.QueryRow(ctx, query, transferIDs).Scan(&count); err != nil {
		return 0, fmt.Errorf("count existing transfer ids: %w", err)
	}
	return count, nil
}

// MarkTransferCompleted flips a PENDING transfer to COMPLETED with its
// proof of completion. The status guard makes the flip exclusive: zero
// rows affected means another settlement won.
func (q *Queries) MarkTransferCompleted(ctx context.Context, id uuid.UUID, payeeAccountID uuid.UUID, fulfilment string, completedAt time.Time) (int64, error) {
	query := `
		UPDATE individual_transfers
		SET status = 'COMPLETED', payee_account_id = $1, fulfilment = $2, completed_at = $3
		WHERE id = $4 AND status = 'PENDING'
	`
	tag, err := q.db.Exec(ctx, query, payeeAccountID, fulfilment, completedAt, id)
	if err != nil {
		return 0, fmt.Errorf("mark transfer completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkTransferFailed flips a PENDING transfer to FAILED. No ledger
// movement accompanies the flip; the payer reservation stays held.
func (q *Queries) MarkTransferFailed(ctx context.Context, id uuid.UUID, completedAt time.Time) (int64, error) {
	query := `
		UPDATE individual_transfers
		SET status = 'FAILED', completed_at = $1
		WHERE id = $2 AND status = 'PENDING'
	`
	tag, err := q.db.Exec(ctx, query, completedAt, id)
	if err != nil {
		return 0, fmt.Errorf("mark transfer failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTransfersByBulk returns the batch's transfers ordered by creation.
func (q *Queries) ListTransfersByBulk(ctx context.Context, bulkID uuid.UUID) ([]models.IndividualTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM individual_transfers WHERE bulk_id = $1 ORDER BY created_at ASC, transfer_id ASC`
	rows, err := q.db.Query(ctx, query, bulkID)
	if err != nil {
		return nil, fmt.Errorf("list transfers by bulk: %w", err)
	}
	defer rows.Close()

	var transfers []models.IndividualTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
