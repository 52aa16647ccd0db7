package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
)

const bulkColumns = `id, bulk_id, payer_account_id, total_amount, currency, state, created_at`

func scanBulk(row interface{ Scan(dest ...any) error }) (models.BulkTransfer, error) {
	var b models.BulkTransfer
	err := row.Scan(&b.ID, &b.BulkID, &b.PayerAccountID, &b.TotalAmount, &b.Currency, &b.State, &b.CreatedAt)
	return b, err
}

func (q *Queries) InsertBulkTransfer(ctx context.Context, bulk *models.BulkTransfer) error {
	query := `
		INSERT INTO bulk_transfers (id, bulk_id, payer_account_id, total_amount, currency, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query,
		bulk.ID, bulk.BulkID, bulk.PayerAccountID, bulk.TotalAmount, bulk.Currency, bulk.State,
	).Scan(&bulk.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bulk transfer: %w", err)
	}
	return nil
}

func (q *Queries) GetBulkByBulkID(ctx context.Context, bulkID string) (models.BulkTransfer, error) {
	query := `SELECT ` + bulkColumns + ` FROM bulk_transfers WHERE bulk_id = $1`
	return scanBulk(q.db.QueryRow(ctx, query, bulkID))
}

func (q *Queries) GetBulk(ctx context.Context, id uuid.UUID) (models.BulkTransfer, error) {
	query := `SELECT ` + bulkColumns + ` FROM bulk_transfers WHERE id = $1`
	return scanBulk(q.db.QueryRow(ctx, query, id))
}

// GetBulkForUpdate locks the batch row so that state recomputation
// serializes across concurrent settlements and status polls.
func (q *Queries) GetBulkForUpdate(ctx context.Context, bulkID string) (models.BulkTransfer, error) {
	query := `SELECT ` + bulkColumns + ` FROM bulk_transfers WHERE bulk_id = $1 FOR UPDATE`
	return scanBulk(q.db.QueryRow(ctx, query, bulkID))
}

// GetBulkForUpdateByID is the primary-key variant used inside settlement
// transactions.
func (q *Queries) GetBulkForUpdateByID(ctx context.Context, id uuid.UUID) (models.BulkTransfer, error) {
	query := `SELECT ` + bulkColumns + ` FROM bulk_transfers WHERE id = $1 FOR UPDATE`
	return scanBulk(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) UpdateBulkState(ctx context.Context, id uuid.UUID, state string) (int64, error) {
	query := `UPDATE bulk_transfers SET state = $1 WHERE id = $2`
	tag, err := q.db.Exec(ctx, query, state, id)
	if err != nil {
		return 0, fmt.Errorf("update bulk state: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListBulkIDsByState returns batch identifiers in the given state, oldest
// first. The dispatch worker uses it to find undispatched batches.
func (q *Queries) ListBulkIDsByState(ctx context.Context, state string, limit int32) ([]string, error) {
	query := `SELECT bulk_id FROM bulk_transfers WHERE state = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := q.db.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list bulk ids by state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bulk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountTransferStatuses aggregates child transfer statuses for one batch.
func (q *Queries) CountTransferStatuses(ctx context.Context, bulkID uuid.UUID) (domain.StatusCounts, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		       COUNT(*) FILTER (WHERE status = 'FAILED'),
		       COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM individual_transfers
		WHERE bulk_id = $1
	`
	var c domain.StatusCounts
	if err := q.db.QueryRow(ctx, query, bulkID).Scan(&c.Total, &c.Completed, &c.Failed, &c.Pending); err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count transfer statuses: %w", err)
	}
	return c, nil
}
