package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sdiallo/bulkdisburse/internal/models"
)

const accountColumns = `id, account_id, organization, party_id_type, party_identifier, balance, reserved, created_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.AccountID, &a.Organization, &a.PartyIDType, &a.PartyIdentifier, &a.Balance, &a.Reserved, &a.CreatedAt)
	return a, err
}

// CreateAccount inserts a ledger account. The zero balance/reserved case is
// used for lazily created payee accounts.
func (q *Queries) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, account_id, organization, party_id_type, party_identifier, balance, reserved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query,
		account.ID, account.AccountID, account.Organization,
		account.PartyIDType, account.PartyIdentifier,
		account.Balance, account.Reserved,
	).Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(q.db.QueryRow(ctx, query, id))
}

func (q *Queries) GetAccountByAccountID(ctx context.Context, accountID string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	return scanAccount(q.db.QueryRow(ctx, query, accountID))
}

func (q *Queries) GetAccountByParty(ctx context.Context, idType, identifier string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE party_id_type = $1 AND party_identifier = $2`
	return scanAccount(q.db.QueryRow(ctx, query, idType, identifier))
}

// GetAccountByAccountIDForUpdate locks the payer row during batch creation
// so that concurrent reservations serialize on the account.
func (q *Queries) GetAccountByAccountIDForUpdate(ctx context.Context, accountID string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1 FOR UPDATE`
	return scanAccount(q.db.QueryRow(ctx, query, accountID))
}

// ReserveFunds earmarks amount on the account. The guard in the WHERE
// clause makes the reservation atomic with the available-funds check: zero
// rows affected means insufficient funds.
func (q *Queries) ReserveFunds(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	query := `UPDATE accounts SET reserved = reserved + $1 WHERE id = $2 AND balance - reserved >= $1`
	tag, err := q.db.Exec(ctx, query, amount, id)
	if err != nil {
		return 0, fmt.Errorf("reserve funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseFunds removes up to amount from the reservation, floored at zero
// so a duplicated release can never drive reserved negative.
func (q *Queries) ReleaseFunds(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	query := `UPDATE accounts SET reserved = GREATEST(reserved - $1, 0) WHERE id = $2`
	tag, err := q.db.Exec(ctx, query, amount, id)
	if err != nil {
		return 0, fmt.Errorf("release funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreditBalance increases the account balance.
func (q *Queries) CreditBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	query := `UPDATE accounts SET balance = balance + $1 WHERE id = $2`
	tag, err := q.db.Exec(ctx, query, amount, id)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DebitBalance decreases the account balance, floored at zero. The floor
// mirrors the release clamp: it is the ledger-level defense against a
// settlement retry replaying a debit.
func (q *Queries) DebitBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	query := `UPDATE accounts SET balance = GREATEST(balance - $1, 0) WHERE id = $2`
	tag, err := q.db.Exec(ctx, query, amount, id)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	return tag.RowsAffected(), nil
}
