package repository

import (
	"context"
	"fmt"
)

// OverReservedAccount is an account whose reservation exceeds its balance.
type OverReservedAccount struct {
	AccountID string
	Balance   int64
	Reserved  int64
}

// ListOverReservedAccounts returns accounts violating reserved <= balance.
func (q *Queries) ListOverReservedAccounts(ctx context.Context) ([]OverReservedAccount, error) {
	query := `
		SELECT account_id, balance, reserved
		FROM accounts
		WHERE reserved > balance OR reserved < 0 OR balance < 0
		ORDER BY account_id
	`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list over-reserved accounts: %w", err)
	}
	defer rows.Close()

	var out []OverReservedAccount
	for rows.Next() {
		var r OverReservedAccount
		if err := rows.Scan(&r.AccountID, &r.Balance, &r.Reserved); err != nil {
			return nil, fmt.Errorf("scan over-reserved account: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReservationMismatch is an account whose reservation does not cover the
// outstanding amount of its batches. Outstanding counts PENDING transfers
// plus FAILED ones, whose reservation stays held until resolved.
type ReservationMismatch struct {
	AccountID   string
	Reserved    int64
	Outstanding int64
}

// ListReservationMismatches compares each payer's reservation against the
// sum of its batches' outstanding transfer amounts.
func (q *Queries) ListReservationMismatches(ctx context.Context) ([]ReservationMismatch, error) {
	query := `
		SELECT a.account_id, a.reserved, COALESCE(SUM(t.amount), 0) AS outstanding
		FROM accounts a
		LEFT JOIN bulk_transfers b ON b.payer_account_id = a.id
		LEFT JOIN individual_transfers t ON t.bulk_id = b.id AND t.status IN ('PENDING', 'FAILED')
		GROUP BY a.id, a.account_id, a.reserved
		HAVING a.reserved <> COALESCE(SUM(t.amount), 0)
		ORDER BY a.account_id
	`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list reservation mismatches: %w", err)
	}
	defer rows.Close()

	var out []ReservationMismatch
	for rows.Next() {
		var r ReservationMismatch
		if err := rows.Scan(&r.AccountID, &r.Reserved, &r.Outstanding); err != nil {
			return nil, fmt.Errorf("scan reservation mismatch: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
