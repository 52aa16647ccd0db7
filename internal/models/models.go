package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds rejects a submission whose total exceeds the
	// payer's available (balance minus reserved) funds.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateTransferID rejects a submission containing a transfer id
	// that repeats within the batch or collides with a persisted transfer.
	ErrDuplicateTransferID = errors.New("duplicate transfer id")
	// ErrUnknownTransfer rejects a settlement callback for an identifier
	// that was never created.
	ErrUnknownTransfer = errors.New("unknown transfer")
	// ErrBulkNotFound indicates the batch identifier does not exist.
	ErrBulkNotFound = errors.New("bulk transfer not found")
	// ErrAccountNotFound indicates the ledger account does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a ledger account mapped to a scheme party. Balance and
// Reserved are integer minor units; available funds are Balance-Reserved.
type Account struct {
	ID              uuid.UUID `json:"id"`
	AccountID       string    `json:"account_id"`
	Organization    string    `json:"organization,omitempty"`
	PartyIDType     string    `json:"party_id_type"`
	PartyIdentifier string    `json:"party_identifier"`
	Balance         int64     `json:"balance"`
	Reserved        int64     `json:"reserved"`
	CreatedAt       time.Time `json:"created_at"`
}

// Available returns the balance not earmarked by reservations.
func (a Account) Available() int64 {
	return a.Balance - a.Reserved
}

// BulkTransfer is a batch of individual transfers funded by one payer
// reservation. State is derived from child statuses and only moves
// forward.
type BulkTransfer struct {
	ID             uuid.UUID `json:"id"`
	BulkID         string    `json:"bulk_id"`
	PayerAccountID uuid.UUID `json:"payer_account_id"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
}

// IndividualTransfer is one payee-directed money movement. BulkID is nil
// for transfers created outside a batch; the creation path folds
// standalone submissions into batches of size one, so a nil parent only
// occurs for rows created by external tooling.
type IndividualTransfer struct {
	ID                   uuid.UUID  `json:"id"`
	TransferID           string     `json:"transfer_id"`
	BulkID               *uuid.UUID `json:"bulk_id,omitempty"`
	PayeePartyIDType     string     `json:"payee_party_id_type"`
	PayeePartyIdentifier string     `json:"payee_party_identifier"`
	PayeeAccountID       *uuid.UUID `json:"payee_account_id,omitempty"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Status               string     `json:"status"`
	Fulfilment           *string    `json:"fulfilment,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}
