package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sdiallo/bulkdisburse/internal/domain"
	"github.com/sdiallo/bulkdisburse/internal/models"
)

// AccountService handles business logic for ledger accounts.
type AccountService struct {
	store QueryStore
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store}
}

// CreateAccountRequest holds the parameters for opening an account.
type CreateAccountRequest struct {
	AccountID       string `json:"accountId"`
	Organization    string `json:"organization"`
	PartyIDType     string `json:"partyIdType"`
	PartyIdentifier string `json:"partyIdentifier"`
	Balance         int64  `json:"balance"`
}

// CreateAccount opens a ledger account. An omitted identifier gets a
// generated one; the opening balance funds payer accounts.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*models.Account, error) {
	if req.PartyIDType == "" {
		return nil, errors.New("partyIdType is required")
	}
	if req.PartyIdentifier == "" {
		return nil, errors.New("partyIdentifier is required")
	}
	if req.Balance < 0 {
		return nil, fmt.Errorf("invalid balance: %d", req.Balance)
	}

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		accountID = NewAccountID()
	} else if !strings.HasPrefix(accountID, domain.AccountIDPrefix) {
		return nil, fmt.Errorf("account id must start with %q", domain.AccountIDPrefix)
	}

	account := models.Account{
		ID:              uuid.New(),
		AccountID:       accountID,
		Organization:    strings.TrimSpace(req.Organization),
		PartyIDType:     req.PartyIDType,
		PartyIdentifier: req.PartyIdentifier,
		Balance:         req.Balance,
	}
	if err := s.store.Queries().CreateAccount(ctx, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount returns an account by its external identifier.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.store.Queries().GetAccountByAccountID(ctx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountByParty resolves an account from a scheme party identity.
func (s *AccountService) GetAccountByParty(ctx context.Context, idType, identifier string) (*models.Account, error) {
	account, err := s.store.Queries().GetAccountByParty(ctx, idType, identifier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrAccountNotFound, idType, identifier)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
