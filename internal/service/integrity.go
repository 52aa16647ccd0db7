package service

import (
	"context"
	"fmt"

	"github.com/sdiallo/bulkdisburse/internal/observability"
	"go.uber.org/zap"
)

// IntegrityService verifies ledger invariants.
type IntegrityService struct {
	store QueryStore
}

// NewIntegrityService creates an integrity service.
func NewIntegrityService(store QueryStore) *IntegrityService {
	return &IntegrityService{store: store}
}

// Run checks that no account reserves more than its balance and that every
// payer's reservation matches the outstanding amount of its batches.
func (s *IntegrityService) Run(ctx context.Context) error {
	queries := s.store.Queries()

	overReserved, err := queries.ListOverReservedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("run over-reserve query: %w", err)
	}
	for _, row := range overReserved {
		observability.IncrementIntegrityViolation("over_reserve")
		zap.L().Error("CRITICAL: account reserves more than its balance",
			zap.String("account_id", row.AccountID),
			zap.Int64("balance", row.Balance),
			zap.Int64("reserved", row.Reserved))
	}

	mismatches, err := queries.ListReservationMismatches(ctx)
	if err != nil {
		return fmt.Errorf("run reservation mismatch query: %w", err)
	}
	for _, row := range mismatches {
		observability.IncrementIntegrityViolation("reservation_mismatch")
		zap.L().Error("reservation does not match outstanding transfers",
			zap.String("account_id", row.AccountID),
			zap.Int64("reserved", row.Reserved),
			zap.Int64("outstanding", row.Outstanding))
	}

	if len(overReserved) == 0 && len(mismatches) == 0 {
		zap.L().Info("ledger invariants hold")
	}
	return nil
}
