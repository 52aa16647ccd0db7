package domain

import "strings"

// Outcome is the canonical interpretation of a reported settlement state
// after callback normalization.
type Outcome int

const (
	// OutcomeCompleted finalizes the transfer and moves money.
	OutcomeCompleted Outcome = iota
	// OutcomeFailed marks the transfer FAILED without ledger movement.
	OutcomeFailed
	// OutcomeIgnored acknowledges the callback without local effect.
	OutcomeIgnored
)

var transferTransitions = map[string]map[string]struct{}{
	TransferStatusPending: {
		TransferStatusCompleted: {},
		TransferStatusFailed:    {},
	},
	TransferStatusCompleted: {},
	TransferStatusFailed:    {},
}

// bulkStateRank orders bulk states so that derived recomputation can never
// regress a batch out of a terminal state.
var bulkStateRank = map[string]int{
	BulkStatePending:            0,
	BulkStateInProgress:         1,
	BulkStateCompleted:          2,
	BulkStateFailed:             2,
	BulkStatePartiallyCompleted: 2,
}

func NormalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

// CanTransitionTransfer reports whether a transfer may move between the
// two statuses.
func CanTransitionTransfer(current, next string) bool {
	nextStates, ok := transferTransitions[NormalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[NormalizeState(next)]
	return ok
}

// IsTerminalTransferStatus reports whether the status permits no further
// transition.
func IsTerminalTransferStatus(status string) bool {
	switch NormalizeState(status) {
	case TransferStatusCompleted, TransferStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminalBulkState reports whether the batch state is final.
func IsTerminalBulkState(state string) bool {
	return bulkStateRank[NormalizeState(state)] >= 2
}

// OutcomeForReportedState maps an adapter-reported transfer state onto a
// canonical outcome. Scheme adapters disagree on vocabulary: Mojaloop-style
// adapters report COMMITTED, others use COMPLETED. An absent state on a
// result that carries a fulfilment means completion. Explicit failure
// vocabulary marks the transfer FAILED; anything else is acknowledged
// without local effect so an unexpected state can never move money.
func OutcomeForReportedState(state string) Outcome {
	switch NormalizeState(state) {
	case "", "COMMITTED", "COMPLETED", "SUCCESS":
		return OutcomeCompleted
	case "FAILED", "ABORTED", "REJECTED", "ERROR":
		return OutcomeFailed
	default:
		return OutcomeIgnored
	}
}

// DeriveBulkState recomputes the batch state from child status counts.
// The computation is a pure function of the counts plus the current state,
// which only matters while children are still pending: a batch that was
// never dispatched stays PENDING, a dispatched one shows IN_PROGRESS.
func DeriveBulkState(current string, counts StatusCounts) string {
	current = NormalizeState(current)
	if counts.Total == 0 {
		return current
	}
	if counts.Pending > 0 {
		if current == BulkStatePending {
			return BulkStatePending
		}
		return BulkStateInProgress
	}
	switch {
	case counts.Failed == 0:
		return BulkStateCompleted
	case counts.Completed == 0:
		return BulkStateFailed
	default:
		return BulkStatePartiallyCompleted
	}
}

// StatusCounts aggregates child transfer statuses for one batch.
type StatusCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
}

// ProgressPercent returns the settled fraction as a percentage rounded to
// two decimal places, 0 for an empty batch.
func (c StatusCounts) ProgressPercent() float64 {
	if c.Total == 0 {
		return 0
	}
	pct := float64(c.Completed+c.Failed) / float64(c.Total) * 100
	return float64(int64(pct*100+0.5)) / 100
}
