package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferTransitions(t *testing.T) {
	require.True(t, CanTransitionTransfer("PENDING", "COMPLETED"))
	require.True(t, CanTransitionTransfer("pending", "failed"))
	require.False(t, CanTransitionTransfer("COMPLETED", "FAILED"))
	require.False(t, CanTransitionTransfer("FAILED", "COMPLETED"))
	require.False(t, CanTransitionTransfer("COMPLETED", "PENDING"))
}

func TestOutcomeForReportedState(t *testing.T) {
	cases := []struct {
		state string
		want  Outcome
	}{
		{"COMMITTED", OutcomeCompleted},
		{"completed", OutcomeCompleted},
		{"", OutcomeCompleted},
		{"ABORTED", OutcomeFailed},
		{"failed", OutcomeFailed},
		{"REJECTED", OutcomeFailed},
		{"RESERVED", OutcomeIgnored},
		{"RECEIVED", OutcomeIgnored},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, OutcomeForReportedState(tc.state), "state %q", tc.state)
	}
}

func TestDeriveBulkState(t *testing.T) {
	cases := []struct {
		name    string
		current string
		counts  StatusCounts
		want    string
	}{
		{"undispatched stays pending", BulkStatePending, StatusCounts{Total: 3, Pending: 3}, BulkStatePending},
		{"dispatched with pending", BulkStateInProgress, StatusCounts{Total: 3, Completed: 1, Pending: 2}, BulkStateInProgress},
		{"all completed", BulkStateInProgress, StatusCounts{Total: 3, Completed: 3}, BulkStateCompleted},
		{"all failed", BulkStateInProgress, StatusCounts{Total: 2, Failed: 2}, BulkStateFailed},
		{"mixed", BulkStateInProgress, StatusCounts{Total: 3, Completed: 2, Failed: 1}, BulkStatePartiallyCompleted},
		{"empty keeps current", BulkStateInProgress, StatusCounts{}, BulkStateInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveBulkState(tc.current, tc.counts))
			// Recomputation from identical counts is idempotent.
			require.Equal(t, tc.want, DeriveBulkState(DeriveBulkState(tc.current, tc.counts), tc.counts))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	require.Equal(t, float64(0), StatusCounts{}.ProgressPercent())
	require.Equal(t, 66.67, StatusCounts{Total: 3, Completed: 1, Failed: 1, Pending: 1}.ProgressPercent())
	require.Equal(t, float64(100), StatusCounts{Total: 4, Completed: 3, Failed: 1}.ProgressPercent())
}
