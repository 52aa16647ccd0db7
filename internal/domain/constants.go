package domain

// Individual transfer statuses. A transfer makes exactly one transition
// out of PENDING and never leaves a terminal status.
const (
	TransferStatusPending   = "PENDING"
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
)

// Bulk transfer states. The state is derived from child transfer statuses
// and only ever moves forward.
const (
	BulkStatePending            = "PENDING"
	BulkStateInProgress         = "IN_PROGRESS"
	BulkStateCompleted          = "COMPLETED"
	BulkStateFailed             = "FAILED"
	BulkStatePartiallyCompleted = "PARTIALLY_COMPLETED"
)

const (
	// DefaultCurrency is applied when a submission omits the currency.
	DefaultCurrency = "XOF"

	// BulkIDPrefix and AccountIDPrefix are the human-facing identifier
	// prefixes used for generated ids.
	BulkIDPrefix    = "bulk-"
	AccountIDPrefix = "ACC-"
)
