package campaign

import "errors"

// Error taxonomy. Limit errors (ceiling, sub-allocation) are recoverable
// and expected to be routed to a defer/queue path by the caller; transition
// and consistency errors are contract violations that must surface.
var (
	// ErrInvalidTransition marks an illegal lifecycle transition, such as
	// leaving a terminal state. Never silently no-ops.
	ErrInvalidTransition = errors.New("invalid campaign state transition")

	// ErrVersionConflict marks a mutation carrying a stale expected
	// version. The caller should reload and retry.
	ErrVersionConflict = errors.New("campaign version conflict")

	// ErrPatternNotAllowed marks an entry pattern with no campaign
	// sub-allocation (failed breakouts never join accumulation campaigns).
	ErrPatternNotAllowed = errors.New("pattern type not admissible to campaign")

	// ErrCampaignCeilingExceeded marks an admission that would push the
	// campaign's total allocated risk over its ceiling.
	ErrCampaignCeilingExceeded = errors.New("campaign risk ceiling exceeded")

	// ErrPatternCeilingExceeded marks an admission that would push one
	// pattern type over its sub-allocation.
	ErrPatternCeilingExceeded = errors.New("pattern sub-allocation exceeded")

	// ErrOpenPositions marks a completion attempt with open or partial
	// positions remaining.
	ErrOpenPositions = errors.New("campaign has open positions")

	// ErrReasonRequired marks an invalidation without a reason string.
	ErrReasonRequired = errors.New("invalidation requires a reason")

	// ErrPnLMismatch marks a position whose stored unrealized P&L does
	// not match (price - entry) x shares. It indicates state corruption
	// and fails the mutation before anything is committed.
	ErrPnLMismatch = errors.New("unrealized pnl cross-check failed")

	// ErrPositionNotFound marks an operation on an unknown position.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidShares marks a reduce/close with a non-positive or
	// excessive share quantity.
	ErrInvalidShares = errors.New("invalid share quantity")
)
