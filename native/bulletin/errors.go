package bulletin

import "errors"

// Authorization errors: the caller is not allowed to perform the operation.
var (
	// ErrInvalidOp marks owner-gated operations invoked by a different
	// address.
	ErrInvalidOp = errors.New("bulletin: caller not permitted for this operation")
	// ErrUnauthorized marks role-gated operations invoked without the
	// required role bits.
	ErrUnauthorized = errors.New("bulletin: caller lacks the required role")
	// ErrCannotComment marks usage comments from anyone but the owner of the
	// originating ask.
	ErrCannotComment = errors.New("bulletin: caller does not own the originating ask")
)

// State errors: the operation is invalid for the entity's lifecycle state.
var (
	// ErrAlreadyFulfilled marks mutations of an ask that has been settled or
	// emptied.
	ErrAlreadyFulfilled = errors.New("bulletin: ask already fulfilled")
	// ErrInvalidTrade marks trade operations against a fulfilled ask.
	ErrInvalidTrade = errors.New("bulletin: ask no longer accepts trades")
	// ErrNothingToTrade marks transitions on a trade that was never proposed.
	ErrNothingToTrade = errors.New("bulletin: trade does not exist")
	// ErrResourceNotActive marks proposals referencing an inactive resource.
	ErrResourceNotActive = errors.New("bulletin: resource not active")
	// ErrResourceNotValid marks references that decode to a null instance or
	// null id, or to an instance absent from the registry.
	ErrResourceNotValid = errors.New("bulletin: resource reference not valid")
	// ErrReentrantSettlement marks a nested settlement of an ask that is
	// already mid-settlement.
	ErrReentrantSettlement = errors.New("bulletin: settlement already in progress")
)

// Arithmetic errors: partition or encoding constraints violated.
var (
	// ErrSettlementMismatch marks a percentage list whose length differs from
	// the approved trade count.
	ErrSettlementMismatch = errors.New("bulletin: percentages do not match approved trades")
	// ErrTotalPercentageMustBeTenThousand marks a partition that does not sum
	// to exactly 10,000 basis points.
	ErrTotalPercentageMustBeTenThousand = errors.New("bulletin: percentages must sum to ten thousand")
	// ErrEncodingOverflow marks local ids wider than the reserved reference
	// bits.
	ErrEncodingOverflow = errors.New("bulletin: local id exceeds reference width")
)

// Transfer errors: value movement failed.
var (
	// ErrTransferFailed marks custody payouts the instance cannot cover.
	ErrTransferFailed = errors.New("bulletin: transfer failed")
	// ErrInsufficientAmount marks native escrow pulls whose attached value
	// does not equal the requested amount exactly.
	ErrInsufficientAmount = errors.New("bulletin: attached value must equal amount")
)

// Lookup errors.
var (
	ErrAskNotFound      = errors.New("bulletin: ask not found")
	ErrResourceNotFound = errors.New("bulletin: resource not found")
	ErrTradeNotFound    = errors.New("bulletin: trade not found")
	ErrUsageNotFound    = errors.New("bulletin: usage not found")
)
