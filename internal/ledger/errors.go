package ledger

import (
	"errors"

	"github.com/agrex/futures-ledger/internal/exposure"
)

// Lifecycle precondition errors. Every violation aborts the whole operation
// with no partial state mutation and no notification.
var (
	// ErrInvalidAmount rejects zero, negative, or non-representable
	// deposit amounts.
	ErrInvalidAmount = errors.New("ledger: invalid deposit amount")

	// ErrInvalidQuantity rejects non-positive or non-integral quantities.
	ErrInvalidQuantity = errors.New("ledger: invalid contract quantity")

	// ErrInvalidPrice rejects non-positive prices.
	ErrInvalidPrice = errors.New("ledger: invalid price")

	// ErrSelfTrade rejects contracts where buyer and seller are the same
	// account.
	ErrSelfTrade = errors.New("ledger: self-trading not allowed")

	// ErrNotContractParty rejects callers that are neither buyer nor seller.
	ErrNotContractParty = errors.New("ledger: caller is not a contract party")

	// ErrContractNotActive rejects transitions on SETTLED or CANCELLED
	// contracts.
	ErrContractNotActive = errors.New("ledger: contract is not active")

	// ErrBothPartiesMustConfirm blocks settlement until both confirmation
	// flags are set.
	ErrBothPartiesMustConfirm = errors.New("ledger: both parties must confirm before settlement")

	// ErrSettlementPeriodNotReached blocks settlement before the deadline.
	ErrSettlementPeriodNotReached = errors.New("ledger: settlement period not reached")

	// ErrCannotCancelConfirmed blocks cancellation once both parties have
	// confirmed.
	ErrCannotCancelConfirmed = errors.New("ledger: cannot cancel a fully confirmed contract")

	// ErrNotAuthorized rejects administrator-only operations from other
	// callers.
	ErrNotAuthorized = errors.New("ledger: caller is not the administrator")

	// ErrContractNotFound rejects references to unknown contract ids.
	ErrContractNotFound = errors.New("ledger: contract not found")
)

// rejectionReason maps a precondition error to its metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrSelfTrade):
		return "self_trade"
	case errors.Is(err, ErrNotContractParty):
		return "not_a_party"
	case errors.Is(err, ErrContractNotActive):
		return "not_active"
	case errors.Is(err, ErrBothPartiesMustConfirm):
		return "unconfirmed"
	case errors.Is(err, ErrSettlementPeriodNotReached):
		return "period_not_reached"
	case errors.Is(err, ErrCannotCancelConfirmed):
		return "confirmed_cancel"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrContractNotFound):
		return "not_found"
	case errors.Is(err, exposure.ErrTraderLimitExceeded):
		return "trader_limit"
	case errors.Is(err, exposure.ErrCropLimitExceeded):
		return "crop_limit"
	default:
		return "other"
	}
}
