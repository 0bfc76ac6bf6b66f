// Package exposure enforces open-contract concentration limits.
//
// Economic terms are encrypted, so limits cannot key off notional value;
// instead they bound the count of simultaneously ACTIVE contracts per trader
// and per commodity across the whole book. Both limits are optional: a zero
// maximum disables that check.
package exposure

import "errors"

var (
	// ErrTraderLimitExceeded is returned when a new contract would push a
	// party past the per-trader active-contract maximum.
	ErrTraderLimitExceeded = errors.New("exposure: active contract limit exceeded for trader")

	// ErrCropLimitExceeded is returned when a new contract would push a
	// commodity past its open-contract maximum.
	ErrCropLimitExceeded = errors.New("exposure: open contract limit exceeded for commodity")
)

// Limiter bounds open-contract concentration at creation time. Settlement
// and cancellation always proceed regardless of limits; only creation is
// gated.
type Limiter struct {
	// MaxActivePerTrader is the maximum number of ACTIVE contracts any
	// single account may be a party to. Zero disables the check.
	MaxActivePerTrader int

	// MaxOpenPerCrop is the maximum number of ACTIVE contracts per
	// commodity across all traders. Zero disables the check.
	MaxOpenPerCrop int
}

// NewLimiter creates a limiter with the given maxima. Negative values are
// treated as disabled.
func NewLimiter(maxActivePerTrader, maxOpenPerCrop int) *Limiter {
	if maxActivePerTrader < 0 {
		maxActivePerTrader = 0
	}
	if maxOpenPerCrop < 0 {
		maxOpenPerCrop = 0
	}
	return &Limiter{
		MaxActivePerTrader: maxActivePerTrader,
		MaxOpenPerCrop:     maxOpenPerCrop,
	}
}

// CheckCreate validates whether one more contract may open given the current
// active counts of both parties and the commodity's open-contract count.
// Counts are the values before the new contract is added.
func (l *Limiter) CheckCreate(buyerActive, sellerActive int, openForCrop uint64) error {
	if l.MaxActivePerTrader > 0 {
		if buyerActive+1 > l.MaxActivePerTrader || sellerActive+1 > l.MaxActivePerTrader {
			return ErrTraderLimitExceeded
		}
	}
	if l.MaxOpenPerCrop > 0 && openForCrop+1 > uint64(l.MaxOpenPerCrop) {
		return ErrCropLimitExceeded
	}
	return nil
}
