// Package pricing maintains the per-commodity reference price index.
//
// Administrators publish reference prices; the index smooths them with an
// exponentially weighted moving average and keeps a bounded history for
// market queries. Reference prices are public market data and carry no
// per-contract information. All arithmetic uses shopspring/decimal, never
// float64 for money.
package pricing

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
)

var (
	// ErrInvalidAlpha is returned for smoothing factors outside (0, 1].
	ErrInvalidAlpha = errors.New("pricing: smoothing factor must be in (0, 1]")

	// ErrInvalidHistorySize is returned for non-positive history capacities.
	ErrInvalidHistorySize = errors.New("pricing: history size must be positive")
)

// Point is one published reference price observation.
type Point struct {
	Price decimal.Decimal `json:"price"`
	Index decimal.Decimal `json:"index"`
	At    time.Time       `json:"at"`
}

type cropState struct {
	index   decimal.Decimal
	seeded  bool
	history []Point // ring, oldest first
}

// Index computes an EWMA reference price index per commodity:
//
//	index' = alpha*price + (1-alpha)*index
//
// The first observation seeds the index directly.
type Index struct {
	alpha       decimal.Decimal
	historySize int

	mu    sync.RWMutex
	crops map[crop.Type]*cropState
}

// NewIndex creates an index with the given smoothing factor and per-crop
// history capacity.
func NewIndex(alpha decimal.Decimal, historySize int) (*Index, error) {
	if alpha.LessThanOrEqual(decimal.Zero) || alpha.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidAlpha
	}
	if historySize <= 0 {
		return nil, ErrInvalidHistorySize
	}
	return &Index{
		alpha:       alpha,
		historySize: historySize,
		crops:       make(map[crop.Type]*cropState),
	}, nil
}

// Update folds a newly published price into the commodity's index and
// returns the updated index value.
func (ix *Index) Update(ct crop.Type, price decimal.Decimal, at time.Time) decimal.Decimal {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	st, ok := ix.crops[ct]
	if !ok {
		st = &cropState{}
		ix.crops[ct] = st
	}

	if !st.seeded {
		st.index = price
		st.seeded = true
	} else {
		one := decimal.NewFromInt(1)
		st.index = ix.alpha.Mul(price).Add(one.Sub(ix.alpha).Mul(st.index))
	}

	st.history = append(st.history, Point{Price: price, Index: st.index, At: at})
	if len(st.history) > ix.historySize {
		st.history = st.history[len(st.history)-ix.historySize:]
	}
	return st.index
}

// Current returns the commodity's index value, or false if no price has
// been published yet.
func (ix *Index) Current(ct crop.Type) (decimal.Decimal, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st, ok := ix.crops[ct]
	if !ok || !st.seeded {
		return decimal.Zero, false
	}
	return st.index, true
}

// History returns the commodity's recorded observations, oldest first.
func (ix *Index) History(ct crop.Type) []Point {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st, ok := ix.crops[ct]
	if !ok {
		return nil
	}
	out := make([]Point, len(st.history))
	copy(out, st.history)
	return out
}
