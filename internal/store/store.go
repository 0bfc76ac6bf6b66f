// Package store defines the persistence interface for the futures ledger.
// Implementations include PostgreSQL (source of truth), LevelDB (embedded),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/model"
)

// Lookup errors shared by all implementations.
var (
	ErrContractNotFound = errors.New("store: contract not found")
	ErrTraderNotFound   = errors.New("store: trader not found")
	ErrMarketNotFound   = errors.New("store: market not found")
)

// Store is the persistence interface. State is three logical tables keyed by
// contract id, account, and crop type, plus a monotonically increasing
// next-contract-id counter (initialized to 1) and the plaintext pooled
// native-currency balance.
//
// The Apply* methods persist one lifecycle transition each and must be
// atomic: either every record in the call is written or none is. Callers
// pass fully mutated copies; stores never apply business rules.
type Store interface {
	// --- Trader registry ---

	// GetTrader retrieves a profile, or ErrTraderNotFound. Profiles are
	// created implicitly by the lifecycle engine, never by the store.
	GetTrader(ctx context.Context, account string) (*model.TraderProfile, error)

	// PutTrader upserts a profile.
	PutTrader(ctx context.Context, p *model.TraderProfile) error

	// --- Futures contracts ---

	// GetContract retrieves a contract by id, or ErrContractNotFound.
	GetContract(ctx context.Context, id uint64) (*model.FuturesContract, error)

	// UpdateContract persists mutated status/confirmation fields.
	UpdateContract(ctx context.Context, c *model.FuturesContract) error

	// --- Market aggregates ---

	// GetMarket retrieves the aggregate for one crop, or ErrMarketNotFound.
	GetMarket(ctx context.Context, c crop.Type) (*model.MarketAggregate, error)

	// PutMarket upserts a per-crop aggregate.
	PutMarket(ctx context.Context, m *model.MarketAggregate) error

	// ListMarkets returns every per-crop aggregate.
	ListMarkets(ctx context.Context) ([]model.MarketAggregate, error)

	// --- Lifecycle transitions (atomic) ---

	// ApplyDeposit persists a credited profile and adds the deposited
	// amount to the pooled balance in one atomic step.
	ApplyDeposit(ctx context.Context, p *model.TraderProfile, amount decimal.Decimal) error

	// ApplyCreate allocates the next sequential contract id, assigns it to
	// contract.ID, appends it to both profiles' contract lists, and
	// persists contract, both profiles, and the market aggregate.
	ApplyCreate(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) (uint64, error)

	// ApplySettlement persists a settlement: contract (SETTLED, new
	// balances already on the profiles), both profiles, and the market.
	ApplySettlement(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error

	// ApplyCancellation persists a cancellation: contract (CANCELLED),
	// both profiles, and the market aggregate.
	ApplyCancellation(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error

	// --- Pooled native balance ---

	// PoolBalance returns the plaintext pooled balance backing all
	// encrypted trader balances.
	PoolBalance(ctx context.Context) (decimal.Decimal, error)

	// AddToPool credits the pooled balance.
	AddToPool(ctx context.Context, amount decimal.Decimal) error

	// SweepPool zeroes the pooled balance and returns the swept amount.
	SweepPool(ctx context.Context) (decimal.Decimal, error)
}
