package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// traders, contracts, and market aggregates. Writes go to the primary store
// and invalidate the cache; reads check Redis first then fall back to the
// primary. Pool balances are never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func cacheKeyTrader(account string) string { return fmt.Sprintf("trader:%s", account) }
func cacheKeyContract(id uint64) string    { return fmt.Sprintf("contract:%d", id) }
func cacheKeyMarket(ct crop.Type) string   { return fmt.Sprintf("market:%s", ct) }

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// --- Read-through ---

func (s *CachedStore) GetTrader(ctx context.Context, account string) (*model.TraderProfile, error) {
	data, err := s.rdb.Get(ctx, cacheKeyTrader(account)).Bytes()
	if err == nil {
		var p model.TraderProfile
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetTrader(ctx, account)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheKeyTrader(account), p)
	return p, nil
}

func (s *CachedStore) GetContract(ctx context.Context, id uint64) (*model.FuturesContract, error) {
	data, err := s.rdb.Get(ctx, cacheKeyContract(id)).Bytes()
	if err == nil {
		var c model.FuturesContract
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheKeyContract(id), c)
	return c, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, ct crop.Type) (*model.MarketAggregate, error) {
	data, err := s.rdb.Get(ctx, cacheKeyMarket(ct)).Bytes()
	if err == nil {
		var m model.MarketAggregate
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, ct)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheKeyMarket(ct), m)
	return m, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutTrader(ctx context.Context, p *model.TraderProfile) error {
	if err := s.primary.PutTrader(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKeyTrader(p.Account))
	return nil
}

func (s *CachedStore) UpdateContract(ctx context.Context, c *model.FuturesContract) error {
	if err := s.primary.UpdateContract(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKeyContract(c.ID))
	return nil
}

func (s *CachedStore) PutMarket(ctx context.Context, m *model.MarketAggregate) error {
	if err := s.primary.PutMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKeyMarket(m.Crop))
	return nil
}

func (s *CachedStore) ApplyDeposit(ctx context.Context, p *model.TraderProfile, amount decimal.Decimal) error {
	if err := s.primary.ApplyDeposit(ctx, p, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKeyTrader(p.Account))
	return nil
}

func (s *CachedStore) ApplyCreate(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) (uint64, error) {
	id, err := s.primary.ApplyCreate(ctx, contract, buyer, seller, market)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx,
		cacheKeyTrader(buyer.Account),
		cacheKeyTrader(seller.Account),
		cacheKeyMarket(market.Crop))
	return id, nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	if err := s.primary.ApplySettlement(ctx, contract, buyer, seller, market); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		cacheKeyContract(contract.ID),
		cacheKeyTrader(buyer.Account),
		cacheKeyTrader(seller.Account),
		cacheKeyMarket(market.Crop))
	return nil
}

func (s *CachedStore) ApplyCancellation(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	if err := s.primary.ApplyCancellation(ctx, contract, buyer, seller, market); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		cacheKeyContract(contract.ID),
		cacheKeyTrader(buyer.Account),
		cacheKeyTrader(seller.Account),
		cacheKeyMarket(market.Crop))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.MarketAggregate, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.PoolBalance(ctx)
}

func (s *CachedStore) AddToPool(ctx context.Context, amount decimal.Decimal) error {
	return s.primary.AddToPool(ctx, amount)
}

func (s *CachedStore) SweepPool(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.SweepPool(ctx)
}
