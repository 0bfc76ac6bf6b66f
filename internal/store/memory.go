package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	traders   map[string]*model.TraderProfile
	contracts map[uint64]*model.FuturesContract
	markets   map[crop.Type]*model.MarketAggregate
	nextID    uint64
	pool      decimal.Decimal
}

// NewMemoryStore creates a new in-memory store with the contract-id counter
// initialized to 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traders:   make(map[string]*model.TraderProfile),
		contracts: make(map[uint64]*model.FuturesContract),
		markets:   make(map[crop.Type]*model.MarketAggregate),
		nextID:    1,
	}
}

func copyTrader(p *model.TraderProfile) *model.TraderProfile {
	cp := *p
	cp.ContractIDs = append([]uint64(nil), p.ContractIDs...)
	return &cp
}

func (s *MemoryStore) GetTrader(_ context.Context, account string) (*model.TraderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.traders[account]
	if !ok {
		return nil, ErrTraderNotFound
	}
	return copyTrader(p), nil
}

func (s *MemoryStore) PutTrader(_ context.Context, p *model.TraderProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traders[p.Account] = copyTrader(p)
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id uint64) (*model.FuturesContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateContract(_ context.Context, c *model.FuturesContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; !ok {
		return ErrContractNotFound
	}
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, ct crop.Type) (*model.MarketAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[ct]
	if !ok {
		return nil, ErrMarketNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) PutMarket(_ context.Context, m *model.MarketAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.markets[m.Crop] = &cp
	return nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.MarketAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.MarketAggregate, 0, len(s.markets))
	for _, ct := range crop.All() {
		if m, ok := s.markets[ct]; ok {
			markets = append(markets, *m)
		}
	}
	return markets, nil
}

func (s *MemoryStore) ApplyDeposit(_ context.Context, p *model.TraderProfile, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traders[p.Account] = copyTrader(p)
	s.pool = s.pool.Add(amount)
	return nil
}

func (s *MemoryStore) ApplyCreate(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract.ID = s.nextID
	s.nextID++

	buyer.ContractIDs = append(buyer.ContractIDs, contract.ID)
	seller.ContractIDs = append(seller.ContractIDs, contract.ID)

	cc := *contract
	s.contracts[contract.ID] = &cc
	s.traders[buyer.Account] = copyTrader(buyer)
	s.traders[seller.Account] = copyTrader(seller)
	mc := *market
	s.markets[market.Crop] = &mc

	return contract.ID, nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[contract.ID]; !ok {
		return ErrContractNotFound
	}
	cc := *contract
	s.contracts[contract.ID] = &cc
	s.traders[buyer.Account] = copyTrader(buyer)
	s.traders[seller.Account] = copyTrader(seller)
	mc := *market
	s.markets[market.Crop] = &mc
	return nil
}

func (s *MemoryStore) ApplyCancellation(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[contract.ID]; !ok {
		return ErrContractNotFound
	}
	cc := *contract
	s.contracts[contract.ID] = &cc
	s.traders[buyer.Account] = copyTrader(buyer)
	s.traders[seller.Account] = copyTrader(seller)
	mc := *market
	s.markets[market.Crop] = &mc
	return nil
}

func (s *MemoryStore) PoolBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool, nil
}

func (s *MemoryStore) AddToPool(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = s.pool.Add(amount)
	return nil
}

func (s *MemoryStore) SweepPool(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := s.pool
	s.pool = decimal.Zero
	return swept, nil
}
