package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/model"
)

// Key prefixes for LevelDB storage.
var (
	prefixTrader   = []byte("T:") // T:<account> -> TraderProfile JSON
	prefixContract = []byte("C:") // C:<id BE64> -> FuturesContract JSON
	prefixMarket   = []byte("M:") // M:<crop>    -> MarketAggregate JSON
	keyMetaNextID  = []byte("X:nextid")
	keyMetaPool    = []byte("X:pool")
)

// LevelDBStore implements Store on an embedded LevelDB database. A single
// writer mutex makes each Apply* call atomic (one batch, one counter bump)
// without relying on database-level transactions.
type LevelDBStore struct {
	db *leveldb.DB
	mu sync.Mutex
}

// NewLevelDBStore opens (or creates) a LevelDB-backed store at path and
// initializes the contract-id counter to 1 on first open.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	s := &LevelDBStore{db: db}

	if _, err := db.Get(keyMetaNextID, nil); err == leveldb.ErrNotFound {
		if err := db.Put(keyMetaNextID, encodeUint64(1), nil); err != nil {
			db.Close()
			return nil, fmt.Errorf("init contract counter: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("read contract counter: %w", err)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func traderKey(account string) []byte {
	return append(append([]byte{}, prefixTrader...), account...)
}

func contractKey(id uint64) []byte {
	return append(append([]byte{}, prefixContract...), encodeUint64(id)...)
}

func marketKey(ct crop.Type) []byte {
	return append(append([]byte{}, prefixMarket...), ct.String()...)
}

func (s *LevelDBStore) getJSON(key []byte, out any, notFound error) error {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return notFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func putJSON(batch *leveldb.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	batch.Put(key, data)
	return nil
}

func (s *LevelDBStore) GetTrader(_ context.Context, account string) (*model.TraderProfile, error) {
	var p model.TraderProfile
	if err := s.getJSON(traderKey(account), &p, ErrTraderNotFound); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *LevelDBStore) PutTrader(_ context.Context, p *model.TraderProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Put(traderKey(p.Account), data, nil)
}

func (s *LevelDBStore) GetContract(_ context.Context, id uint64) (*model.FuturesContract, error) {
	var c model.FuturesContract
	if err := s.getJSON(contractKey(id), &c, ErrContractNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *LevelDBStore) UpdateContract(_ context.Context, c *model.FuturesContract) error {
	if _, err := s.db.Get(contractKey(c.ID), nil); err == leveldb.ErrNotFound {
		return ErrContractNotFound
	} else if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Put(contractKey(c.ID), data, nil)
}

func (s *LevelDBStore) GetMarket(_ context.Context, ct crop.Type) (*model.MarketAggregate, error) {
	var m model.MarketAggregate
	if err := s.getJSON(marketKey(ct), &m, ErrMarketNotFound); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *LevelDBStore) PutMarket(_ context.Context, m *model.MarketAggregate) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Put(marketKey(m.Crop), data, nil)
}

func (s *LevelDBStore) ListMarkets(_ context.Context) ([]model.MarketAggregate, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefixMarket), nil)
	defer iter.Release()

	var markets []model.MarketAggregate
	for iter.Next() {
		var m model.MarketAggregate
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, iter.Error()
}

func (s *LevelDBStore) ApplyDeposit(_ context.Context, p *model.TraderProfile, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readPool()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, traderKey(p.Account), p); err != nil {
		return err
	}
	batch.Put(keyMetaPool, []byte(current.Add(amount).String()))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write deposit batch: %w", err)
	}
	return nil
}

func (s *LevelDBStore) ApplyCreate(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(keyMetaNextID, nil)
	if err != nil {
		return 0, fmt.Errorf("read contract counter: %w", err)
	}
	next := binary.BigEndian.Uint64(data)

	contract.ID = next
	buyer.ContractIDs = append(buyer.ContractIDs, next)
	seller.ContractIDs = append(seller.ContractIDs, next)

	batch := new(leveldb.Batch)
	batch.Put(keyMetaNextID, encodeUint64(next+1))
	if err := putJSON(batch, contractKey(contract.ID), contract); err != nil {
		return 0, err
	}
	if err := putJSON(batch, traderKey(buyer.Account), buyer); err != nil {
		return 0, err
	}
	if err := putJSON(batch, traderKey(seller.Account), seller); err != nil {
		return 0, err
	}
	if err := putJSON(batch, marketKey(market.Crop), market); err != nil {
		return 0, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("write create batch: %w", err)
	}
	return next, nil
}

func (s *LevelDBStore) applyTransition(contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Get(contractKey(contract.ID), nil); err == leveldb.ErrNotFound {
		return ErrContractNotFound
	} else if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if err := putJSON(batch, contractKey(contract.ID), contract); err != nil {
		return err
	}
	if err := putJSON(batch, traderKey(buyer.Account), buyer); err != nil {
		return err
	}
	if err := putJSON(batch, traderKey(seller.Account), seller); err != nil {
		return err
	}
	if err := putJSON(batch, marketKey(market.Crop), market); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write transition batch: %w", err)
	}
	return nil
}

func (s *LevelDBStore) ApplySettlement(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	return s.applyTransition(contract, buyer, seller, market)
}

func (s *LevelDBStore) ApplyCancellation(_ context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	return s.applyTransition(contract, buyer, seller, market)
}

func (s *LevelDBStore) readPool() (decimal.Decimal, error) {
	data, err := s.db.Get(keyMetaPool, nil)
	if err == leveldb.ErrNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt pool balance: %w", err)
	}
	return d, nil
}

func (s *LevelDBStore) PoolBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPool()
}

func (s *LevelDBStore) AddToPool(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readPool()
	if err != nil {
		return err
	}
	return s.db.Put(keyMetaPool, []byte(current.Add(amount).String()), nil)
}

func (s *LevelDBStore) SweepPool(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readPool()
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.db.Put(keyMetaPool, []byte(decimal.Zero.String()), nil); err != nil {
		return decimal.Zero, err
	}
	return current, nil
}
