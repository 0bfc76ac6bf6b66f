package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/fhe"
	"github.com/agrex/futures-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Encrypted handles are stored as JSONB (id, ciphertext, width); plaintext
// monetary values as NUMERIC for exact decimal precision. Each Apply* call
// runs in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the three ledger tables plus the singleton metadata
// row holding the contract-id counter and pooled balance.
const Schema = `
CREATE TABLE IF NOT EXISTS traders (
	account          TEXT PRIMARY KEY,
	encrypted_balance JSONB,
	active_contracts INT NOT NULL DEFAULT 0,
	total_trades     INT NOT NULL DEFAULT 0,
	is_verified      BOOLEAN NOT NULL DEFAULT FALSE,
	contract_ids     BIGINT[] NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS contracts (
	id                    BIGINT PRIMARY KEY,
	buyer                 TEXT NOT NULL,
	seller                TEXT NOT NULL,
	crop                  TEXT NOT NULL,
	encrypted_quantity    JSONB NOT NULL,
	encrypted_price       JSONB NOT NULL,
	encrypted_total_value JSONB NOT NULL,
	settlement_date       TIMESTAMPTZ NOT NULL,
	status                TEXT NOT NULL,
	buyer_confirmed       BOOLEAN NOT NULL,
	seller_confirmed      BOOLEAN NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS markets (
	crop            TEXT PRIMARY KEY,
	total_volume    BIGINT NOT NULL DEFAULT 0,
	open_contracts  BIGINT NOT NULL DEFAULT 0,
	reference_price NUMERIC NOT NULL DEFAULT 0,
	last_updated    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_meta (
	id               INT PRIMARY KEY CHECK (id = 1),
	next_contract_id BIGINT NOT NULL,
	pool_balance     NUMERIC NOT NULL DEFAULT 0
);
INSERT INTO ledger_meta (id, next_contract_id, pool_balance)
	VALUES (1, 1, 0) ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// --- Handle encoding ---

func encodeHandle(h fhe.Handle) ([]byte, error) {
	return json.Marshal(h)
}

func decodeHandle(data []byte) (fhe.Handle, error) {
	var h fhe.Handle
	if len(data) == 0 {
		return h, nil
	}
	err := json.Unmarshal(data, &h)
	return h, err
}

func idsToInt64(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func idsToUint64(ids []int64) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// --- Trader registry ---

func (s *PostgresStore) GetTrader(ctx context.Context, account string) (*model.TraderProfile, error) {
	var p model.TraderProfile
	var balance []byte
	var ids []int64

	err := s.pool.QueryRow(ctx,
		`SELECT account, encrypted_balance, active_contracts, total_trades,
		        is_verified, contract_ids, created_at
		 FROM traders WHERE account = $1`, account).
		Scan(&p.Account, &balance, &p.ActiveContracts, &p.TotalTrades,
			&p.IsVerified, &ids, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTraderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trader %s: %w", account, err)
	}

	p.EncryptedBalance, err = decodeHandle(balance)
	if err != nil {
		return nil, fmt.Errorf("decode balance for %s: %w", account, err)
	}
	p.ContractIDs = idsToUint64(ids)
	return &p, nil
}

const upsertTraderSQL = `
INSERT INTO traders (account, encrypted_balance, active_contracts, total_trades,
                     is_verified, contract_ids, created_at)
VALUES ($1, $2::JSONB, $3, $4, $5, $6, $7)
ON CONFLICT (account) DO UPDATE SET
	encrypted_balance = EXCLUDED.encrypted_balance,
	active_contracts  = EXCLUDED.active_contracts,
	total_trades      = EXCLUDED.total_trades,
	is_verified       = EXCLUDED.is_verified,
	contract_ids      = EXCLUDED.contract_ids`

func putTraderTx(ctx context.Context, tx pgx.Tx, p *model.TraderProfile) error {
	balance, err := encodeHandle(p.EncryptedBalance)
	if err != nil {
		return fmt.Errorf("encode balance for %s: %w", p.Account, err)
	}
	_, err = tx.Exec(ctx, upsertTraderSQL,
		p.Account, balance, p.ActiveContracts, p.TotalTrades,
		p.IsVerified, idsToInt64(p.ContractIDs), p.CreatedAt)
	return err
}

func (s *PostgresStore) PutTrader(ctx context.Context, p *model.TraderProfile) error {
	balance, err := encodeHandle(p.EncryptedBalance)
	if err != nil {
		return fmt.Errorf("encode balance for %s: %w", p.Account, err)
	}
	_, err = s.pool.Exec(ctx, upsertTraderSQL,
		p.Account, balance, p.ActiveContracts, p.TotalTrades,
		p.IsVerified, idsToInt64(p.ContractIDs), p.CreatedAt)
	return err
}

func (s *PostgresStore) ApplyDeposit(ctx context.Context, p *model.TraderProfile, amount decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := putTraderTx(ctx, tx, p); err != nil {
		return fmt.Errorf("upsert trader: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ledger_meta SET pool_balance = pool_balance + $1::NUMERIC WHERE id = 1`,
		amount.String()); err != nil {
		return fmt.Errorf("credit pool: %w", err)
	}
	return tx.Commit(ctx)
}

// --- Futures contracts ---

func (s *PostgresStore) GetContract(ctx context.Context, id uint64) (*model.FuturesContract, error) {
	var c model.FuturesContract
	var cid int64
	var cropName string
	var qty, price, total []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, buyer, seller, crop,
		        encrypted_quantity, encrypted_price, encrypted_total_value,
		        settlement_date, status, buyer_confirmed, seller_confirmed, created_at
		 FROM contracts WHERE id = $1`, int64(id)).
		Scan(&cid, &c.Buyer, &c.Seller, &cropName,
			&qty, &price, &total,
			&c.SettlementDate, &c.Status, &c.BuyerConfirmed, &c.SellerConfirmed, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %d: %w", id, err)
	}

	c.ID = uint64(cid)
	c.Crop = crop.Type(cropName)
	if c.EncryptedQuantity, err = decodeHandle(qty); err != nil {
		return nil, fmt.Errorf("decode quantity for %d: %w", id, err)
	}
	if c.EncryptedPrice, err = decodeHandle(price); err != nil {
		return nil, fmt.Errorf("decode price for %d: %w", id, err)
	}
	if c.EncryptedTotalValue, err = decodeHandle(total); err != nil {
		return nil, fmt.Errorf("decode total value for %d: %w", id, err)
	}
	return &c, nil
}

const updateContractSQL = `
UPDATE contracts
SET status = $2, buyer_confirmed = $3, seller_confirmed = $4
WHERE id = $1`

func (s *PostgresStore) UpdateContract(ctx context.Context, c *model.FuturesContract) error {
	tag, err := s.pool.Exec(ctx, updateContractSQL,
		int64(c.ID), c.Status, c.BuyerConfirmed, c.SellerConfirmed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

func insertContractTx(ctx context.Context, tx pgx.Tx, c *model.FuturesContract) error {
	qty, err := encodeHandle(c.EncryptedQuantity)
	if err != nil {
		return err
	}
	price, err := encodeHandle(c.EncryptedPrice)
	if err != nil {
		return err
	}
	total, err := encodeHandle(c.EncryptedTotalValue)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO contracts
			(id, buyer, seller, crop,
			 encrypted_quantity, encrypted_price, encrypted_total_value,
			 settlement_date, status, buyer_confirmed, seller_confirmed, created_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6::JSONB, $7::JSONB, $8, $9, $10, $11, $12)`,
		int64(c.ID), c.Buyer, c.Seller, c.Crop.String(),
		qty, price, total,
		c.SettlementDate, c.Status, c.BuyerConfirmed, c.SellerConfirmed, c.CreatedAt)
	return err
}

// --- Market aggregates ---

const upsertMarketSQL = `
INSERT INTO markets (crop, total_volume, open_contracts, reference_price, last_updated)
VALUES ($1, $2, $3, $4::NUMERIC, $5)
ON CONFLICT (crop) DO UPDATE SET
	total_volume    = EXCLUDED.total_volume,
	open_contracts  = EXCLUDED.open_contracts,
	reference_price = EXCLUDED.reference_price,
	last_updated    = EXCLUDED.last_updated`

func (s *PostgresStore) GetMarket(ctx context.Context, ct crop.Type) (*model.MarketAggregate, error) {
	var m model.MarketAggregate
	var cropName, refPrice string
	var volume, open int64

	err := s.pool.QueryRow(ctx,
		`SELECT crop, total_volume, open_contracts, reference_price::TEXT, last_updated
		 FROM markets WHERE crop = $1`, ct.String()).
		Scan(&cropName, &volume, &open, &refPrice, &m.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", ct, err)
	}

	m.Crop = crop.Type(cropName)
	m.TotalVolume = uint64(volume)
	m.OpenContracts = uint64(open)
	m.ReferencePrice, _ = decimal.NewFromString(refPrice)
	return &m, nil
}

func (s *PostgresStore) PutMarket(ctx context.Context, m *model.MarketAggregate) error {
	_, err := s.pool.Exec(ctx, upsertMarketSQL,
		m.Crop.String(), int64(m.TotalVolume), int64(m.OpenContracts),
		m.ReferencePrice.String(), m.LastUpdated)
	return err
}

func putMarketTx(ctx context.Context, tx pgx.Tx, m *model.MarketAggregate) error {
	_, err := tx.Exec(ctx, upsertMarketSQL,
		m.Crop.String(), int64(m.TotalVolume), int64(m.OpenContracts),
		m.ReferencePrice.String(), m.LastUpdated)
	return err
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.MarketAggregate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT crop, total_volume, open_contracts, reference_price::TEXT, last_updated
		 FROM markets ORDER BY crop`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.MarketAggregate
	for rows.Next() {
		var m model.MarketAggregate
		var cropName, refPrice string
		var volume, open int64
		if err := rows.Scan(&cropName, &volume, &open, &refPrice, &m.LastUpdated); err != nil {
			return nil, err
		}
		m.Crop = crop.Type(cropName)
		m.TotalVolume = uint64(volume)
		m.OpenContracts = uint64(open)
		m.ReferencePrice, _ = decimal.NewFromString(refPrice)
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// --- Lifecycle transitions ---

func (s *PostgresStore) ApplyCreate(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`UPDATE ledger_meta SET next_contract_id = next_contract_id + 1
		 WHERE id = 1 RETURNING next_contract_id - 1`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocate contract id: %w", err)
	}
	contract.ID = uint64(id)
	buyer.ContractIDs = append(buyer.ContractIDs, contract.ID)
	seller.ContractIDs = append(seller.ContractIDs, contract.ID)

	if err := insertContractTx(ctx, tx, contract); err != nil {
		return 0, fmt.Errorf("insert contract: %w", err)
	}
	if err := putTraderTx(ctx, tx, buyer); err != nil {
		return 0, fmt.Errorf("upsert buyer: %w", err)
	}
	if err := putTraderTx(ctx, tx, seller); err != nil {
		return 0, fmt.Errorf("upsert seller: %w", err)
	}
	if err := putMarketTx(ctx, tx, market); err != nil {
		return 0, fmt.Errorf("upsert market: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return contract.ID, nil
}

func (s *PostgresStore) applyTransition(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateContractSQL,
		int64(contract.ID), contract.Status, contract.BuyerConfirmed, contract.SellerConfirmed)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	if err := putTraderTx(ctx, tx, buyer); err != nil {
		return fmt.Errorf("upsert buyer: %w", err)
	}
	if err := putTraderTx(ctx, tx, seller); err != nil {
		return fmt.Errorf("upsert seller: %w", err)
	}
	if err := putMarketTx(ctx, tx, market); err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	return s.applyTransition(ctx, contract, buyer, seller, market)
}

func (s *PostgresStore) ApplyCancellation(ctx context.Context, contract *model.FuturesContract, buyer, seller *model.TraderProfile, market *model.MarketAggregate) error {
	return s.applyTransition(ctx, contract, buyer, seller, market)
}

// --- Pooled native balance ---

func (s *PostgresStore) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT pool_balance::TEXT FROM ledger_meta WHERE id = 1`).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get pool balance: %w", err)
	}
	d, _ := decimal.NewFromString(balance)
	return d, nil
}

func (s *PostgresStore) AddToPool(ctx context.Context, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ledger_meta SET pool_balance = pool_balance + $1::NUMERIC WHERE id = 1`,
		amount.String())
	return err
}

func (s *PostgresStore) SweepPool(ctx context.Context) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var balance string
	err = tx.QueryRow(ctx,
		`SELECT pool_balance::TEXT FROM ledger_meta WHERE id = 1 FOR UPDATE`).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock pool balance: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ledger_meta SET pool_balance = 0 WHERE id = 1`); err != nil {
		return decimal.Zero, fmt.Errorf("zero pool balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}

	d, _ := decimal.NewFromString(balance)
	return d, nil
}
