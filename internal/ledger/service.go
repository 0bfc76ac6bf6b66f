// Package ledger implements the contract lifecycle state machine and the
// encrypted balance bookkeeping around it.
//
// Every public operation is a single atomic step: preconditions are checked
// against current persisted state, then all mutations for the transition are
// written together, then a notification event is emitted. A failed
// precondition aborts the whole operation with no state change and no event.
// Quantities, prices, notional values, and balances are only ever touched as
// encrypted handles; the ledger never decrypts them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/exposure"
	"github.com/agrex/futures-ledger/internal/fhe"
	"github.com/agrex/futures-ledger/internal/metrics"
	"github.com/agrex/futures-ledger/internal/model"
	"github.com/agrex/futures-ledger/internal/pricing"
	"github.com/agrex/futures-ledger/internal/store"
)

// Bit widths for encrypted terms. Quantity and price are 32-bit; their
// product and all balances are 64-bit, so a full transfer can never overflow
// the balance width.
const (
	termWidth    = 32
	balanceWidth = 64
)

// amountScale converts plaintext decimals to integer minor units (2 decimal
// places) before encryption.
const amountScale = 2

// Service is the lifecycle engine: the sole writer of trader, contract, and
// market state. A mutex serializes operations (single-instance), mirroring
// the strict total order the execution environment would otherwise provide.
type Service struct {
	store   store.Store
	engine  fhe.Engine
	limiter *exposure.Limiter
	index   *pricing.Index
	hub     *EventHub
	admin   string

	mu  sync.Mutex
	now func() time.Time
}

// NewService creates the lifecycle engine. limiter, index, and hub may be
// nil to disable exposure limits, price indexing, and event broadcasting.
func NewService(st store.Store, engine fhe.Engine, limiter *exposure.Limiter, index *pricing.Index, hub *EventHub, admin string) *Service {
	return &Service{
		store:   st,
		engine:  engine,
		limiter: limiter,
		index:   index,
		hub:     hub,
		admin:   admin,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock. Test hook.
func (s *Service) SetNowFunc(fn func() time.Time) {
	s.now = fn
}

// EnsureMarkets initializes the per-commodity aggregates that do not exist
// yet. Called once at startup.
func (s *Service) EnsureMarkets(ctx context.Context) error {
	for _, ct := range crop.All() {
		_, err := s.store.GetMarket(ctx, ct)
		if errors.Is(err, store.ErrMarketNotFound) {
			err = s.store.PutMarket(ctx, &model.MarketAggregate{
				Crop:        ct,
				LastUpdated: s.now(),
			})
		}
		if err != nil {
			return fmt.Errorf("init market %s: %w", ct, err)
		}
	}
	return nil
}

// toUnits converts a plaintext decimal to integer units at the given scale.
// Returns false for negative, fractional-beyond-scale, or overflowing input.
func toUnits(d decimal.Decimal, scale int32) (uint64, bool) {
	shifted := d.Shift(scale)
	if shifted.IsNegative() || !shifted.IsInteger() {
		return 0, false
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, false
	}
	return bi.Uint64(), true
}

// loadOrInitProfile returns the stored profile or a fresh zero-value one.
// Profiles are created implicitly on first reference.
func (s *Service) loadOrInitProfile(ctx context.Context, account string) (*model.TraderProfile, error) {
	p, err := s.store.GetTrader(ctx, account)
	if errors.Is(err, store.ErrTraderNotFound) {
		return &model.TraderProfile{Account: account, CreatedAt: s.now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// loadMarket returns the commodity aggregate, initializing a zero one if the
// startup pass has not created it.
func (s *Service) loadMarket(ctx context.Context, ct crop.Type) (*model.MarketAggregate, error) {
	m, err := s.store.GetMarket(ctx, ct)
	if errors.Is(err, store.ErrMarketNotFound) {
		return &model.MarketAggregate{Crop: ct, LastUpdated: s.now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// balanceOrZero returns the profile's balance handle, minting an encrypted
// zero for accounts that have never deposited.
func (s *Service) balanceOrZero(p *model.TraderProfile) (fhe.Handle, error) {
	if !p.EncryptedBalance.IsZero() {
		return p.EncryptedBalance, nil
	}
	return s.engine.Encrypt(0, balanceWidth)
}

func reject(err error) error {
	metrics.PreconditionRejections.WithLabelValues(rejectionReason(err)).Inc()
	return err
}

// Deposit encrypts amount and homomorphically adds it to the account's
// balance. The balance handle is replaced by the new encrypted sum; the
// plaintext amount is never persisted and never logged. Auto-verifies the
// account.
func (s *Service) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return reject(ErrInvalidAmount)
	}
	units, ok := toUnits(amount, amountScale)
	if !ok || units == 0 {
		return reject(ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrInitProfile(ctx, account)
	if err != nil {
		return err
	}

	current, err := s.balanceOrZero(p)
	if err != nil {
		return fmt.Errorf("init balance: %w", err)
	}
	credit, err := s.engine.Encrypt(units, balanceWidth)
	if err != nil {
		return fmt.Errorf("encrypt deposit: %w", err)
	}
	newBalance, err := s.engine.Add(current, credit)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if err := s.engine.GrantDecrypt(newBalance, account); err != nil {
		return fmt.Errorf("grant balance decrypt: %w", err)
	}

	p.EncryptedBalance = newBalance
	p.IsVerified = true // auto-verification on activity

	if err := s.store.ApplyDeposit(ctx, p, amount); err != nil {
		return fmt.Errorf("persist deposit: %w", err)
	}

	metrics.DepositsTotal.Inc()
	slog.Info("deposit accepted", "account", account)
	s.emit(Event{Type: EventDeposit, Account: account, At: s.now()})
	return nil
}

// CreateContract opens a futures contract between the caller (buyer) and
// seller. Quantity and price are encrypted immediately; the notional value
// is computed homomorphically and never decrypted. The creator implicitly
// confirms, so only the seller's confirmation remains outstanding.
func (s *Service) CreateContract(ctx context.Context, buyer, seller string, ct crop.Type, quantity, price decimal.Decimal) (uint64, error) {
	if buyer == seller {
		return 0, reject(ErrSelfTrade)
	}
	if !ct.Valid() {
		return 0, reject(crop.ErrInvalidType)
	}
	qty, ok := toUnits(quantity, 0)
	if !ok || qty == 0 || qty > 1<<termWidth-1 {
		return 0, reject(ErrInvalidQuantity)
	}
	priceUnits, ok := toUnits(price, amountScale)
	if !ok || priceUnits == 0 || priceUnits > 1<<termWidth-1 {
		return 0, reject(ErrInvalidPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buyerProfile, err := s.loadOrInitProfile(ctx, buyer)
	if err != nil {
		return 0, err
	}
	sellerProfile, err := s.loadOrInitProfile(ctx, seller)
	if err != nil {
		return 0, err
	}
	market, err := s.loadMarket(ctx, ct)
	if err != nil {
		return 0, err
	}

	if s.limiter != nil {
		if err := s.limiter.CheckCreate(buyerProfile.ActiveContracts, sellerProfile.ActiveContracts, market.OpenContracts); err != nil {
			return 0, reject(err)
		}
	}

	encQty, err := s.engine.Encrypt(qty, termWidth)
	if err != nil {
		return 0, fmt.Errorf("encrypt quantity: %w", err)
	}
	encPrice, err := s.engine.Encrypt(priceUnits, termWidth)
	if err != nil {
		return 0, fmt.Errorf("encrypt price: %w", err)
	}
	encTotal, err := s.engine.Mul(encQty, encPrice)
	if err != nil {
		return 0, fmt.Errorf("compute notional value: %w", err)
	}

	now := s.now()
	contract := &model.FuturesContract{
		Buyer:               buyer,
		Seller:              seller,
		Crop:                ct,
		EncryptedQuantity:   encQty,
		EncryptedPrice:      encPrice,
		EncryptedTotalValue: encTotal,
		SettlementDate:      crop.SettlementDate(now),
		Status:              model.StatusActive,
		BuyerConfirmed:      true, // creator implicitly confirms
		SellerConfirmed:     false,
		CreatedAt:           now,
	}

	buyerProfile.IsVerified = true
	sellerProfile.IsVerified = true
	buyerProfile.ActiveContracts++
	sellerProfile.ActiveContracts++
	market.OpenContracts++
	market.LastUpdated = now

	id, err := s.store.ApplyCreate(ctx, contract, buyerProfile, sellerProfile, market)
	if err != nil {
		return 0, fmt.Errorf("persist contract: %w", err)
	}

	metrics.ContractsCreated.WithLabelValues(ct.String()).Inc()
	metrics.ActiveContracts.Inc()
	slog.Info("contract created",
		"contract_id", id,
		"buyer", buyer,
		"seller", seller,
		"crop", ct.String(),
	)
	s.emit(Event{Type: EventCreated, ContractID: id, Buyer: buyer, Seller: seller, Crop: ct.String(), At: now})
	return id, nil
}

// Confirm records the caller's confirmation on an active contract.
// Re-confirmation by the same party is a harmless no-op.
func (s *Service) Confirm(ctx context.Context, id uint64, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, err := s.getContract(ctx, id)
	if err != nil {
		return err
	}
	if contract.Status != model.StatusActive {
		return reject(ErrContractNotActive)
	}
	if !contract.IsParty(caller) {
		return reject(ErrNotContractParty)
	}

	already := (caller == contract.Buyer && contract.BuyerConfirmed) ||
		(caller == contract.Seller && contract.SellerConfirmed)
	if already {
		return nil
	}

	if caller == contract.Buyer {
		contract.BuyerConfirmed = true
	} else {
		contract.SellerConfirmed = true
	}
	if err := s.store.UpdateContract(ctx, contract); err != nil {
		return fmt.Errorf("persist confirmation: %w", err)
	}

	slog.Info("contract confirmed", "contract_id", id, "party", caller)
	s.emit(Event{Type: EventConfirmed, ContractID: id, Account: caller, At: s.now()})
	return nil
}

// Settle finalizes a fully confirmed contract once the settlement period has
// elapsed. Either party may trigger it; both have equal incentive to
// finalize, so this is a deliberate policy, not an oversight.
//
// The notional value moves from buyer to seller entirely homomorphically.
// Sufficiency is enforced with an encrypted compare-and-select: when the
// buyer's balance is below the notional value the transferred amount is an
// encrypted zero, so the balance never underflows and no party learns
// whether the other could pay.
func (s *Service) Settle(ctx context.Context, id uint64, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, err := s.getContract(ctx, id)
	if err != nil {
		return err
	}
	if contract.Status != model.StatusActive {
		return reject(ErrContractNotActive)
	}
	if !contract.IsParty(caller) {
		return reject(ErrNotContractParty)
	}
	now := s.now()
	if now.Before(contract.SettlementDate) {
		// Checked ahead of the confirmation flags so an early settle fails
		// the same way regardless of confirmation state.
		return reject(ErrSettlementPeriodNotReached)
	}
	if !contract.BothConfirmed() {
		return reject(ErrBothPartiesMustConfirm)
	}

	buyerProfile, err := s.loadOrInitProfile(ctx, contract.Buyer)
	if err != nil {
		return err
	}
	sellerProfile, err := s.loadOrInitProfile(ctx, contract.Seller)
	if err != nil {
		return err
	}
	market, err := s.loadMarket(ctx, contract.Crop)
	if err != nil {
		return err
	}

	buyerBalance, err := s.balanceOrZero(buyerProfile)
	if err != nil {
		return fmt.Errorf("init buyer balance: %w", err)
	}
	sellerBalance, err := s.balanceOrZero(sellerProfile)
	if err != nil {
		return fmt.Errorf("init seller balance: %w", err)
	}
	zero, err := s.engine.Encrypt(0, balanceWidth)
	if err != nil {
		return fmt.Errorf("encrypt zero: %w", err)
	}

	sufficient, err := s.engine.CompareLE(contract.EncryptedTotalValue, buyerBalance)
	if err != nil {
		return fmt.Errorf("compare balance: %w", err)
	}
	transfer, err := s.engine.Select(sufficient, contract.EncryptedTotalValue, zero)
	if err != nil {
		return fmt.Errorf("select transfer: %w", err)
	}

	newBuyerBalance, err := s.engine.Sub(buyerBalance, transfer)
	if err != nil {
		return fmt.Errorf("debit buyer: %w", err)
	}
	newSellerBalance, err := s.engine.Add(sellerBalance, transfer)
	if err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}
	if err := s.engine.GrantDecrypt(newBuyerBalance, contract.Buyer); err != nil {
		return fmt.Errorf("grant buyer decrypt: %w", err)
	}
	if err := s.engine.GrantDecrypt(newSellerBalance, contract.Seller); err != nil {
		return fmt.Errorf("grant seller decrypt: %w", err)
	}

	contract.Status = model.StatusSettled
	buyerProfile.EncryptedBalance = newBuyerBalance
	sellerProfile.EncryptedBalance = newSellerBalance
	buyerProfile.ActiveContracts--
	sellerProfile.ActiveContracts--
	buyerProfile.TotalTrades++
	sellerProfile.TotalTrades++
	market.TotalVolume++
	if market.OpenContracts > 0 {
		market.OpenContracts--
	}
	market.LastUpdated = now

	if err := s.store.ApplySettlement(ctx, contract, buyerProfile, sellerProfile, market); err != nil {
		return fmt.Errorf("persist settlement: %w", err)
	}

	metrics.ContractsSettled.WithLabelValues(contract.Crop.String()).Inc()
	metrics.ActiveContracts.Dec()
	slog.Info("contract settled",
		"contract_id", id,
		"buyer", contract.Buyer,
		"seller", contract.Seller,
		"crop", contract.Crop.String(),
	)
	s.emit(Event{Type: EventSettled, ContractID: id, Buyer: contract.Buyer, Seller: contract.Seller, Crop: contract.Crop.String(), At: now})
	return nil
}

// Cancel voids an active contract before both parties have confirmed. No
// balance movement occurs: funds are never escrowed per contract.
func (s *Service) Cancel(ctx context.Context, id uint64, caller, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, err := s.getContract(ctx, id)
	if err != nil {
		return err
	}
	if contract.Status != model.StatusActive {
		return reject(ErrContractNotActive)
	}
	if !contract.IsParty(caller) {
		return reject(ErrNotContractParty)
	}
	if contract.BothConfirmed() {
		return reject(ErrCannotCancelConfirmed)
	}

	buyerProfile, err := s.loadOrInitProfile(ctx, contract.Buyer)
	if err != nil {
		return err
	}
	sellerProfile, err := s.loadOrInitProfile(ctx, contract.Seller)
	if err != nil {
		return err
	}
	market, err := s.loadMarket(ctx, contract.Crop)
	if err != nil {
		return err
	}

	now := s.now()
	contract.Status = model.StatusCancelled
	buyerProfile.ActiveContracts--
	sellerProfile.ActiveContracts--
	if market.OpenContracts > 0 {
		market.OpenContracts--
	}
	market.LastUpdated = now

	if err := s.store.ApplyCancellation(ctx, contract, buyerProfile, sellerProfile, market); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}

	metrics.ContractsCancelled.WithLabelValues(contract.Crop.String()).Inc()
	metrics.ActiveContracts.Dec()
	slog.Info("contract cancelled", "contract_id", id, "by", caller, "reason", reason)
	s.emit(Event{Type: EventCancelled, ContractID: id, Reason: reason, At: now})
	return nil
}

// UpdateMarketPrice publishes a new administrator-set reference price for a
// commodity and folds it into the price index. Settled volume is untouched.
func (s *Service) UpdateMarketPrice(ctx context.Context, caller string, ct crop.Type, newPrice decimal.Decimal) error {
	if caller != s.admin {
		return reject(ErrNotAuthorized)
	}
	if !ct.Valid() {
		return reject(crop.ErrInvalidType)
	}
	if newPrice.LessThanOrEqual(decimal.Zero) {
		return reject(ErrInvalidPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.loadMarket(ctx, ct)
	if err != nil {
		return err
	}
	now := s.now()
	market.ReferencePrice = newPrice
	market.LastUpdated = now
	if err := s.store.PutMarket(ctx, market); err != nil {
		return fmt.Errorf("persist market price: %w", err)
	}

	if s.index != nil {
		s.index.Update(ct, newPrice, now)
	}

	slog.Info("reference price updated", "crop", ct.String(), "price", newPrice.String())
	s.emit(Event{Type: EventPriceUpdated, Crop: ct.String(), At: now})
	return nil
}

// EmergencyWithdraw sweeps the entire pooled native-currency balance to the
// administrator. Circuit-breaker only: it bypasses the encrypted per-trader
// accounting entirely, so traders' encrypted balances are NOT adjusted and
// may afterwards exceed the funds actually held. Operational trust
// assumption carried over from the original design.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller string) (decimal.Decimal, error) {
	if caller != s.admin {
		return decimal.Zero, reject(ErrNotAuthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	swept, err := s.store.SweepPool(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sweep pool: %w", err)
	}

	slog.Warn("emergency withdrawal executed", "admin", caller)
	s.emit(Event{Type: EventEmergencyWithdraw, Account: caller, At: s.now()})
	return swept, nil
}

// VerifyTrader marks an account verified. Administrator-only; idempotent.
func (s *Service) VerifyTrader(ctx context.Context, caller, account string) error {
	if caller != s.admin {
		return reject(ErrNotAuthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrInitProfile(ctx, account)
	if err != nil {
		return err
	}
	if p.IsVerified {
		return nil
	}
	p.IsVerified = true
	if err := s.store.PutTrader(ctx, p); err != nil {
		return fmt.Errorf("persist verification: %w", err)
	}

	slog.Info("trader verified", "account", account)
	return nil
}

func (s *Service) getContract(ctx context.Context, id uint64) (*model.FuturesContract, error) {
	contract, err := s.store.GetContract(ctx, id)
	if errors.Is(err, store.ErrContractNotFound) {
		return nil, reject(ErrContractNotFound)
	}
	if err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *Service) emit(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

// --- Read-only queries (no authorization, no encrypted fields) ---

// ContractInfo is the public view of a contract: parties, commodity,
// lifecycle state, and dates. Encrypted economics are omitted.
type ContractInfo struct {
	ID              uint64    `json:"id"`
	Buyer           string    `json:"buyer"`
	Seller          string    `json:"seller"`
	Crop            string    `json:"crop"`
	Status          string    `json:"status"`
	BuyerConfirmed  bool      `json:"buyer_confirmed"`
	SellerConfirmed bool      `json:"seller_confirmed"`
	SettlementDate  time.Time `json:"settlement_date"`
	CreatedAt       time.Time `json:"created_at"`
}

// TraderInfo is the public view of a profile. The encrypted balance handle
// is omitted; the owner reads it through the engine's permissioned decrypt.
type TraderInfo struct {
	Account         string    `json:"account"`
	ActiveContracts int       `json:"active_contracts"`
	TotalTrades     int       `json:"total_trades"`
	IsVerified      bool      `json:"is_verified"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// MarketInfo is the public per-commodity view.
type MarketInfo struct {
	Crop           string          `json:"crop"`
	TotalVolume    uint64          `json:"total_volume"`
	OpenContracts  uint64          `json:"open_contracts"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	IndexPrice     decimal.Decimal `json:"index_price,omitempty"`
	LastUpdated    time.Time       `json:"last_updated"`
	History        []pricing.Point `json:"history,omitempty"`
}

// GetContractInfo returns the public metadata of a contract.
func (s *Service) GetContractInfo(ctx context.Context, id uint64) (*ContractInfo, error) {
	contract, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ContractInfo{
		ID:              contract.ID,
		Buyer:           contract.Buyer,
		Seller:          contract.Seller,
		Crop:            contract.Crop.String(),
		Status:          string(contract.Status),
		BuyerConfirmed:  contract.BuyerConfirmed,
		SellerConfirmed: contract.SellerConfirmed,
		SettlementDate:  contract.SettlementDate,
		CreatedAt:       contract.CreatedAt,
	}, nil
}

// GetTraderInfo returns the public metadata of a profile. Unknown accounts
// report the implicit zero-value profile without persisting anything.
func (s *Service) GetTraderInfo(ctx context.Context, account string) (*TraderInfo, error) {
	p, err := s.store.GetTrader(ctx, account)
	if errors.Is(err, store.ErrTraderNotFound) {
		return &TraderInfo{Account: account}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TraderInfo{
		Account:         p.Account,
		ActiveContracts: p.ActiveContracts,
		TotalTrades:     p.TotalTrades,
		IsVerified:      p.IsVerified,
		CreatedAt:       p.CreatedAt,
	}, nil
}

// GetTraderContracts returns every contract id the account is a party to.
func (s *Service) GetTraderContracts(ctx context.Context, account string) ([]uint64, error) {
	p, err := s.store.GetTrader(ctx, account)
	if errors.Is(err, store.ErrTraderNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.ContractIDs == nil {
		return []uint64{}, nil
	}
	return p.ContractIDs, nil
}

// GetMarketInfo returns the per-commodity aggregates plus the price index.
func (s *Service) GetMarketInfo(ctx context.Context, ct crop.Type) (*MarketInfo, error) {
	if !ct.Valid() {
		return nil, crop.ErrInvalidType
	}
	m, err := s.loadMarket(ctx, ct)
	if err != nil {
		return nil, err
	}
	info := &MarketInfo{
		Crop:           m.Crop.String(),
		TotalVolume:    m.TotalVolume,
		OpenContracts:  m.OpenContracts,
		ReferencePrice: m.ReferencePrice,
		LastUpdated:    m.LastUpdated,
	}
	if s.index != nil {
		if cur, ok := s.index.Current(ct); ok {
			info.IndexPrice = cur
		}
		info.History = s.index.History(ct)
	}
	return info, nil
}

// ListMarkets returns every commodity aggregate.
func (s *Service) ListMarkets(ctx context.Context) ([]model.MarketAggregate, error) {
	return s.store.ListMarkets(ctx)
}
