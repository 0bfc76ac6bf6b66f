// Package model defines the core domain types shared across the futures
// ledger. All plaintext monetary values use shopspring/decimal, never
// float64 for money; confidential economics live in fhe handles only.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/fhe"
)

// ContractStatus is the lifecycle state of a futures contract.
// ACTIVE is initial; SETTLED and CANCELLED are terminal. No other states exist.
type ContractStatus string

const (
	StatusActive    ContractStatus = "ACTIVE"
	StatusSettled   ContractStatus = "SETTLED"
	StatusCancelled ContractStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ContractStatus) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// TraderProfile is the per-account ledger record. Profiles are created
// implicitly (zero-value) on first reference and never deleted.
type TraderProfile struct {
	Account string `json:"account" db:"account"`

	// EncryptedBalance is owner-exclusive: only Account holds a decrypt
	// grant. Replaced wholesale by deposit credits and settlement transfers.
	EncryptedBalance fhe.Handle `json:"encrypted_balance" db:"encrypted_balance"`

	// ActiveContracts counts contracts in the ACTIVE state where this
	// account is a party.
	ActiveContracts int `json:"active_contracts" db:"active_contracts"`

	// TotalTrades counts contracts this account has brought to SETTLED.
	TotalTrades int `json:"total_trades" db:"total_trades"`

	// IsVerified is monotonic: set by deposit, contract participation, or
	// administrator action; never unset.
	IsVerified bool `json:"is_verified" db:"is_verified"`

	// ContractIDs lists every contract this account has been a party to.
	ContractIDs []uint64 `json:"contract_ids" db:"contract_ids"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FuturesContract is one agreement between a buyer and a seller. Ids are
// assigned sequentially starting at 1 and never reused. All fields except
// Status and the confirmation flags are immutable after creation.
type FuturesContract struct {
	ID     uint64    `json:"id" db:"id"`
	Buyer  string    `json:"buyer" db:"buyer"`
	Seller string    `json:"seller" db:"seller"`
	Crop   crop.Type `json:"crop" db:"crop"`

	// Encrypted economic terms. TotalValue = Quantity × Price, computed
	// homomorphically once at creation and never decrypted.
	EncryptedQuantity   fhe.Handle `json:"encrypted_quantity" db:"encrypted_quantity"`
	EncryptedPrice      fhe.Handle `json:"encrypted_price" db:"encrypted_price"`
	EncryptedTotalValue fhe.Handle `json:"encrypted_total_value" db:"encrypted_total_value"`

	// SettlementDate = CreatedAt + the fixed settlement period.
	SettlementDate time.Time `json:"settlement_date" db:"settlement_date"`

	Status ContractStatus `json:"status" db:"status"`

	// Confirmation flags are independently settable to true, never reset.
	// The creator (buyer) is confirmed implicitly at creation.
	BuyerConfirmed  bool `json:"buyer_confirmed" db:"buyer_confirmed"`
	SellerConfirmed bool `json:"seller_confirmed" db:"seller_confirmed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsParty reports whether account is the buyer or the seller.
func (c *FuturesContract) IsParty(account string) bool {
	return account == c.Buyer || account == c.Seller
}

// BothConfirmed reports whether both parties have confirmed. Once true the
// contract can no longer be cancelled.
func (c *FuturesContract) BothConfirmed() bool {
	return c.BuyerConfirmed && c.SellerConfirmed
}

// MarketAggregate holds per-commodity running totals. One exists per crop
// type, initialized at system start.
type MarketAggregate struct {
	Crop crop.Type `json:"crop" db:"crop"`

	// TotalVolume is the monotonically increasing count of contracts of
	// this commodity that have reached SETTLED.
	TotalVolume uint64 `json:"total_volume" db:"total_volume"`

	// OpenContracts counts contracts of this commodity currently ACTIVE.
	OpenContracts uint64 `json:"open_contracts" db:"open_contracts"`

	// ReferencePrice is the externally visible administrator-set price.
	// It carries no per-contract information.
	ReferencePrice decimal.Decimal `json:"reference_price" db:"reference_price"`

	// LastUpdated is the timestamp of the most recent mutation (creation,
	// administrative price update, or settlement).
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}
