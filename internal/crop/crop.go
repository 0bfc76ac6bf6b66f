// Package crop defines the fixed commodity set tradeable on the ledger and
// the settlement calendar shared by every futures contract.
package crop

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported commodity types.
const (
	Wheat   Type = "WHEAT"
	Corn    Type = "CORN"
	Rice    Type = "RICE"
	Soybean Type = "SOYBEAN"
	Cotton  Type = "COTTON"
)

// SettlementPeriod is the fixed interval between contract creation and
// settlement eligibility. It is a deadline, not a timer: a contract becomes
// eligible once the period has elapsed and stays eligible indefinitely.
const SettlementPeriod = 30 * 24 * time.Hour

// Type identifies one commodity in the fixed enumerated set.
type Type string

var validTypes = map[Type]bool{
	Wheat:   true,
	Corn:    true,
	Rice:    true,
	Soybean: true,
	Cotton:  true,
}

// ErrInvalidType is returned for commodities outside the fixed set.
var ErrInvalidType = errors.New("crop: unsupported commodity type")

// Parse validates a commodity name (case-insensitive) against the fixed set.
func Parse(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !validTypes[t] {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// Valid reports whether t is a member of the fixed commodity set.
func (t Type) Valid() bool {
	return validTypes[t]
}

func (t Type) String() string {
	return string(t)
}

// All returns the full commodity set in a stable order. Market aggregates
// are initialized from this list at system start.
func All() []Type {
	return []Type{Wheat, Corn, Rice, Soybean, Cotton}
}

// SettlementDate returns the settlement eligibility date for a contract
// created at the given time.
func SettlementDate(createdAt time.Time) time.Time {
	return createdAt.Add(SettlementPeriod)
}
