package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Store capacity and per-transaction refresh limits.
const (
	// MaxEntries is the number of slots in both the mapping and the price store.
	MaxEntries = 256
	// BatchSize is the number of contiguous slots refreshed by a batch refresh.
	BatchSize = 8
	// MaxRefreshListLen bounds a list refresh so it fits one transaction.
	MaxRefreshListLen = 28
)

// Price is a fixed-point value: Value × 10^-Exp.
type Price struct {
	Value uint64 `json:"value"`
	Exp   uint64 `json:"exp"`
}

// Decimal converts the price for display.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p.Value), -int32(p.Exp))
}

// String renders the price as a decimal number.
func (p Price) String() string {
	return p.Decimal().String()
}

// DatedPrice is a price with the slot and time of its last refresh.
// Overwritten wholesale by every successful refresh.
type DatedPrice struct {
	Price           Price  `json:"price"`
	LastUpdatedSlot uint64 `json:"last_updated_slot"`
	UnixTimestamp   uint64 `json:"unix_timestamp"`
}

// IsZero reports whether the entry was never written.
func (d DatedPrice) IsZero() bool {
	return d == DatedPrice{}
}

func (d DatedPrice) String() string {
	return fmt.Sprintf("%s @ slot %d", d.Price, d.LastUpdatedSlot)
}

// CheckSlotIndex returns ErrOutOfRange for indices outside the store.
func CheckSlotIndex(index int) error {
	if index < 0 || index >= MaxEntries {
		return fmt.Errorf("%w: slot %d", ErrOutOfRange, index)
	}
	return nil
}
