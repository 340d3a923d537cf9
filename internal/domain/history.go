package domain

// PricePoint is one observed refresh of a slot, recorded off-ledger by the crank.
// Corresponds to price_history table in ClickHouse.
type PricePoint struct {
	Index           uint16 // slot index
	TokenPair       string // pair label from the token list, may be empty
	Value           uint64
	Exp             uint64
	LastUpdatedSlot uint64 // ledger slot of the refresh
	UnixTimestamp   uint64 // ledger time of the refresh (seconds)
	RecordedAt      int64  // crank wall clock, Unix milliseconds
}

// Price returns the recorded fixed-point price.
func (p *PricePoint) Price() Price {
	return Price{Value: p.Value, Exp: p.Exp}
}
