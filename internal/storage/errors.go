package storage

import "errors"

var (
	// ErrNotFound reports a ledger account that does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateKey reports a price point whose (index, last_updated_slot)
	// is already recorded. Price history is append-only.
	ErrDuplicateKey = errors.New("price point already recorded")

	// ErrInvalidInput reports a nil account, a write outside the locked
	// address set, or a price point with an out-of-range index.
	ErrInvalidInput = errors.New("invalid store input")
)
