package storage

import (
	"context"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// AccountWrites holds the accounts an update writes back, keyed by address.
type AccountWrites map[solana.Pubkey]*solana.AccountInfo

// AccountStore provides access to the ledger account database.
type AccountStore interface {
	// Get retrieves an account. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, address solana.Pubkey) (*solana.AccountInfo, error)

	// GetMany retrieves several accounts in order; missing accounts are nil.
	GetMany(ctx context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error)

	// Put creates or replaces an account outside of any transaction (genesis).
	Put(ctx context.Context, address solana.Pubkey, info *solana.AccountInfo) error

	// Update locks every address in sorted order, loads the existing accounts
	// and calls fn with copies of them. If fn succeeds its writes are committed
	// atomically; if it fails nothing is written. Updates touching disjoint
	// addresses may run concurrently.
	Update(ctx context.Context, addresses []solana.Pubkey, fn func(loaded AccountWrites) (AccountWrites, error)) error
}

// PriceHistoryStore provides access to price_history storage.
type PriceHistoryStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (index, last_updated_slot).
	InsertBulk(ctx context.Context, points []*domain.PricePoint) error

	// GetByIndex retrieves all points of a slot, ordered by last_updated_slot ASC.
	GetByIndex(ctx context.Context, index uint16) ([]*domain.PricePoint, error)

	// GetByTimeRange retrieves points of a slot with unix_timestamp within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, index uint16, start, end uint64) ([]*domain.PricePoint, error)

	// GetLatest retrieves the most recent point of every slot, ordered by index.
	GetLatest(ctx context.Context) ([]*domain.PricePoint, error)
}
