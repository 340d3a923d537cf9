package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	mu   sync.RWMutex
	data map[solana.Pubkey]*solana.AccountInfo

	// locks serializes updates per account
	locksMu sync.Mutex
	locks   map[solana.Pubkey]*sync.Mutex
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		data:  make(map[solana.Pubkey]*solana.AccountInfo),
		locks: make(map[solana.Pubkey]*sync.Mutex),
	}
}

// Get retrieves an account. Returns ErrNotFound if it does not exist.
func (s *AccountStore) Get(_ context.Context, address solana.Pubkey) (*solana.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccount(info), nil
}

// GetMany retrieves several accounts in order; missing accounts are nil.
func (s *AccountStore) GetMany(_ context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*solana.AccountInfo, len(addresses))
	for i, a := range addresses {
		if info, ok := s.data[a]; ok {
			out[i] = copyAccount(info)
		}
	}
	return out, nil
}

// Put creates or replaces an account.
func (s *AccountStore) Put(_ context.Context, address solana.Pubkey, info *solana.AccountInfo) error {
	if info == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[address] = copyAccount(info)
	return nil
}

// Update locks the addresses in sorted order and applies fn atomically.
func (s *AccountStore) Update(ctx context.Context, addresses []solana.Pubkey, fn func(loaded storage.AccountWrites) (storage.AccountWrites, error)) error {
	keys := sortedUnique(addresses)

	for _, k := range keys {
		s.lockFor(k).Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			s.lockFor(keys[i]).Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	loaded := make(storage.AccountWrites, len(keys))
	for _, k := range keys {
		if info, ok := s.data[k]; ok {
			loaded[k] = copyAccount(info)
		}
	}
	s.mu.RUnlock()

	writes, err := fn(loaded)
	if err != nil {
		return err
	}

	// Only locked accounts may be written
	locked := make(map[solana.Pubkey]struct{}, len(keys))
	for _, k := range keys {
		locked[k] = struct{}{}
	}
	for addr, info := range writes {
		if _, ok := locked[addr]; !ok || info == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	for addr, info := range writes {
		s.data[addr] = copyAccount(info)
	}
	s.mu.Unlock()

	return nil
}

func (s *AccountStore) lockFor(address solana.Pubkey) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[address]
	if !ok {
		l = &sync.Mutex{}
		s.locks[address] = l
	}
	return l
}

func sortedUnique(addresses []solana.Pubkey) []solana.Pubkey {
	seen := make(map[solana.Pubkey]struct{}, len(addresses))
	keys := make([]solana.Pubkey, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

func copyAccount(info *solana.AccountInfo) *solana.AccountInfo {
	cp := *info
	cp.Data = append([]byte(nil), info.Data...)
	return &cp
}

var _ storage.AccountStore = (*AccountStore)(nil)
