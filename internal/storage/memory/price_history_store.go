package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/storage"
)

type historyKey struct {
	index uint16
	slot  uint64
}

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[historyKey]*domain.PricePoint // keyed by (index, last_updated_slot)
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[historyKey]*domain.PricePoint),
	}
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *PriceHistoryStore) InsertBulk(_ context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[historyKey]struct{}, len(points))

	// First pass: check for duplicates (existing + intra-batch)
	for _, p := range points {
		if p == nil || int(p.Index) >= domain.MaxEntries {
			return storage.ErrInvalidInput
		}
		key := historyKey{p.Index, p.LastUpdatedSlot}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range points {
		pointCopy := *p
		s.data[historyKey{p.Index, p.LastUpdatedSlot}] = &pointCopy
	}

	return nil
}

// GetByIndex retrieves all points of a slot, ordered by last_updated_slot ASC.
func (s *PriceHistoryStore) GetByIndex(_ context.Context, index uint16) ([]*domain.PricePoint, error) {
	return s.filter(func(p *domain.PricePoint) bool { return p.Index == index }), nil
}

// GetByTimeRange retrieves points of a slot within [start, end] (inclusive).
func (s *PriceHistoryStore) GetByTimeRange(_ context.Context, index uint16, start, end uint64) ([]*domain.PricePoint, error) {
	return s.filter(func(p *domain.PricePoint) bool {
		return p.Index == index && p.UnixTimestamp >= start && p.UnixTimestamp <= end
	}), nil
}

// GetLatest retrieves the most recent point of every slot, ordered by index.
func (s *PriceHistoryStore) GetLatest(_ context.Context) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	latest := make(map[uint16]*domain.PricePoint)
	for _, p := range s.data {
		if cur, ok := latest[p.Index]; !ok || p.LastUpdatedSlot > cur.LastUpdatedSlot {
			latest[p.Index] = p
		}
	}
	s.mu.RUnlock()

	result := make([]*domain.PricePoint, 0, len(latest))
	for _, p := range latest {
		pointCopy := *p
		result = append(result, &pointCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

func (s *PriceHistoryStore) filter(keep func(p *domain.PricePoint) bool) []*domain.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for _, p := range s.data {
		if keep(p) {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastUpdatedSlot < result[j].LastUpdatedSlot
	})
	return result
}

var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
