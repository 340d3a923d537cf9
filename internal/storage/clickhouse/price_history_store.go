package clickhouse

import (
	"context"
	"fmt"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

const priceHistoryColumns = `token_index, token_pair, value, exp, last_updated_slot, unix_timestamp, recorded_at`

// InsertBulk adds multiple points. Fails entire batch on duplicate (index, last_updated_slot).
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		index uint16
		slot  uint64
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p == nil || int(p.Index) >= domain.MaxEntries {
			return storage.ErrInvalidInput
		}
		k := key{p.Index, p.LastUpdatedSlot}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		exists, err := s.exists(ctx, p.Index, p.LastUpdatedSlot)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO price_history (`+priceHistoryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Index, p.TokenPair, p.Value, p.Exp,
			p.LastUpdatedSlot, p.UnixTimestamp, p.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByIndex retrieves all points of a slot, ordered by last_updated_slot ASC.
func (s *PriceHistoryStore) GetByIndex(ctx context.Context, index uint16) ([]*domain.PricePoint, error) {
	query := `
		SELECT ` + priceHistoryColumns + `
		FROM price_history FINAL
		WHERE token_index = ?
		ORDER BY last_updated_slot ASC
	`

	rows, err := s.conn.Query(ctx, query, index)
	if err != nil {
		return nil, fmt.Errorf("query by index: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// GetByTimeRange retrieves points of a slot within [start, end] (inclusive, unix seconds).
func (s *PriceHistoryStore) GetByTimeRange(ctx context.Context, index uint16, start, end uint64) ([]*domain.PricePoint, error) {
	query := `
		SELECT ` + priceHistoryColumns + `
		FROM price_history FINAL
		WHERE token_index = ? AND unix_timestamp >= ? AND unix_timestamp <= ?
		ORDER BY last_updated_slot ASC
	`

	rows, err := s.conn.Query(ctx, query, index, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// GetLatest retrieves the most recent point of every slot, ordered by index.
func (s *PriceHistoryStore) GetLatest(ctx context.Context) ([]*domain.PricePoint, error) {
	query := `
		SELECT ` + priceHistoryColumns + `
		FROM price_history FINAL
		ORDER BY token_index ASC, last_updated_slot DESC
		LIMIT 1 BY token_index
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

func (s *PriceHistoryStore) exists(ctx context.Context, index uint16, slot uint64) (bool, error) {
	query := `
		SELECT count(*) FROM price_history
		WHERE token_index = ? AND last_updated_slot = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, index, slot).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		err := rows.Scan(
			&p.Index, &p.TokenPair, &p.Value, &p.Exp,
			&p.LastUpdatedSlot, &p.UnixTimestamp, &p.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	return points, nil
}
