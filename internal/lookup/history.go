// Package lookup answers point-in-time questions over recorded price history.
package lookup

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/vuittont60/scope/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoPriceData   = errors.New("no price data available")
	ErrBeforeHistory = errors.New("target precedes recorded history")
)

// PriceAt returns the point in effect at target (Unix seconds): the last point
// refreshed at or before target. points must be ordered by LastUpdatedSlot.
func PriceAt(target uint64, points []*domain.PricePoint) (*domain.PricePoint, error) {
	if len(points) == 0 {
		return nil, ErrNoPriceData
	}
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].UnixTimestamp <= target {
			return points[i], nil
		}
	}
	return nil, ErrBeforeHistory
}

// Summary describes the prices of one slot over a range of points.
type Summary struct {
	Count int
	First decimal.Decimal
	Last  decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
	// Change is Last/First - 1, zero when First is zero.
	Change decimal.Decimal
}

// Summarize computes the summary of points, ordered by LastUpdatedSlot.
// Points of a slot may carry different exponents, so prices are compared as decimals.
func Summarize(points []*domain.PricePoint) (*Summary, error) {
	if len(points) == 0 {
		return nil, ErrNoPriceData
	}

	s := &Summary{Count: len(points)}
	for i, p := range points {
		v := p.Price().Decimal()
		if i == 0 {
			s.First, s.Min, s.Max = v, v, v
		}
		if v.LessThan(s.Min) {
			s.Min = v
		}
		if v.GreaterThan(s.Max) {
			s.Max = v
		}
		s.Last = v
	}
	if !s.First.IsZero() {
		s.Change = s.Last.Div(s.First).Sub(decimal.NewFromInt(1))
	}
	return s, nil
}
