package crank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/storage"
)

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Client *ScopeClient
	// History records every observed refresh; optional.
	History         storage.PriceHistoryStore
	Interval        time.Duration // Default: 10s
	DownloadOnStart bool
	Logger          zerolog.Logger
	// Now returns the wall clock; defaults to time.Now.
	Now func() time.Time
}

// Runner refreshes all configured slots periodically.
type Runner struct {
	client          *ScopeClient
	history         storage.PriceHistoryStore
	interval        time.Duration
	downloadOnStart bool
	log             zerolog.Logger
	now             func() time.Time

	// lastSeen is the last recorded LastUpdatedSlot of each slot.
	lastSeen       map[uint16]uint64
	historyLoaded  bool
	cycles         int
	lastReport     *RefreshReport
	lastCycleError error
}

// NewRunner creates a new crank runner.
func NewRunner(opts RunnerOptions) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		client:          opts.Client,
		history:         opts.History,
		interval:        interval,
		downloadOnStart: opts.DownloadOnStart,
		log:             opts.Logger.With().Str("component", "runner").Logger(),
		now:             now,
		lastSeen:        make(map[uint16]uint64),
	}
}

// Run refreshes immediately and then every interval until ctx is cancelled.
// A failing cycle is logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if r.downloadOnStart {
		if err := r.client.DownloadMapping(ctx); err != nil {
			return fmt.Errorf("download mapping: %w", err)
		}
	}
	r.log.Info().
		Dur("interval", r.interval).
		Int("slots", len(r.client.ConfiguredIndices())).
		Msg("Starting crank runner")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("refresh cycle failed")
		}

		select {
		case <-ctx.Done():
			r.log.Info().Int("cycles", r.cycles).Msg("Crank runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one refresh cycle and records the resulting prices.
func (r *Runner) RunOnce(ctx context.Context) (*RefreshReport, error) {
	r.cycles++
	report, err := r.client.RefreshAll(ctx)
	r.lastReport, r.lastCycleError = report, err
	if err != nil {
		return report, err
	}
	if r.history != nil {
		if err := r.recordHistory(ctx); err != nil {
			return report, fmt.Errorf("record history: %w", err)
		}
	}
	return report, nil
}

// LastReport returns the report of the latest cycle.
func (r *Runner) LastReport() (*RefreshReport, error) {
	return r.lastReport, r.lastCycleError
}

// recordHistory stores one point per slot whose LastUpdatedSlot moved since
// the previous cycle.
func (r *Runner) recordHistory(ctx context.Context) error {
	if !r.historyLoaded {
		latest, err := r.history.GetLatest(ctx)
		if err != nil {
			return err
		}
		for _, p := range latest {
			r.lastSeen[p.Index] = p.LastUpdatedSlot
		}
		r.historyLoaded = true
	}

	prices, err := r.client.GetPrices(ctx)
	if err != nil {
		return err
	}

	recordedAt := r.now().UnixMilli()
	var points []*domain.PricePoint
	for _, index := range r.client.ConfiguredIndices() {
		dp := prices.Prices[index]
		if dp.IsZero() {
			continue
		}
		if seen, ok := r.lastSeen[index]; ok && dp.LastUpdatedSlot <= seen {
			continue
		}
		points = append(points, &domain.PricePoint{
			Index:           index,
			TokenPair:       r.client.Entry(index).TokenPair,
			Value:           dp.Price.Value,
			Exp:             dp.Price.Exp,
			LastUpdatedSlot: dp.LastUpdatedSlot,
			UnixTimestamp:   dp.UnixTimestamp,
			RecordedAt:      recordedAt,
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := r.history.InsertBulk(ctx, points); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
		// Another writer got there first; resync from the store next cycle.
		r.historyLoaded = false
		r.log.Warn().Int("points", len(points)).Msg("price history already recorded")
		return nil
	}
	for _, p := range points {
		r.lastSeen[p.Index] = p.LastUpdatedSlot
	}
	observability.RecordHistoryPoints(len(points))
	r.log.Debug().Int("points", len(points)).Msg("price history recorded")
	return nil
}
