package crank

import (
	"context"
	"time"

	"github.com/vuittont60/scope/internal/observability"
)

// ChunkFailure describes one refresh transaction that failed.
type ChunkFailure struct {
	Index int
	Slots []uint16
	Err   error
}

// RefreshReport summarizes a RefreshAll run.
type RefreshReport struct {
	Chunks    int
	Refreshed int
	Skipped   []uint16
	Failed    []ChunkFailure
}

// OK reports whether every chunk succeeded.
func (r *RefreshReport) OK() bool {
	return len(r.Failed) == 0
}

// RefreshAll refreshes every configured slot in ascending order, ChunkSize slots
// per transaction. A failing chunk is logged and reported; the remaining chunks
// are still submitted. Only a missing configuration or a cancelled context stops
// the run, and cancellation is checked between chunks.
func (c *ScopeClient) RefreshAll(ctx context.Context) (*RefreshReport, error) {
	start := time.Now()
	if err := c.checkConfiguration(ctx); err != nil {
		return nil, err
	}

	chunks := chunk(c.ConfiguredIndices(), c.chunkSize)
	report := &RefreshReport{Chunks: len(chunks)}

	for i, slots := range chunks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		receipt, err := c.RefreshList(ctx, slots)
		if err != nil {
			report.Failed = append(report.Failed, ChunkFailure{Index: i, Slots: slots, Err: err})
			c.log.Error().
				Err(err).
				Int("chunk", i).
				Uints16("slots", slots).
				Msg("refresh chunk failed")
			continue
		}
		report.Refreshed += len(slots) - len(receipt.Skipped)
		report.Skipped = append(report.Skipped, receipt.Skipped...)
	}

	elapsed := time.Since(start)
	observability.RecordRefreshCycle(report.Chunks-len(report.Failed), len(report.Failed), elapsed.Seconds(), time.Now().Unix())
	c.log.Info().
		Int("chunks", report.Chunks).
		Int("failed", len(report.Failed)).
		Int("refreshed", report.Refreshed).
		Dur("elapsed", elapsed).
		Msg("refresh cycle finished")
	return report, nil
}

// chunk splits indices into consecutive runs of at most size.
func chunk(indices []uint16, size int) [][]uint16 {
	var out [][]uint16
	for len(indices) > 0 {
		n := size
		if n > len(indices) {
			n = len(indices)
		}
		out = append(out, indices[:n:n])
		indices = indices[n:]
	}
	return out
}
