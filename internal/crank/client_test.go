package crank

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/localnet/localnettest"
	"github.com/vuittont60/scope/internal/mockoracle"
	"github.com/vuittont60/scope/internal/oracles"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage/memory"
)

// countingRPC counts submitted transactions.
type countingRPC struct {
	solana.RPCClient
	sent atomic.Int64
}

func (c *countingRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Receipt, error) {
	c.sent.Add(1)
	return c.RPCClient.SendTransaction(ctx, tx)
}

func newClient(t *testing.T, h *localnettest.Harness, chunkSize int) (*ScopeClient, *countingRPC) {
	t.Helper()
	rpc := &countingRPC{RPCClient: h.Client}
	c, err := NewScopeClient(rpc, Options{
		ProgramID: h.Addrs.Program,
		Feed:      localnettest.Feed,
		Payer:     h.Admin,
		ChunkSize: chunkSize,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return c, rpc
}

func TestChunk_CoversEverySlotOnce(t *testing.T) {
	for n := 0; n <= 60; n++ {
		indices := make([]uint16, n)
		for i := range indices {
			indices[i] = uint16(i * 3)
		}
		for size := 1; size <= domain.MaxRefreshListLen; size++ {
			chunks := chunk(indices, size)
			require.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)

			var flat []uint16
			for _, c := range chunks {
				require.LessOrEqual(t, len(c), size)
				require.NotEmpty(t, c)
				flat = append(flat, c...)
			}
			if n > 0 {
				require.Equal(t, indices, flat)
			}
		}
	}
}

func TestNewScopeClient_ChunkSizeCapped(t *testing.T) {
	h := localnettest.New(t)
	for _, tt := range []struct{ in, want int }{{0, 28}, {-1, 28}, {5, 5}, {28, 28}, {100, 28}} {
		c, _ := newClient(t, h, tt.in)
		assert.Equal(t, tt.want, c.ChunkSize(), "chunk size %d", tt.in)
	}
}

func TestScopeClient_ConfigurationMissing(t *testing.T) {
	h := localnettest.New(t)
	c, rpc := newClient(t, h, 0)
	ctx := context.Background()

	_, err := c.RefreshAll(ctx)
	assert.ErrorIs(t, err, domain.ErrConfigurationMissing)
	assert.ErrorIs(t, c.UploadMapping(ctx), domain.ErrConfigurationMissing)
	assert.ErrorIs(t, c.DownloadMapping(ctx), domain.ErrConfigurationMissing)
	assert.Zero(t, rpc.sent.Load(), "nothing must be submitted without a configuration")
}

func TestScopeClient_UploadDownloadRoundTrip(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()
	list := &domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		0:   {TokenPair: "SOL/USD", OracleMapping: h.PythRecord("SOL", 2_000, -1), OracleType: domain.OracleTypePyth},
		9:   {TokenPair: "ETH/USD", OracleMapping: h.SwitchboardV1Record("ETH", 3000.5), OracleType: domain.OracleTypeSwitchboardV1},
		255: {TokenPair: "STSOL/SOL", OracleMapping: h.StakePoolRecord("STSOL", 11, 10), OracleType: domain.OracleTypeSplStake},
	}}

	uploader, rpc := newClient(t, h, 0)
	require.NoError(t, uploader.SetLocalMapping(list))
	require.NoError(t, uploader.InitProgram(ctx))
	assert.EqualValues(t, 1+3, rpc.sent.Load())

	onLedger, err := uploader.LedgerMapping(ctx)
	require.NoError(t, err)
	for idx, conf := range list.Tokens {
		ref, typ := onLedger.Entry(idx)
		assert.Equal(t, conf.OracleMapping, ref, "slot %d", idx)
		assert.Equal(t, conf.OracleType, typ, "slot %d", idx)
	}

	// Uploading an unchanged mirror submits nothing.
	h.Clock.Advance(1, 1)
	require.NoError(t, uploader.UploadMapping(ctx))
	assert.EqualValues(t, 4, rpc.sent.Load())

	downloader, _ := newClient(t, h, 0)
	require.NoError(t, downloader.DownloadMapping(ctx))
	got := downloader.GetLocalMapping()
	require.Len(t, got.Tokens, 3)
	for idx, conf := range list.Tokens {
		assert.Equal(t, conf.OracleMapping, got.Tokens[idx].OracleMapping)
		assert.Equal(t, conf.OracleType, got.Tokens[idx].OracleType)
	}

	// Downloading into a mirror that agrees keeps the pair labels.
	require.NoError(t, uploader.DownloadMapping(ctx))
	assert.Equal(t, list.Tokens, uploader.GetLocalMapping().Tokens)
}

func TestScopeClient_UploadClearsRemovedSlots(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()
	record := h.PythRecord("SOL", 2_000, -1)

	c, _ := newClient(t, h, 0)
	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		3: {OracleMapping: record, OracleType: domain.OracleTypePyth},
	}}))
	require.NoError(t, c.InitProgram(ctx))

	h.Clock.Advance(1, 1)
	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{}))
	require.NoError(t, c.UploadMapping(ctx))

	onLedger, err := c.LedgerMapping(ctx)
	require.NoError(t, err)
	ref, _ := onLedger.Entry(3)
	assert.True(t, ref.IsZero(), "slot 3 must be cleared")
}

func TestScopeClient_RefreshAllChunkIsolation(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()

	list := &domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{}}
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	for i, name := range names {
		list.Tokens[uint16(i*2)] = domain.TokenConf{OracleMapping: h.PythRecord(name, int64(100+i), 0), OracleType: domain.OracleTypePyth}
	}

	c, _ := newClient(t, h, 2)
	require.NoError(t, c.SetLocalMapping(list))
	require.NoError(t, c.InitProgram(ctx))

	// Slot 10 sits in the third of five chunks: [0 2] [4 6] [8 10] [12 14] [16 18].
	h.Clock.Advance(1, 1)
	h.MustSend(haltPyth(h, list.Tokens[10].OracleMapping))

	report, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Chunks)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 2, report.Failed[0].Index)
	assert.Equal(t, []uint16{8, 10}, report.Failed[0].Slots)
	assert.ErrorIs(t, report.Failed[0].Err, domain.ErrPriceNotValid)
	assert.Equal(t, 8, report.Refreshed)
	assert.False(t, report.OK())

	prices, err := c.GetPrices(ctx)
	require.NoError(t, err)
	for i := range names {
		index := uint16(i * 2)
		if index == 8 || index == 10 {
			assert.True(t, prices.Prices[index].IsZero(), "slot %d belongs to the failed chunk", index)
			continue
		}
		assert.EqualValues(t, 100+i, prices.Prices[index].Price.Value, "slot %d", index)
	}
}

func TestScopeClient_StaleMirrorFailsChunk(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()
	sol := h.PythRecord("SOL", 100, 0)
	other := h.PythRecord("OTHER", 100, 0)

	c, _ := newClient(t, h, 0)
	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		1: {OracleMapping: sol, OracleType: domain.OracleTypePyth},
	}}))
	require.NoError(t, c.InitProgram(ctx))

	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		1: {OracleMapping: other, OracleType: domain.OracleTypePyth},
	}}))
	report, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.True(t, errors.Is(report.Failed[0].Err, domain.ErrUnexpectedAccount))
}

func TestScopeClient_RefreshBatchSkipsUnset(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()

	c, _ := newClient(t, h, 0)
	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		2: {OracleMapping: h.PythRecord("SOL", 100, 0), OracleType: domain.OracleTypePyth},
	}}))
	require.NoError(t, c.InitProgram(ctx))

	receipt, err := c.RefreshBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 3, 4, 5, 6, 7}, receipt.Skipped)

	_, err = c.RefreshBatch(ctx, domain.MaxEntries-domain.BatchSize+1)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	h.Clock.Advance(1, 1)
	receipt, err = c.RefreshOne(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, receipt.Skipped)

	_, err = c.RefreshList(ctx, make([]uint16, domain.MaxRefreshListLen+1))
	assert.ErrorIs(t, err, domain.ErrListTooLong)
}

func TestRunner_RecordsHistory(t *testing.T) {
	h := localnettest.New(t)
	ctx := context.Background()

	c, _ := newClient(t, h, 0)
	require.NoError(t, c.SetLocalMapping(&domain.TokenConfList{Tokens: map[uint16]domain.TokenConf{
		0: {TokenPair: "SOL/USD", OracleMapping: h.PythRecord("SOL", 100, 0), OracleType: domain.OracleTypePyth},
		1: {TokenPair: "STSOL/SOL", OracleMapping: h.StakePoolRecord("STSOL", 3, 2), OracleType: domain.OracleTypeSplStake},
	}}))
	require.NoError(t, c.InitProgram(ctx))

	history := memory.NewPriceHistoryStore()
	runner := NewRunner(RunnerOptions{Client: c, History: history, Logger: zerolog.Nop()})

	report, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, report.OK())

	latest, err := history.GetLatest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "SOL/USD", latest[0].TokenPair)
	assert.Equal(t, "1.5", latest[1].Price().String())

	// The Pyth record is unchanged; the stake price is dated by the clock.
	h.Clock.Advance(1, 1)
	_, err = runner.RunOnce(ctx)
	require.NoError(t, err)

	sol, err := history.GetByIndex(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, sol, 1)
	stake, err := history.GetByIndex(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stake, 2)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	h := localnettest.New(t)
	c, _ := newClient(t, h, 0)
	runner := NewRunner(RunnerOptions{Client: c, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, runner.Run(ctx), context.Canceled)

	_, cycleErr := runner.LastReport()
	assert.Error(t, cycleErr)
}

func haltPyth(h *localnettest.Harness, record solana.Pubkey) solana.Instruction {
	return mockoracle.NewSetPythTradingInstruction(h.MockID, h.Admin.PublicKey(), record, oracles.PythStatusHalted)
}
