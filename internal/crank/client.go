// Package crank keeps a scope feed's prices fresh from off the ledger: it holds a
// local mirror of the slot mapping, syncs it with the ledger and submits refresh
// transactions in chunks that fail independently.
package crank

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/scope"
	"github.com/vuittont60/scope/internal/solana"
)

// Options configures a ScopeClient.
type Options struct {
	ProgramID solana.Pubkey
	Feed      string
	Payer     *solana.Keypair
	// ChunkSize is the number of slots per refresh transaction in RefreshAll.
	// Default and maximum: domain.MaxRefreshListLen.
	ChunkSize int
	Logger    zerolog.Logger
}

// LocalEntry is the crank's view of one slot.
type LocalEntry struct {
	Reference solana.Pubkey
	Type      domain.OracleType
	TokenPair string
}

// ScopeClient talks to one feed of the scope program.
// It is not safe for concurrent use.
type ScopeClient struct {
	rpc       solana.RPCClient
	payer     *solana.Keypair
	addrs     *scope.Addresses
	feed      string
	chunkSize int
	log       zerolog.Logger

	mapping [domain.MaxEntries]LocalEntry
}

// NewScopeClient creates a client for opts.Feed.
func NewScopeClient(rpc solana.RPCClient, opts Options) (*ScopeClient, error) {
	if opts.Payer == nil {
		return nil, errors.New("payer keypair is required")
	}
	addrs, err := scope.DeriveAddresses(opts.ProgramID, opts.Feed)
	if err != nil {
		return nil, err
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 || chunkSize > domain.MaxRefreshListLen {
		chunkSize = domain.MaxRefreshListLen
	}
	return &ScopeClient{
		rpc:       rpc,
		payer:     opts.Payer,
		addrs:     addrs,
		feed:      opts.Feed,
		chunkSize: chunkSize,
		log:       opts.Logger.With().Str("component", "crank").Str("feed", opts.Feed).Logger(),
	}, nil
}

// Addresses returns the feed accounts.
func (c *ScopeClient) Addresses() *scope.Addresses {
	return c.addrs
}

// ChunkSize returns the effective chunk size of RefreshAll.
func (c *ScopeClient) ChunkSize() int {
	return c.chunkSize
}

// SetLocalMapping replaces the local mirror with list. Slots absent from list become unset.
func (c *ScopeClient) SetLocalMapping(list *domain.TokenConfList) error {
	if err := list.Validate(); err != nil {
		return err
	}
	var mapping [domain.MaxEntries]LocalEntry
	for idx, conf := range list.Tokens {
		mapping[idx] = LocalEntry{Reference: conf.OracleMapping, Type: conf.OracleType, TokenPair: conf.TokenPair}
	}
	c.mapping = mapping
	return nil
}

// GetLocalMapping returns the set slots of the local mirror.
func (c *ScopeClient) GetLocalMapping() *domain.TokenConfList {
	list := &domain.TokenConfList{Tokens: make(map[uint16]domain.TokenConf)}
	for i, e := range c.mapping {
		if e.Reference.IsZero() {
			continue
		}
		list.Tokens[uint16(i)] = domain.TokenConf{TokenPair: e.TokenPair, OracleMapping: e.Reference, OracleType: e.Type}
	}
	return list
}

// Entry returns the local mirror of slot index.
func (c *ScopeClient) Entry(index uint16) LocalEntry {
	if int(index) >= domain.MaxEntries {
		return LocalEntry{}
	}
	return c.mapping[index]
}

// ConfiguredIndices returns the slots with a reference, ascending.
func (c *ScopeClient) ConfiguredIndices() []uint16 {
	var out []uint16
	for i, e := range c.mapping {
		if !e.Reference.IsZero() {
			out = append(out, uint16(i))
		}
	}
	return out
}

// InitProgram creates the feed accounts and uploads the local mirror.
func (c *ScopeClient) InitProgram(ctx context.Context) error {
	if _, err := c.send(ctx, scope.NewInitializeInstruction(c.addrs, c.payer.PublicKey(), c.feed)); err != nil {
		return fmt.Errorf("initialize feed %q: %w", c.feed, err)
	}
	c.log.Info().Stringer("configuration", c.addrs.Configuration).Msg("feed initialized")
	return c.UploadMapping(ctx)
}

// checkConfiguration fails with ErrConfigurationMissing if the feed was never initialized.
func (c *ScopeClient) checkConfiguration(ctx context.Context) error {
	acc, err := c.rpc.GetAccountInfo(ctx, c.addrs.Configuration)
	if err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}
	if acc == nil {
		return fmt.Errorf("%w: feed %q", domain.ErrConfigurationMissing, c.feed)
	}
	if _, err := scope.DecodeConfiguration(acc.Data); err != nil {
		return err
	}
	return nil
}

// LedgerMapping reads the on-ledger mapping account.
func (c *ScopeClient) LedgerMapping(ctx context.Context) (*scope.OracleMappings, error) {
	acc, err := c.rpc.GetAccountInfo(ctx, c.addrs.Mappings)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: mappings account missing", domain.ErrConfigurationMissing)
	}
	return scope.DecodeOracleMappings(acc.Data)
}

// UploadMapping makes the ledger mapping equal to the local mirror: differing
// slots are updated and slots unset locally are cleared. Stops at the first failure.
func (c *ScopeClient) UploadMapping(ctx context.Context) error {
	if err := c.checkConfiguration(ctx); err != nil {
		return err
	}
	onLedger, err := c.LedgerMapping(ctx)
	if err != nil {
		return err
	}

	updated := 0
	for i, local := range c.mapping {
		index := uint16(i)
		ref, typ := onLedger.Entry(index)
		if ref == local.Reference && (ref.IsZero() || typ == local.Type) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ix := scope.NewUpdateMappingInstruction(c.addrs, c.payer.PublicKey(), index, local.Type, local.Reference)
		if _, err := c.send(ctx, ix); err != nil {
			return fmt.Errorf("update slot %d: %w", index, err)
		}
		updated++
		c.log.Debug().Uint16("slot", index).Stringer("source", local.Reference).Str("pair", local.TokenPair).Msg("slot uploaded")
	}

	c.log.Info().Int("updated", updated).Msg("mapping uploaded")
	return nil
}

// DownloadMapping replaces the local mirror with the ledger mapping. Pair labels
// are kept for slots whose reference did not change.
func (c *ScopeClient) DownloadMapping(ctx context.Context) error {
	if err := c.checkConfiguration(ctx); err != nil {
		return err
	}
	onLedger, err := c.LedgerMapping(ctx)
	if err != nil {
		return err
	}

	var mapping [domain.MaxEntries]LocalEntry
	for i := range mapping {
		ref, typ := onLedger.Entry(uint16(i))
		if ref.IsZero() {
			continue
		}
		mapping[i] = LocalEntry{Reference: ref, Type: typ}
		if c.mapping[i].Reference == ref {
			mapping[i].TokenPair = c.mapping[i].TokenPair
		}
	}
	c.mapping = mapping

	c.log.Info().Int("slots", len(c.ConfiguredIndices())).Msg("mapping downloaded")
	return nil
}

// GetPrices reads the feed's price account.
func (c *ScopeClient) GetPrices(ctx context.Context) (*scope.OraclePrices, error) {
	acc, err := c.rpc.GetAccountInfo(ctx, c.addrs.Prices)
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: prices account missing", domain.ErrConfigurationMissing)
	}
	return scope.DecodeOraclePrices(acc.Data)
}

// RefreshOne refreshes a single slot.
func (c *ScopeClient) RefreshOne(ctx context.Context, index uint16) (*solana.Receipt, error) {
	if err := domain.CheckSlotIndex(int(index)); err != nil {
		return nil, err
	}
	return c.send(ctx, scope.NewRefreshOneInstruction(c.addrs, index, c.mapping[index].Reference))
}

// RefreshBatch refreshes the BatchSize slots starting at first.
func (c *ScopeClient) RefreshBatch(ctx context.Context, first uint16) (*solana.Receipt, error) {
	if int(first)+domain.BatchSize > domain.MaxEntries {
		return nil, fmt.Errorf("%w: batch starting at %d", domain.ErrOutOfRange, first)
	}
	var sources [domain.BatchSize]solana.Pubkey
	for i := range sources {
		sources[i] = c.mapping[int(first)+i].Reference
	}
	return c.send(ctx, scope.NewRefreshBatchInstruction(c.addrs, first, sources))
}

// RefreshList refreshes the given slots in one transaction.
func (c *ScopeClient) RefreshList(ctx context.Context, indices []uint16) (*solana.Receipt, error) {
	if len(indices) > domain.MaxRefreshListLen {
		return nil, fmt.Errorf("%w: %d slots", domain.ErrListTooLong, len(indices))
	}
	sources := make([]solana.Pubkey, len(indices))
	for i, index := range indices {
		if err := domain.CheckSlotIndex(int(index)); err != nil {
			return nil, err
		}
		sources[i] = c.mapping[index].Reference
	}
	return c.send(ctx, scope.NewRefreshListInstruction(c.addrs, indices, sources))
}

// send signs ixs against the current slot and submits them.
func (c *ScopeClient) send(ctx context.Context, ixs ...solana.Instruction) (*solana.Receipt, error) {
	clock, err := c.rpc.GetClock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get clock: %v", domain.ErrSubmission, err)
	}
	tx := solana.NewTransaction(c.payer, clock.Slot, ixs...)
	receipt, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return nil, programError(err)
	}
	return receipt, nil
}

// programError maps a ledger failure back onto the program error that caused it.
func programError(err error) error {
	var txErr *solana.TransactionError
	if errors.As(err, &txErr) {
		if pe := domain.ErrorFromCode(txErr.Code); pe != nil {
			return fmt.Errorf("%w (%s)", pe, txErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrSubmission, err)
}
