package scope

import (
	"fmt"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/oracles"
	"github.com/vuittont60/scope/internal/solana"
)

// refreshState is the mappings and prices of one feed, loaded for a refresh.
type refreshState struct {
	mappings  *OracleMappings
	prices    *OraclePrices
	pricesKey solana.Pubkey
	pricesAcc *solana.AccountInfo
	refreshed []domain.OracleType // source type of each refreshed slot
	skipped   []uint16
}

func (p *Program) loadRefreshState(ic *ledger.InvokeContext, metas []solana.AccountMeta, sources int) (*refreshState, error) {
	if err := requireAccounts(metas, refreshAccSources); err != nil {
		return nil, err
	}
	conf, err := p.loadConfiguration(ic, metas[refreshAccConfiguration].Pubkey)
	if err != nil {
		return nil, err
	}
	if err := requireAccounts(metas, refreshAccSources+sources); err != nil {
		return nil, err
	}

	mappingsKey := metas[refreshAccMappings].Pubkey
	pricesKey := metas[refreshAccPrices].Pubkey
	if mappingsKey != conf.OracleMappings {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "mappings account %s", mappingsKey)
	}
	if pricesKey != conf.OraclePrices {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "prices account %s", pricesKey)
	}

	mappingsAcc := ic.Account(mappingsKey)
	pricesAcc := ic.Account(pricesKey)
	if mappingsAcc == nil || pricesAcc == nil {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "feed accounts missing")
	}
	mappings, err := DecodeOracleMappings(mappingsAcc.Data)
	if err != nil {
		return nil, err
	}
	prices, err := DecodeOraclePrices(pricesAcc.Data)
	if err != nil {
		return nil, err
	}

	return &refreshState{
		mappings:  mappings,
		prices:    prices,
		pricesKey: pricesKey,
		pricesAcc: pricesAcc,
	}, nil
}

// refreshSlot reads the source record of index and stores its dated price.
// An unset slot is skipped and reported, never an error.
func (p *Program) refreshSlot(ic *ledger.InvokeContext, st *refreshState, index uint16, source solana.Pubkey) error {
	ref, oracleType := st.mappings.Entry(index)
	if source != ref {
		return domain.Errorf(domain.ErrUnexpectedAccount, "slot %d: source %s, mapped %s", index, source, ref)
	}
	if ref.IsZero() {
		ic.Skip(index)
		ic.Logf("slot %d unset, skipped", index)
		st.skipped = append(st.skipped, index)
		return nil
	}

	record := ic.Account(ref)
	if record == nil {
		return domain.Errorf(domain.ErrUnexpectedAccount, "slot %d: source record %s does not exist", index, ref)
	}
	dated, err := oracles.GetPrice(oracleType, record.Data, ic.Clock())
	if err != nil {
		return fmt.Errorf("slot %d: %w", index, err)
	}

	stored := st.prices.Prices[index]
	if dated.LastUpdatedSlot < stored.LastUpdatedSlot {
		return domain.Errorf(domain.ErrPriceNotValid, "slot %d: source slot %d older than stored slot %d",
			index, dated.LastUpdatedSlot, stored.LastUpdatedSlot)
	}

	st.prices.Prices[index] = dated
	st.refreshed = append(st.refreshed, oracleType)
	ic.Logf("slot %d = %s", index, dated)
	return nil
}

// commit writes the prices account back once all slots succeeded. Metrics
// are recorded only after the write, so an aborted refresh counts nothing.
func (p *Program) commit(ic *ledger.InvokeContext, st *refreshState) error {
	if len(st.refreshed) > 0 {
		st.pricesAcc.Data = st.prices.Encode()
		if err := ic.SetAccount(st.pricesKey, st.pricesAcc); err != nil {
			return err
		}
	}
	for _, t := range st.refreshed {
		observability.RecordPriceRefreshed(t.String())
	}
	for _, index := range st.skipped {
		observability.RecordSlotSkipped()
		p.log.Info().Uint16("slot", index).Msg("refresh of unset slot skipped")
	}
	return nil
}

func (p *Program) refreshOne(ic *ledger.InvokeContext, metas []solana.AccountMeta, index uint16) error {
	st, err := p.loadRefreshState(ic, metas, 1)
	if err != nil {
		return err
	}
	if err := domain.CheckSlotIndex(int(index)); err != nil {
		return err
	}
	if err := p.refreshSlot(ic, st, index, metas[refreshAccSources].Pubkey); err != nil {
		return err
	}
	return p.commit(ic, st)
}

func (p *Program) refreshBatch(ic *ledger.InvokeContext, metas []solana.AccountMeta, first uint16) error {
	st, err := p.loadRefreshState(ic, metas, domain.BatchSize)
	if err != nil {
		return err
	}
	if int(first)+domain.BatchSize > domain.MaxEntries {
		return domain.Errorf(domain.ErrOutOfRange, "batch starting at %d", first)
	}
	for i := 0; i < domain.BatchSize; i++ {
		index := first + uint16(i)
		if err := p.refreshSlot(ic, st, index, metas[refreshAccSources+i].Pubkey); err != nil {
			return err
		}
	}
	return p.commit(ic, st)
}

func (p *Program) refreshList(ic *ledger.InvokeContext, metas []solana.AccountMeta, indices []uint16) error {
	st, err := p.loadRefreshState(ic, metas, len(indices))
	if err != nil {
		return err
	}

	seen := make(map[uint16]struct{}, len(indices))
	for _, index := range indices {
		if err := domain.CheckSlotIndex(int(index)); err != nil {
			return err
		}
		if _, dup := seen[index]; dup {
			return domain.Errorf(domain.ErrDuplicateSlot, "slot %d", index)
		}
		seen[index] = struct{}{}
	}

	for i, index := range indices {
		if err := p.refreshSlot(ic, st, index, metas[refreshAccSources+i].Pubkey); err != nil {
			return err
		}
	}
	return p.commit(ic, st)
}
