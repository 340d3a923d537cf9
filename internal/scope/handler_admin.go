package scope

import (
	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/oracles"
	"github.com/vuittont60/scope/internal/solana"
)

// checkAuthority verifies that the admin account signed and is the upgrade
// authority recorded in the program's ProgramData account.
func (p *Program) checkAuthority(ic *ledger.InvokeContext, metas []solana.AccountMeta) error {
	admin := metas[adminAccAdmin].Pubkey
	if metas[adminAccProgram].Pubkey != p.id {
		return domain.Errorf(domain.ErrUnexpectedAccount, "program account %s", metas[adminAccProgram].Pubkey)
	}

	expected, err := solana.FindProgramDataAddress(p.id)
	if err != nil || metas[adminAccProgramData].Pubkey != expected {
		return domain.Errorf(domain.ErrUnexpectedAccount, "program data account %s", metas[adminAccProgramData].Pubkey)
	}
	acc := ic.Account(expected)
	if acc == nil || acc.Owner != solana.MustPubkey(solana.BPFLoaderUpgradeable) {
		return domain.Errorf(domain.ErrUnexpectedAccount, "program data account missing")
	}
	pd, err := solana.DecodeProgramData(acc.Data)
	if err != nil {
		return domain.Errorf(domain.ErrUnexpectedAccount, "%v", err)
	}

	if !ic.IsSigner(admin) {
		return domain.Errorf(domain.ErrMissingSignature, "admin %s", admin)
	}
	if pd.UpgradeAuthority == nil || *pd.UpgradeAuthority != admin {
		return domain.Errorf(domain.ErrUnauthorizedMapping, "admin %s", admin)
	}
	return nil
}

// loadConfiguration reads the configuration account; a missing or foreign account
// means the feed was never initialized.
func (p *Program) loadConfiguration(ic *ledger.InvokeContext, address solana.Pubkey) (*Configuration, error) {
	acc := ic.Account(address)
	if acc == nil || acc.Owner != p.id {
		return nil, domain.Errorf(domain.ErrConfigurationMissing, "configuration %s", address)
	}
	return DecodeConfiguration(acc.Data)
}

func (p *Program) initialize(ic *ledger.InvokeContext, metas []solana.AccountMeta, feed string) error {
	if err := requireAccounts(metas, adminAccPrices+1); err != nil {
		return err
	}
	if err := p.checkAuthority(ic, metas); err != nil {
		return err
	}

	addrs, err := DeriveAddresses(p.id, feed)
	if err != nil {
		return domain.Errorf(domain.ErrInvalidInstruction, "%v", err)
	}
	if metas[adminAccConfiguration].Pubkey != addrs.Configuration ||
		metas[adminAccMappings].Pubkey != addrs.Mappings ||
		metas[adminAccPrices].Pubkey != addrs.Prices {
		return domain.Errorf(domain.ErrUnexpectedAccount, "feed %q accounts do not match their derived addresses", feed)
	}
	if ic.Account(addrs.Configuration) != nil {
		return domain.Errorf(domain.ErrAlreadyInitialized, "feed %q", feed)
	}

	conf := &Configuration{OracleMappings: addrs.Mappings, OraclePrices: addrs.Prices}
	prices := &OraclePrices{OracleMappings: addrs.Mappings}

	for _, w := range []struct {
		address solana.Pubkey
		data    []byte
	}{
		{addrs.Configuration, conf.Encode()},
		{addrs.Mappings, (&OracleMappings{}).Encode()},
		{addrs.Prices, prices.Encode()},
	} {
		if err := ic.SetAccount(w.address, &solana.AccountInfo{Lamports: 1, Owner: p.id, Data: w.data}); err != nil {
			return err
		}
	}

	ic.Logf("initialized feed %q", feed)
	p.log.Info().Str("feed", feed).Stringer("configuration", addrs.Configuration).Msg("feed initialized")
	return nil
}

func (p *Program) updateMapping(ic *ledger.InvokeContext, metas []solana.AccountMeta, index uint16, oracleType domain.OracleType) error {
	if err := requireAccounts(metas, updateAccSource+1); err != nil {
		return err
	}

	conf, err := p.loadConfiguration(ic, metas[adminAccConfiguration].Pubkey)
	if err != nil {
		return err
	}
	if err := domain.CheckSlotIndex(int(index)); err != nil {
		return err
	}
	if err := p.checkAuthority(ic, metas); err != nil {
		return err
	}
	if !oracleType.IsValid() {
		return domain.Errorf(domain.ErrUnknownOracleType, "type %d", uint8(oracleType))
	}

	mappingsKey := metas[adminAccMappings].Pubkey
	if mappingsKey != conf.OracleMappings {
		return domain.Errorf(domain.ErrUnexpectedAccount, "mappings account %s", mappingsKey)
	}
	mappingsAcc := ic.Account(mappingsKey)
	if mappingsAcc == nil {
		return domain.Errorf(domain.ErrUnexpectedAccount, "mappings account missing")
	}
	mappings, err := DecodeOracleMappings(mappingsAcc.Data)
	if err != nil {
		return err
	}

	source := metas[updateAccSource].Pubkey
	currentRef, currentType := mappings.Entry(index)
	if source == currentRef && (source.IsZero() || oracleType == currentType) {
		ic.Logf("slot %d already mapped", index)
		return nil
	}

	if source.IsZero() {
		mappings.Accounts[index] = solana.Pubkey{}
		mappings.Types[index] = domain.OracleTypePyth
		ic.Logf("slot %d cleared", index)
	} else {
		record := ic.Account(source)
		if record == nil {
			return domain.Errorf(domain.ErrUnexpectedAccount, "source record %s does not exist", source)
		}
		if err := oracles.Validate(oracleType, record.Data, ic.Clock()); err != nil {
			return err
		}
		mappings.Accounts[index] = source
		mappings.Types[index] = oracleType
		ic.Logf("slot %d mapped to %s (%s)", index, source, oracleType)
	}

	mappingsAcc.Data = mappings.Encode()
	if err := ic.SetAccount(mappingsKey, mappingsAcc); err != nil {
		return err
	}

	observability.RecordMappingUpdated()
	p.log.Info().
		Uint16("slot", index).
		Stringer("source", source).
		Stringer("oracle_type", oracleType).
		Msg("mapping updated")
	return nil
}
