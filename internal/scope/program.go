// Package scope implements the price store program: a mapping from slot index to
// source record and a price table refreshed from those records.
package scope

import (
	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/solana"
)

// Options configures the program.
type Options struct {
	Logger zerolog.Logger
}

// Program is the scope program as executed by the ledger.
type Program struct {
	id  solana.Pubkey
	log zerolog.Logger
}

// NewProgram creates the program deployed at id.
func NewProgram(id solana.Pubkey, opts Options) *Program {
	return &Program{
		id:  id,
		log: opts.Logger.With().Str("component", "scope").Logger(),
	}
}

var _ ledger.Program = (*Program)(nil)

// ID returns the program address.
func (p *Program) ID() solana.Pubkey {
	return p.id
}

// Name returns the program name used in logs and metrics.
func (p *Program) Name() string {
	return "scope"
}

// Process dispatches one instruction.
func (p *Program) Process(ic *ledger.InvokeContext, ix *solana.Instruction) error {
	if len(ix.Data) == 0 {
		return domain.Errorf(domain.ErrInvalidInstruction, "empty instruction data")
	}
	r := newInstructionReader(ix.Data[1:])

	switch ix.Data[0] {
	case TagInitialize:
		feed := string(r.take(int(r.u32())))
		if err := r.done(); err != nil {
			return err
		}
		return p.initialize(ic, ix.Accounts, feed)

	case TagUpdateMapping:
		index := r.u16()
		oracleType := domain.OracleType(r.u8())
		if err := r.done(); err != nil {
			return err
		}
		return p.updateMapping(ic, ix.Accounts, index, oracleType)

	case TagRefreshOnePrice:
		index := r.u16()
		if err := r.done(); err != nil {
			return err
		}
		return p.refreshOne(ic, ix.Accounts, index)

	case TagRefreshBatchPrices:
		first := r.u16()
		if err := r.done(); err != nil {
			return err
		}
		return p.refreshBatch(ic, ix.Accounts, first)

	case TagRefreshPriceList:
		n := int(r.u16())
		if n > domain.MaxRefreshListLen {
			return domain.Errorf(domain.ErrListTooLong, "%d slots, at most %d", n, domain.MaxRefreshListLen)
		}
		indices := make([]uint16, n)
		for i := range indices {
			indices[i] = r.u16()
		}
		if err := r.done(); err != nil {
			return err
		}
		return p.refreshList(ic, ix.Accounts, indices)
	}

	return domain.Errorf(domain.ErrInvalidInstruction, "unknown instruction tag %d", ix.Data[0])
}

// requireAccounts checks the instruction carries at least n accounts.
func requireAccounts(metas []solana.AccountMeta, n int) error {
	if len(metas) < n {
		return domain.Errorf(domain.ErrUnexpectedAccount, "expected %d accounts, got %d", n, len(metas))
	}
	return nil
}
