package ledger

import (
	"errors"
	"fmt"

	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

var (
	// ErrReadonlyWrite is returned when a program writes an account not marked writable.
	ErrReadonlyWrite = errors.New("instruction modified a readonly account")
	// ErrAccountNotOwned is returned when a program writes an account owned by another program.
	ErrAccountNotOwned = errors.New("instruction modified an account owned by another program")
)

// Program executes the instructions addressed to its ID.
type Program interface {
	ID() solana.Pubkey
	Name() string
	Process(ic *InvokeContext, ix *solana.Instruction) error
}

// InvokeContext is the view of the transaction a program gets for one instruction.
// Writes go to the transaction's working set and are committed only if every
// instruction of the transaction succeeds.
type InvokeContext struct {
	clock   solana.Clock
	program solana.Pubkey
	payer   solana.Pubkey
	metas   map[solana.Pubkey]solana.AccountMeta

	accounts storage.AccountWrites
	dirty    map[solana.Pubkey]struct{}
	logs     *[]string
	skipped  *[]uint16
}

// Clock returns the clock sysvar of the executing slot.
func (ic *InvokeContext) Clock() *solana.Clock {
	c := ic.clock
	return &c
}

// ProgramID returns the executing program.
func (ic *InvokeContext) ProgramID() solana.Pubkey {
	return ic.program
}

// Account returns a copy of an account passed to the instruction.
// Returns nil when the account does not exist or was not passed.
func (ic *InvokeContext) Account(address solana.Pubkey) *solana.AccountInfo {
	if _, ok := ic.metas[address]; !ok {
		return nil
	}
	info, ok := ic.accounts[address]
	if !ok {
		return nil
	}
	return copyAccount(info)
}

// IsSigner reports whether address is marked as signer and signed the transaction.
func (ic *InvokeContext) IsSigner(address solana.Pubkey) bool {
	meta, ok := ic.metas[address]
	return ok && meta.IsSigner && address == ic.payer
}

// SetAccount stores a new state for a writable account owned by the program.
// A missing account is created; it must be assigned to the program.
func (ic *InvokeContext) SetAccount(address solana.Pubkey, info *solana.AccountInfo) error {
	meta, ok := ic.metas[address]
	if !ok || !meta.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyWrite, address)
	}
	if existing, ok := ic.accounts[address]; ok && existing.Owner != ic.program {
		return fmt.Errorf("%w: %s owned by %s", ErrAccountNotOwned, address, existing.Owner)
	}
	if info.Owner != ic.program {
		return fmt.Errorf("%w: %s assigned to %s", ErrAccountNotOwned, address, info.Owner)
	}
	ic.accounts[address] = copyAccount(info)
	ic.dirty[address] = struct{}{}
	return nil
}

// Logf appends a program log line to the receipt.
func (ic *InvokeContext) Logf(format string, args ...interface{}) {
	*ic.logs = append(*ic.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Skip records a price slot whose refresh was a no-op.
func (ic *InvokeContext) Skip(index uint16) {
	*ic.skipped = append(*ic.skipped, index)
}

func copyAccount(info *solana.AccountInfo) *solana.AccountInfo {
	cp := *info
	cp.Data = append([]byte(nil), info.Data...)
	return &cp
}
