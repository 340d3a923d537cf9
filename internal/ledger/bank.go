// Package ledger executes signed transactions against the account store.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

// DefaultMaxRecentSlotAge bounds how old a transaction's recent slot may be.
const DefaultMaxRecentSlotAge = 150

var (
	// ErrNoInstructions is returned for an empty transaction.
	ErrNoInstructions = errors.New("transaction has no instructions")
	// ErrSignatureInvalid is returned when the payer signature does not verify.
	ErrSignatureInvalid = errors.New("transaction signature verification failed")
	// ErrSignerMismatch is returned when an account marked as signer is not the payer.
	ErrSignerMismatch = errors.New("account marked as signer did not sign the transaction")
	// ErrRecentSlotExpired is returned when the recent slot is too old or in the future.
	ErrRecentSlotExpired = errors.New("recent slot not found or expired")
	// ErrProgramNotFound is returned when an instruction targets an unknown program.
	ErrProgramNotFound = errors.New("program not found")
	// ErrAlreadyProcessed is returned when the same transaction is submitted twice.
	ErrAlreadyProcessed = errors.New("transaction already processed")
)

// ExecutionError is a transaction that failed inside a program.
// No account was modified.
type ExecutionError struct {
	Instruction int
	Program     solana.Pubkey
	Err         error
	Logs        []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Instruction, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AccountListener is called after a commit for every modified account.
type AccountListener func(address solana.Pubkey, info *solana.AccountInfo, slot uint64)

// Options configures a Bank.
type Options struct {
	Logger           zerolog.Logger
	MaxRecentSlotAge uint64
	// StoreName labels database metrics, e.g. "memory" or "postgres".
	StoreName string
}

// Bank runs transactions atomically: every account a transaction touches is
// locked for its duration, and its writes are committed all together or not at all.
type Bank struct {
	store storage.AccountStore
	clock Clock
	opts  Options
	log   zerolog.Logger

	mu        sync.RWMutex
	programs  map[solana.Pubkey]Program
	listeners []AccountListener

	sigMu     sync.Mutex
	processed map[solana.Signature]sigState
}

type sigState struct {
	slot      uint64
	committed bool
}

// NewBank creates a bank over store.
func NewBank(store storage.AccountStore, clock Clock, opts Options) *Bank {
	if opts.MaxRecentSlotAge == 0 {
		opts.MaxRecentSlotAge = DefaultMaxRecentSlotAge
	}
	if opts.StoreName == "" {
		opts.StoreName = "accounts"
	}
	return &Bank{
		store:     store,
		clock:     clock,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "bank").Logger(),
		programs:  make(map[solana.Pubkey]Program),
		processed: make(map[solana.Signature]sigState),
	}
}

// Register makes a program callable. It does not create its accounts; see Deploy.
func (b *Bank) Register(p Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[p.ID()] = p
}

// OnAccountChange adds a listener for committed account changes.
func (b *Bank) OnAccountChange(l AccountListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Clock returns the current clock sysvar.
func (b *Bank) Clock() solana.Clock {
	return b.clock.Now()
}

// GetAccount returns an account, or nil if it does not exist.
func (b *Bank) GetAccount(ctx context.Context, address solana.Pubkey) (*solana.AccountInfo, error) {
	info, err := b.store.Get(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return info, err
}

// GetAccounts returns several accounts in order; missing ones are nil.
func (b *Bank) GetAccounts(ctx context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error) {
	return b.store.GetMany(ctx, addresses)
}

// Deploy registers p and creates its program and ProgramData accounts owned by
// the upgradeable loader. An already deployed program keeps its recorded authority.
func (b *Bank) Deploy(ctx context.Context, p Program, authority *solana.Pubkey) error {
	b.Register(p)

	programID := p.ID()
	programData, err := solana.FindProgramDataAddress(programID)
	if err != nil {
		return fmt.Errorf("derive program data address: %w", err)
	}
	loader := solana.MustPubkey(solana.BPFLoaderUpgradeable)
	slot := b.clock.Now().Slot

	err = b.store.Update(ctx, []solana.Pubkey{programID, programData}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		if existing, ok := loaded[programID]; ok {
			if existing.Owner != loader || !existing.Executable {
				return nil, fmt.Errorf("account %s exists and is not a program", programID)
			}
			return nil, nil
		}
		return storage.AccountWrites{
			programID: {
				Lamports:   1,
				Owner:      loader,
				Executable: true,
				Data:       solana.EncodeProgramAccount(programData),
			},
			programData: {
				Lamports: 1,
				Owner:    loader,
				Data:     solana.EncodeProgramData(&solana.ProgramData{Slot: slot, UpgradeAuthority: authority}),
			},
		}, nil
	})
	if err != nil {
		return fmt.Errorf("deploy %s: %w", p.Name(), err)
	}

	b.log.Info().
		Str("program", p.Name()).
		Stringer("program_id", programID).
		Stringer("program_data", programData).
		Msg("program deployed")
	return nil
}

// ProcessTransaction verifies and executes tx. Program failures are returned as
// *ExecutionError carrying the logs; other errors mean the transaction was rejected
// before execution.
func (b *Bank) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Receipt, error) {
	start := time.Now()
	clock := b.clock.Now()

	programs, keys, err := b.prepare(tx, clock.Slot)
	if err != nil {
		observability.RecordTransaction("rejected", time.Since(start).Seconds(), clock.Slot)
		return nil, err
	}

	if err := b.reserve(tx.Signature); err != nil {
		observability.RecordTransaction("rejected", time.Since(start).Seconds(), clock.Slot)
		return nil, err
	}

	var (
		logs    []string
		skipped []uint16
		changed storage.AccountWrites
	)

	storeStart := time.Now()
	err = b.store.Update(ctx, keys, func(working storage.AccountWrites) (storage.AccountWrites, error) {
		logs, skipped = nil, nil
		dirty := make(map[solana.Pubkey]struct{})

		for i := range tx.Instructions {
			ix := &tx.Instructions[i]
			prog := programs[i]

			ic := &InvokeContext{
				clock:    clock,
				program:  ix.ProgramID,
				payer:    tx.Payer,
				metas:    metaIndex(ix.Accounts),
				accounts: working,
				dirty:    dirty,
				logs:     &logs,
				skipped:  &skipped,
			}

			logs = append(logs, fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, i+1))
			observability.RecordInstruction(prog.Name())
			if err := prog.Process(ic, ix); err != nil {
				logs = append(logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
				return nil, &ExecutionError{Instruction: i, Program: ix.ProgramID, Err: err}
			}
			logs = append(logs, fmt.Sprintf("Program %s success", ix.ProgramID))
		}

		changed = make(storage.AccountWrites, len(dirty))
		for pk := range dirty {
			changed[pk] = working[pk]
		}
		return changed, nil
	})

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		observability.RecordDBQuery(b.opts.StoreName, "update", time.Since(storeStart).Seconds(), nil)
	} else {
		observability.RecordDBQuery(b.opts.StoreName, "update", time.Since(storeStart).Seconds(), err)
	}

	if err != nil {
		b.release(tx.Signature)
		if execErr != nil {
			execErr.Logs = logs
			if code, ok := domain.CodeOf(execErr.Err); ok {
				observability.RecordProgramError(code)
			}
			observability.RecordTransaction("failed", time.Since(start).Seconds(), clock.Slot)
			b.log.Debug().
				Stringer("signature", tx.Signature).
				Int("instruction", execErr.Instruction).
				Err(execErr.Err).
				Msg("transaction failed")
			return nil, execErr
		}
		observability.RecordTransaction("rejected", time.Since(start).Seconds(), clock.Slot)
		return nil, fmt.Errorf("execute transaction: %w", err)
	}
	b.commit(tx.Signature, clock.Slot)

	b.notify(changed, clock.Slot)
	observability.RecordTransaction("ok", time.Since(start).Seconds(), clock.Slot)

	b.log.Debug().
		Stringer("signature", tx.Signature).
		Uint64("slot", clock.Slot).
		Int("instructions", len(tx.Instructions)).
		Int("accounts_written", len(changed)).
		Msg("transaction committed")

	return &solana.Receipt{
		Signature: tx.Signature.String(),
		Slot:      clock.Slot,
		Logs:      logs,
		Skipped:   skipped,
	}, nil
}

// prepare runs the checks that need no account state and resolves programs and
// the sorted set of touched accounts.
func (b *Bank) prepare(tx *solana.Transaction, slot uint64) ([]Program, []solana.Pubkey, error) {
	if len(tx.Instructions) == 0 {
		return nil, nil, ErrNoInstructions
	}
	if !solana.Verify(tx.Payer, tx.Message(), tx.Signature) {
		return nil, nil, ErrSignatureInvalid
	}
	if tx.RecentSlot > slot || slot-tx.RecentSlot > b.opts.MaxRecentSlotAge {
		return nil, nil, fmt.Errorf("%w: recent slot %d, current slot %d", ErrRecentSlotExpired, tx.RecentSlot, slot)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	programs := make([]Program, len(tx.Instructions))
	seen := make(map[solana.Pubkey]struct{})
	var keys []solana.Pubkey
	for i, ix := range tx.Instructions {
		prog, ok := b.programs[ix.ProgramID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrProgramNotFound, ix.ProgramID)
		}
		programs[i] = prog
		for _, meta := range ix.Accounts {
			if meta.IsSigner && meta.Pubkey != tx.Payer {
				return nil, nil, fmt.Errorf("%w: %s", ErrSignerMismatch, meta.Pubkey)
			}
			if _, ok := seen[meta.Pubkey]; !ok {
				seen[meta.Pubkey] = struct{}{}
				keys = append(keys, meta.Pubkey)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return programs, keys, nil
}

// reserve marks a signature in flight. Signatures older than the recent slot
// window can no longer be replayed, so they are pruned.
func (b *Bank) reserve(sig solana.Signature) error {
	b.sigMu.Lock()
	defer b.sigMu.Unlock()

	if _, ok := b.processed[sig]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig)
	}
	b.processed[sig] = sigState{}

	current := b.clock.Now().Slot
	for s, st := range b.processed {
		if st.committed && current > st.slot+b.opts.MaxRecentSlotAge {
			delete(b.processed, s)
		}
	}
	return nil
}

// commit records a signature as processed at slot.
func (b *Bank) commit(sig solana.Signature, slot uint64) {
	b.sigMu.Lock()
	defer b.sigMu.Unlock()
	b.processed[sig] = sigState{slot: slot, committed: true}
}

// release forgets a signature whose transaction was not committed.
func (b *Bank) release(sig solana.Signature) {
	b.sigMu.Lock()
	defer b.sigMu.Unlock()
	delete(b.processed, sig)
}

func (b *Bank) notify(changed storage.AccountWrites, slot uint64) {
	if len(changed) == 0 {
		return
	}
	b.mu.RLock()
	listeners := append([]AccountListener(nil), b.listeners...)
	b.mu.RUnlock()

	for pk, info := range changed {
		for _, l := range listeners {
			l(pk, copyAccount(info), slot)
		}
	}
}

func metaIndex(metas []solana.AccountMeta) map[solana.Pubkey]solana.AccountMeta {
	out := make(map[solana.Pubkey]solana.AccountMeta, len(metas))
	for _, m := range metas {
		// The same account may appear twice; the widest permission wins.
		prev := out[m.Pubkey]
		m.IsSigner = m.IsSigner || prev.IsSigner
		m.IsWritable = m.IsWritable || prev.IsWritable
		out[m.Pubkey] = m
	}
	return out
}
