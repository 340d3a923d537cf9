// Package localnettest runs a localnet on the in-memory store for tests.
package localnettest

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/localnet"
	"github.com/vuittont60/scope/internal/mockoracle"
	"github.com/vuittont60/scope/internal/scope"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage/memory"
)

// Feed is the feed name used by the harness.
const Feed = "test"

// Genesis is the clock the harness starts from.
var Genesis = solana.Clock{Slot: 1000, UnixTimestamp: 1_700_000_000}

// Harness is a localnet with the mock oracle enabled and an admin keypair
// that holds the scope upgrade authority.
type Harness struct {
	T      testing.TB
	Ctx    context.Context
	Net    *localnet.Localnet
	Client *localnet.Client
	Store  *memory.AccountStore
	Clock  *ledger.ManualClock
	Admin  *solana.Keypair
	Addrs  *scope.Addresses
	MockID solana.Pubkey
}

// Keypair derives a deterministic keypair from b.
func Keypair(t testing.TB, b byte) *solana.Keypair {
	t.Helper()
	kp, err := solana.KeypairFromSeed(bytes.Repeat([]byte{b}, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}
	return kp
}

// New starts a localnet. The feed is not initialized.
func New(t testing.TB) *Harness {
	t.Helper()
	ctx := context.Background()
	admin := Keypair(t, 1)
	scopeID := Keypair(t, 2).PublicKey()
	mockID := Keypair(t, 3).PublicKey()

	store := memory.NewAccountStore()
	clock := ledger.NewManualClock(Genesis)
	net, err := localnet.Start(ctx, store, clock, localnet.Config{
		ScopeProgramID:   scopeID,
		Authority:        admin.PublicKey(),
		EnableMockOracle: true,
		MockProgramID:    mockID,
		StoreName:        "memory",
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("localnet.Start: %v", err)
	}
	addrs, err := scope.DeriveAddresses(scopeID, Feed)
	if err != nil {
		t.Fatalf("DeriveAddresses: %v", err)
	}

	return &Harness{
		T:      t,
		Ctx:    ctx,
		Net:    net,
		Client: localnet.NewClient(net.Bank),
		Store:  store,
		Clock:  clock,
		Admin:  admin,
		Addrs:  addrs,
		MockID: mockID,
	}
}

// Send signs ixs with the admin keypair and executes them, then advances the
// clock one slot and one second.
func (h *Harness) Send(ixs ...solana.Instruction) (*solana.Receipt, error) {
	return h.SendAs(h.Admin, ixs...)
}

// SendAs signs ixs with payer and executes them.
func (h *Harness) SendAs(payer *solana.Keypair, ixs ...solana.Instruction) (*solana.Receipt, error) {
	h.T.Helper()
	tx := solana.NewTransaction(payer, h.Clock.Now().Slot, ixs...)
	receipt, err := h.Net.Bank.ProcessTransaction(h.Ctx, tx)
	h.Clock.Advance(1, 1)
	return receipt, err
}

// MustSend is Send that fails the test on error.
func (h *Harness) MustSend(ixs ...solana.Instruction) *solana.Receipt {
	h.T.Helper()
	receipt, err := h.Send(ixs...)
	if err != nil {
		h.T.Fatalf("transaction failed: %v", err)
	}
	return receipt
}

// Initialize creates the feed accounts.
func (h *Harness) Initialize() {
	h.T.Helper()
	h.MustSend(scope.NewInitializeInstruction(h.Addrs, h.Admin.PublicKey(), Feed))
}

// Record returns the address of a named mock record.
func (h *Harness) Record(name string) solana.Pubkey {
	h.T.Helper()
	pk, err := mockoracle.RecordAddress(h.MockID, name)
	if err != nil {
		h.T.Fatalf("RecordAddress: %v", err)
	}
	return pk
}

// PythRecord writes a trading Pyth record with a tight confidence interval.
func (h *Harness) PythRecord(name string, price int64, expo int32) solana.Pubkey {
	h.T.Helper()
	record := h.Record(name)
	h.MustSend(mockoracle.NewInitPythInstruction(h.MockID, h.Admin.PublicKey(), record, price, expo, 0))
	return record
}

// SwitchboardV1Record writes a confirmed Switchboard v1 aggregator.
func (h *Harness) SwitchboardV1Record(name string, result float64) solana.Pubkey {
	h.T.Helper()
	record := h.Record(name)
	h.MustSend(mockoracle.NewSetSwitchboardV1Instruction(h.MockID, h.Admin.PublicKey(), record, result, 1, 1))
	return record
}

// SwitchboardV2Record writes a confirmed Switchboard v2 aggregator without deviation.
func (h *Harness) SwitchboardV2Record(name string, mantissa int64, scale uint32) solana.Pubkey {
	h.T.Helper()
	record := h.Record(name)
	h.MustSend(mockoracle.NewSetSwitchboardV2Instruction(h.MockID, h.Admin.PublicKey(), record, mantissa, scale, 0, 1, 1))
	return record
}

// StakePoolRecord writes a stake pool updated in the current epoch.
func (h *Harness) StakePoolRecord(name string, totalLamports, poolTokenSupply uint64) solana.Pubkey {
	h.T.Helper()
	record := h.Record(name)
	epoch := h.Clock.Now().Epoch
	h.MustSend(mockoracle.NewSetStakePoolInstruction(h.MockID, h.Admin.PublicKey(), record, totalLamports, poolTokenSupply, epoch))
	return record
}

// MapSlot points slot index at record.
func (h *Harness) MapSlot(index uint16, oracleType domain.OracleType, record solana.Pubkey) {
	h.T.Helper()
	h.MustSend(scope.NewUpdateMappingInstruction(h.Addrs, h.Admin.PublicKey(), index, oracleType, record))
}

// Mappings reads the feed's mapping account.
func (h *Harness) Mappings() *scope.OracleMappings {
	h.T.Helper()
	acc := h.account(h.Addrs.Mappings)
	m, err := scope.DecodeOracleMappings(acc.Data)
	if err != nil {
		h.T.Fatalf("DecodeOracleMappings: %v", err)
	}
	return m
}

// Prices reads the feed's price account.
func (h *Harness) Prices() *scope.OraclePrices {
	h.T.Helper()
	acc := h.account(h.Addrs.Prices)
	p, err := scope.DecodeOraclePrices(acc.Data)
	if err != nil {
		h.T.Fatalf("DecodeOraclePrices: %v", err)
	}
	return p
}

func (h *Harness) account(address solana.Pubkey) *solana.AccountInfo {
	h.T.Helper()
	acc, err := h.Net.Bank.GetAccount(h.Ctx, address)
	if err != nil {
		h.T.Fatalf("GetAccount %s: %v", address, err)
	}
	if acc == nil {
		h.T.Fatalf("account %s does not exist", address)
	}
	return acc
}
