// Package mockoracle is a localnet program that writes source records in the
// layouts the scope adapters read: Pyth prices, Switchboard v1 and v2 aggregators
// and SPL stake pools. Every write stamps the record with the current slot.
package mockoracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/oracles"
	"github.com/vuittont60/scope/internal/solana"
)

// Instruction tags.
const (
	TagInitPyth byte = iota
	TagSetPythPrice
	TagSetPythTrading
	TagSetPythTwap
	TagSetPythConfidence
	TagSetSwitchboardV1
	TagSetSwitchboardV2
	TagSetStakePool
)

var (
	// ErrInvalidInstruction is returned for undecodable instruction data.
	ErrInvalidInstruction = errors.New("mock oracle: invalid instruction")
	// ErrMissingSigner is returned when the payer did not sign.
	ErrMissingSigner = errors.New("mock oracle: payer must sign")
	// ErrRecordMissing is returned by setters on a record that was never initialized.
	ErrRecordMissing = errors.New("mock oracle: record not initialized")
)

const seedRecord = "record"

// RecordAddress derives the address of a named record.
func RecordAddress(programID solana.Pubkey, name string) (solana.Pubkey, error) {
	pk, _, err := solana.FindProgramAddress([][]byte{[]byte(seedRecord), []byte(name)}, programID)
	return pk, err
}

// Program is the mock oracle program.
type Program struct {
	id  solana.Pubkey
	log zerolog.Logger
}

// NewProgram creates the mock oracle program deployed at id.
func NewProgram(id solana.Pubkey, logger zerolog.Logger) *Program {
	return &Program{id: id, log: logger.With().Str("component", "mock_oracle").Logger()}
}

var _ ledger.Program = (*Program)(nil)

// ID returns the program address.
func (p *Program) ID() solana.Pubkey { return p.id }

// Name returns the program name used in logs and metrics.
func (p *Program) Name() string { return "mock_oracle" }

// Process executes one instruction. Accounts: [payer (signer), record (writable)].
func (p *Program) Process(ic *ledger.InvokeContext, ix *solana.Instruction) error {
	if len(ix.Accounts) < 2 || len(ix.Data) == 0 {
		return ErrInvalidInstruction
	}
	if !ic.IsSigner(ix.Accounts[0].Pubkey) {
		return ErrMissingSigner
	}
	record := ix.Accounts[1].Pubkey
	clock := ic.Clock()
	args := ix.Data[1:]

	var data []byte
	switch tag := ix.Data[0]; tag {
	case TagInitPyth:
		if len(args) != 20 {
			return ErrInvalidInstruction
		}
		price := oracles.NewPythPrice(int64(le.Uint64(args)), int32(le.Uint32(args[8:])), le.Uint64(args[12:]), clock.Slot)
		data = price.Encode()

	case TagSetPythPrice, TagSetPythTrading, TagSetPythTwap, TagSetPythConfidence:
		existing := ic.Account(record)
		if existing == nil || existing.Owner != p.id {
			return fmt.Errorf("%w: %s", ErrRecordMissing, record)
		}
		price, err := oracles.DecodePythPrice(existing.Data)
		if err != nil {
			return err
		}
		if err := applyPythSetter(price, tag, args); err != nil {
			return err
		}
		price.ValidSlot = clock.Slot
		price.PubSlot = clock.Slot
		data = existing.Data
		price.EncodeInto(data)

	case TagSetSwitchboardV1:
		if len(args) != 16 {
			return ErrInvalidInstruction
		}
		agg := &oracles.SwitchboardV1Aggregator{
			Version:            1,
			Result:             math.Float64frombits(le.Uint64(args)),
			MinConfirmations:   int32(le.Uint32(args[8:])),
			NumSuccess:         int32(le.Uint32(args[12:])),
			RoundOpenSlot:      clock.Slot,
			RoundOpenTimestamp: clock.UnixTimestamp,
		}
		data = agg.Encode()

	case TagSetSwitchboardV2:
		if len(args) != 28 {
			return ErrInvalidInstruction
		}
		agg := &oracles.SwitchboardV2Aggregator{
			Result:             oracles.NewSwitchboardDecimal(int64(le.Uint64(args)), le.Uint32(args[8:])),
			StdDeviation:       oracles.NewSwitchboardDecimal(int64(le.Uint64(args[12:])), le.Uint32(args[8:])),
			NumSuccess:         le.Uint32(args[20:]),
			MinOracleResults:   le.Uint32(args[24:]),
			RoundOpenSlot:      clock.Slot,
			RoundOpenTimestamp: clock.UnixTimestamp,
		}
		data = agg.Encode()

	case TagSetStakePool:
		if len(args) != 24 {
			return ErrInvalidInstruction
		}
		pool := &oracles.StakePool{
			AccountType:     oracles.SplStakeAccountTypePool,
			TotalLamports:   le.Uint64(args),
			PoolTokenSupply: le.Uint64(args[8:]),
			LastUpdateEpoch: le.Uint64(args[16:]),
		}
		data = pool.Encode()

	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, tag)
	}

	if err := ic.SetAccount(record, &solana.AccountInfo{Lamports: 1, Owner: p.id, Data: data}); err != nil {
		return err
	}
	ic.Logf("record %s written at slot %d", record, clock.Slot)
	p.log.Debug().Stringer("record", record).Uint8("tag", ix.Data[0]).Msg("record written")
	return nil
}

var le = binary.LittleEndian

func applyPythSetter(price *oracles.PythPrice, tag byte, args []byte) error {
	switch tag {
	case TagSetPythPrice:
		if len(args) != 8 {
			return ErrInvalidInstruction
		}
		price.Price = int64(le.Uint64(args))
	case TagSetPythTrading:
		if len(args) != 4 {
			return ErrInvalidInstruction
		}
		price.Status = le.Uint32(args)
	case TagSetPythTwap:
		if len(args) != 8 {
			return ErrInvalidInstruction
		}
		price.Twap = int64(le.Uint64(args))
	case TagSetPythConfidence:
		if len(args) != 8 {
			return ErrInvalidInstruction
		}
		price.Conf = le.Uint64(args)
	}
	return nil
}
