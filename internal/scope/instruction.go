package scope

import (
	"encoding/binary"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// Instruction tags, the first byte of instruction data.
const (
	TagInitialize byte = iota
	TagUpdateMapping
	TagRefreshOnePrice
	TagRefreshBatchPrices
	TagRefreshPriceList
)

// Fixed account positions shared by the refresh instructions; the source
// records follow in slot order.
const (
	refreshAccConfiguration = iota
	refreshAccMappings
	refreshAccPrices
	refreshAccSources
)

// Account positions of the admin instructions.
const (
	adminAccAdmin = iota
	adminAccProgram
	adminAccProgramData
	adminAccConfiguration
	adminAccMappings
	adminAccPrices // initialize only
)

// updateAccSource is the position of the new source record in UpdateMapping.
const updateAccSource = adminAccPrices

// NewInitializeInstruction creates the feed's configuration, mappings and prices accounts.
func NewInitializeInstruction(addrs *Addresses, admin solana.Pubkey, feed string) solana.Instruction {
	data := []byte{TagInitialize}
	data = binary.LittleEndian.AppendUint32(data, uint32(len(feed)))
	data = append(data, feed...)
	return solana.Instruction{
		ProgramID: addrs.Program,
		Accounts: []solana.AccountMeta{
			solana.Meta(admin, true, true),
			solana.Meta(addrs.Program, false, false),
			solana.Meta(addrs.ProgramData, false, false),
			solana.Meta(addrs.Configuration, false, true),
			solana.Meta(addrs.Mappings, false, true),
			solana.Meta(addrs.Prices, false, true),
		},
		Data: data,
	}
}

// NewUpdateMappingInstruction installs source as the record of slot index.
// A zero source clears the slot.
func NewUpdateMappingInstruction(addrs *Addresses, admin solana.Pubkey, index uint16, oracleType domain.OracleType, source solana.Pubkey) solana.Instruction {
	data := []byte{TagUpdateMapping}
	data = binary.LittleEndian.AppendUint16(data, index)
	data = append(data, byte(oracleType))
	return solana.Instruction{
		ProgramID: addrs.Program,
		Accounts: []solana.AccountMeta{
			solana.Meta(admin, true, false),
			solana.Meta(addrs.Program, false, false),
			solana.Meta(addrs.ProgramData, false, false),
			solana.Meta(addrs.Configuration, false, false),
			solana.Meta(addrs.Mappings, false, true),
			solana.Meta(source, false, false),
		},
		Data: data,
	}
}

// NewRefreshOneInstruction refreshes slot index from source.
func NewRefreshOneInstruction(addrs *Addresses, index uint16, source solana.Pubkey) solana.Instruction {
	data := []byte{TagRefreshOnePrice}
	data = binary.LittleEndian.AppendUint16(data, index)
	return refreshInstruction(addrs, data, []solana.Pubkey{source})
}

// NewRefreshBatchInstruction refreshes the BatchSize slots starting at first.
func NewRefreshBatchInstruction(addrs *Addresses, first uint16, sources [domain.BatchSize]solana.Pubkey) solana.Instruction {
	data := []byte{TagRefreshBatchPrices}
	data = binary.LittleEndian.AppendUint16(data, first)
	return refreshInstruction(addrs, data, sources[:])
}

// NewRefreshListInstruction refreshes the listed slots; sources[i] backs indices[i].
func NewRefreshListInstruction(addrs *Addresses, indices []uint16, sources []solana.Pubkey) solana.Instruction {
	data := []byte{TagRefreshPriceList}
	data = binary.LittleEndian.AppendUint16(data, uint16(len(indices)))
	for _, idx := range indices {
		data = binary.LittleEndian.AppendUint16(data, idx)
	}
	return refreshInstruction(addrs, data, sources)
}

func refreshInstruction(addrs *Addresses, data []byte, sources []solana.Pubkey) solana.Instruction {
	accounts := []solana.AccountMeta{
		solana.Meta(addrs.Configuration, false, false),
		solana.Meta(addrs.Mappings, false, false),
		solana.Meta(addrs.Prices, false, true),
	}
	for _, src := range sources {
		accounts = append(accounts, solana.Meta(src, false, false))
	}
	return solana.Instruction{ProgramID: addrs.Program, Accounts: accounts, Data: data}
}

// instructionReader decodes instruction arguments. Any short read yields
// ErrInvalidInstruction.
type instructionReader struct {
	data []byte
	ok   bool
}

func newInstructionReader(data []byte) *instructionReader {
	return &instructionReader{data: data, ok: true}
}

// take returns the next n bytes. On a short read it returns zeroes for the
// fixed-width helpers and nil for longer fields.
func (r *instructionReader) take(n int) []byte {
	if !r.ok || n < 0 || len(r.data) < n {
		r.ok = false
		if n > 8 || n < 0 {
			return nil
		}
		return make([]byte, n)
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *instructionReader) u8() byte {
	return r.take(1)[0]
}

func (r *instructionReader) u16() uint16 {
	return binary.LittleEndian.Uint16(r.take(2))
}

func (r *instructionReader) u32() uint32 {
	return binary.LittleEndian.Uint32(r.take(4))
}

// done reports a decoding error, including trailing bytes.
func (r *instructionReader) done() error {
	if !r.ok {
		return domain.Errorf(domain.ErrInvalidInstruction, "instruction data too short")
	}
	if len(r.data) != 0 {
		return domain.Errorf(domain.ErrInvalidInstruction, "%d trailing bytes", len(r.data))
	}
	return nil
}
