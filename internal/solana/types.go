package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// SignatureLength is the size of an ed25519 signature.
const SignatureLength = 64

// Signature is a transaction signature. Its base58 form identifies the transaction.
type Signature [SignatureLength]byte

// String returns the base58 form.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// AccountInfo holds the state of one ledger account.
type AccountInfo struct {
	Lamports   uint64
	Owner      Pubkey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Clock mirrors the clock sysvar.
type Clock struct {
	Slot                uint64 `json:"slot"`
	EpochStartTimestamp int64  `json:"epochStartTimestamp"`
	Epoch               uint64 `json:"epoch"`
	LeaderScheduleEpoch uint64 `json:"leaderScheduleEpoch"`
	UnixTimestamp       int64  `json:"unixTimestamp"`
}

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Meta builds an AccountMeta.
func Meta(pk Pubkey, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: signer, IsWritable: writable}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction is a signed, atomically executed list of instructions.
// The payer is the only signer.
type Transaction struct {
	Payer        Pubkey
	RecentSlot   uint64
	Instructions []Instruction
	Signature    Signature
}

// NewTransaction builds and signs a transaction.
func NewTransaction(payer *Keypair, recentSlot uint64, ixs ...Instruction) *Transaction {
	tx := &Transaction{
		Payer:        payer.PublicKey(),
		RecentSlot:   recentSlot,
		Instructions: ixs,
	}
	tx.Signature = payer.Sign(tx.Message())
	return tx
}

// Message returns the bytes covered by the signature.
//
// Layout: payer(32) | recent_slot(u64) | n_ix(u16) | per instruction:
// program(32) | n_accounts(u16) | (pubkey(32) | flags(u8))* | len(u32) | data.
func (tx *Transaction) Message() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, tx.Payer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.RecentSlot)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		buf = append(buf, ix.ProgramID[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Accounts)))
		for _, acc := range ix.Accounts {
			buf = append(buf, acc.Pubkey[:]...)
			var flags byte
			if acc.IsSigner {
				flags |= 1
			}
			if acc.IsWritable {
				flags |= 2
			}
			buf = append(buf, flags)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Serialize returns message || signature.
func (tx *Transaction) Serialize() []byte {
	msg := tx.Message()
	return append(msg, tx.Signature[:]...)
}

// ErrMalformedTransaction is returned when wire bytes do not decode.
var ErrMalformedTransaction = errors.New("malformed transaction")

// DeserializeTransaction parses the output of Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	r := &reader{buf: data}
	tx := &Transaction{}
	copy(tx.Payer[:], r.next(PubkeyLength))
	tx.RecentSlot = r.u64()
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		var ix Instruction
		copy(ix.ProgramID[:], r.next(PubkeyLength))
		na := int(r.u16())
		for j := 0; j < na && r.err == nil; j++ {
			var meta AccountMeta
			copy(meta.Pubkey[:], r.next(PubkeyLength))
			flags := r.u8()
			meta.IsSigner = flags&1 != 0
			meta.IsWritable = flags&2 != 0
			ix.Accounts = append(ix.Accounts, meta)
		}
		dl := int(r.u32())
		ix.Data = append([]byte(nil), r.next(dl)...)
		tx.Instructions = append(tx.Instructions, ix)
	}
	copy(tx.Signature[:], r.next(SignatureLength))
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, len(data)-r.off)
	}
	return tx, nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedTransaction, r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Receipt is returned for a confirmed transaction.
type Receipt struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	Logs      []string `json:"logs"`
	// Skipped lists price slots whose refresh was a no-op because the slot is unset.
	Skipped []uint16 `json:"skipped,omitempty"`
}

// TransactionError is a transaction rejected by the ledger.
// Code is the program error code when a program failed, zero otherwise.
type TransactionError struct {
	Code    uint32
	Message string
	Logs    []string
}

func (e *TransactionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transaction failed: custom program error 0x%x: %s", e.Code, e.Message)
	}
	return "transaction failed: " + e.Message
}

// LogSummary joins the program logs for diagnostics.
func (e *TransactionError) LogSummary() string {
	return strings.Join(e.Logs, "; ")
}
