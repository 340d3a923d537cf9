package solana

import (
	"encoding/binary"
	"errors"
)

// Upgradeable loader account states. The leading u32 is the bincode enum tag.
const (
	loaderStateProgram     = 2
	loaderStateProgramData = 3

	// ProgramAccountSize is the size of an upgradeable program account.
	ProgramAccountSize = 4 + PubkeyLength
	// ProgramDataHeaderSize precedes the program bytes in a ProgramData account.
	ProgramDataHeaderSize = 4 + 8 + 1 + PubkeyLength
)

// ErrNotProgramData is returned when an account is not a ProgramData account.
var ErrNotProgramData = errors.New("account is not an upgradeable ProgramData account")

// ProgramData is the header of a ProgramData account.
// UpgradeAuthority is nil once the program is immutable.
type ProgramData struct {
	Slot             uint64
	UpgradeAuthority *Pubkey
}

// EncodeProgramData serializes a ProgramData header.
func EncodeProgramData(pd *ProgramData) []byte {
	buf := make([]byte, ProgramDataHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], loaderStateProgramData)
	binary.LittleEndian.PutUint64(buf[4:], pd.Slot)
	if pd.UpgradeAuthority != nil {
		buf[12] = 1
		copy(buf[13:], pd.UpgradeAuthority[:])
	}
	return buf
}

// DecodeProgramData parses a ProgramData account.
func DecodeProgramData(data []byte) (*ProgramData, error) {
	if len(data) < 13 || binary.LittleEndian.Uint32(data) != loaderStateProgramData {
		return nil, ErrNotProgramData
	}
	pd := &ProgramData{Slot: binary.LittleEndian.Uint64(data[4:])}
	switch data[12] {
	case 0:
	case 1:
		if len(data) < ProgramDataHeaderSize {
			return nil, ErrNotProgramData
		}
		authority := PubkeyFromBytes(data[13:ProgramDataHeaderSize])
		pd.UpgradeAuthority = &authority
	default:
		return nil, ErrNotProgramData
	}
	return pd, nil
}

// EncodeProgramAccount serializes a program account pointing at its ProgramData.
func EncodeProgramAccount(programData Pubkey) []byte {
	buf := make([]byte, ProgramAccountSize)
	binary.LittleEndian.PutUint32(buf, loaderStateProgram)
	copy(buf[4:], programData[:])
	return buf
}
