package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an account address in bytes.
const PubkeyLength = 32

// Well-known program IDs.
const (
	// BPFLoaderUpgradeable owns the ProgramData accounts holding upgrade authorities.
	BPFLoaderUpgradeable = "BPFLoaderUpgradeab1e11111111111111111111111"
	// SystemProgram owns freshly allocated accounts.
	SystemProgram = "11111111111111111111111111111111"
	// SysvarClock is the clock sysvar address.
	SysvarClock = "SysvarC1ock11111111111111111111111111111111"
)

const pdaMarker = "ProgramDerivedAddress"

// ErrInvalidPubkey is returned when a string does not decode to a 32-byte key.
var ErrInvalidPubkey = errors.New("invalid pubkey")

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// Pubkey is a 32-byte account address. The zero value is the "unset" sentinel.
type Pubkey [PubkeyLength]byte

// PubkeyFromString decodes a base58 address.
func PubkeyFromString(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(decoded) != PubkeyLength {
		return pk, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPubkey, s, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustPubkey decodes a base58 address and panics on failure.
// Only use with compile-time constants.
func MustPubkey(s string) Pubkey {
	pk, err := PubkeyFromString(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies the first 32 bytes of b into a Pubkey.
func PubkeyFromBytes(b []byte) Pubkey {
	var pk Pubkey
	copy(pk[:], b)
	return pk
}

// String returns the base58 form.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the unset sentinel.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// An empty string decodes to the zero key.
func (p *Pubkey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Pubkey{}
		return nil
	}
	pk, err := PubkeyFromString(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// FindProgramAddress derives a Program Derived Address and its bump seed.
//
// The candidate is sha256(seeds || bump || programID || "ProgramDerivedAddress"),
// tried from bump 255 downwards until the hash is not a valid ed25519 point.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID[:]...)
		data = append(data, []byte(pdaMarker)...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return Pubkey(hash), bump, nil
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}

// FindProgramDataAddress returns the ProgramData account of an upgradeable program.
func FindProgramDataAddress(programID Pubkey) (Pubkey, error) {
	addr, _, err := FindProgramAddress([][]byte{programID[:]}, MustPubkey(BPFLoaderUpgradeable))
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != PubkeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
