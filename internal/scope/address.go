package scope

import (
	"fmt"

	"github.com/vuittont60/scope/internal/solana"
)

// PDA seeds.
const (
	seedConfiguration = "conf"
	seedMappings      = "mappings"
	seedPrices        = "prices"

	// MaxFeedNameLen is the longest feed name usable as a PDA seed.
	MaxFeedNameLen = 32
)

// Addresses are the accounts of one price feed.
type Addresses struct {
	Program       solana.Pubkey
	ProgramData   solana.Pubkey
	Configuration solana.Pubkey
	Mappings      solana.Pubkey
	Prices        solana.Pubkey
}

// DeriveAddresses computes the accounts of feed under programID.
func DeriveAddresses(programID solana.Pubkey, feed string) (*Addresses, error) {
	if feed == "" || len(feed) > MaxFeedNameLen {
		return nil, fmt.Errorf("feed name must be 1 to %d bytes, got %d", MaxFeedNameLen, len(feed))
	}

	programData, err := solana.FindProgramDataAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("derive program data: %w", err)
	}

	addrs := &Addresses{Program: programID, ProgramData: programData}
	for _, d := range []struct {
		seed string
		dst  *solana.Pubkey
	}{
		{seedConfiguration, &addrs.Configuration},
		{seedMappings, &addrs.Mappings},
		{seedPrices, &addrs.Prices},
	} {
		pk, _, err := solana.FindProgramAddress([][]byte{[]byte(d.seed), []byte(feed)}, programID)
		if err != nil {
			return nil, fmt.Errorf("derive %s address: %w", d.seed, err)
		}
		*d.dst = pk
	}
	return addrs, nil
}
