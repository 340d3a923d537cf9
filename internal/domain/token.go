package domain

import (
	"fmt"
	"sort"

	"github.com/vuittont60/scope/internal/solana"
)

// OracleType identifies the external price record family of a slot.
type OracleType uint8

const (
	OracleTypePyth OracleType = iota
	OracleTypeSwitchboardV1
	OracleTypeSwitchboardV2
	OracleTypeSplStake
)

var oracleTypeNames = map[OracleType]string{
	OracleTypePyth:          "pyth",
	OracleTypeSwitchboardV1: "switchboard_v1",
	OracleTypeSwitchboardV2: "switchboard_v2",
	OracleTypeSplStake:      "spl_stake",
}

// String returns the configuration name of the oracle type.
func (t OracleType) String() string {
	if name, ok := oracleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// IsValid checks if the oracle type is a known value.
func (t OracleType) IsValid() bool {
	_, ok := oracleTypeNames[t]
	return ok
}

// ParseOracleType parses a configuration name. An empty name means Pyth.
func ParseOracleType(s string) (OracleType, error) {
	if s == "" {
		return OracleTypePyth, nil
	}
	for t, name := range oracleTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown oracle type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t OracleType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown oracle type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OracleType) UnmarshalText(text []byte) error {
	parsed, err := ParseOracleType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenConf is the off-ledger configuration of one slot.
type TokenConf struct {
	TokenPair     string        `yaml:"token_pair" json:"token_pair"`
	OracleMapping solana.Pubkey `yaml:"oracle_mapping" json:"oracle_mapping"`
	OracleType    OracleType    `yaml:"oracle_type" json:"oracle_type"`
}

// TokenConfList maps slot indices to their configuration.
type TokenConfList struct {
	Tokens map[uint16]TokenConf `yaml:"tokens" json:"tokens"`
}

// Indices returns the configured slot indices in ascending order.
func (l *TokenConfList) Indices() []uint16 {
	out := make([]uint16, 0, len(l.Tokens))
	for idx := range l.Tokens {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks slot bounds and oracle types.
func (l *TokenConfList) Validate() error {
	for _, idx := range l.Indices() {
		if err := CheckSlotIndex(int(idx)); err != nil {
			return err
		}
		conf := l.Tokens[idx]
		if !conf.OracleType.IsValid() {
			return fmt.Errorf("slot %d: unknown oracle type %d", idx, uint8(conf.OracleType))
		}
	}
	return nil
}
