// Package oracles decodes external price records into normalized prices.
//
// Each supported record family owns its layout and its freshness policy.
// Errors wrap domain.ErrUnexpectedAccount, domain.ErrPriceNotValid or
// domain.ErrMathOverflow.
package oracles

import (
	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// GetPrice decodes and validates record as oracle type t.
func GetPrice(t domain.OracleType, record []byte, clock *solana.Clock) (domain.DatedPrice, error) {
	switch t {
	case domain.OracleTypePyth:
		return pythPrice(record, clock)
	case domain.OracleTypeSwitchboardV1:
		return switchboardV1Price(record, clock)
	case domain.OracleTypeSwitchboardV2:
		return switchboardV2Price(record, clock)
	case domain.OracleTypeSplStake:
		return splStakePrice(record, clock)
	default:
		return domain.DatedPrice{}, domain.Errorf(domain.ErrUnknownOracleType, "type %d", uint8(t))
	}
}

// Validate checks that record currently yields a price.
func Validate(t domain.OracleType, record []byte, clock *solana.Clock) error {
	_, err := GetPrice(t, record, clock)
	return err
}

func clockTimestamp(clock *solana.Clock) uint64 {
	if clock.UnixTimestamp < 0 {
		return 0
	}
	return uint64(clock.UnixTimestamp)
}
