package oracles

import (
	"encoding/binary"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// SPL stake pool layout: the fixed-size prefix of the Borsh StakePool.
const (
	SplStakeAccountTypePool = 1
	SplStakeAccountSize     = 611

	splStakeOffAccountType     = 0
	splStakeOffTotalLamports   = 258
	splStakeOffPoolTokenSupply = 266
	splStakeOffLastUpdateEpoch = 274
	splStakeMinLen             = 282

	// SplStakeDecimals is the exponent of the pool token price.
	SplStakeDecimals = 15
	splStakeFactor   = 1_000_000_000_000_000

	// A pool not updated this epoch is tolerated this long after the epoch starts.
	splStakeGraceSeconds = 3600
)

// StakePool holds the fields of a stake pool account the adapter reads.
type StakePool struct {
	AccountType     uint8
	TotalLamports   uint64
	PoolTokenSupply uint64
	LastUpdateEpoch uint64
}

// DecodeStakePool reads an SPL stake pool account.
func DecodeStakePool(data []byte) (*StakePool, error) {
	if len(data) < splStakeMinLen {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "spl stake: account is %d bytes", len(data))
	}
	if data[splStakeOffAccountType] != SplStakeAccountTypePool {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "spl stake: account type %d is not a stake pool", data[0])
	}
	le := binary.LittleEndian
	return &StakePool{
		AccountType:     data[splStakeOffAccountType],
		TotalLamports:   le.Uint64(data[splStakeOffTotalLamports:]),
		PoolTokenSupply: le.Uint64(data[splStakeOffPoolTokenSupply:]),
		LastUpdateEpoch: le.Uint64(data[splStakeOffLastUpdateEpoch:]),
	}, nil
}

// Encode writes the pool into a full-size account buffer.
func (p *StakePool) Encode() []byte {
	data := make([]byte, SplStakeAccountSize)
	p.EncodeInto(data)
	return data
}

// EncodeInto overwrites the known fields of an existing account buffer.
func (p *StakePool) EncodeInto(data []byte) {
	le := binary.LittleEndian
	data[splStakeOffAccountType] = p.AccountType
	le.PutUint64(data[splStakeOffTotalLamports:], p.TotalLamports)
	le.PutUint64(data[splStakeOffPoolTokenSupply:], p.PoolTokenSupply)
	le.PutUint64(data[splStakeOffLastUpdateEpoch:], p.LastUpdateEpoch)
}

// ScaledRate is the value of one pool token in lamports, scaled by 10^15.
func (p *StakePool) ScaledRate() (uint64, error) {
	return scaledRatio(splStakeFactor, p.TotalLamports, p.PoolTokenSupply)
}

// IsStale reports whether the pool missed its update this epoch for at least an hour.
func (p *StakePool) IsStale(clock *solana.Clock) bool {
	if p.LastUpdateEpoch == clock.Epoch {
		return false
	}
	return secondsSince(clock.UnixTimestamp, clock.EpochStartTimestamp) >= splStakeGraceSeconds
}

func secondsSince(now, start int64) int64 {
	if now <= start {
		return 0
	}
	return now - start
}

func splStakePrice(record []byte, clock *solana.Clock) (domain.DatedPrice, error) {
	pool, err := DecodeStakePool(record)
	if err != nil {
		return domain.DatedPrice{}, err
	}
	if pool.IsStale(clock) {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid,
			"spl stake: last updated in epoch %d, current epoch %d", pool.LastUpdateEpoch, clock.Epoch)
	}
	value, err := pool.ScaledRate()
	if err != nil {
		return domain.DatedPrice{}, err
	}
	return domain.DatedPrice{
		Price:           domain.Price{Value: value, Exp: SplStakeDecimals},
		LastUpdatedSlot: clock.Slot,
		UnixTimestamp:   clockTimestamp(clock),
	}, nil
}
