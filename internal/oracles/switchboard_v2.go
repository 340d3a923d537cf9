package oracles

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// SwitchboardV2Discriminator prefixes every Switchboard v2 aggregator account.
var SwitchboardV2Discriminator = [8]byte{217, 230, 65, 101, 201, 162, 27, 125}

// SwitchboardV2AccountSize is the discriminator plus the packed AggregatorAccountData.
const SwitchboardV2AccountSize = 8 + 3851

// Offsets into the packed AggregatorAccountData, after the discriminator.
const (
	sbv2OffMinOracleResults   = 228
	sbv2OffRound              = 333
	sbv2OffNumSuccess         = sbv2OffRound + 0
	sbv2OffNumError           = sbv2OffRound + 4
	sbv2OffIsClosed           = sbv2OffRound + 8
	sbv2OffRoundOpenSlot      = sbv2OffRound + 9
	sbv2OffRoundOpenTimestamp = sbv2OffRound + 17
	sbv2OffResult             = sbv2OffRound + 25
	sbv2OffStdDeviation       = sbv2OffRound + 45
	sbv2MinDataLen            = sbv2OffStdDeviation + 20

	// std_deviation × sbv2DeviationFactor must not exceed the result (2%).
	sbv2DeviationFactor = 50

	// SwitchboardMaxScale is the largest scale of a Switchboard decimal.
	SwitchboardMaxScale = 28
)

// SwitchboardDecimal is mantissa × 10^-scale with a 128-bit signed mantissa.
type SwitchboardDecimal struct {
	Mantissa *big.Int
	Scale    uint32
}

// NewSwitchboardDecimal builds a decimal from an int64 mantissa.
func NewSwitchboardDecimal(mantissa int64, scale uint32) SwitchboardDecimal {
	return SwitchboardDecimal{Mantissa: big.NewInt(mantissa), Scale: scale}
}

// SwitchboardV2Aggregator holds the fields of latest_confirmed_round the adapter reads.
type SwitchboardV2Aggregator struct {
	MinOracleResults   uint32
	NumSuccess         uint32
	NumError           uint32
	IsClosed           bool
	RoundOpenSlot      uint64
	RoundOpenTimestamp int64
	Result             SwitchboardDecimal
	StdDeviation       SwitchboardDecimal
}

// DecodeSwitchboardV2 reads a Switchboard v2 aggregator account.
func DecodeSwitchboardV2(data []byte) (*SwitchboardV2Aggregator, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], SwitchboardV2Discriminator[:]) {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v2: bad discriminator")
	}
	body := data[8:]
	if len(body) < sbv2MinDataLen {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v2: account is %d bytes", len(data))
	}
	result, err := readDecimal(body[sbv2OffResult:])
	if err != nil {
		return nil, err
	}
	stdDev, err := readDecimal(body[sbv2OffStdDeviation:])
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	return &SwitchboardV2Aggregator{
		MinOracleResults:   le.Uint32(body[sbv2OffMinOracleResults:]),
		NumSuccess:         le.Uint32(body[sbv2OffNumSuccess:]),
		NumError:           le.Uint32(body[sbv2OffNumError:]),
		IsClosed:           body[sbv2OffIsClosed] != 0,
		RoundOpenSlot:      le.Uint64(body[sbv2OffRoundOpenSlot:]),
		RoundOpenTimestamp: int64(le.Uint64(body[sbv2OffRoundOpenTimestamp:])),
		Result:             result,
		StdDeviation:       stdDev,
	}, nil
}

// Encode writes the aggregator into a full-size account buffer.
func (agg *SwitchboardV2Aggregator) Encode() []byte {
	data := make([]byte, SwitchboardV2AccountSize)
	agg.EncodeInto(data)
	return data
}

// EncodeInto overwrites the known fields of an existing account buffer.
func (agg *SwitchboardV2Aggregator) EncodeInto(data []byte) {
	copy(data, SwitchboardV2Discriminator[:])
	body := data[8:]
	le := binary.LittleEndian
	le.PutUint32(body[sbv2OffMinOracleResults:], agg.MinOracleResults)
	le.PutUint32(body[sbv2OffNumSuccess:], agg.NumSuccess)
	le.PutUint32(body[sbv2OffNumError:], agg.NumError)
	if agg.IsClosed {
		body[sbv2OffIsClosed] = 1
	} else {
		body[sbv2OffIsClosed] = 0
	}
	le.PutUint64(body[sbv2OffRoundOpenSlot:], agg.RoundOpenSlot)
	le.PutUint64(body[sbv2OffRoundOpenTimestamp:], uint64(agg.RoundOpenTimestamp))
	writeDecimal(body[sbv2OffResult:], agg.Result)
	writeDecimal(body[sbv2OffStdDeviation:], agg.StdDeviation)
}

// readDecimal decodes {mantissa i128 LE, scale u32}. Scales beyond
// SwitchboardMaxScale are rejected before any power of ten is computed.
func readDecimal(b []byte) (SwitchboardDecimal, error) {
	scale := binary.LittleEndian.Uint32(b[16:20])
	if scale > SwitchboardMaxScale {
		return SwitchboardDecimal{}, domain.Errorf(domain.ErrUnexpectedAccount,
			"switchboard v2: decimal scale %d exceeds %d", scale, SwitchboardMaxScale)
	}
	return SwitchboardDecimal{Mantissa: int128FromLE(b[:16]), Scale: scale}, nil
}

func writeDecimal(b []byte, d SwitchboardDecimal) {
	m := d.Mantissa
	if m == nil {
		m = new(big.Int)
	}
	int128ToLE(b[:16], m)
	binary.LittleEndian.PutUint32(b[16:20], d.Scale)
}

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

func int128FromLE(b []byte) *big.Int {
	be := make([]byte, 16)
	for i := range be {
		be[i] = b[15-i]
	}
	v := new(big.Int).SetBytes(be)
	if b[15]&0x80 != 0 {
		v.Sub(v, two128)
	}
	return v
}

func int128ToLE(b []byte, v *big.Int) {
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	be := u.FillBytes(make([]byte, 16))
	for i := range be {
		b[i] = be[15-i]
	}
}

func switchboardV2Price(record []byte, clock *solana.Clock) (domain.DatedPrice, error) {
	agg, err := DecodeSwitchboardV2(record)
	if err != nil {
		return domain.DatedPrice{}, err
	}
	if agg.NumSuccess < agg.MinOracleResults {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid,
			"switchboard v2: %d successful responses, need %d", agg.NumSuccess, agg.MinOracleResults)
	}
	price, err := decimalToPrice(agg.Result.Mantissa, agg.Result.Scale)
	if err != nil {
		return domain.DatedPrice{}, err
	}
	if err := checkDeviation(agg.Result, agg.StdDeviation); err != nil {
		return domain.DatedPrice{}, err
	}

	ts := clockTimestamp(clock)
	if agg.RoundOpenTimestamp > 0 {
		ts = uint64(agg.RoundOpenTimestamp)
	}
	return domain.DatedPrice{
		Price:           price,
		LastUpdatedSlot: agg.RoundOpenSlot,
		UnixTimestamp:   ts,
	}, nil
}

// checkDeviation rejects a round whose standard deviation exceeds 2% of its result.
func checkDeviation(result, stdDev SwitchboardDecimal) error {
	if stdDev.Mantissa == nil || stdDev.Mantissa.Sign() == 0 {
		return nil
	}
	// Compare at a common scale: dev × 10^rs × 50 <= res × 10^ds.
	lhs := new(big.Int).Mul(new(big.Int).Abs(stdDev.Mantissa), pow10(result.Scale))
	lhs.Mul(lhs, big.NewInt(sbv2DeviationFactor))
	rhs := new(big.Int).Mul(result.Mantissa, pow10(stdDev.Scale))
	if lhs.Cmp(rhs) > 0 {
		return domain.Errorf(domain.ErrPriceNotValid, "switchboard v2: deviation %s (scale %d) too wide for result %s (scale %d)",
			stdDev.Mantissa, stdDev.Scale, result.Mantissa, result.Scale)
	}
	return nil
}
