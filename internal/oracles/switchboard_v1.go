package oracles

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// Switchboard v1 aggregator accounts: one type byte followed by a
// length-delimited protobuf AggregatorState.
const (
	SwitchboardV1TypeAggregator = 1
	SwitchboardV1AccountSize    = 512

	// switchboardV1Decimals is the fixed precision the float result is rescaled to.
	switchboardV1Decimals = 8
)

// Protobuf field numbers.
const (
	sbv1StateVersion         protowire.Number = 1
	sbv1StateConfigs         protowire.Number = 2
	sbv1StateLastRoundResult protowire.Number = 7

	sbv1ConfigsMinConfirmations protowire.Number = 1

	sbv1RoundNumSuccess    protowire.Number = 1
	sbv1RoundNumError      protowire.Number = 2
	sbv1RoundResult        protowire.Number = 3
	sbv1RoundOpenSlot      protowire.Number = 4
	sbv1RoundOpenTimestamp protowire.Number = 5
)

// SwitchboardV1Aggregator holds the AggregatorState fields the adapter reads.
type SwitchboardV1Aggregator struct {
	Version            int32
	MinConfirmations   int32
	NumSuccess         int32
	NumError           int32
	Result             float64
	RoundOpenSlot      uint64
	RoundOpenTimestamp int64
}

// DecodeSwitchboardV1 reads a Switchboard v1 aggregator account.
func DecodeSwitchboardV1(data []byte) (*SwitchboardV1Aggregator, error) {
	if len(data) < 2 || data[0] != SwitchboardV1TypeAggregator {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v1: not an aggregator account")
	}
	msg, n := protowire.ConsumeBytes(data[1:])
	if n < 0 {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v1: %v", protowire.ParseError(n))
	}

	agg := &SwitchboardV1Aggregator{}
	err := walkFields(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == sbv1StateVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			agg.Version = int32(v)
			return n, nil
		case num == sbv1StateConfigs && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, walkFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == sbv1ConfigsMinConfirmations && typ == protowire.VarintType {
					v, n := protowire.ConsumeVarint(b)
					agg.MinConfirmations = int32(v)
					return n, nil
				}
				return protowire.ConsumeFieldValue(num, typ, b), nil
			})
		case num == sbv1StateLastRoundResult && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, walkFields(sub, agg.readRound)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (agg *SwitchboardV1Aggregator) readRound(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == sbv1RoundNumSuccess && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		agg.NumSuccess = int32(v)
		return n, nil
	case num == sbv1RoundNumError && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		agg.NumError = int32(v)
		return n, nil
	case num == sbv1RoundResult && typ == protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		agg.Result = math.Float64frombits(v)
		return n, nil
	case num == sbv1RoundOpenSlot && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		agg.RoundOpenSlot = v
		return n, nil
	case num == sbv1RoundOpenTimestamp && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		agg.RoundOpenTimestamp = int64(v)
		return n, nil
	default:
		return protowire.ConsumeFieldValue(num, typ, b), nil
	}
}

// walkFields calls fn for every field of a protobuf message.
// fn returns the number of value bytes it consumed.
func walkFields(msg []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) (int, error)) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v1: %v", protowire.ParseError(n))
		}
		msg = msg[n:]
		m, err := fn(num, typ, msg)
		if err != nil {
			return err
		}
		if m < 0 {
			return domain.Errorf(domain.ErrUnexpectedAccount, "switchboard v1: field %d: %v", num, protowire.ParseError(m))
		}
		msg = msg[m:]
	}
	return nil
}

// Encode writes the aggregator into a full-size account buffer.
func (agg *SwitchboardV1Aggregator) Encode() []byte {
	var configs []byte
	configs = protowire.AppendTag(configs, sbv1ConfigsMinConfirmations, protowire.VarintType)
	configs = protowire.AppendVarint(configs, uint64(agg.MinConfirmations))

	var round []byte
	round = protowire.AppendTag(round, sbv1RoundNumSuccess, protowire.VarintType)
	round = protowire.AppendVarint(round, uint64(agg.NumSuccess))
	round = protowire.AppendTag(round, sbv1RoundNumError, protowire.VarintType)
	round = protowire.AppendVarint(round, uint64(agg.NumError))
	round = protowire.AppendTag(round, sbv1RoundResult, protowire.Fixed64Type)
	round = protowire.AppendFixed64(round, math.Float64bits(agg.Result))
	round = protowire.AppendTag(round, sbv1RoundOpenSlot, protowire.VarintType)
	round = protowire.AppendVarint(round, agg.RoundOpenSlot)
	round = protowire.AppendTag(round, sbv1RoundOpenTimestamp, protowire.VarintType)
	round = protowire.AppendVarint(round, uint64(agg.RoundOpenTimestamp))

	var state []byte
	state = protowire.AppendTag(state, sbv1StateVersion, protowire.VarintType)
	state = protowire.AppendVarint(state, uint64(agg.Version))
	state = protowire.AppendTag(state, sbv1StateConfigs, protowire.BytesType)
	state = protowire.AppendBytes(state, configs)
	state = protowire.AppendTag(state, sbv1StateLastRoundResult, protowire.BytesType)
	state = protowire.AppendBytes(state, round)

	data := make([]byte, 1, SwitchboardV1AccountSize)
	data[0] = SwitchboardV1TypeAggregator
	data = protowire.AppendBytes(data, state)
	if len(data) < SwitchboardV1AccountSize {
		data = data[:SwitchboardV1AccountSize]
	}
	return data
}

func switchboardV1Price(record []byte, clock *solana.Clock) (domain.DatedPrice, error) {
	agg, err := DecodeSwitchboardV1(record)
	if err != nil {
		return domain.DatedPrice{}, err
	}
	if agg.NumSuccess < agg.MinConfirmations {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid,
			"switchboard v1: %d successful responses, need %d", agg.NumSuccess, agg.MinConfirmations)
	}
	if math.IsNaN(agg.Result) || math.IsInf(agg.Result, 0) || agg.Result <= 0 {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "switchboard v1: result %v", agg.Result)
	}
	scaled := math.Round(agg.Result * math.Pow10(switchboardV1Decimals))
	if scaled >= math.MaxUint64 {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrMathOverflow, "switchboard v1: result %v does not fit", agg.Result)
	}

	ts := clockTimestamp(clock)
	if agg.RoundOpenTimestamp > 0 {
		ts = uint64(agg.RoundOpenTimestamp)
	}
	return domain.DatedPrice{
		Price:           domain.Price{Value: uint64(scaled), Exp: switchboardV1Decimals},
		LastUpdatedSlot: agg.RoundOpenSlot,
		UnixTimestamp:   ts,
	}, nil
}
