package oracles

import (
	"encoding/binary"
	"math/bits"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// Pyth v2 price account layout.
const (
	PythMagic          = 0xa1b2c3d4
	PythVersion2       = 2
	PythAccountPrice   = 3
	PythPriceTypePrice = 1
	PythAccountSize    = 3312

	pythMinPublishers = 3
	// conf × pythConfidenceFactor must not exceed the price (2%).
	pythConfidenceFactor = 50
)

// Pyth aggregate status values.
const (
	PythStatusUnknown uint32 = iota
	PythStatusTrading
	PythStatusHalted
	PythStatusAuction
)

const (
	pythOffMagic     = 0
	pythOffVersion   = 4
	pythOffAType     = 8
	pythOffSize      = 12
	pythOffPType     = 16
	pythOffExpo      = 20
	pythOffNumQt     = 28
	pythOffValidSlot = 40
	pythOffTwap      = 48
	pythOffTwac      = 72
	pythOffAggPrice  = 208
	pythOffAggConf   = 216
	pythOffAggStatus = 224
	pythOffPubSlot   = 232
)

// PythPrice holds the fields of a Pyth price account the adapter reads.
type PythPrice struct {
	Magic       uint32
	Version     uint32
	AccountType uint32
	PriceType   uint32
	Expo        int32
	NumQuoters  uint32
	ValidSlot   uint64
	Twap        int64
	Twac        int64
	Price       int64
	Conf        uint64
	Status      uint32
	PubSlot     uint64
}

// NewPythPrice returns a trading record as written by a fresh publisher set.
func NewPythPrice(price int64, expo int32, conf uint64, slot uint64) *PythPrice {
	return &PythPrice{
		Magic:       PythMagic,
		Version:     PythVersion2,
		AccountType: PythAccountPrice,
		PriceType:   PythPriceTypePrice,
		Expo:        expo,
		NumQuoters:  pythMinPublishers,
		ValidSlot:   slot,
		Twap:        price,
		Twac:        int64(conf),
		Price:       price,
		Conf:        conf,
		Status:      PythStatusTrading,
		PubSlot:     slot,
	}
}

// DecodePythPrice reads a Pyth price account.
func DecodePythPrice(data []byte) (*PythPrice, error) {
	if len(data) < PythAccountSize {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "pyth: account is %d bytes, want %d", len(data), PythAccountSize)
	}
	le := binary.LittleEndian
	p := &PythPrice{
		Magic:       le.Uint32(data[pythOffMagic:]),
		Version:     le.Uint32(data[pythOffVersion:]),
		AccountType: le.Uint32(data[pythOffAType:]),
		PriceType:   le.Uint32(data[pythOffPType:]),
		Expo:        int32(le.Uint32(data[pythOffExpo:])),
		NumQuoters:  le.Uint32(data[pythOffNumQt:]),
		ValidSlot:   le.Uint64(data[pythOffValidSlot:]),
		Twap:        int64(le.Uint64(data[pythOffTwap:])),
		Twac:        int64(le.Uint64(data[pythOffTwac:])),
		Price:       int64(le.Uint64(data[pythOffAggPrice:])),
		Conf:        le.Uint64(data[pythOffAggConf:]),
		Status:      le.Uint32(data[pythOffAggStatus:]),
		PubSlot:     le.Uint64(data[pythOffPubSlot:]),
	}
	if p.Magic != PythMagic {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "pyth: bad magic 0x%x", p.Magic)
	}
	if p.Version != PythVersion2 {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "pyth: unsupported version %d", p.Version)
	}
	if p.AccountType != PythAccountPrice {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "pyth: account type %d is not a price", p.AccountType)
	}
	return p, nil
}

// Encode writes the record into a full-size account buffer.
func (p *PythPrice) Encode() []byte {
	data := make([]byte, PythAccountSize)
	p.EncodeInto(data)
	return data
}

// EncodeInto overwrites the known fields of an existing account buffer.
func (p *PythPrice) EncodeInto(data []byte) {
	le := binary.LittleEndian
	le.PutUint32(data[pythOffMagic:], p.Magic)
	le.PutUint32(data[pythOffVersion:], p.Version)
	le.PutUint32(data[pythOffAType:], p.AccountType)
	le.PutUint32(data[pythOffSize:], PythAccountSize)
	le.PutUint32(data[pythOffPType:], p.PriceType)
	le.PutUint32(data[pythOffExpo:], uint32(p.Expo))
	le.PutUint32(data[pythOffNumQt:], p.NumQuoters)
	le.PutUint64(data[pythOffValidSlot:], p.ValidSlot)
	le.PutUint64(data[pythOffTwap:], uint64(p.Twap))
	le.PutUint64(data[pythOffTwac:], uint64(p.Twac))
	le.PutUint64(data[pythOffAggPrice:], uint64(p.Price))
	le.PutUint64(data[pythOffAggConf:], p.Conf)
	le.PutUint32(data[pythOffAggStatus:], p.Status)
	le.PutUint64(data[pythOffPubSlot:], p.PubSlot)
}

func pythPrice(record []byte, clock *solana.Clock) (domain.DatedPrice, error) {
	p, err := DecodePythPrice(record)
	if err != nil {
		return domain.DatedPrice{}, err
	}
	if p.Status != PythStatusTrading {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "pyth: status %d is not trading", p.Status)
	}
	if p.NumQuoters < pythMinPublishers {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "pyth: %d quoting publishers, need %d", p.NumQuoters, pythMinPublishers)
	}
	if p.Price <= 0 {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "pyth: non-positive price %d", p.Price)
	}
	value := uint64(p.Price)
	hi, lo := bits.Mul64(p.Conf, pythConfidenceFactor)
	if hi != 0 || lo > value {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "pyth: confidence %d too wide for price %d", p.Conf, p.Price)
	}
	if p.Expo > 0 {
		return domain.DatedPrice{}, domain.Errorf(domain.ErrPriceNotValid, "pyth: positive exponent %d", p.Expo)
	}
	return domain.DatedPrice{
		Price:           domain.Price{Value: value, Exp: uint64(-p.Expo)},
		LastUpdatedSlot: p.ValidSlot,
		UnixTimestamp:   clockTimestamp(clock),
	}, nil
}
