package scope

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// Account discriminators: the first 8 bytes of sha256("account:<Name>").
var (
	ConfigurationDiscriminator  = discriminator("Configuration")
	OracleMappingsDiscriminator = discriminator("OracleMappings")
	OraclePricesDiscriminator   = discriminator("OraclePrices")
)

// Account sizes including the discriminator.
const (
	ConfigurationSize  = 8 + 2*solana.PubkeyLength
	OracleMappingsSize = 8 + domain.MaxEntries*solana.PubkeyLength + domain.MaxEntries
	OraclePricesSize   = 8 + solana.PubkeyLength + domain.MaxEntries*datedPriceSize

	datedPriceSize = 32
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func hasDiscriminator(data []byte, d [8]byte, size int) bool {
	return len(data) >= size && bytes.Equal(data[:8], d[:])
}

// Configuration links a feed to its mapping and price accounts. Immutable once created.
type Configuration struct {
	OracleMappings solana.Pubkey
	OraclePrices   solana.Pubkey
}

// Encode serializes the configuration account.
func (c *Configuration) Encode() []byte {
	buf := make([]byte, ConfigurationSize)
	copy(buf, ConfigurationDiscriminator[:])
	copy(buf[8:], c.OracleMappings[:])
	copy(buf[8+solana.PubkeyLength:], c.OraclePrices[:])
	return buf
}

// DecodeConfiguration parses a configuration account.
func DecodeConfiguration(data []byte) (*Configuration, error) {
	if !hasDiscriminator(data, ConfigurationDiscriminator, ConfigurationSize) {
		return nil, domain.Errorf(domain.ErrConfigurationMissing, "not a configuration account")
	}
	return &Configuration{
		OracleMappings: solana.PubkeyFromBytes(data[8 : 8+solana.PubkeyLength]),
		OraclePrices:   solana.PubkeyFromBytes(data[8+solana.PubkeyLength : ConfigurationSize]),
	}, nil
}

// OracleMappings holds the source record reference and family of every slot.
// A zero reference marks the slot unset.
type OracleMappings struct {
	Accounts [domain.MaxEntries]solana.Pubkey
	Types    [domain.MaxEntries]domain.OracleType
}

// Entry returns the reference and type of slot index.
func (m *OracleMappings) Entry(index uint16) (solana.Pubkey, domain.OracleType) {
	return m.Accounts[index], m.Types[index]
}

// Encode serializes the mappings account.
func (m *OracleMappings) Encode() []byte {
	buf := make([]byte, OracleMappingsSize)
	copy(buf, OracleMappingsDiscriminator[:])
	off := 8
	for i := range m.Accounts {
		copy(buf[off:], m.Accounts[i][:])
		off += solana.PubkeyLength
	}
	for i := range m.Types {
		buf[off+i] = byte(m.Types[i])
	}
	return buf
}

// DecodeOracleMappings parses a mappings account.
func DecodeOracleMappings(data []byte) (*OracleMappings, error) {
	if !hasDiscriminator(data, OracleMappingsDiscriminator, OracleMappingsSize) {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "not an oracle mappings account")
	}
	m := &OracleMappings{}
	off := 8
	for i := range m.Accounts {
		m.Accounts[i] = solana.PubkeyFromBytes(data[off : off+solana.PubkeyLength])
		off += solana.PubkeyLength
	}
	for i := range m.Types {
		m.Types[i] = domain.OracleType(data[off+i])
	}
	return m, nil
}

// OraclePrices holds the latest dated price of every slot.
type OraclePrices struct {
	OracleMappings solana.Pubkey
	Prices         [domain.MaxEntries]domain.DatedPrice
}

// Encode serializes the prices account.
func (p *OraclePrices) Encode() []byte {
	buf := make([]byte, OraclePricesSize)
	copy(buf, OraclePricesDiscriminator[:])
	copy(buf[8:], p.OracleMappings[:])
	le := binary.LittleEndian
	off := 8 + solana.PubkeyLength
	for _, dp := range p.Prices {
		le.PutUint64(buf[off:], dp.Price.Value)
		le.PutUint64(buf[off+8:], dp.Price.Exp)
		le.PutUint64(buf[off+16:], dp.LastUpdatedSlot)
		le.PutUint64(buf[off+24:], dp.UnixTimestamp)
		off += datedPriceSize
	}
	return buf
}

// DecodeOraclePrices parses a prices account.
func DecodeOraclePrices(data []byte) (*OraclePrices, error) {
	if !hasDiscriminator(data, OraclePricesDiscriminator, OraclePricesSize) {
		return nil, domain.Errorf(domain.ErrUnexpectedAccount, "not an oracle prices account")
	}
	p := &OraclePrices{OracleMappings: solana.PubkeyFromBytes(data[8 : 8+solana.PubkeyLength])}
	le := binary.LittleEndian
	off := 8 + solana.PubkeyLength
	for i := range p.Prices {
		p.Prices[i] = domain.DatedPrice{
			Price: domain.Price{
				Value: le.Uint64(data[off:]),
				Exp:   le.Uint64(data[off+8:]),
			},
			LastUpdatedSlot: le.Uint64(data[off+16:]),
			UnixTimestamp:   le.Uint64(data[off+24:]),
		}
		off += datedPriceSize
	}
	return p, nil
}
