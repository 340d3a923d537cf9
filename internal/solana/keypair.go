package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
)

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadKeypair reads a keypair file in the solana-keygen JSON format
// (an array of 64 byte values: seed followed by public key).
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair file: byte value %d out of range", v)
		}
		raw = append(raw, byte(v))
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file must hold %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	kp, err := KeypairFromSeed(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if kp.PublicKey() != PubkeyFromBytes(raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair file public key does not match its seed")
	}
	return kp, nil
}

// Save writes the keypair in the solana-keygen JSON format.
func (k *Keypair) Save(path string) error {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("encode keypair: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// PublicKey returns the address of the keypair.
func (k *Keypair) PublicKey() Pubkey {
	return PubkeyFromBytes(k.private.Public().(ed25519.PublicKey))
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// Verify checks sig over message against the signer's public key.
func Verify(signer Pubkey, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, sig[:])
}
