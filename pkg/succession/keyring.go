// Package succession verifies signed sovereign-succession artifacts at epoch
// boundaries and maintains the identity chain of the active signer.
package succession

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer produces succession signatures. The in-memory backend serves tests
// and harnesses; production callers can plug an HSM or KMS behind the same
// interface.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemorySigner is an in-memory ed25519 Signer.
type MemorySigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemorySigner generates a fresh random keypair.
func NewMemorySigner() (*MemorySigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemorySigner{pub: pub, priv: priv}, nil
}

// NewMemorySignerFromSeed builds a deterministic signer from a 32-byte seed.
func NewMemorySignerFromSeed(seed []byte) (*MemorySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("succession: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemorySigner{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// Sign produces an ed25519 signature over msg.
func (m *MemorySigner) Sign(msg []byte) ([]byte, error) {
	if len(m.priv) != ed25519.PrivateKeySize {
		return nil, errors.New("succession: invalid private key")
	}
	return ed25519.Sign(m.priv, msg), nil
}

// PublicKey returns the signer's public key.
func (m *MemorySigner) PublicKey() ed25519.PublicKey {
	return m.pub
}

// DeriveSigner derives a labeled signer from a master signer using
// HKDF-SHA256 over the master's seed. The same master and label always
// yield the same keypair, which keeps succession fixtures deterministic.
func DeriveSigner(master *MemorySigner, label string) (*MemorySigner, error) {
	if label == "" {
		return nil, errors.New("succession: derivation label must not be empty")
	}
	r := hkdf.New(sha256.New, master.priv.Seed(), []byte("axio-succession-kdf"), []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("succession: hkdf derivation failed: %w", err)
	}
	return NewMemorySignerFromSeed(seed)
}

// KeyID is the fingerprint that binds grants to a signer identity: the
// SHA-256 hex digest of the raw public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// KeyIDFromHex fingerprints a hex-encoded public key.
func KeyIDFromHex(pubHex string) (string, error) {
	pub, err := decodeKey(pubHex)
	if err != nil {
		return "", err
	}
	return KeyID(pub), nil
}

func decodeKey(pubHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("succession: malformed key %q: %w", pubHex, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("succession: key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeKey renders a public key as lowercase hex for wire artifacts.
func EncodeKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
