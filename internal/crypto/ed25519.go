package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Ed25519Signer signs request payloads with an Ed25519 key derived from a
// 32-byte seed. Venues in the Orderly family authenticate with the base64url
// form of the public key and a base64url signature over
// timestamp+method+path+body.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a hex-encoded 32-byte seed
// (optionally 0x-prefixed).
func NewEd25519Signer(seedHex string) (*Ed25519Signer, error) {
	k, err := NormalizeHexKey(seedHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/ed25519: %w", err)
	}
	seed, err := hex.DecodeString(k)
	if err != nil {
		return nil, fmt.Errorf("crypto/ed25519: decoding seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto/ed25519: expected %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKeyBase64 returns the public key as base64url without padding.
func (s *Ed25519Signer) PublicKeyBase64() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.RawURLEncoding.EncodeToString(pub)
}

// PublicKeyHex returns the public key as lowercase hex.
func (s *Ed25519Signer) PublicKeyHex() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// Sign signs message and returns the 64-byte signature as base64url
// without padding.
func (s *Ed25519Signer) Sign(message []byte) string {
	sig := ed25519.Sign(s.priv, message)
	return base64.RawURLEncoding.EncodeToString(sig)
}
