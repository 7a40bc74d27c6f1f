// Copyright 2026 Scalaris Ledger
//
// Ed25519 account and authority keys.
//
// Every signable value serializes as "<TypeName>::" followed by its
// canonical bytes before hashing or signing, so signatures can never be
// replayed across message types.

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/scalaris-ledger/scalaris/pkg/base"
)

// Size constants.
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
	SeedSize      = ed25519.SeedSize
)

// PublicKeyBytes is a 32-byte Ed25519 public key. It doubles as the name of
// an authority and as the owner of an account.
type PublicKeyBytes [PublicKeySize]byte

// Signature is a 64-byte Ed25519 signature over canonical signing bytes.
type Signature [SignatureSize]byte

// Signable is anything with a canonical, domain-separated byte encoding.
type Signable interface {
	// SigningBytes returns "<TypeName>::" followed by the canonical
	// encoding of the value.
	SigningBytes() []byte
}

// KeyPair holds an Ed25519 signing key. Secrets never leave the process
// except through the key configuration file.
type KeyPair struct {
	public  PublicKeyBytes
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh key pair from the system entropy source.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	var kp KeyPair
	copy(kp.public[:], pub)
	kp.private = priv
	return &kp, nil
}

// KeyPairFromSeed derives a deterministic key pair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed size: got %d, want %d", len(seed), SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var kp KeyPair
	copy(kp.public[:], priv.Public().(ed25519.PublicKey))
	kp.private = priv
	return &kp, nil
}

// KeyPairFromHex parses a hex-encoded 32-byte seed.
func KeyPairFromHex(s string) (*KeyPair, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return KeyPairFromSeed(raw)
}

// Public returns the public key of the pair.
func (kp *KeyPair) Public() PublicKeyBytes {
	return kp.public
}

// SeedHex returns the hex-encoded private seed for the key file.
func (kp *KeyPair) SeedHex() string {
	return hex.EncodeToString(kp.private.Seed())
}

// Sign signs the canonical bytes of the value.
func (kp *KeyPair) Sign(value Signable) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.private, value.SigningBytes()))
	return sig
}

// Check verifies the signature over the value under the author's key.
func (s Signature) Check(value Signable, author PublicKeyBytes) error {
	if !ed25519.Verify(ed25519.PublicKey(author[:]), value.SigningBytes(), s[:]) {
		return base.NewInvalidSignature(fmt.Sprintf("author %s", author))
	}
	return nil
}

// VerifyBatch verifies a set of signatures over the same value. The message
// bytes are serialized once and shared across all checks.
func VerifyBatch(value Signable, votes []struct {
	Author    PublicKeyBytes
	Signature Signature
}) error {
	msg := value.SigningBytes()
	for _, v := range votes {
		if !ed25519.Verify(ed25519.PublicKey(v.Author[:]), msg, v.Signature[:]) {
			return base.NewInvalidSignature(fmt.Sprintf("author %s", v.Author))
		}
	}
	return nil
}

// HashValue computes the SHA-512 digest of the value's signing bytes.
func HashValue(value Signable) base.HashValue {
	return base.HashValue(sha512.Sum512(value.SigningBytes()))
}

func (pk PublicKeyBytes) String() string {
	return hex.EncodeToString(pk[:])
}

// ParsePublicKey parses a hex-encoded public key.
func ParsePublicKey(s string) (PublicKeyBytes, error) {
	var pk PublicKeyBytes
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key length: got %d, want %d", len(raw), PublicKeySize)
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk PublicKeyBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + pk.String() + `"`), nil
}

func (pk *PublicKeyBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("public key must be a hex string")
	}
	parsed, err := ParsePublicKey(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}
