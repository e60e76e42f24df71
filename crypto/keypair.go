package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of a seed and of each public key half.
const KeySize = 32

// PublicKeySize is the encoded size of a PublicKey (box half followed by sign half).
const PublicKeySize = 2 * KeySize

const boxKeyInfo = "xchat box key"

var (
	// ErrInvalidKey indicates a zero or malformed key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidPublicKeyLength indicates an encoded public key of the wrong size.
	ErrInvalidPublicKeyLength = errors.New("invalid public key length")
)

// PrivateKey is the seed every other key of an identity is derived from.
type PrivateKey [KeySize]byte

// PublicKey is the public half of an identity.
type PublicKey struct {
	Box  [KeySize]byte // X25519, used to seal messages to this identity
	Sign [KeySize]byte // Ed25519, used to verify message signatures
}

// GenerateKey creates a new random identity seed.
func GenerateKey() (PrivateKey, error) {
	var key PrivateKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// IsValid reports whether the key is usable (not all zeros).
func (k PrivateKey) IsValid() bool {
	return !isZeroKey(k)
}

// SigningKey expands the seed into an Ed25519 private key.
func (k PrivateKey) SigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k[:])
}

// BoxKey derives the X25519 private scalar for this identity.
func (k PrivateKey) BoxKey() ([KeySize]byte, error) {
	var out [KeySize]byte
	if !k.IsValid() {
		return out, ErrInvalidKey
	}
	r := hkdf.New(sha256.New, k[:], nil, []byte(boxKeyInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("failed to derive box key: %w", err)
	}
	return out, nil
}

// Public returns the public half of the identity.
func (k PrivateKey) Public() (PublicKey, error) {
	if !k.IsValid() {
		return PublicKey{}, ErrInvalidKey
	}

	boxPriv, err := k.BoxKey()
	if err != nil {
		return PublicKey{}, err
	}
	defer ZeroBytes(boxPriv[:])

	boxPub, err := curve25519.X25519(boxPriv[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to derive box public key: %w", err)
	}

	var pub PublicKey
	copy(pub.Box[:], boxPub)
	copy(pub.Sign[:], k.SigningKey().Public().(ed25519.PublicKey))
	return pub, nil
}

// IsValid reports whether both halves of the key are set.
func (p PublicKey) IsValid() bool {
	return !isZeroKey(p.Box) && !isZeroKey(p.Sign)
}

// Bytes returns the canonical 64-byte encoding.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, 0, PublicKeySize)
	out = append(out, p.Box[:]...)
	return append(out, p.Sign[:]...)
}

// Equal reports whether two public keys are identical.
func (p PublicKey) Equal(other PublicKey) bool {
	return p.Box == other.Box && p.Sign == other.Sign
}

// PublicKeyFromBytes decodes the canonical 64-byte encoding.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidPublicKeyLength, len(b), PublicKeySize)
	}
	var pub PublicKey
	copy(pub.Box[:], b[:KeySize])
	copy(pub.Sign[:], b[KeySize:])
	if !pub.IsValid() {
		return PublicKey{}, ErrInvalidKey
	}
	return pub, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
