package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// ErrEmptyMessage is returned when signing or verifying an empty input.
var ErrEmptyMessage = errors.New("empty message")

// Sign creates an Ed25519 signature for a message using the identity seed.
func Sign(message []byte, privateKey PrivateKey) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, ErrEmptyMessage
	}
	if !privateKey.IsValid() {
		return Signature{}, ErrInvalidKey
	}

	edPrivateKey := privateKey.SigningKey()
	defer ZeroBytes(edPrivateKey)

	var signature Signature
	copy(signature[:], ed25519.Sign(edPrivateKey, message))
	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey PublicKey) (bool, error) {
	if len(message) == 0 {
		return false, ErrEmptyMessage
	}
	if !publicKey.IsValid() {
		return false, ErrInvalidKey
	}

	return ed25519.Verify(publicKey.Sign[:], message, signature[:]), nil
}

// SignatureFromBytes copies b into a Signature, failing on a length mismatch.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, errors.New("invalid signature length")
	}
	copy(sig[:], b)
	return sig, nil
}
