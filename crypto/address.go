package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// AddressVersion prefixes every address produced by this package.
	AddressVersion byte = 0x01
	addressHashSize     = 20
	addressChecksumSize = 4
	addressRawSize      = 1 + addressHashSize + addressChecksumSize

	// AddressLength is the length of an address string in hex characters.
	AddressLength = addressRawSize * 2
)

var (
	// ErrInvalidAddressLength indicates an address of the wrong length.
	ErrInvalidAddressLength = errors.New("invalid address length")
	// ErrInvalidAddressVersion indicates an unknown address version byte.
	ErrInvalidAddressVersion = errors.New("invalid address version")
	// ErrInvalidChecksum indicates a mistyped or corrupted address.
	ErrInvalidChecksum = errors.New("invalid checksum")
)

// AddressFromPublicKey derives the address string for a public key.
//
// Layout: hex(version || BLAKE2b-256(pubkey)[:20] || checksum[:4]).
func AddressFromPublicKey(pub PublicKey) string {
	digest := blake2b.Sum256(pub.Bytes())

	raw := make([]byte, 0, addressRawSize)
	raw = append(raw, AddressVersion)
	raw = append(raw, digest[:addressHashSize]...)
	sum := addressChecksum(raw)
	raw = append(raw, sum[:]...)

	return hex.EncodeToString(raw)
}

// ValidateAddress checks an address for length, encoding, version and checksum.
func ValidateAddress(address string) error {
	if len(address) != AddressLength {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidAddressLength, len(address), AddressLength)
	}

	raw, err := hex.DecodeString(address)
	if err != nil {
		return fmt.Errorf("invalid address encoding: %w", err)
	}

	if raw[0] != AddressVersion {
		return fmt.Errorf("%w: %#x", ErrInvalidAddressVersion, raw[0])
	}

	payload := raw[:1+addressHashSize]
	expected := addressChecksum(payload)
	if !bytes.Equal(expected[:], raw[1+addressHashSize:]) {
		return ErrInvalidChecksum
	}

	return nil
}

// IsValidAddress is the boolean form of ValidateAddress.
func IsValidAddress(address string) bool {
	return ValidateAddress(address) == nil
}

// AddressMatchesKey reports whether pub is the key the address was derived from.
func AddressMatchesKey(address string, pub PublicKey) bool {
	if !pub.IsValid() {
		return false
	}
	return AddressFromPublicKey(pub) == address
}

// addressChecksum computes the checksum over the version and hash bytes.
func addressChecksum(payload []byte) [addressChecksumSize]byte {
	var sum [addressChecksumSize]byte
	digest := blake2b.Sum256(payload)
	copy(sum[:], digest[:addressChecksumSize])
	return sum
}
