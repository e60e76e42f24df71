// Package keydir stores the public keys of correspondents.
//
// Entries are keyed by address and are only accepted when the key hashes to
// that address, so the directory can never hold a key that would let a third
// party read messages meant for somebody else.
package keydir

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

// ErrKeyMismatch is returned when a key does not belong to the address it is
// stored under.
var ErrKeyMismatch = errors.New("public key does not match address")

type record struct {
	Key       []byte `cbor:"1,keyasint"`
	FirstSeen int64  `cbor:"2,keyasint"`
}

// Directory is a lookup table from address to public key.
type Directory struct {
	backend storage.Backend
	tp      crypto.TimeProvider
}

// New creates a directory over backend. A nil tp selects the wall clock.
func New(backend storage.Backend, tp crypto.TimeProvider) *Directory {
	return &Directory{backend: backend, tp: crypto.OrDefault(tp)}
}

// PublicKey returns the key stored for address.
func (d *Directory) PublicKey(address string) (crypto.PublicKey, bool) {
	data, err := d.backend.Get(address)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"function": "PublicKey",
				"address":  crypto.ShortAddress(address),
				"error":    err.Error(),
			}).Warn("Key directory lookup failed")
		}
		return crypto.PublicKey{}, false
	}

	var rec record
	if err := envelope.DecodeRecord(data, &rec); err != nil {
		return crypto.PublicKey{}, false
	}
	pub, err := crypto.PublicKeyFromBytes(rec.Key)
	if err != nil || !crypto.AddressMatchesKey(address, pub) {
		return crypto.PublicKey{}, false
	}
	return pub, true
}

// PutPublicKey records pub for address. Storing the same key again is a no-op.
func (d *Directory) PutPublicKey(address string, pub crypto.PublicKey) error {
	if !crypto.AddressMatchesKey(address, pub) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, crypto.ShortAddress(address))
	}
	if existing, ok := d.PublicKey(address); ok && existing.Equal(pub) {
		return nil
	}

	data, err := envelope.EncodeRecord(record{Key: pub.Bytes(), FirstSeen: d.tp.Now().Unix()})
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	if err := d.backend.Put(address, data); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PutPublicKey",
		"address":  crypto.ShortAddress(address),
	}).Debug("Learned public key")
	return nil
}

// Addresses lists every address with a known key.
func (d *Directory) Addresses() ([]string, error) {
	var out []string
	err := d.backend.Keys(func(key string) error {
		out = append(out, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
