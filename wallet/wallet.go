// Package wallet holds the local identities of an xchat user.
//
// Every identity seed is kept in a single file encrypted under the user's
// passphrase. The file is rewritten on each change with a temporary file and
// rename, so a crash leaves either the old or the new set of keys.
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
)

const keysFileName = "keys.enc"

var (
	// ErrClosed is returned by operations on a closed wallet.
	ErrClosed = errors.New("wallet closed")
	// ErrDuplicate is returned when importing a key that is already held.
	ErrDuplicate = errors.New("key already in wallet")
)

type keyRecord struct {
	Seed []byte `cbor:"1,keyasint"`
}

// Wallet maps local addresses to their private keys.
type Wallet struct {
	mu     sync.RWMutex
	store  *encryptedFile
	keys   map[string]crypto.PrivateKey
	closed bool
}

// Open unlocks the wallet in dir, creating it if it does not exist. A wrong
// passphrase for an existing wallet yields ErrWrongPassphrase. passphrase is
// wiped before Open returns.
func Open(dir string, passphrase []byte) (*Wallet, error) {
	logger := crypto.NewLogger("wallet", "Open").WithField("dir", dir)

	store, err := openEncryptedFile(filepath.Join(dir, keysFileName), passphrase)
	if err != nil {
		logger.WithError(err, "io", "open_store").Error("Failed to open wallet")
		return nil, err
	}

	w := &Wallet{store: store, keys: make(map[string]crypto.PrivateKey)}
	if err := w.load(); err != nil {
		store.close()
		logger.WithError(err, "io", "load").Error("Failed to load wallet")
		return nil, err
	}

	logger.WithField("addresses", len(w.keys)).Debug("Wallet opened")
	return w, nil
}

// NewAddress generates a new identity, persists it and returns its address.
func (w *Wallet) NewAddress() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	defer crypto.ZeroBytes(key[:])
	return w.Import(key)
}

// Import adds an existing identity seed and returns its address.
func (w *Wallet) Import(key crypto.PrivateKey) (string, error) {
	pub, err := key.Public()
	if err != nil {
		return "", err
	}
	address := crypto.AddressFromPublicKey(pub)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrClosed
	}
	if _, ok := w.keys[address]; ok {
		return "", ErrDuplicate
	}

	w.keys[address] = key
	if err := w.saveLocked(); err != nil {
		delete(w.keys, address)
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Import",
		"address":  crypto.ShortAddress(address),
	}).Info("Added local address")
	return address, nil
}

// Remove forgets the identity behind address. Removing an unknown address is
// not an error.
func (w *Wallet) Remove(address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	key, ok := w.keys[address]
	if !ok {
		return nil
	}

	delete(w.keys, address)
	if err := w.saveLocked(); err != nil {
		w.keys[address] = key
		return err
	}
	crypto.ZeroBytes(key[:])
	return nil
}

// PrivateKey returns the key for a local address.
func (w *Wallet) PrivateKey(address string) (crypto.PrivateKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return crypto.PrivateKey{}, false
	}
	key, ok := w.keys[address]
	return key, ok
}

// PublicKey returns the public half of a local identity.
func (w *Wallet) PublicKey(address string) (crypto.PublicKey, bool) {
	key, ok := w.PrivateKey(address)
	if !ok {
		return crypto.PublicKey{}, false
	}
	pub, err := key.Public()
	if err != nil {
		return crypto.PublicKey{}, false
	}
	return pub, true
}

// Addresses returns every local address in sorted order.
func (w *Wallet) Addresses() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.keys))
	for address := range w.keys {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// ChangePassphrase re-encrypts the wallet under a new passphrase.
func (w *Wallet) ChangePassphrase(newPassphrase []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.store.rekey(newPassphrase)
}

// Close wipes every key from memory. The wallet is unusable afterwards.
func (w *Wallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	for address, key := range w.keys {
		crypto.WipeKey(&key)
		delete(w.keys, address)
	}
	w.store.close()
	w.closed = true
	return nil
}

func (w *Wallet) load() error {
	plaintext, err := w.store.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(plaintext)

	var records []keyRecord
	if err := envelope.DecodeRecord(plaintext, &records); err != nil {
		return fmt.Errorf("decode wallet: %w", err)
	}

	for _, rec := range records {
		var key crypto.PrivateKey
		if len(rec.Seed) != crypto.KeySize {
			return fmt.Errorf("decode wallet: seed of %d bytes", len(rec.Seed))
		}
		copy(key[:], rec.Seed)
		crypto.ZeroBytes(rec.Seed)

		pub, err := key.Public()
		if err != nil {
			return fmt.Errorf("decode wallet: %w", err)
		}
		w.keys[crypto.AddressFromPublicKey(pub)] = key
	}
	return nil
}

func (w *Wallet) saveLocked() error {
	records := make([]keyRecord, 0, len(w.keys))
	for _, address := range sortedKeys(w.keys) {
		key := w.keys[address]
		records = append(records, keyRecord{Seed: key[:]})
	}

	plaintext, err := envelope.EncodeRecord(records)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	defer crypto.ZeroBytes(plaintext)

	return w.store.write(plaintext)
}

func sortedKeys(m map[string]crypto.PrivateKey) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
