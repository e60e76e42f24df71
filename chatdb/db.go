// Package chatdb persists conversation logs and the undelivered-message
// registry on top of a storage.Backend.
//
// Both live in one key space: each correspondent address maps to its ordered
// message log, and the reserved key UndeliveredKey holds the registry. A DB
// owns a single mutex and every exported operation, including the
// load-modify-save helpers, runs under it, so callers never lock.
package chatdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

// UndeliveredKey is the reserved key of the undelivered registry. It can never
// collide with an address: addresses are fixed-length hex strings.
const UndeliveredKey = "undelivered"

var (
	// ErrReservedKey is returned when a conversation operation names UndeliveredKey.
	ErrReservedKey = errors.New("reserved key")
	// ErrEmptyAddress is returned for conversation operations without an address.
	ErrEmptyAddress = errors.New("empty address")
	// ErrCorrupt wraps records that cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
	// ErrEnumeration is returned when the address cursor breaks mid-scan.
	ErrEnumeration = errors.New("address enumeration failed")
)

// DB is the conversation store.
type DB struct {
	mu      sync.Mutex
	backend storage.Backend
}

// New creates a conversation store over backend.
func New(backend storage.Backend) *DB {
	return &DB{backend: backend}
}

// Load returns the stored history for address, or an empty slice.
func (db *DB) Load(address string) ([]envelope.Message, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	return db.loadLocked(address)
}

// Save replaces the stored history for address.
func (db *DB) Save(address string, messages []envelope.Message) error {
	if err := checkAddress(address); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	return db.saveLocked(address, messages)
}

// Append adds one message to the end of address's history.
func (db *DB) Append(address string, msg envelope.Message) error {
	return db.Update(address, func(messages []envelope.Message) ([]envelope.Message, bool) {
		return append(messages, msg), true
	})
}

// Update runs a load-modify-save cycle for address under the store lock. fn
// returns the new history and whether it changed; unchanged histories are not
// written back.
func (db *DB) Update(address string, fn func([]envelope.Message) ([]envelope.Message, bool)) error {
	if err := checkAddress(address); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	messages, err := db.loadLocked(address)
	if err != nil {
		return err
	}

	updated, changed := fn(messages)
	if !changed {
		return nil
	}
	return db.saveLocked(address, updated)
}

// Erase removes address and its history. Erasing an unknown address succeeds.
func (db *DB) Erase(address string) error {
	if err := checkAddress(address); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.backend.Delete(address); err != nil {
		return fmt.Errorf("erase %s: %w", address, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Erase",
		"address":  address,
	}).Debug("Conversation erased")
	return nil
}

// LoadAddresses lists every correspondent with a stored history. The
// registry key is skipped. A broken cursor is reported as ErrEnumeration and
// no partial list is returned.
func (db *DB) LoadAddresses() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	addresses := make([]string, 0)
	err := db.backend.Keys(func(key string) error {
		if key == UndeliveredKey {
			return nil
		}
		addresses = append(addresses, key)
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "LoadAddresses",
			"collected": len(addresses),
			"error":     err.Error(),
		}).Warn("Address enumeration interrupted")
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}
	return addresses, nil
}

func (db *DB) loadLocked(address string) ([]envelope.Message, error) {
	data, err := db.backend.Get(address)
	if errors.Is(err, storage.ErrNotFound) {
		return []envelope.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", address, err)
	}

	var messages []envelope.Message
	if err := envelope.DecodeRecord(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: conversation %s: %v", ErrCorrupt, address, err)
	}
	if messages == nil {
		messages = []envelope.Message{}
	}
	return messages, nil
}

func (db *DB) saveLocked(key string, messages []envelope.Message) error {
	if messages == nil {
		messages = []envelope.Message{}
	}
	data, err := envelope.EncodeRecord(messages)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := db.backend.Put(key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func checkAddress(address string) error {
	if address == "" {
		return ErrEmptyAddress
	}
	if address == UndeliveredKey {
		return ErrReservedKey
	}
	return nil
}
