package chatdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

// UndeliveredMap is the in-memory form of the registry.
type UndeliveredMap map[envelope.Hash]envelope.Message

// Registry tracks encrypted copies of sent messages until they expire. It
// shares the lock of the DB it was created from.
type Registry struct {
	db  *DB
	ttl time.Duration
	tp  crypto.TimeProvider
}

// NewRegistry creates the undelivered registry stored inside db. A zero ttl
// selects envelope.DefaultTTL; a nil tp the wall clock.
func NewRegistry(db *DB, ttl time.Duration, tp crypto.TimeProvider) *Registry {
	if ttl <= 0 {
		ttl = envelope.DefaultTTL
	}
	return &Registry{db: db, ttl: ttl, tp: crypto.OrDefault(tp)}
}

// TTL returns the retention window applied by sweeps.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Load returns a copy of the registry.
func (r *Registry) Load() (UndeliveredMap, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.loadLocked()
}

// Save replaces the registry.
func (r *Registry) Save(entries UndeliveredMap) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.saveLocked(entries)
}

// Update runs a load-modify-save cycle under the store lock. fn mutates the
// map in place and returns whether it changed; unchanged maps are not written.
func (r *Registry) Update(fn func(entries UndeliveredMap) bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	entries, err := r.loadLocked()
	if err != nil {
		return err
	}
	if !fn(entries) {
		return nil
	}
	return r.saveLocked(entries)
}

// Insert sweeps expired entries and then records msg under its static hash.
// msg must be encrypted; a colliding hash is overwritten.
func (r *Registry) Insert(msg *envelope.Message) error {
	if !msg.IsEncrypted() {
		return envelope.ErrNotEncrypted
	}

	hash := msg.StaticHash()
	var expired int
	err := r.Update(func(entries UndeliveredMap) bool {
		expired = r.sweep(entries)
		entries[hash] = *msg.Clone()
		return true
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Insert",
		"hash":     hash.String()[:16],
		"to":       crypto.ShortAddress(msg.To),
		"expired":  expired,
	}).Debug("Recorded undelivered message")
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (r *Registry) Sweep() (int, error) {
	var removed int
	err := r.Update(func(entries UndeliveredMap) bool {
		removed = r.sweep(entries)
		return removed > 0
	})
	return removed, err
}

// Len returns the number of tracked messages.
func (r *Registry) Len() (int, error) {
	entries, err := r.Load()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// IsExpired applies the registry's retention window to msg.
func (r *Registry) IsExpired(msg *envelope.Message) bool {
	return msg.IsExpired(r.ttl, r.tp.Now())
}

// sweep deletes expired entries in place.
func (r *Registry) sweep(entries UndeliveredMap) int {
	removed := 0
	for hash, msg := range entries {
		if r.IsExpired(&msg) {
			delete(entries, hash)
			removed++
		}
	}
	return removed
}

func (r *Registry) loadLocked() (UndeliveredMap, error) {
	entries := make(UndeliveredMap)

	data, err := r.db.backend.Get(UndeliveredKey)
	if errors.Is(err, storage.ErrNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load undelivered: %w", err)
	}

	var record map[string]envelope.Message
	if err := envelope.DecodeRecord(data, &record); err != nil {
		return nil, fmt.Errorf("%w: undelivered: %v", ErrCorrupt, err)
	}
	for key, msg := range record {
		hash, err := envelope.ParseHash(key)
		if err != nil {
			return nil, fmt.Errorf("%w: undelivered key %q: %v", ErrCorrupt, key, err)
		}
		entries[hash] = msg
	}
	return entries, nil
}

func (r *Registry) saveLocked(entries UndeliveredMap) error {
	record := make(map[string]envelope.Message, len(entries))
	for hash, msg := range entries {
		record[hash.String()] = msg
	}
	data, err := envelope.EncodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode undelivered: %w", err)
	}
	if err := r.db.backend.Put(UndeliveredKey, data); err != nil {
		return fmt.Errorf("save undelivered: %w", err)
	}
	return nil
}
