package chatdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

var errCursor = errors.New("cursor broke")

// flakyBackend wraps a Memory backend and fails on demand.
type flakyBackend struct {
	*storage.Memory
	failKeysAfter int // -1 disables
	failGet       bool
	failPut       bool
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{Memory: storage.NewMemory(), failKeysAfter: -1}
}

func (f *flakyBackend) Get(key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("disk read error")
	}
	return f.Memory.Get(key)
}

func (f *flakyBackend) Put(key string, value []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.Memory.Put(key, value)
}

func (f *flakyBackend) Keys(fn func(string) error) error {
	if f.failKeysAfter < 0 {
		return f.Memory.Keys(fn)
	}
	seen := 0
	return f.Memory.Keys(func(k string) error {
		if seen == f.failKeysAfter {
			return errCursor
		}
		seen++
		return fn(k)
	})
}

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

type identity struct {
	key     crypto.PrivateKey
	pub     crypto.PublicKey
	address string
}

func newIdentity(t *testing.T) identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := key.Public()
	require.NoError(t, err)
	return identity{key: key, pub: pub, address: crypto.AddressFromPublicKey(pub)}
}

func signedMessage(t *testing.T, from, to identity, text string, now time.Time) *envelope.Message {
	t.Helper()
	m := envelope.New(from.address, to.address, text, 0, now)
	require.NoError(t, m.Sign(from.key))
	return m
}

func sealedMessage(t *testing.T, from, to identity, text string, now time.Time) *envelope.Message {
	t.Helper()
	m := signedMessage(t, from, to, text, now)
	require.NoError(t, m.Encrypt(to.pub))
	return m
}
