package session

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/keydir"
	"github.com/opd-ai/xchat/retry"
	"github.com/opd-ai/xchat/storage"
)

// mockKeyRing is an in-memory wallet.
type mockKeyRing struct {
	mu   sync.Mutex
	keys map[string]crypto.PrivateKey
}

func newMockKeyRing() *mockKeyRing {
	return &mockKeyRing{keys: make(map[string]crypto.PrivateKey)}
}

func (m *mockKeyRing) add(id identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id.address] = id.key
}

func (m *mockKeyRing) PrivateKey(address string) (crypto.PrivateKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[address]
	return k, ok
}

func (m *mockKeyRing) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.keys))
	for a := range m.keys {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// mockTransmitter records every transmission.
type mockTransmitter struct {
	mu   sync.Mutex
	sent []*envelope.Message
	err  error
}

func (m *mockTransmitter) Transmit(msg *envelope.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg.Clone())
	return m.err
}

func (m *mockTransmitter) messages() []*envelope.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*envelope.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockTransmitter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
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

// node is one controller with its own stores.
type node struct {
	ctrl     *Controller
	db       *chatdb.DB
	registry *chatdb.Registry
	keys     *keydir.Directory
	wallet   *mockKeyRing
	tx       *mockTransmitter
	clock    *mockTimeProvider
	events   *eventSink
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// failingBackend refuses writes to one key.
type failingBackend struct {
	*storage.Memory
	key string
	err error
}

func (b *failingBackend) Put(key string, value []byte) error {
	if key == b.key {
		return b.err
	}
	return b.Memory.Put(key, value)
}

func newNode(t *testing.T, clock *mockTimeProvider, ids ...identity) *node {
	t.Helper()
	return newNodeWithBackend(t, clock, storage.NewMemory(), ids...)
}

func newNodeWithBackend(t *testing.T, clock *mockTimeProvider, backend storage.Backend, ids ...identity) *node {
	t.Helper()

	db := chatdb.New(backend)
	registry := chatdb.NewRegistry(db, time.Hour, clock)
	tx := &mockTransmitter{}
	wallet := newMockKeyRing()
	for _, id := range ids {
		wallet.add(id)
	}
	keys := keydir.New(storage.NewMemory(), clock)

	ctrl, err := New(Options{
		DB:           db,
		Registry:     registry,
		Engine:       retry.NewEngine(registry, tx, clock),
		Wallet:       wallet,
		Keys:         keys,
		MessageTTL:   time.Hour,
		TimeProvider: clock,
	})
	require.NoError(t, err)

	events := &eventSink{}
	ctrl.OnNewMessage(events.record)

	return &node{
		ctrl:     ctrl,
		db:       db,
		registry: registry,
		keys:     keys,
		wallet:   wallet,
		tx:       tx,
		clock:    clock,
		events:   events,
	}
}

func newClock() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}
