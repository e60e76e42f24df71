package retry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

var errLinkDown = errors.New("link down")

// mockTransmitter records transmissions and can be told to fail.
type mockTransmitter struct {
	mu   sync.Mutex
	sent []*envelope.Message
	fail bool
}

func (m *mockTransmitter) Transmit(msg *envelope.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errLinkDown
	}
	m.sent = append(m.sent, msg.Clone())
	return nil
}

func (m *mockTransmitter) messages() []*envelope.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*envelope.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockTransmitter) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
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

// staticAddresses is a fixed AddressSource.
type staticAddresses []string

func (s staticAddresses) Addresses() []string { return s }

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

func sealedMessage(t *testing.T, from, to identity, text string, now time.Time) *envelope.Message {
	t.Helper()
	m := envelope.New(from.address, to.address, text, 0, now)
	require.NoError(t, m.Sign(from.key))
	require.NoError(t, m.Encrypt(to.pub))
	return m
}

type fixture struct {
	clock    *mockTimeProvider
	registry *chatdb.Registry
	tx       *mockTransmitter
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &mockTimeProvider{currentTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	registry := chatdb.NewRegistry(chatdb.New(storage.NewMemory()), time.Hour, clock)
	tx := &mockTransmitter{}
	return &fixture{
		clock:    clock,
		registry: registry,
		tx:       tx,
		engine:   NewEngine(registry, tx, clock),
	}
}
