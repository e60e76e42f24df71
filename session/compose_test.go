package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/storage"
)

func TestComposeScenario(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	msg, err := n.ctrl.Compose(alice.address, bob.address, "hello")
	require.NoError(t, err)

	// Transmitted once, sealed to bob.
	sent := n.tx.messages()
	require.Len(t, sent, 1)
	require.True(t, sent[0].IsEncrypted())
	assert.Empty(t, sent[0].Text)
	opened := sent[0].Clone()
	_, err = opened.Decrypt(bob.key)
	require.NoError(t, err)
	assert.Equal(t, "hello", opened.Text)

	// Registry keyed by the content hash.
	want := (&envelope.Message{From: alice.address, To: bob.address, Text: "hello", Date: msg.Date}).StaticHash()
	entries, err := n.registry.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	stored, ok := entries[want]
	require.True(t, ok)
	assert.True(t, stored.IsEncrypted())

	// Log holds the signed plaintext under bob.
	history, err := n.ctrl.LoadConversation(bob.address)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, envelope.Outgoing, history[0].Direction)
	assert.False(t, history[0].IsEncrypted())
	assert.NoError(t, history[0].Verify())
}

func TestComposeValidation(t *testing.T) {
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)

	tests := []struct {
		name    string
		from    string
		to      string
		text    string
		opts    []ComposeOption
		wantErr error
	}{
		{"empty text", alice.address, bob.address, "", nil, ErrEmptyText},
		{"invalid sender", "nope", bob.address, "hi", nil, ErrInvalidAddress},
		{"invalid recipient", alice.address, bob.address[:10], "hi", nil, ErrInvalidAddress},
		{"sender not local", carol.address, bob.address, "hi", nil, ErrKeyNotFound},
		{"recipient key unknown", alice.address, carol.address, "hi", nil, ErrNoRecipientKey},
		{"pinned key mismatch", alice.address, carol.address, "hi", []ComposeOption{WithRecipientKey(bob.pub)}, ErrNoRecipientKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNode(t, newClock(), alice)
			require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

			_, err := n.ctrl.Compose(tt.from, tt.to, tt.text, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, n.tx.messages())
			pending, err := n.ctrl.Pending()
			require.NoError(t, err)
			assert.Zero(t, pending)
			correspondents, err := n.ctrl.Correspondents()
			require.NoError(t, err)
			assert.Empty(t, correspondents)
		})
	}
}

func TestComposeTruncatesLongText(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	msg, err := n.ctrl.Compose(alice.address, bob.address, strings.Repeat("x", 3000))
	require.NoError(t, err)
	assert.Len(t, msg.Text, envelope.DefaultMaxTextSize)
}

func TestComposeWithPinnedKey(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)

	_, err := n.ctrl.Compose(alice.address, bob.address, "hi", WithRecipientKey(bob.pub))
	require.NoError(t, err)

	pub, ok := n.keys.PublicKey(bob.address)
	require.True(t, ok)
	assert.True(t, pub.Equal(bob.pub))
	assert.Len(t, n.tx.messages(), 1)
}

func TestComposeResendsPendingFirst(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	first, err := n.ctrl.Compose(alice.address, bob.address, "first")
	require.NoError(t, err)
	n.clock.Advance(time.Second)
	second, err := n.ctrl.Compose(alice.address, bob.address, "second")
	require.NoError(t, err)

	sent := n.tx.messages()
	require.Len(t, sent, 3)
	assert.Equal(t, first.StaticHash(), sent[0].StaticHash())
	assert.Equal(t, first.StaticHash(), sent[1].StaticHash(), "pending message resent before new traffic")
	assert.Equal(t, second.StaticHash(), sent[2].StaticHash())

	history, err := n.ctrl.LoadConversation(bob.address)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "second", history[1].Text)
}

func TestComposeTransmitFailureKeepsMessageForRetry(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))
	n.tx.err = errors.New("network unreachable")

	_, err := n.ctrl.Compose(alice.address, bob.address, "hi")
	require.NoError(t, err)

	pending, err := n.ctrl.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestComposeRegistryFailureStillLogsMessage(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	diskFull := errors.New("disk full")
	backend := &failingBackend{Memory: storage.NewMemory(), key: chatdb.UndeliveredKey, err: diskFull}
	n := newNodeWithBackend(t, newClock(), backend, alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	msg, err := n.ctrl.Compose(alice.address, bob.address, "hi")
	assert.ErrorIs(t, err, diskFull)
	require.NotNil(t, msg)
	assert.Len(t, n.tx.messages(), 1)

	history, err := n.ctrl.LoadConversation(bob.address)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestClearAndDeleteCorrespondent(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	_, err := n.ctrl.Compose(alice.address, bob.address, "hi")
	require.NoError(t, err)

	require.NoError(t, n.ctrl.ClearConversation(bob.address))
	correspondents, err := n.ctrl.Correspondents()
	require.NoError(t, err)
	assert.Equal(t, []string{bob.address}, correspondents)
	history, err := n.ctrl.LoadConversation(bob.address)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, n.ctrl.DeleteCorrespondent(bob.address))
	require.NoError(t, n.ctrl.DeleteCorrespondent(bob.address))
	correspondents, err = n.ctrl.Correspondents()
	require.NoError(t, err)
	assert.Empty(t, correspondents)
}

func TestDeleteMessage(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	n := newNode(t, newClock(), alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	first, err := n.ctrl.Compose(alice.address, bob.address, "first")
	require.NoError(t, err)
	second, err := n.ctrl.Compose(alice.address, bob.address, "second")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	found, err := n.ctrl.DeleteMessage(bob.address, first.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = n.ctrl.DeleteMessage(bob.address, first.ID)
	require.NoError(t, err)
	assert.False(t, found)

	history, err := n.ctrl.LoadConversation(bob.address)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second.ID, history[0].ID)
}

func TestPendingDropsExpiredEntries(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)
	clock := newClock()
	n := newNode(t, clock, alice)
	require.NoError(t, n.keys.PutPublicKey(bob.address, bob.pub))

	_, err := n.ctrl.Compose(alice.address, bob.address, "hi")
	require.NoError(t, err)
	pending, err := n.ctrl.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	clock.Advance(2 * time.Hour)
	pending, err = n.ctrl.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)

	entries, err := n.registry.Load()
	require.NoError(t, err)
	assert.Empty(t, entries, "expired entries are removed from the store")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
