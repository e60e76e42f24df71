package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDropsExpiredAndResendsLive(t *testing.T) {
	f := newFixture(t)
	alice, bob := newIdentity(t), newIdentity(t)

	stale := sealedMessage(t, alice, bob, "stale", f.clock.Now())
	require.NoError(t, f.registry.Insert(stale))

	f.clock.Advance(50 * time.Minute)
	live := sealedMessage(t, alice, bob, "live", f.clock.Now())
	require.NoError(t, f.registry.Insert(live))

	f.clock.Advance(20 * time.Minute)
	result, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)
	assert.Equal(t, Result{Expired: 1, Resent: 1}, result)

	entries, err := f.registry.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, live.StaticHash())

	sent := f.tx.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, live.StaticHash(), sent[0].StaticHash())
	assert.Equal(t, f.clock.Now().Unix(), sent[0].Timestamp)
	assert.Greater(t, sent[0].Timestamp, live.Timestamp)
}

func TestSweepDoesNotPersistRefreshedTimestamp(t *testing.T) {
	f := newFixture(t)
	alice, bob := newIdentity(t), newIdentity(t)

	msg := sealedMessage(t, alice, bob, "hi", f.clock.Now())
	require.NoError(t, f.registry.Insert(msg))

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.engine.ResendUndelivered([]string{bob.address}))

	entries, err := f.registry.Load()
	require.NoError(t, err)
	stored := entries[msg.StaticHash()]
	assert.Equal(t, msg.Timestamp, stored.Timestamp)

	// Retried for at most one TTL.
	f.clock.Advance(31 * time.Minute)
	result, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)
	assert.Equal(t, Result{Expired: 1}, result)
}

func TestSweepOnlyTargets(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)

	require.NoError(t, f.registry.Insert(sealedMessage(t, alice, bob, "to bob", f.clock.Now())))
	require.NoError(t, f.registry.Insert(sealedMessage(t, alice, carol, "to carol", f.clock.Now())))

	result, err := f.engine.Sweep([]string{carol.address})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resent)

	sent := f.tx.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, carol.address, sent[0].To)

	result, err = f.engine.Sweep(nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestSweepOrdersOldestFirst(t *testing.T) {
	f := newFixture(t)
	alice, bob := newIdentity(t), newIdentity(t)

	var hashes []string
	for _, text := range []string{"one", "two", "three"} {
		m := sealedMessage(t, alice, bob, text, f.clock.Now())
		require.NoError(t, f.registry.Insert(m))
		hashes = append(hashes, m.StaticHash().String())
		f.clock.Advance(time.Second)
	}

	_, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)

	sent := f.tx.messages()
	require.Len(t, sent, 3)
	for i, m := range sent {
		assert.Equal(t, hashes[i], m.StaticHash().String())
	}
}

func TestSweepTransmitFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	alice, bob := newIdentity(t), newIdentity(t)

	require.NoError(t, f.registry.Insert(sealedMessage(t, alice, bob, "hi", f.clock.Now())))
	f.tx.setFail(true)

	result, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, result)

	n, err := f.registry.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed resend keeps the entry")
}

func TestSweepLeavesStoredEntryUntouched(t *testing.T) {
	f := newFixture(t)
	alice, bob := newIdentity(t), newIdentity(t)

	msg := sealedMessage(t, alice, bob, "hi", f.clock.Now())
	require.NoError(t, f.registry.Insert(msg))
	f.clock.Advance(time.Minute)

	_, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)

	sent := f.tx.messages()
	require.Len(t, sent, 1)
	sent[0].Ciphertext[0] ^= 0xff

	entries, err := f.registry.Load()
	require.NoError(t, err)
	stored := entries[msg.StaticHash()]
	assert.Equal(t, msg.Ciphertext, stored.Ciphertext)
}

func TestSweepCooldownPerTarget(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)

	require.NoError(t, f.registry.Insert(sealedMessage(t, alice, bob, "to bob", f.clock.Now())))
	require.NoError(t, f.registry.Insert(sealedMessage(t, alice, carol, "to carol", f.clock.Now())))

	result, err := f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resent)

	f.clock.Advance(DefaultCooldown / 2)
	result, err = f.engine.Sweep([]string{bob.address, carol.address})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resent, "bob is cooling down, carol is not")

	f.clock.Advance(DefaultCooldown)
	result, err = f.engine.Sweep([]string{bob.address, carol.address})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Resent)

	f.engine.SetCooldown(0)
	result, err = f.engine.Sweep([]string{bob.address})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resent)
}
