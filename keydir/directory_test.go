package keydir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/storage"
)

func newKey(t *testing.T) (crypto.PublicKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := key.Public()
	require.NoError(t, err)
	return pub, crypto.AddressFromPublicKey(pub)
}

func TestPutAndLookup(t *testing.T) {
	dir := New(storage.NewMemory(), nil)
	pub, address := newKey(t)

	_, ok := dir.PublicKey(address)
	assert.False(t, ok)

	require.NoError(t, dir.PutPublicKey(address, pub))
	require.NoError(t, dir.PutPublicKey(address, pub))

	got, ok := dir.PublicKey(address)
	require.True(t, ok)
	assert.True(t, got.Equal(pub))

	addresses, err := dir.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []string{address}, addresses)
}

func TestPutRejectsForeignKey(t *testing.T) {
	dir := New(storage.NewMemory(), nil)
	_, address := newKey(t)
	other, _ := newKey(t)

	err := dir.PutPublicKey(address, other)
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, ok := dir.PublicKey(address)
	assert.False(t, ok)
}

func TestLookupIgnoresCorruptRecord(t *testing.T) {
	backend := storage.NewMemory()
	dir := New(backend, nil)
	_, address := newKey(t)

	require.NoError(t, backend.Put(address, []byte{0xff, 0x00}))
	_, ok := dir.PublicKey(address)
	assert.False(t, ok)
}
