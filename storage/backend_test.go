package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestBackendGetPutDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Put("k", []byte("v1")))
			got, err := b.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, b.Put("k", []byte("v2")))
			got, err = b.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, b.Delete("k"))
			_, err = b.Get("k")
			assert.ErrorIs(t, err, ErrNotFound)

			// Idempotent delete.
			assert.NoError(t, b.Delete("k"))
		})
	}
}

func TestBackendKeys(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"c", "a", "b"} {
				require.NoError(t, b.Put(k, []byte(k)))
			}

			var keys []string
			require.NoError(t, b.Keys(func(k string) error {
				keys = append(keys, k)
				return nil
			}))
			assert.Equal(t, []string{"a", "b", "c"}, keys)

			keys = nil
			require.NoError(t, b.Keys(func(k string) error {
				keys = append(keys, k)
				return ErrStopIteration
			}))
			assert.Equal(t, []string{"a"}, keys)

			boom := errors.New("boom")
			assert.ErrorIs(t, b.Keys(func(string) error { return boom }), boom)
		})
	}
}

func TestBackendValuesAreCopied(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			value := []byte("abc")
			require.NoError(t, b.Put("k", value))
			value[0] = 'x'

			got, err := b.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)
		})
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("k", []byte("v")))
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.Close())

	_, err := m.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Put("k", nil), ErrClosed)
	assert.ErrorIs(t, m.Delete("k"), ErrClosed)
	assert.ErrorIs(t, m.Keys(func(string) error { return nil }), ErrClosed)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Put("k", []byte{0x00, 0xff, 0x10}))
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, got)
}
