// Package storage provides the stringly-keyed document store that every
// persistent xchat component sits on.
//
// A Backend maps a string key to an opaque value. Put replaces the whole value
// in one step, so a reader never observes a half-written record. Keys walks
// the key space with a cursor and reports an interrupted walk as an error
// instead of returning a truncated listing.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get for a key with no value.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage closed")
	// ErrStopIteration may be returned from a Keys callback to end the walk early
	// without an error.
	ErrStopIteration = errors.New("stop iteration")
)

// Backend is a document store keyed by strings.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Put stores value under key, replacing any previous value atomically.
	Put(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys calls fn for every stored key in ascending order.
	Keys(fn func(key string) error) error
	// Close releases the backend.
	Close() error
}
