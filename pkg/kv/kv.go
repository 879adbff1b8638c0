// Package kv provides the key-value storage contract the session store is
// built on. Keys are hierarchical paths represented as string slices
// (e.g., ["session", "4f1c..."]) encoded with a ':' separator.
//
// Beyond plain reads and writes, the Store interface exposes Update, a
// serializable read-modify-write over a single key. Update is the primitive
// the session store's compare-and-swap is layered on: the callback observes
// the current value and returns the replacement, and the implementation
// guarantees no concurrent Update on the same key interleaves with it.
//
// The package includes a BadgerDB-backed implementation for production use
// and an in-memory implementation for testing.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")

	// ErrConflict is returned by Update when a concurrent transaction
	// modified the key and the read-modify-write could not be serialized.
	// Callers are expected to re-run the Update.
	ErrConflict = errors.New("kv: transaction conflict")
)

// Separator joins key segments in the encoded representation.
// Segments must not contain it.
const Separator byte = ':'

// Key is a hierarchical path represented as a slice of string segments.
// Key{"session", "abc"} encodes to "session:abc".
type Key []string

// String returns the encoded form of the key.
func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

// Append returns a new key with extra segments appended. The receiver is
// not modified.
func (k Key) Append(segments ...string) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// Entry is a key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// UpdateFunc computes the replacement value for a key inside Update.
// old is nil and found is false when the key does not exist. Returning a
// nil value deletes the key. Returning an error aborts the transaction
// and is passed through to the Update caller unchanged.
type UpdateFunc func(old []byte, found bool) (value []byte, err error)

// Store is a key-value store with path-based keys and a serializable
// single-key read-modify-write primitive.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// Update runs fn as a serializable read-modify-write on key. No two
	// Update calls for the same key observe each other's intermediate
	// state. Returns ErrConflict if the transaction could not be
	// serialized against a concurrent writer.
	Update(ctx context.Context, key Key, fn UpdateFunc) error

	// List iterates over all entries whose key starts with the given
	// prefix, in lexicographic order of the encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// Close releases any resources held by the store.
	Close() error
}

// encode converts a Key to its stored byte representation.
func encode(k Key) []byte {
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, n)
	pos := 0
	for i, seg := range k {
		if i > 0 {
			buf[pos] = Separator
			pos++
		}
		pos += copy(buf[pos:], seg)
	}
	return buf
}

// decode converts a stored byte representation back to a Key.
func decode(b []byte) Key {
	return Key(strings.Split(string(b), string(Separator)))
}

// prefixBytes encodes a prefix for List, appending a separator so the
// prefix "a:b" does not match the key "a:bc". An empty prefix scans
// everything.
func prefixBytes(prefix Key) []byte {
	p := encode(prefix)
	if len(p) == 0 {
		return nil
	}
	return append(p, Separator)
}
