package kv

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
)

// Memory is an in-memory Store implementation backed by a map and a single
// mutex. Update runs under the write lock, which trivially serializes
// read-modify-writes. Safe for concurrent use; intended primarily for
// testing.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k := string(encode(key))
	m.mu.RLock()
	v, ok := m.data[k]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	k := string(encode(key))
	cp := bytes.Clone(value)
	m.mu.Lock()
	m.data[k] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	k := string(encode(key))
	m.mu.Lock()
	delete(m.data, k)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, key Key, fn UpdateFunc) error {
	k := string(encode(key))
	m.mu.Lock()
	defer m.mu.Unlock()

	old, found := m.data[k]
	var oldCopy []byte
	if found {
		oldCopy = bytes.Clone(old)
	}
	next, err := fn(oldCopy, found)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, k)
		return nil
	}
	m.data[k] = bytes.Clone(next)
	return nil
}

func (m *Memory) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	pb := prefixBytes(prefix)

	// Snapshot matching entries under the read lock so the yield loop
	// runs without holding it.
	m.mu.RLock()
	var matches []Entry
	for k, v := range m.data {
		if len(pb) == 0 || bytes.HasPrefix([]byte(k), pb) {
			matches = append(matches, Entry{Key: decode([]byte(k)), Value: bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return bytes.Compare(encode(matches[i].Key), encode(matches[j].Key)) < 0
	})

	return func(yield func(Entry, error) bool) {
		for _, e := range matches {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
