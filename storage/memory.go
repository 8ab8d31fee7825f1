// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemStorage is an in-memory Storage implementation used by tests and by
// ephemeral nodes. Batch writes are atomic with respect to concurrent
// readers (applied while holding the write lock).
type MemStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStorage returns an empty in-memory store.
func NewMemStorage() *MemStorage {
	return &MemStorage{data: make(map[string][]byte)}
}

func (m *MemStorage) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStorage) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemStorage) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemStorage) WriteBatch(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		if op.Delete {
			delete(m.data, string(op.Key))
			continue
		}
		m.data[string(op.Key)] = op.Value
	}
	return nil
}

func (m *MemStorage) Iterate(prefix []byte) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	kvs := make([]KV, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, KV{Key: []byte(k), Value: append([]byte(nil), m.data[k]...)})
	}
	return &memIterator{kvs: kvs, pos: -1}, nil
}

func (m *MemStorage) Close() error { return nil }

type memIterator struct {
	kvs []KV
	pos int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.kvs)
}

func (it *memIterator) KV() KV     { return it.kvs[it.pos] }
func (it *memIterator) Err() error { return nil }
func (it *memIterator) Release()   {}
