// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage defines the keyed byte-store capability the core
// consumes (spec.md §4.B, §6.1) and provides an in-memory implementation
// for tests plus a goleveldb-backed implementation for production use.
package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Namespace bytes, one leading byte per key space, per spec.md §6.4.
const (
	NamespaceHeader       byte = 'h'
	NamespaceBlock        byte = 'b'
	NamespaceHashByHeight byte = 'n'
	NamespaceTxIndex      byte = 'i'
	NamespaceReceipt      byte = 'r'
	NamespaceAccount      byte = 'a'
	NamespaceStorage      byte = 's'
	NamespaceCode         byte = 'c'
	NamespaceMPT          byte = 'm'
	NamespaceWAL          byte = 'w'
	NamespaceSnapshot     byte = 'p'
)

// NodeKeyKey is the single well-known key holding the proposer keypair
// record (read at startup; generating it is out of scope for the core).
var NodeKeyKey = []byte{'k', 'e', 'y'}

// Op is a single operation within a Batch.
type Op struct {
	Delete bool
	Key    []byte
	Value  []byte
}

// Batch accumulates operations to be committed atomically.
type Batch struct {
	ops []Op
}

// Put stages a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
}

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Delete: true, Key: append([]byte(nil), key...)})
}

// Len reports the number of staged operations.
func (b *Batch) Len() int { return len(b.ops) }

// KV is a single key/value pair, returned by iteration.
type KV struct {
	Key   []byte
	Value []byte
}

// Storage is the capability the core consumes: a namespaced, crash-
// consistent keyed byte store with atomic batch writes and prefix scans.
type Storage interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	WriteBatch(b *Batch) error
	Iterate(prefix []byte) (Iterator, error)
	Close() error
}

// Iterator lazily yields key/value pairs under a prefix, in key order.
type Iterator interface {
	Next() bool
	KV() KV
	Err() error
	Release()
}

// NamespacedKey builds a key of the form <ns><rest...>.
func NamespacedKey(ns byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, ns)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
