// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
)

// trieStore adapts the Storage capability to the mpt package's node-store
// contract under the "mpt:" namespace. Writes are buffered into the
// caller-supplied batch so a trie's node writes commit atomically together
// with the account/code writes of the same Transition.
type trieStore struct {
	db    storage.Storage
	batch *storage.Batch
}

func newTrieStore(db storage.Storage, batch *storage.Batch) *trieStore {
	return &trieStore{db: db, batch: batch}
}

func (s *trieStore) GetNode(hash types.Hash) ([]byte, error) {
	return s.db.Get(storage.NamespacedKey(storage.NamespaceMPT, hash.Bytes()))
}

func (s *trieStore) PutNode(hash types.Hash, encoded []byte) {
	s.batch.Put(storage.NamespacedKey(storage.NamespaceMPT, hash.Bytes()), encoded)
}
