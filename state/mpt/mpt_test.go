// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mpt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/types"
)

type memStore struct {
	nodes map[types.Hash][]byte
}

func newMemStore() *memStore { return &memStore{nodes: make(map[types.Hash][]byte)} }

func (s *memStore) GetNode(h types.Hash) ([]byte, error) {
	v, ok := s.nodes[h]
	if !ok {
		return nil, errNotFound
	}
	return v, nil
}

func (s *memStore) PutNode(h types.Hash, enc []byte) { s.nodes[h] = enc }

type notFoundErr struct{}

func (notFoundErr) Error() string { return "mpt_test: node not found" }

var errNotFound = notFoundErr{}

func TestEmptyTrieRoot(t *testing.T) {
	tr := Empty(newMemStore())
	require.Equal(t, types.EmptyRootHash, tr.Root())
}

func TestPutGetRoundTrip(t *testing.T) {
	tr := Empty(newMemStore())
	require.NoError(t, tr.Put([]byte("alpha"), []byte("one")))
	require.NoError(t, tr.Put([]byte("alphabet"), []byte("two")))
	require.NoError(t, tr.Put([]byte("beta"), []byte("three")))

	v, err := tr.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	v, err = tr.Get([]byte("alphabet"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v)

	v, err = tr.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRootIsOrderIndependent(t *testing.T) {
	s1, s2 := newMemStore(), newMemStore()
	t1, t2 := Empty(s1), Empty(s2)

	require.NoError(t, t1.Put([]byte("a"), []byte("1")))
	require.NoError(t, t1.Put([]byte("b"), []byte("2")))

	require.NoError(t, t2.Put([]byte("b"), []byte("2")))
	require.NoError(t, t2.Put([]byte("a"), []byte("1")))

	require.Equal(t, t1.Root(), t2.Root())
}

func TestDeleteRemovesKey(t *testing.T) {
	tr := Empty(newMemStore())
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))

	root1 := tr.Root()

	require.NoError(t, tr.Delete([]byte("b")))
	v, err := tr.Get([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, v)

	s := newMemStore()
	fresh := Empty(s)
	require.NoError(t, fresh.Put([]byte("a"), []byte("1")))
	require.NotEqual(t, root1, fresh.Root(), "deleting b must change the root")
}

func TestOpenResolvesPersistedRoot(t *testing.T) {
	store := newMemStore()
	tr := Empty(store)
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))
	root := tr.Root()

	reopened, err := Open(root, store)
	require.NoError(t, err)
	v, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestOpenEmptyRootYieldsEmptyTrie(t *testing.T) {
	store := newMemStore()
	tr, err := Open(types.Hash{}, store)
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, tr.Root())

	tr2, err := Open(types.EmptyRootHash, store)
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, tr2.Root())
}

func TestPutEmptyValueDeletes(t *testing.T) {
	tr := Empty(newMemStore())
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("a"), nil))
	v, err := tr.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
}
