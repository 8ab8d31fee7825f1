// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testStorageContract runs a common Storage contract suite against any
// implementation; both MemStorage and LevelDB must satisfy it identically.
func testStorageContract(t *testing.T, db Storage) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("k1"), []byte("v1")))
	v, err := db.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, db.Delete([]byte("k1")))
	_, err = db.Get([]byte("k1"))
	require.ErrorIs(t, err, ErrNotFound)

	batch := new(Batch)
	batch.Put([]byte("a1"), []byte("1"))
	batch.Put([]byte("a2"), []byte("2"))
	batch.Put([]byte("b1"), []byte("3"))
	require.NoError(t, db.WriteBatch(batch))

	it, err := db.Iterate([]byte("a"))
	require.NoError(t, err)
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.KV().Key))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"a1", "a2"}, keys)
}

func TestMemStorageContract(t *testing.T) {
	testStorageContract(t, NewMemStorage())
}

func TestLevelDBContract(t *testing.T) {
	db, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	testStorageContract(t, db)
}

func TestMemStorageBatchDeleteIsAtomic(t *testing.T) {
	db := NewMemStorage()
	require.NoError(t, db.Put([]byte("x"), []byte("1")))

	batch := new(Batch)
	batch.Delete([]byte("x"))
	batch.Put([]byte("y"), []byte("2"))
	require.NoError(t, db.WriteBatch(batch))

	_, err := db.Get([]byte("x"))
	require.ErrorIs(t, err, ErrNotFound)
	v, err := db.Get([]byte("y"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestNamespacedKey(t *testing.T) {
	k := NamespacedKey(NamespaceHeader, []byte{0x01, 0x02}, []byte{0x03})
	require.Equal(t, []byte{'h', 0x01, 0x02, 0x03}, k)
}
