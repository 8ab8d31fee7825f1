// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is the production Storage implementation: a single-process
// embedded key-value store with atomic batch writes, per spec.md §6.1.
// Failure to open is fatal, as the specification requires.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// WriteBatch applies every staged operation atomically: on restart a
// partially written batch is never visible, satisfying the crash-
// consistency requirement of spec.md §4.B.
func (l *LevelDB) WriteBatch(b *Batch) error {
	wb := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.Delete {
			wb.Delete(op.Key)
			continue
		}
		wb.Put(op.Key, op.Value)
	}
	return l.db.Write(wb, nil)
}

func (l *LevelDB) Iterate(prefix []byte) (Iterator, error) {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &levelIterator{it: it}, nil
}

func (l *LevelDB) Close() error { return l.db.Close() }

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool { return it.it.Next() }

func (it *levelIterator) KV() KV {
	return KV{Key: append([]byte(nil), it.it.Key()...), Value: append([]byte(nil), it.it.Value()...)}
}

func (it *levelIterator) Err() error {
	if err := it.it.Error(); err != nil && err != errors.ErrNotFound {
		return err
	}
	return nil
}

func (it *levelIterator) Release() { it.it.Release() }
