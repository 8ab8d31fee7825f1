// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the account-state engine: the account/storage
// map, its Merkle-Patricia-Trie commitment, write-ahead-log persistence
// with height-keyed snapshots, pruning, and a synchronous view for EVM
// execution (spec.md §4.C).
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/tidwall/wal"

	"github.com/kestrel-chain/core/state/mpt"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
)

var logger = log.New("module", "state")

// ErrUnknownHeight is returned by StateRootAt for a height with no retained
// snapshot (pruned or never committed).
var ErrUnknownHeight = errors.New("state: unknown or pruned height")

// PruneMode selects how aggressively old snapshots are discarded.
type PruneMode int

const (
	PruneArchive PruneMode = iota // never prune
	PruneDefault
	PruneAggressive
)

// Engine is the account-state engine described by spec.md §4.C. Concurrent
// Get* calls are lock-free readers against the last committed snapshot;
// commits are serialized by commitMu, and readers never observe a partial
// commit (snapshot isolation).
type Engine struct {
	db  storage.Storage
	wal *wal.Log

	mu            sync.RWMutex
	currentRoot   types.Hash
	currentHeight uint64
	snapshots     map[uint64]types.Hash // height -> state root, pruned ring

	commitMu sync.Mutex

	pruneMode PruneMode
	pruneMin  uint64
	pruneMax  uint64

	requests chan readRequest
	closeCh  chan struct{}
}

// walRecord is the commit journal entry appended to the write-ahead log
// once a commit's account-trie batch has been durably written, per
// spec.md §4.C "WAL & recovery". The trie writes themselves are already
// atomic via the underlying Storage's WriteBatch; this record's job is
// letting a restarted engine recover the in-memory tip pointer.
type walRecord struct {
	Height uint64
	Root   types.Hash
}

// Open constructs an Engine over db, with its commit journal kept in a
// dedicated tidwall/wal log rooted at walDir. If the database is empty,
// Open returns an engine rooted at the empty trie at height 0; callers
// apply genesis via a Transition exactly like any other block.
func Open(db storage.Storage, walDir string, pruneMode PruneMode, pruneMin, pruneMax uint64) (*Engine, error) {
	w, err := wal.Open(walDir, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open wal: %w", err)
	}
	e := &Engine{
		db:        db,
		wal:       w,
		snapshots: make(map[uint64]types.Hash),
		pruneMode: pruneMode,
		pruneMin:  pruneMin,
		pruneMax:  pruneMax,
		requests:  make(chan readRequest, 1),
		closeCh:   make(chan struct{}),
	}
	if err := e.recover(); err != nil {
		return nil, err
	}
	go e.serve()
	return e, nil
}

// recover restores the in-memory tip pointer from the last record in the
// commit journal, if any.
func (e *Engine) recover() error {
	last, err := e.wal.LastIndex()
	if err != nil {
		return fmt.Errorf("state: read wal tip: %w", err)
	}
	if last == 0 {
		return nil
	}
	raw, err := e.wal.Read(last)
	if err != nil {
		return fmt.Errorf("state: read wal record %d: %w", last, err)
	}
	var rec walRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return fmt.Errorf("state: corrupt wal record: %w", err)
	}
	e.currentRoot = rec.Root
	e.currentHeight = rec.Height
	e.snapshots[rec.Height] = rec.Root
	logger.Info("state recovered from wal", "height", e.currentHeight, "root", e.currentRoot)
	return nil
}

// Close stops the synchronous-view worker goroutine and the commit journal.
func (e *Engine) Close() {
	close(e.closeCh)
	if err := e.wal.Close(); err != nil {
		logger.Warn("wal close failed", "err", err)
	}
}

// Root returns the currently committed state root.
func (e *Engine) Root() types.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentRoot
}

// Height returns the height of the currently committed state.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentHeight
}

func (e *Engine) openAccountsTrie(root types.Hash) (*mpt.Trie, error) {
	return mpt.Open(root, &readOnlyTrieStore{db: e.db})
}

type readOnlyTrieStore struct{ db storage.Storage }

func (s *readOnlyTrieStore) GetNode(h types.Hash) ([]byte, error) {
	return s.db.Get(storage.NamespacedKey(storage.NamespaceMPT, h.Bytes()))
}
func (s *readOnlyTrieStore) PutNode(types.Hash, []byte) {}

func accountKey(addr types.Address) []byte {
	h := cryptoKeccak(addr.Bytes())
	return h[:]
}

func storageKey(slot types.Hash) []byte {
	h := cryptoKeccak(slot.Bytes())
	return h[:]
}

// GetAccount returns the account record at addr against the currently
// committed root, or the zero-account if the address has never been
// touched.
func (e *Engine) GetAccount(addr types.Address) (types.Account, error) {
	return e.GetAccountAt(e.Root(), addr)
}

// GetAccountAt is GetAccount against an arbitrary previously-committed
// root, used to serve historical RPC reads (spec.md §6.3's `block?`
// parameter on get_balance/get_nonce/get_code/get_storage).
func (e *Engine) GetAccountAt(root types.Hash, addr types.Address) (types.Account, error) {
	trie, err := e.openAccountsTrie(root)
	if err != nil {
		return types.Account{}, err
	}
	raw, err := trie.Get(accountKey(addr))
	if err != nil {
		return types.Account{}, err
	}
	if raw == nil {
		return types.NewEmptyAccount(), nil
	}
	var acc types.Account
	if err := rlp.DecodeBytes(raw, &acc); err != nil {
		return types.Account{}, err
	}
	return acc, nil
}

// GetStorage returns the 256-bit value stored at (addr, key) against the
// currently committed root, or the zero value if absent.
func (e *Engine) GetStorage(addr types.Address, key types.Hash) (types.Hash, error) {
	return e.GetStorageAt(e.Root(), addr, key)
}

// GetStorageAt is GetStorage against an arbitrary previously-committed root.
func (e *Engine) GetStorageAt(root types.Hash, addr types.Address, key types.Hash) (types.Hash, error) {
	acc, err := e.GetAccountAt(root, addr)
	if err != nil {
		return types.Hash{}, err
	}
	strie, err := mpt.Open(acc.StorageRoot, &readOnlyTrieStore{db: e.db})
	if err != nil {
		return types.Hash{}, err
	}
	raw, err := strie.Get(storageKey(key))
	if err != nil {
		return types.Hash{}, err
	}
	var out types.Hash
	out.SetBytes(raw)
	return out, nil
}

// GetCode returns the bytecode for codeHash, or nil if unknown.
func (e *Engine) GetCode(codeHash types.Hash) ([]byte, error) {
	if codeHash == types.EmptyCodeHash {
		return nil, nil
	}
	code, err := e.db.Get(storage.NamespacedKey(storage.NamespaceCode, codeHash.Bytes()))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return code, err
}

// StateRootAt returns the committed state root at height, for proofs and
// sync, or ErrUnknownHeight if the snapshot has been pruned or never
// existed.
func (e *Engine) StateRootAt(height uint64) (types.Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	root, ok := e.snapshots[height]
	if !ok {
		return types.Hash{}, ErrUnknownHeight
	}
	return root, nil
}

// Prune deletes historical snapshot metadata older than
// height(tip) - maxHeightToKeep, preserving at least pruneMin recent
// heights. It fails closed: if deleting would leave fewer than pruneMin,
// it is a no-op. Archive mode never prunes.
func (e *Engine) Prune(maxHeightToKeep uint64) error {
	if e.pruneMode == PruneArchive {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentHeight < maxHeightToKeep {
		return nil
	}
	boundary := e.currentHeight - maxHeightToKeep
	var retained uint64
	for h := range e.snapshots {
		if h >= boundary {
			retained++
		}
	}
	if retained < e.pruneMin {
		return nil
	}
	batch := new(storage.Batch)
	for h, root := range e.snapshots {
		if h < boundary {
			delete(e.snapshots, h)
			batch.Delete(storage.NamespacedKey(storage.NamespaceSnapshot, heightBytes(h)))
			_ = root
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return e.db.WriteBatch(batch)
}

func heightBytes(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * (7 - i)))
	}
	return b
}

// checkNonNegative enforces the invariant that balance never goes
// negative; callers (the EVM bridge, stage_set_balance) must check before
// staging, this only guards against internal misuse.
func checkNonNegative(v *big.Int) error {
	if v.Sign() < 0 {
		return errors.New("state: negative balance")
	}
	return nil
}
