// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kestrel-chain/core/state/mpt"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
)

// Transition is a staged set of mutations against state that becomes
// visible atomically on Commit (spec.md §4.C / Glossary). It is not safe
// to share across goroutines.
type Transition struct {
	eng    *Engine
	height uint64

	parentRoot types.Hash

	accounts     map[types.Address]types.Account
	accountOrder []types.Address
	storageTries map[types.Address]*mpt.Trie
	codes        map[types.Hash][]byte

	done bool
}

// BeginTransition opens a staged change set rooted at the engine's
// currently committed state.
func (e *Engine) BeginTransition(height uint64) *Transition {
	return e.BeginTransitionAt(height, e.Root())
}

// BeginTransitionAt opens a staged change set rooted at an arbitrary,
// previously-committed state root rather than the engine's current one.
// This is what reorg replay uses to re-derive state along a new winning
// branch from its fork point, without disturbing the engine's view of the
// chain until each replayed block commits.
func (e *Engine) BeginTransitionAt(height uint64, root types.Hash) *Transition {
	return &Transition{
		eng:          e,
		height:       height,
		parentRoot:   root,
		accounts:     make(map[types.Address]types.Account),
		storageTries: make(map[types.Address]*mpt.Trie),
		codes:        make(map[types.Hash][]byte),
	}
}

// AccountForRead returns the transition's current view of addr, staging it
// into the write set if not already present. Used by callers (the EVM
// bridge) that need to read-modify-write an account across multiple
// staging calls within the same transaction.
func (tr *Transition) AccountForRead(addr types.Address) (types.Account, error) {
	return tr.account(addr)
}

func (tr *Transition) account(addr types.Address) (types.Account, error) {
	if acc, ok := tr.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := tr.readCommitted(addr)
	if err != nil {
		return types.Account{}, err
	}
	tr.setAccount(addr, acc)
	return acc, nil
}

// readCommitted resolves addr against this transition's parent root rather
// than the engine's (possibly different, during reorg replay) current root.
func (tr *Transition) readCommitted(addr types.Address) (types.Account, error) {
	trie, err := mpt.Open(tr.parentRoot, &readOnlyTrieStore{db: tr.eng.db})
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

// readStorageCommitted resolves (addr, key) against this transition's
// parent root, for the same reorg-replay-safety reason as readCommitted.
func (tr *Transition) readStorageCommitted(addr types.Address, key types.Hash) (types.Hash, error) {
	acc, err := tr.readCommitted(addr)
	if err != nil {
		return types.Hash{}, err
	}
	strie, err := mpt.Open(acc.StorageRoot, &readOnlyTrieStore{db: tr.eng.db})
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

func (tr *Transition) setAccount(addr types.Address, acc types.Account) {
	if _, ok := tr.accounts[addr]; !ok {
		tr.accountOrder = append(tr.accountOrder, addr)
	}
	tr.accounts[addr] = acc
}

// StageSetBalance buffers a balance mutation. Balances must never go
// negative; this is enforced here rather than at commit so callers (the
// EVM bridge) fail fast during execution.
func (tr *Transition) StageSetBalance(addr types.Address, balance *big.Int) error {
	if err := checkNonNegative(balance); err != nil {
		return err
	}
	acc, err := tr.account(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Set(balance)
	tr.setAccount(addr, acc)
	return nil
}

// StageSetNonce buffers a nonce mutation.
func (tr *Transition) StageSetNonce(addr types.Address, nonce uint64) error {
	acc, err := tr.account(addr)
	if err != nil {
		return err
	}
	acc.Nonce = nonce
	tr.setAccount(addr, acc)
	return nil
}

// StageSetCode buffers a contract-code write, updating the account's
// code-hash and staging the code blob for persistence at commit.
func (tr *Transition) StageSetCode(addr types.Address, code []byte) error {
	acc, err := tr.account(addr)
	if err != nil {
		return err
	}
	hash := cryptoKeccak(code)
	acc.CodeHash = hash
	tr.codes[hash] = code
	tr.setAccount(addr, acc)
	return nil
}

// StageSetStorage buffers a storage-slot mutation for addr. A zero value
// deletes the slot, matching MPT zero-value-is-absence semantics.
func (tr *Transition) StageSetStorage(addr types.Address, key, value types.Hash) error {
	strie, err := tr.storageTrieFor(addr)
	if err != nil {
		return err
	}
	if value == (types.Hash{}) {
		if err := strie.Delete(storageKey(key)); err != nil {
			return err
		}
	} else {
		if err := strie.Put(storageKey(key), value.Bytes()); err != nil {
			return err
		}
	}
	// Touch the account so it's included in this transition's write set
	// even if only its storage root changes.
	if _, err := tr.account(addr); err != nil {
		return err
	}
	return nil
}

func (tr *Transition) storageTrieFor(addr types.Address) (*mpt.Trie, error) {
	if t, ok := tr.storageTries[addr]; ok {
		return t, nil
	}
	acc, err := tr.account(addr)
	if err != nil {
		return nil, err
	}
	t, err := mpt.Open(acc.StorageRoot, &readOnlyTrieStore{db: tr.eng.db})
	if err != nil {
		return nil, err
	}
	tr.storageTries[addr] = t
	return t, nil
}

// Commit atomically applies every staged mutation: it recomputes per-
// account storage roots, the account trie root, writes the WAL record and
// advances the snapshot pointer. It is serialized with respect to other
// commits; concurrent readers see the prior root until Commit returns.
func (tr *Transition) Commit() (types.Hash, error) {
	if tr.done {
		return types.Hash{}, fmt.Errorf("state: transition already finalized")
	}
	tr.done = true

	tr.eng.commitMu.Lock()
	defer tr.eng.commitMu.Unlock()

	batch := new(storage.Batch)
	tstore := newTrieStore(tr.eng.db, batch)

	accountsTrie, err := mpt.Open(tr.parentRoot, tstore)
	if err != nil {
		return types.Hash{}, err
	}

	for _, addr := range tr.accountOrder {
		acc := tr.accounts[addr]
		if strie, ok := tr.storageTries[addr]; ok {
			strieWithStore := rebind(strie, tstore)
			acc.StorageRoot = strieWithStore.Root()
		}
		enc, err := rlp.EncodeToBytes(&acc)
		if err != nil {
			return types.Hash{}, err
		}
		if err := accountsTrie.Put(accountKey(addr), enc); err != nil {
			return types.Hash{}, err
		}
	}
	newRoot := accountsTrie.Root()

	for hash, code := range tr.codes {
		batch.Put(storage.NamespacedKey(storage.NamespaceCode, hash.Bytes()), code)
	}

	batch.Put(storage.NamespacedKey(storage.NamespaceSnapshot, heightBytes(tr.height)), newRoot.Bytes())

	if err := tr.eng.db.WriteBatch(batch); err != nil {
		log.Error("state commit failed, halting on prior root", "height", tr.height, "err", err)
		return types.Hash{}, fmt.Errorf("state: commit i/o failure (fatal): %w", err)
	}

	// The account-trie batch above is already durable and atomic; this
	// journal entry only needs to let a restarted engine recover the tip
	// pointer, so it is appended after the batch succeeds rather than
	// before (spec.md §4.C "WAL & recovery" cares about tip recovery, not
	// write atomicity, which WriteBatch already guarantees).
	recEnc, err := rlp.EncodeToBytes(&walRecord{Height: tr.height, Root: newRoot})
	if err != nil {
		return types.Hash{}, err
	}
	walIdx, err := tr.eng.wal.LastIndex()
	if err != nil {
		return types.Hash{}, fmt.Errorf("state: read wal tip: %w", err)
	}
	if err := tr.eng.wal.Write(walIdx+1, recEnc); err != nil {
		log.Error("wal journal append failed", "height", tr.height, "err", err)
		return types.Hash{}, fmt.Errorf("state: wal append failure (fatal): %w", err)
	}

	tr.eng.mu.Lock()
	tr.eng.currentRoot = newRoot
	tr.eng.currentHeight = tr.height
	tr.eng.snapshots[tr.height] = newRoot
	tr.eng.mu.Unlock()

	return newRoot, nil
}

// Rollback discards every staged mutation; the engine's committed state is
// untouched.
func (tr *Transition) Rollback() {
	tr.done = true
	tr.accounts = nil
	tr.storageTries = nil
	tr.codes = nil
}

// rebind re-targets a trie opened against a read-only store onto a
// write-capable one sharing the same in-memory dirty nodes, so storage-root
// recomputation at commit time persists through the same batch as the
// account trie.
func rebind(t *mpt.Trie, s *trieStore) *mpt.Trie {
	return t.WithStore(s)
}
