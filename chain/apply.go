// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kestrel-chain/core/metrics"
	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/state/mpt"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
	kvm "github.com/kestrel-chain/core/vm"
)

// applyChain walks entry's ancestry back to the most recent block already
// applied to the state engine, then replays every block on that path
// forward in order, executing its transactions and checking the declared
// roots. This is both the common "extend the tip by one" path and the
// general bounded-reorg path from spec.md §4.F: a branch that would need
// more than MAX_REORG+1 blocks replayed from its fork point is rejected
// with ErrReorgTooDeep before any replay is attempted.
func (b *Buffer) applyChain(entry *CandidateEntry) error {
	path, forkRoot, forkHeight, err := b.ancestryPath(entry)
	if err != nil {
		return err
	}
	metrics.ReorgDepth.Observe(float64(len(path)))

	b.mu.Lock()
	oldTip := b.tip
	b.mu.Unlock()

	orphaned, undoBatch := b.collectOrphaned(oldTip, forkHeight)

	root := forkRoot
	for _, cand := range path {
		newRoot, err := b.applyOne(cand, root)
		if err != nil {
			return err
		}
		root = newRoot
		b.mu.Lock()
		cand.Status = Applied
		b.mu.Unlock()
	}

	if undoBatch.Len() > 0 {
		if err := b.db.WriteBatch(undoBatch); err != nil {
			return newFatalError(fmt.Errorf("chain: undo index write failed: %w", err))
		}
	}

	b.mu.Lock()
	b.tip = Tip{Hash: entry.Block.Hash(), Height: entry.Block.Height(), CumulativeWork: entry.CumulativeWork}
	b.mu.Unlock()
	metrics.ChainHeight.Set(float64(entry.Block.Height()))
	b.feed.Send(ChainHeadEvent{Block: entry.Block})

	newTxs := make(map[types.Hash]struct{}, len(entry.Block.Txs))
	for _, tx := range entry.Block.Txs {
		newTxs[tx.Hash()] = struct{}{}
		b.pool.Remove(tx.Hash())
	}
	// spec.md §8 Scenario 4: transactions exclusive to the superseded
	// branch are returned to the pool if still valid (an already-included
	// duplicate, or one whose nonce the new branch has consumed, is
	// rejected harmlessly by Add's own admission rules).
	for _, tx := range orphaned {
		if _, included := newTxs[tx.Hash()]; included {
			continue
		}
		if res := b.pool.Add(tx); res.Rejected != nil {
			logger.Debug("orphaned transaction not re-admitted", "hash", tx.Hash(), "err", res.Rejected)
		}
	}
	return nil
}

// collectOrphaned walks the branch rooted at oldTip back down to
// forkHeight, the height of the nearest ancestor the winning candidate
// shares with it, staging deletion of each abandoned block's receipt and
// tx-index entries and gathering its transactions for resubmission to the
// pool. It is a no-op when entry simply extends the current tip
// (oldTip.Height == forkHeight).
func (b *Buffer) collectOrphaned(oldTip Tip, forkHeight uint64) ([]*types.Transaction, *storage.Batch) {
	batch := new(storage.Batch)
	if oldTip.CumulativeWork == nil || oldTip.Height <= forkHeight {
		return nil, batch
	}
	var orphaned []*types.Transaction
	cur := oldTip.Hash
	for h := oldTip.Height; h > forkHeight; h-- {
		blk, ok := b.getBlockByHash(cur)
		if !ok {
			break
		}
		deleteBlockIndices(batch, blk)
		orphaned = append(orphaned, blk.Txs...)
		cur = blk.Header.ParentHash
	}
	return orphaned, batch
}

// ancestryPath walks from entry back to the nearest ancestor whose state
// root the engine already has a snapshot for, returning the replay path in
// forward (oldest-first) order and that ancestor's state root.
func (b *Buffer) ancestryPath(entry *CandidateEntry) (path []*CandidateEntry, forkRoot types.Hash, forkHeight uint64, err error) {
	cur := entry
	for {
		h := cur.Block.Header
		path = append([]*CandidateEntry{cur}, path...)
		if uint64(len(path)) > b.cfg.MaxReorgDepth+1 {
			return nil, types.Hash{}, 0, ErrReorgTooDeep
		}
		if h.IsGenesis() {
			return path, types.Hash{}, 0, nil
		}
		if canonHash, ok := b.canonicalHashAt(h.Height - 1); ok && canonHash == h.ParentHash {
			root, err := b.eng.StateRootAt(h.Height - 1)
			if err == nil {
				return path, root, h.Height - 1, nil
			}
		}
		b.mu.Lock()
		parent, ok := b.candidates[h.ParentHash]
		b.mu.Unlock()
		if !ok {
			return nil, types.Hash{}, 0, ErrUnknownParent
		}
		cur = parent
	}
}

// applyOne executes a single block's transactions against the state rooted
// at parentRoot, checks its declared roots, and commits on success.
func (b *Buffer) applyOne(cand *CandidateEntry, parentRoot types.Hash) (types.Hash, error) {
	block := cand.Block
	h := block.Header

	if h.IsGenesis() {
		tr := b.eng.BeginTransitionAt(0, parentRoot)
		for addr, balance := range b.cfg.GenesisAlloc {
			if err := tr.StageSetBalance(addr, balance); err != nil {
				tr.Rollback()
				return types.Hash{}, err
			}
		}
		root, err := tr.Commit()
		if err != nil {
			return types.Hash{}, newFatalError(fmt.Errorf("chain: genesis commit failed: %w", err))
		}
		if root != h.StateRoot {
			return types.Hash{}, ErrStateRootMismatch
		}
		// Unlike every other height, genesis has no transactions and so no
		// receipts/tx-index entries, but its header and body still need a
		// durable record: without this, the genesis block becomes
		// unreachable the moment its in-memory candidate entry is GC'd.
		batch := new(storage.Batch)
		if err := putHeader(batch, block); err != nil {
			return types.Hash{}, err
		}
		if err := b.db.WriteBatch(batch); err != nil {
			return types.Hash{}, newFatalError(fmt.Errorf("chain: genesis index write failed: %w", err))
		}
		return root, nil
	}

	tr := b.eng.BeginTransitionAt(h.Height, parentRoot)
	view := b.eng.NewSyncView(tr)
	bridge := kvm.NewBridge(view)

	bc := kvm.BlockContext{
		BlockHash: block.Hash(),
		Height:    h.Height,
		Timestamp: h.Timestamp,
		Proposer:  h.Coinbase,
		BaseFee:   h.BaseFee,
		GasLimit:  h.GasLimit,
		ChainID:   b.cfg.ChainID,
	}

	receipts := make([]*types.Receipt, 0, len(block.Txs))
	var cumGas uint64
	for i, tx := range block.Txs {
		outcome, err := bridge.Execute(bc, tx, tr)
		if err != nil {
			tr.Rollback()
			return types.Hash{}, fmt.Errorf("chain: tx %d invalid: %w", i, err)
		}
		cumGas += outcome.GasUsed
		r := &types.Receipt{
			Status:            outcome.Status,
			CumulativeGasUsed: cumGas,
			Logs:              outcome.Logs,
			ContractAddress:   outcome.CreatedAddress,
			TxHash:            tx.Hash(),
			TxIndex:           uint(i),
			BlockHash:         block.Hash(),
			BlockNumber:       h.Height,
			GasUsed:           outcome.GasUsed,
		}
		receipts = append(receipts, r)
	}

	memTxTrie := &panicTrie{t: mpt.Empty(&memTrieStore{})}
	txRoot := types.CalcTxRoot(block.Txs, memTxTrie)
	if txRoot != h.TxRoot {
		tr.Rollback()
		return types.Hash{}, ErrBadTxRoot
	}

	memReceiptTrie := &panicTrie{t: mpt.Empty(&memTrieStore{})}
	receiptRoot := types.CalcReceiptRoot(receipts, memReceiptTrie)
	if receiptRoot != h.ReceiptRoot {
		tr.Rollback()
		return types.Hash{}, ErrReceiptRootMismatch
	}

	newRoot, err := tr.Commit()
	if err != nil {
		return types.Hash{}, newFatalError(fmt.Errorf("chain: commit failed: %w", err))
	}
	if newRoot != h.StateRoot {
		return types.Hash{}, ErrStateRootMismatch
	}

	batch := new(storage.Batch)
	if err := putHeader(batch, block); err != nil {
		return types.Hash{}, err
	}
	for i, r := range receipts {
		enc, err := rlp.EncodeToBytes(r)
		if err != nil {
			return types.Hash{}, err
		}
		batch.Put(storage.NamespacedKey(storage.NamespaceReceipt, block.Hash().Bytes(), uintKey(uint(i))), enc)
		batch.Put(storage.NamespacedKey(storage.NamespaceTxIndex, block.Txs[i].Hash().Bytes()), block.Hash().Bytes())
	}
	if err := b.db.WriteBatch(batch); err != nil {
		return types.Hash{}, newFatalError(fmt.Errorf("chain: index write failed: %w", err))
	}

	return newRoot, nil
}

func uintKey(v uint) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * (3 - i)))
	}
	return b
}

// memTrieStore is a throwaway MPT backing store used to compute the
// transactions/receipts root of a single block; it is never persisted.
type memTrieStore struct {
	nodes map[types.Hash][]byte
}

func (s *memTrieStore) GetNode(h types.Hash) ([]byte, error) {
	if s.nodes == nil {
		return nil, storage.ErrNotFound
	}
	v, ok := s.nodes[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *memTrieStore) PutNode(h types.Hash, enc []byte) {
	if s.nodes == nil {
		s.nodes = make(map[types.Hash][]byte)
	}
	s.nodes[h] = enc
}

// panicTrie adapts *mpt.Trie's fallible Put to the error-free Put that
// types.CalcTxRoot expects; the only failure mode (a corrupt store read
// mid-insert) cannot occur against the freshly-created in-memory store
// used here, so panicking rather than threading an error is safe.
type panicTrie struct{ t *mpt.Trie }

func (p *panicTrie) Put(key, value []byte) {
	if err := p.t.Put(key, value); err != nil {
		panic(err)
	}
}

func (p *panicTrie) Root() types.Hash { return p.t.Root() }

// NonceReader adapts the state engine to txpool.AccountNonceReader.
type NonceReader struct{ Eng *state.Engine }

// CommittedNonce implements txpool.AccountNonceReader.
func (n NonceReader) CommittedNonce(addr types.Address) uint64 {
	acc, err := n.Eng.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Nonce
}
