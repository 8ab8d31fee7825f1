// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
)

// putHeader persists a header, its height->hash index entry and (if
// present) the full block body.
func putHeader(batch *storage.Batch, block *types.Block) error {
	hash := block.Hash()
	hEnc, err := rlp.EncodeToBytes(block.Header)
	if err != nil {
		return err
	}
	batch.Put(storage.NamespacedKey(storage.NamespaceHeader, hash.Bytes()), hEnc)
	bEnc, err := rlp.EncodeToBytes(block)
	if err != nil {
		return err
	}
	batch.Put(storage.NamespacedKey(storage.NamespaceBlock, hash.Bytes()), bEnc)
	batch.Put(storage.NamespacedKey(storage.NamespaceHashByHeight, heightKey(block.Height())), hash.Bytes())
	return nil
}

// deleteBlockIndices stages removal of block's receipt and tx-index
// entries, undoing the durable record of a superseded branch on reorg.
// The header/body/height-index entries are left in place: they stay
// addressable by hash for as long as anything still references them (a
// peer catching up on the old branch, an explorer), only the canonical
// height->hash pointer is ever overwritten, which applyChain already does
// by writing the new branch's own entries over it.
func deleteBlockIndices(batch *storage.Batch, block *types.Block) {
	hash := block.Hash()
	for i, tx := range block.Txs {
		batch.Delete(storage.NamespacedKey(storage.NamespaceReceipt, hash.Bytes(), uintKey(uint(i))))
		batch.Delete(storage.NamespacedKey(storage.NamespaceTxIndex, tx.Hash().Bytes()))
	}
}

func heightKey(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * (7 - i)))
	}
	return b
}

// getHeaderByHash looks up a previously-committed header from storage.
func (b *Buffer) getHeaderByHash(hash types.Hash) (*types.Header, bool) {
	raw, err := b.db.Get(storage.NamespacedKey(storage.NamespaceHeader, hash.Bytes()))
	if err != nil || raw == nil {
		return nil, false
	}
	var h types.Header
	if err := rlp.DecodeBytes(raw, &h); err != nil {
		return nil, false
	}
	return &h, true
}

// getCandidateOrCommitted resolves a header by hash, checking the buffered
// candidate set first (so a chain of not-yet-applied candidates can still
// validate against each other) and falling back to committed storage.
func (b *Buffer) getCandidateOrCommitted(hash types.Hash) (*types.Header, bool) {
	b.mu.Lock()
	entry, ok := b.candidates[hash]
	b.mu.Unlock()
	if ok {
		return entry.Block.Header, true
	}
	return b.getHeaderByHash(hash)
}

// canonicalHashAt returns the committed block hash at height, if any.
func (b *Buffer) canonicalHashAt(height uint64) (types.Hash, bool) {
	raw, err := b.db.Get(storage.NamespacedKey(storage.NamespaceHashByHeight, heightKey(height)))
	if err != nil || raw == nil {
		return types.Hash{}, false
	}
	var h types.Hash
	h.SetBytes(raw)
	return h, true
}

// getBlockByHash loads a previously-committed block body from storage.
func (b *Buffer) getBlockByHash(hash types.Hash) (*types.Block, bool) {
	raw, err := b.db.Get(storage.NamespacedKey(storage.NamespaceBlock, hash.Bytes()))
	if err != nil || raw == nil {
		return nil, false
	}
	var blk types.Block
	if err := rlp.DecodeBytes(raw, &blk); err != nil {
		return nil, false
	}
	return &blk, true
}

// HeaderByHash resolves a header by hash for external readers (the RPC
// collaborator's ChainReader), checking buffered candidates first.
func (b *Buffer) HeaderByHash(hash types.Hash) (*types.Header, bool) {
	return b.getCandidateOrCommitted(hash)
}

// HeaderByHeight returns the canonical header at height, if committed.
func (b *Buffer) HeaderByHeight(height uint64) (*types.Header, bool) {
	hash, ok := b.canonicalHashAt(height)
	if !ok {
		return nil, false
	}
	return b.getCandidateOrCommitted(hash)
}

// BlockByHash resolves a full block by hash, checking buffered candidates
// (so an applied-but-not-yet-GC'd candidate is visible) before falling
// back to committed storage.
func (b *Buffer) BlockByHash(hash types.Hash) (*types.Block, bool) {
	b.mu.Lock()
	entry, ok := b.candidates[hash]
	b.mu.Unlock()
	if ok {
		return entry.Block, true
	}
	return b.getBlockByHash(hash)
}

// BlockByHeight returns the canonical block at height, if committed.
func (b *Buffer) BlockByHeight(height uint64) (*types.Block, bool) {
	hash, ok := b.canonicalHashAt(height)
	if !ok {
		return nil, false
	}
	return b.getBlockByHash(hash)
}

// TxLocation finds a committed transaction's containing block and index.
func (b *Buffer) TxLocation(hash types.Hash) (tx *types.Transaction, blockHash types.Hash, height uint64, index uint, ok bool) {
	raw, err := b.db.Get(storage.NamespacedKey(storage.NamespaceTxIndex, hash.Bytes()))
	if err != nil || raw == nil {
		return nil, types.Hash{}, 0, 0, false
	}
	blockHash.SetBytes(raw)
	block, found := b.getBlockByHash(blockHash)
	if !found {
		return nil, types.Hash{}, 0, 0, false
	}
	for i, t := range block.Txs {
		if t.Hash() == hash {
			return t, blockHash, block.Height(), uint(i), true
		}
	}
	return nil, types.Hash{}, 0, 0, false
}

// Receipt returns the committed receipt for a transaction hash.
func (b *Buffer) Receipt(hash types.Hash) (*types.Receipt, bool) {
	_, blockHash, _, index, ok := b.TxLocation(hash)
	if !ok {
		return nil, false
	}
	raw, err := b.db.Get(storage.NamespacedKey(storage.NamespaceReceipt, blockHash.Bytes(), uintKey(index)))
	if err != nil || raw == nil {
		return nil, false
	}
	var r types.Receipt
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func isValidator(cfg interface {
	StakeShare(types.Address) (uint64, uint64)
}, addr types.Address) bool {
	num, den := cfg.StakeShare(addr)
	return den > 0 && num > 0
}

func unmarshalPub(b []byte) (*ecdsa.PublicKey, error) {
	return crypto.UnmarshalPubkey(b)
}
