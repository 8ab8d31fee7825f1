// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "github.com/ethereum/go-ethereum/rlp"

// Block is a header paired with its ordered transaction list.
type Block struct {
	Header *Header
	Txs    []*Transaction
}

// NewBlock builds a block from a header and transaction list. The caller is
// responsible for having set TxRoot on the header beforehand.
func NewBlock(header *Header, txs []*Transaction) *Block {
	return &Block{Header: header, Txs: txs}
}

// Hash returns the block's header hash.
func (b *Block) Hash() Hash { return b.Header.Hash() }

// Height returns the block's height.
func (b *Block) Height() uint64 { return b.Header.Height }

// ParentHash returns the hash of the parent block.
func (b *Block) ParentHash() Hash { return b.Header.ParentHash }

// Transactions returns the block's ordered transaction list.
func (b *Block) Transactions() []*Transaction { return b.Txs }

// CalcTxRoot computes the MPT-style commitment over the ordered transaction
// list using their index (as an RLP-encoded integer) as key, matching the
// construction used for the state trie.
func CalcTxRoot(txs []*Transaction, hasher interface {
	Put(key, value []byte)
	Root() Hash
}) Hash {
	for i, tx := range txs {
		raw, err := rlp.EncodeToBytes(tx)
		if err != nil {
			panic(err)
		}
		key, err := rlp.EncodeToBytes(uint(i))
		if err != nil {
			panic(err)
		}
		hasher.Put(key, raw)
	}
	return hasher.Root()
}

// CalcReceiptRoot computes the same MPT-style commitment as CalcTxRoot,
// over a block's ordered receipt list.
func CalcReceiptRoot(receipts []*Receipt, hasher interface {
	Put(key, value []byte)
	Root() Hash
}) Hash {
	for i, r := range receipts {
		raw, err := rlp.EncodeToBytes(r)
		if err != nil {
			panic(err)
		}
		key, err := rlp.EncodeToBytes(uint(i))
		if err != nil {
			panic(err)
		}
		hasher.Put(key, raw)
	}
	return hasher.Root()
}

// blockRLP is the wire encoding of a Block: header followed by the tx list.
type blockRLP struct {
	Header *Header
	Txs    []*Transaction
}

// EncodeRLP implements rlp.Encoder.
func (b *Block) EncodeRLP(w interface {
	Write([]byte) (int, error)
}) error {
	return rlp.Encode(w, blockRLP{Header: b.Header, Txs: b.Txs})
}

// DecodeRLP implements rlp.Decoder, the exact inverse of EncodeRLP.
func (b *Block) DecodeRLP(s *rlp.Stream) error {
	var dec blockRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	b.Header = dec.Header
	b.Txs = dec.Txs
	return nil
}
