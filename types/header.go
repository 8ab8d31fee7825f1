// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// PoVFProof carries the leader-election and time-enforcement evidence that
// accompanies every block header past genesis.
type PoVFProof struct {
	VRFOutput  []byte `json:"vrfOutput"`
	VRFProof   []byte `json:"vrfProof"`
	VDFOutput  []byte `json:"vdfOutput"`
	VDFProof   []byte `json:"vdfProof"`
	Iterations uint64 `json:"iterations"`
}

// IsNil reports whether the proof is the genesis block's null proof.
func (p *PoVFProof) IsNil() bool {
	return p == nil || (len(p.VRFOutput) == 0 && len(p.VDFOutput) == 0 && p.Iterations == 0)
}

// Header is the block header: everything needed to verify a block without
// its transaction bodies.
type Header struct {
	Height      uint64    `json:"height"`
	ParentHash  Hash      `json:"parentHash"`
	Timestamp   uint64    `json:"timestamp"`
	StateRoot   Hash      `json:"stateRoot"`
	TxRoot      Hash      `json:"transactionsRoot"`
	ReceiptRoot Hash      `json:"receiptsRoot"`
	Proposer    []byte    `json:"proposerPublicKey"`
	Coinbase    Address   `json:"coinbase"`
	BaseFee     *big.Int  `json:"baseFee"`
	GasLimit    uint64    `json:"gasLimit"`
	GasUsed     uint64    `json:"gasUsed"`
	Proof       PoVFProof `json:"povf"`
	ExtraData   []byte    `json:"extraData"`
}

// Hash returns the keccak-256 digest of the header's RLP encoding. Two
// headers with identical field values always hash identically, and the
// encoding round-trips through rlp.DecodeBytes since Header uses only
// standard RLP-able field types.
func (h *Header) Hash() Hash {
	cpy := *h
	if cpy.BaseFee == nil {
		cpy.BaseFee = new(big.Int)
	}
	return rlpHash(&cpy)
}

// ProposerAddress derives the 20-byte address committed to the header from
// the proposer's public key bytes, mirroring how transaction senders are
// derived from ECDSA public keys.
func (h *Header) ProposerAddress() (Address, error) {
	if len(h.Proposer) == 0 {
		return Address{}, nil
	}
	pub, err := crypto.UnmarshalPubkey(h.Proposer)
	if err != nil {
		return Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// IsGenesis reports whether this header describes height 0.
func (h *Header) IsGenesis() bool {
	return h.Height == 0
}
