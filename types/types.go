// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the wire and in-memory data model shared by every
// subsystem of the core: accounts, storage slots, transactions, receipts,
// logs and blocks.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Hash is a 32-byte digest, used for block hashes, state roots, code hashes
// and trie node references.
type Hash = common.Hash

// Address is a 20-byte account identifier derived from a public key.
type Address = common.Address

// EmptyCodeHash is the code-hash recorded for accounts that own no code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// EmptyRootHash is the MPT root of the empty trie (no key/value pairs). The
// mpt package defines the canonical empty-node encoding; this constant is
// the keccak-256 of that encoding so every component can reference it
// without importing the trie implementation.
var EmptyRootHash = crypto.Keccak256Hash([]byte{0x80})

// Account is the per-address record committed into the state trie.
type Account struct {
	Balance     *big.Int `json:"balance"`
	Nonce       uint64   `json:"nonce"`
	CodeHash    Hash     `json:"codeHash"`
	StorageRoot Hash     `json:"storageRoot"`
}

// NewEmptyAccount returns the zero-account returned for addresses that have
// never been touched.
func NewEmptyAccount() Account {
	return Account{
		Balance:     new(big.Int),
		Nonce:       0,
		CodeHash:    EmptyCodeHash,
		StorageRoot: EmptyRootHash,
	}
}

// Copy returns a deep copy of the account, safe to mutate independently.
func (a Account) Copy() Account {
	return Account{
		Balance:     new(big.Int).Set(a.Balance),
		Nonce:       a.Nonce,
		CodeHash:    a.CodeHash,
		StorageRoot: a.StorageRoot,
	}
}

// accountRLP is the wire representation of Account; big.Int needs no special
// handling under rlp but is kept as a distinct type to document the field
// order that is hashed into the account leaf.
type accountRLP struct {
	Balance     *big.Int
	Nonce       uint64
	CodeHash    Hash
	StorageRoot Hash
}

// EncodeRLP implements rlp.Encoder.
func (a Account) EncodeRLP(w interface {
	Write([]byte) (int, error)
}) error {
	balance := a.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	return rlp.Encode(w, accountRLP{
		Balance:     balance,
		Nonce:       a.Nonce,
		CodeHash:    a.CodeHash,
		StorageRoot: a.StorageRoot,
	})
}

// DecodeRLP implements rlp.Decoder.
func (a *Account) DecodeRLP(s *rlp.Stream) error {
	var dec accountRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	a.Balance = dec.Balance
	a.Nonce = dec.Nonce
	a.CodeHash = dec.CodeHash
	a.StorageRoot = dec.StorageRoot
	return nil
}

// TxKind distinguishes the wire formats a transaction may carry.
type TxKind uint8

const (
	// LegacyTxKind carries a single gas-price field.
	LegacyTxKind TxKind = iota
	// DynamicFeeTxKind is the EIP-1559-style transaction with a fee cap and
	// a priority-fee cap.
	DynamicFeeTxKind
)

// Log is a single event emitted by a contract during execution.
type Log struct {
	Address     Address `json:"address"`
	Topics      []Hash  `json:"topics"`
	Data        []byte  `json:"data"`
	BlockNumber uint64  `json:"blockNumber"`
	TxHash      Hash    `json:"transactionHash"`
	TxIndex     uint    `json:"transactionIndex"`
	BlockHash   Hash    `json:"blockHash"`
	Index       uint    `json:"logIndex"`
	Removed     bool    `json:"removed"`
}

// Receipt records the outcome of executing a single transaction.
type Receipt struct {
	Status            uint64    `json:"status"`
	CumulativeGasUsed uint64    `json:"cumulativeGasUsed"`
	LogsBloom         [256]byte `json:"logsBloom"`
	Logs              []*Log    `json:"logs"`
	ContractAddress   *Address  `json:"contractAddress,omitempty"`
	TxHash            Hash      `json:"transactionHash"`
	TxIndex           uint      `json:"transactionIndex"`
	BlockHash         Hash      `json:"blockHash"`
	BlockNumber       uint64    `json:"blockNumber"`
	GasUsed           uint64    `json:"gasUsed"`
}

// receiptRLP is the wire form of Receipt. A nil ContractAddress can't
// reach the encoder mid-struct, so the pointer is flattened into a
// presence flag plus a plain value, the same pattern accountRLP uses.
type receiptRLP struct {
	Status            uint64
	CumulativeGasUsed uint64
	LogsBloom         [256]byte
	Logs              []*Log
	HasContract       bool
	ContractAddress   Address
	TxHash            Hash
	TxIndex           uint
	BlockHash         Hash
	BlockNumber       uint64
	GasUsed           uint64
}

// EncodeRLP implements rlp.Encoder. This is also the canonical commitment
// encoding used to build a block's receipts root.
func (r *Receipt) EncodeRLP(w interface {
	Write([]byte) (int, error)
}) error {
	enc := receiptRLP{
		Status:            r.Status,
		CumulativeGasUsed: r.CumulativeGasUsed,
		LogsBloom:         r.LogsBloom,
		Logs:              r.Logs,
		TxHash:            r.TxHash,
		TxIndex:           r.TxIndex,
		BlockHash:         r.BlockHash,
		BlockNumber:       r.BlockNumber,
		GasUsed:           r.GasUsed,
	}
	if r.ContractAddress != nil {
		enc.HasContract = true
		enc.ContractAddress = *r.ContractAddress
	}
	return rlp.Encode(w, &enc)
}

// DecodeRLP implements rlp.Decoder.
func (r *Receipt) DecodeRLP(s *rlp.Stream) error {
	var dec receiptRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	r.Status = dec.Status
	r.CumulativeGasUsed = dec.CumulativeGasUsed
	r.LogsBloom = dec.LogsBloom
	r.Logs = dec.Logs
	r.TxHash = dec.TxHash
	r.TxIndex = dec.TxIndex
	r.BlockHash = dec.BlockHash
	r.BlockNumber = dec.BlockNumber
	r.GasUsed = dec.GasUsed
	if dec.HasContract {
		addr := dec.ContractAddress
		r.ContractAddress = &addr
	}
	return nil
}

const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)
