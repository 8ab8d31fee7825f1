// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrInvalidSig is returned when a transaction's signature does not recover
// to a valid public key.
var ErrInvalidSig = errors.New("types: invalid transaction signature")

// TxData is the kind-specific payload of a transaction. Legacy and
// EIP-1559-style transactions share every field except their fee model.
type TxData struct {
	ChainID  *big.Int
	Nonce    uint64
	GasLimit uint64
	To       *Address // nil means contract creation
	Value    *big.Int
	Data     []byte

	// GasPrice is populated for LegacyTxKind only.
	GasPrice *big.Int

	// GasFeeCap and GasTipCap are populated for DynamicFeeTxKind only.
	GasFeeCap *big.Int
	GasTipCap *big.Int

	V, R, S *big.Int
}

// Transaction is an immutable, signed transaction plus memoized derived
// fields (hash, sender) computed lazily and cached.
type Transaction struct {
	kind TxKind
	data TxData

	hash atomic.Value
	size atomic.Value
	from atomic.Value
}

// NewTransaction builds an unsigned transaction of the given kind.
func NewTransaction(kind TxKind, data TxData) *Transaction {
	cpy := data
	if cpy.Value == nil {
		cpy.Value = new(big.Int)
	}
	return &Transaction{kind: kind, data: cpy}
}

// Kind reports whether the transaction is legacy or dynamic-fee.
func (tx *Transaction) Kind() TxKind { return tx.kind }

func (tx *Transaction) Nonce() uint64    { return tx.data.Nonce }
func (tx *Transaction) GasLimit() uint64 { return tx.data.GasLimit }
func (tx *Transaction) To() *Address     { return tx.data.To }
func (tx *Transaction) Value() *big.Int  { return new(big.Int).Set(tx.data.Value) }
func (tx *Transaction) Data() []byte     { return tx.data.Data }
func (tx *Transaction) ChainID() *big.Int {
	if tx.data.ChainID == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(tx.data.ChainID)
}

// GasPrice returns the legacy gas price, or the fee cap for dynamic-fee
// transactions (used where callers want an upper bound regardless of kind).
func (tx *Transaction) GasPrice() *big.Int {
	if tx.kind == LegacyTxKind {
		return new(big.Int).Set(tx.data.GasPrice)
	}
	return new(big.Int).Set(tx.data.GasFeeCap)
}

func (tx *Transaction) GasFeeCap() *big.Int {
	if tx.kind == LegacyTxKind {
		return new(big.Int).Set(tx.data.GasPrice)
	}
	return new(big.Int).Set(tx.data.GasFeeCap)
}

func (tx *Transaction) GasTipCap() *big.Int {
	if tx.kind == LegacyTxKind {
		return new(big.Int).Set(tx.data.GasPrice)
	}
	return new(big.Int).Set(tx.data.GasTipCap)
}

// IsContractCreation reports whether the transaction has no recipient.
func (tx *Transaction) IsContractCreation() bool { return tx.data.To == nil }

// EffectiveGasTip returns min(tip, feeCap - baseFee) for dynamic-fee
// transactions and gasPrice - baseFee for legacy ones. It returns an error
// if the resulting tip would be negative, matching mainnet semantics.
func (tx *Transaction) EffectiveGasTip(baseFee *big.Int) (*big.Int, error) {
	if baseFee == nil {
		return tx.GasTipCap(), nil
	}
	feeCap := tx.GasFeeCap()
	if feeCap.Cmp(baseFee) < 0 {
		return nil, ErrFeeCapTooLow
	}
	tip := tx.GasTipCap()
	headroom := new(big.Int).Sub(feeCap, baseFee)
	if tip.Cmp(headroom) > 0 {
		return new(big.Int).Set(headroom), nil
	}
	return new(big.Int).Set(tip), nil
}

// EffectiveGasPrice returns baseFee + EffectiveGasTip, the amount actually
// charged per unit of gas.
func (tx *Transaction) EffectiveGasPrice(baseFee *big.Int) (*big.Int, error) {
	tip, err := tx.EffectiveGasTip(baseFee)
	if err != nil {
		return nil, err
	}
	if baseFee == nil {
		return tip, nil
	}
	return new(big.Int).Add(baseFee, tip), nil
}

// ErrFeeCapTooLow is returned when a dynamic-fee transaction's fee cap is
// below the current base fee.
var ErrFeeCapTooLow = errors.New("types: fee cap less than block base fee")

// signingHash is the keccak-256 digest over the canonical (unsigned) field
// encoding, the message that gets ECDSA-signed.
func (tx *Transaction) signingHash() Hash {
	switch tx.kind {
	case LegacyTxKind:
		return rlpHash([]interface{}{
			tx.data.Nonce,
			tx.data.GasPrice,
			tx.data.GasLimit,
			tx.data.To,
			tx.data.Value,
			tx.data.Data,
			tx.data.ChainID, new(big.Int), new(big.Int),
		})
	default:
		return rlpHash([]interface{}{
			tx.data.ChainID,
			tx.data.Nonce,
			tx.data.GasTipCap,
			tx.data.GasFeeCap,
			tx.data.GasLimit,
			tx.data.To,
			tx.data.Value,
			tx.data.Data,
		})
	}
}

func rlpHash(x interface{}) Hash {
	b, err := rlp.EncodeToBytes(x)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(b)
}

// SignWithKey signs the transaction with the given private key, storing V/R/S
// and returning the signed copy (the receiver itself is mutated, mirroring
// the in-place style used throughout the reference client).
func (tx *Transaction) SignWithKey(priv *ecdsa.PrivateKey) (*Transaction, error) {
	h := tx.signingHash()
	sig, err := crypto.Sign(h[:], priv)
	if err != nil {
		return nil, err
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	v := new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.data.R, tx.data.S, tx.data.V = r, s, v
	tx.hash.Store(Hash{})
	tx.from.Store(Address{})
	return tx, nil
}

// Sender recovers and caches the address that signed the transaction.
func (tx *Transaction) Sender() (Address, error) {
	if cached := tx.from.Load(); cached != nil {
		if addr, ok := cached.(Address); ok && addr != (Address{}) {
			return addr, nil
		}
	}
	if tx.data.R == nil || tx.data.S == nil || tx.data.V == nil {
		return Address{}, ErrInvalidSig
	}
	h := tx.signingHash()
	sig := make([]byte, 65)
	tx.data.R.FillBytes(sig[:32])
	tx.data.S.FillBytes(sig[32:64])
	recID := new(big.Int).Sub(tx.data.V, big.NewInt(27))
	if recID.Sign() < 0 || recID.Cmp(big.NewInt(3)) > 0 {
		return Address{}, ErrInvalidSig
	}
	sig[64] = byte(recID.Uint64())
	pub, err := crypto.SigToPub(h[:], sig)
	if err != nil {
		return Address{}, ErrInvalidSig
	}
	addr := crypto.PubkeyToAddress(*pub)
	tx.from.Store(addr)
	return addr, nil
}

// Hash returns the keccak-256 hash of the signed transaction's canonical
// encoding, memoized after the first call.
func (tx *Transaction) Hash() Hash {
	if cached := tx.hash.Load(); cached != nil {
		if h, ok := cached.(Hash); ok && h != (Hash{}) {
			return h
		}
	}
	h := rlpHash(tx.encodingFields())
	tx.hash.Store(h)
	return h
}

// legacyTxFields and dynamicFeeTxFields pin the exact wire field order for
// each transaction kind; Transaction.EncodeRLP/DecodeRLP convert to and
// from these before handing off to the rlp package.
type legacyTxFields struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *Address
	Value    *big.Int
	Data     []byte
	ChainID  *big.Int
	V, R, S  *big.Int
}

type dynamicFeeTxFields struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasLimit  uint64
	To        *Address
	Value     *big.Int
	Data      []byte
	V, R, S   *big.Int
}

func (tx *Transaction) encodingFields() interface{} {
	switch tx.kind {
	case LegacyTxKind:
		return legacyTxFields{
			tx.data.Nonce, tx.data.GasPrice, tx.data.GasLimit, tx.data.To,
			tx.data.Value, tx.data.Data, tx.data.ChainID, tx.data.V, tx.data.R, tx.data.S,
		}
	default:
		return dynamicFeeTxFields{
			tx.data.ChainID, tx.data.Nonce, tx.data.GasTipCap, tx.data.GasFeeCap,
			tx.data.GasLimit, tx.data.To, tx.data.Value, tx.data.Data,
			tx.data.V, tx.data.R, tx.data.S,
		}
	}
}

// EncodeRLP writes a kind-tagged encoding: legacy transactions encode as a
// bare field list, dynamic-fee transactions encode as a byte string whose
// first byte is the kind tag, mirroring the EIP-2718 typed-transaction
// envelope used by the reference client.
func (tx *Transaction) EncodeRLP(w interface {
	Write([]byte) (int, error)
}) error {
	if tx.kind == LegacyTxKind {
		return rlp.Encode(w, tx.encodingFields())
	}
	payload, err := rlp.EncodeToBytes(tx.encodingFields())
	if err != nil {
		return err
	}
	return rlp.Encode(w, append([]byte{byte(tx.kind)}, payload...))
}

// DecodeRLP implements rlp.Decoder, the exact inverse of EncodeRLP.
func (tx *Transaction) DecodeRLP(s *rlp.Stream) error {
	kind, _, err := s.Kind()
	if err != nil {
		return err
	}
	if kind == rlp.List {
		var fields legacyTxFields
		if err := s.Decode(&fields); err != nil {
			return err
		}
		tx.kind = LegacyTxKind
		tx.data = TxData{
			Nonce: fields.Nonce, GasPrice: fields.GasPrice, GasLimit: fields.GasLimit,
			To: fields.To, Value: fields.Value, Data: fields.Data, ChainID: fields.ChainID,
			V: fields.V, R: fields.R, S: fields.S,
		}
		return nil
	}
	raw, err := s.Bytes()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return errors.New("types: empty typed transaction")
	}
	var fields dynamicFeeTxFields
	if err := rlp.DecodeBytes(raw[1:], &fields); err != nil {
		return err
	}
	tx.kind = TxKind(raw[0])
	tx.data = TxData{
		ChainID: fields.ChainID, Nonce: fields.Nonce, GasTipCap: fields.GasTipCap,
		GasFeeCap: fields.GasFeeCap, GasLimit: fields.GasLimit, To: fields.To,
		Value: fields.Value, Data: fields.Data, V: fields.V, R: fields.R, S: fields.S,
	}
	return nil
}

// IntrinsicGas returns the minimum gas a transaction must supply before
// execution even begins: a base cost plus per-byte calldata costs plus a
// contract-creation surcharge.
func (tx *Transaction) IntrinsicGas() uint64 {
	const (
		txGas                 uint64 = 21000
		txGasContractCreation uint64 = 53000
		txDataZeroGas         uint64 = 4
		txDataNonZeroGas      uint64 = 16
	)
	gas := txGas
	if tx.IsContractCreation() {
		gas = txGasContractCreation
	}
	for _, b := range tx.data.Data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}
