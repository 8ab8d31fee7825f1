// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api defines the read-only query surface and single mutating
// entry point of spec.md §6.3 as Go interfaces. No JSON-RPC or HTTP
// transport is implemented here — that remains a collaborator's concern,
// exactly as the network layer in package network is a collaborator's
// transport around the message envelopes this core defines. node.Node
// implements both interfaces; a transport package wires them to wire
// protocol.
package api

import (
	"context"
	"math/big"

	"github.com/kestrel-chain/core/types"
)

// TxLocation pins a transaction to the block and position it executed in.
type TxLocation struct {
	Tx          *types.Transaction
	BlockHash   types.Hash
	BlockHeight uint64
	Index       uint
}

// CallRequest is a read-only EVM invocation, spec.md §6.3's `call`/
// `estimate_gas`.
type CallRequest struct {
	From     types.Address
	To       *types.Address // nil means contract creation
	Gas      uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte
}

// BlockRef selects a historical point of view: a specific height, or the
// current tip when Height is nil.
type BlockRef struct {
	Height *uint64
}

// Latest is the zero-value BlockRef, resolving to the current chain tip.
var Latest = BlockRef{}

// ChainReader is the read-only half of spec.md §6.3.
type ChainReader interface {
	ChainID() *big.Int
	BlockNumber() uint64
	GetBlockByHash(hash types.Hash) (*types.Block, bool)
	GetBlockByHeight(height uint64) (*types.Block, bool)
	GetTransaction(hash types.Hash) (*TxLocation, bool)
	GetReceipt(hash types.Hash) (*types.Receipt, bool)
	GetBalance(addr types.Address, at BlockRef) (*big.Int, error)
	GetNonce(addr types.Address, at BlockRef) (uint64, error)
	GetCode(addr types.Address, at BlockRef) ([]byte, error)
	GetStorage(addr types.Address, key types.Hash, at BlockRef) (types.Hash, error)
	GasPrice() (*big.Int, error)
	EstimateGas(ctx context.Context, call CallRequest) (uint64, error)
	Call(ctx context.Context, call CallRequest, at BlockRef) ([]byte, error)
}

// TxSender is spec.md §6.3's single mutating entry point.
type TxSender interface {
	SendRawTransaction(raw []byte) (types.Hash, error)
}

// SubscriptionKind enumerates the event streams spec.md §6.3 names.
type SubscriptionKind int

const (
	SubscribeNewHeads SubscriptionKind = iota
	SubscribeNewPendingTransactions
	SubscribeSyncing
	SubscribeLogs
)

// LogFilter narrows a SubscribeLogs stream.
type LogFilter struct {
	Addresses []types.Address
	Topics    []types.Hash
}

// Subscription is a lazy, cancellable event stream: closing Unsubscribe
// ends delivery and closes Events.
type Subscription interface {
	Events() <-chan interface{}
	Unsubscribe()
	Err() <-chan error
}

// Subscriber opens the event streams of spec.md §6.3's `subscribe`.
type Subscriber interface {
	Subscribe(kind SubscriptionKind, filter *LogFilter) (Subscription, error)
}
