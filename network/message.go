// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network defines the inbound/outbound message envelope and the
// channel contract of spec.md §6.2: the core consumes a typed inbound
// channel and publishes a symmetric outbound one, leaving peer
// management, dialing and wire transport to a collaborator. No
// libp2p/gossipsub transport is implemented here.
package network

import (
	"github.com/kestrel-chain/core/types"
)

// MessageKind tags the payload carried by an Inbound/Outbound envelope.
type MessageKind int

const (
	KindNewBlock MessageKind = iota
	KindNewTransaction
	KindGetBlock
	KindGetHeaders
)

// GetBlockRequest asks for a single block by hash or height; exactly one
// of Hash/Height is meaningful, selected by ByHash.
type GetBlockRequest struct {
	ByHash bool
	Hash   types.Hash
	Height uint64
}

// GetHeadersRequest asks for a run of headers starting at From.
type GetHeadersRequest struct {
	From  uint64
	Count uint64
}

// InboundMessage is one message arriving from a peer, already decoded
// from wire framing.
type InboundMessage struct {
	Kind        MessageKind
	PeerID      string
	Block       *types.Block
	Transaction *types.Transaction
	GetBlock    *GetBlockRequest
	GetHeaders  *GetHeadersRequest
}

// OutboundMessage is the symmetric form the core publishes for the
// network layer to relay to peers.
type OutboundMessage struct {
	Kind        MessageKind
	ToPeer      string // empty means broadcast to all peers
	Block       *types.Block
	Transaction *types.Transaction
	Headers     []*types.Header
}

// Inbox is the channel contract the core consumes messages from.
type Inbox interface {
	Messages() <-chan InboundMessage
}

// Outbox is the channel contract the core publishes messages to.
type Outbox interface {
	Send(OutboundMessage)
}

// ChanInbox/ChanOutbox are the minimal in-process implementations a
// collaborator transport wires its decode/encode loops onto.
type ChanInbox chan InboundMessage

func (c ChanInbox) Messages() <-chan InboundMessage { return c }

type ChanOutbox chan OutboundMessage

func (c ChanOutbox) Send(m OutboundMessage) { c <- m }
