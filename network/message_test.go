// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/types"
)

func TestChanOutboxSendDeliversToMessages(t *testing.T) {
	outbox := make(ChanOutbox, 1)
	msg := OutboundMessage{Kind: KindNewTransaction, Transaction: &types.Transaction{}}

	outbox.Send(msg)

	var outbox2 Outbox = outbox
	outbox2.Send(OutboundMessage{Kind: KindGetHeaders, ToPeer: "peer-1"})

	require.Len(t, outbox, 2)
	require.Equal(t, KindNewTransaction, (<-outbox).Kind)
	got := <-outbox
	require.Equal(t, "peer-1", got.ToPeer)
}

func TestChanInboxMessagesExposesUnderlyingChannel(t *testing.T) {
	inbox := make(ChanInbox, 1)
	inbox <- InboundMessage{Kind: KindNewBlock, PeerID: "peer-2"}

	var in Inbox = inbox
	msg := <-in.Messages()
	require.Equal(t, KindNewBlock, msg.Kind)
	require.Equal(t, "peer-2", msg.PeerID)
}

func TestGetBlockRequestSelectsFieldByByHash(t *testing.T) {
	byHash := GetBlockRequest{ByHash: true, Hash: types.Hash{0x01}}
	require.True(t, byHash.ByHash)
	require.Equal(t, types.Hash{0x01}, byHash.Hash)

	byHeight := GetBlockRequest{ByHash: false, Height: 7}
	require.False(t, byHeight.ByHash)
	require.Equal(t, uint64(7), byHeight.Height)
}
