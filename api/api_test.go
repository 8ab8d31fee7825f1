// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/types"
)

// fakeNode is a minimal stand-in exercising the ChainReader/TxSender
// contracts independently of package node, the way a
// transport author implementing these interfaces against a test double
// would.
type fakeNode struct {
	chainID *big.Int
}

func (f *fakeNode) ChainID() *big.Int          { return f.chainID }
func (f *fakeNode) BlockNumber() uint64        { return 0 }
func (f *fakeNode) GetBlockByHash(types.Hash) (*types.Block, bool)     { return nil, false }
func (f *fakeNode) GetBlockByHeight(uint64) (*types.Block, bool)       { return nil, false }
func (f *fakeNode) GetTransaction(types.Hash) (*TxLocation, bool)      { return nil, false }
func (f *fakeNode) GetReceipt(types.Hash) (*types.Receipt, bool)       { return nil, false }
func (f *fakeNode) GetBalance(types.Address, BlockRef) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeNode) GetNonce(types.Address, BlockRef) (uint64, error) { return 0, nil }
func (f *fakeNode) GetCode(types.Address, BlockRef) ([]byte, error)  { return nil, nil }
func (f *fakeNode) GetStorage(types.Address, types.Hash, BlockRef) (types.Hash, error) {
	return types.Hash{}, nil
}
func (f *fakeNode) GasPrice() (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeNode) EstimateGas(context.Context, CallRequest) (uint64, error) {
	return 21000, nil
}
func (f *fakeNode) Call(context.Context, CallRequest, BlockRef) ([]byte, error) { return nil, nil }
func (f *fakeNode) SendRawTransaction([]byte) (types.Hash, error)               { return types.Hash{}, nil }

var (
	_ ChainReader = (*fakeNode)(nil)
	_ TxSender    = (*fakeNode)(nil)
)

func TestLatestIsTheZeroValueBlockRef(t *testing.T) {
	require.Equal(t, BlockRef{}, Latest)
	require.Nil(t, Latest.Height)
}

func TestBlockRefWithHeightIsNotLatest(t *testing.T) {
	h := uint64(42)
	ref := BlockRef{Height: &h}
	require.NotEqual(t, Latest, ref)
	require.Equal(t, uint64(42), *ref.Height)
}

func TestCallRequestNilToMeansContractCreation(t *testing.T) {
	call := CallRequest{To: nil}
	require.Nil(t, call.To)
}

type fakeSubscription struct {
	events chan interface{}
	errCh  chan error
	closed bool
}

func (s *fakeSubscription) Events() <-chan interface{} { return s.events }
func (s *fakeSubscription) Err() <-chan error          { return s.errCh }
func (s *fakeSubscription) Unsubscribe()               { s.closed = true; close(s.events) }

var _ Subscription = (*fakeSubscription)(nil)

func TestSubscriptionUnsubscribeClosesEvents(t *testing.T) {
	sub := &fakeSubscription{events: make(chan interface{}), errCh: make(chan error)}
	sub.Unsubscribe()
	require.True(t, sub.closed)
	_, ok := <-sub.events
	require.False(t, ok)
}

func TestSubscriptionKindsAreDistinct(t *testing.T) {
	kinds := []SubscriptionKind{
		SubscribeNewHeads, SubscribeNewPendingTransactions, SubscribeSyncing, SubscribeLogs,
	}
	seen := make(map[SubscriptionKind]bool)
	for _, k := range kinds {
		require.False(t, seen[k], "duplicate subscription kind %d", k)
		seen[k] = true
	}
}

func TestLogFilterZeroValueMatchesEverything(t *testing.T) {
	var filter LogFilter
	require.Empty(t, filter.Addresses)
	require.Empty(t, filter.Topics)
}
