// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package povf

import (
	"crypto/ecdsa"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/chain"
	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/txpool"
	"github.com/kestrel-chain/core/types"
)

// recordingOutbox captures every block broadcast by a producer under test.
type recordingOutbox struct {
	mu     sync.Mutex
	blocks []*types.Block
}

func (o *recordingOutbox) BroadcastBlock(b *types.Block) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks = append(o.blocks, b)
}

func (o *recordingOutbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.blocks)
}

func newTestHarness(t *testing.T, vdfIterations uint64, extraAlloc map[types.Address]*big.Int) (*params.Config, *state.Engine, *chain.Buffer, *ecdsa.PrivateKey, types.Address, *recordingOutbox) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	alloc := make(map[types.Address]*big.Int)
	for a, bal := range extraAlloc {
		alloc[a] = bal
	}

	cfg := &params.Config{
		ChainID:                   big.NewInt(1),
		GenesisAlloc:              alloc,
		Validators:                []types.Address{addr},
		StakeWeights:              map[types.Address]uint64{addr: 1},
		MinVDFIterations:          1,
		MaxVDFIterations:          1 << 30,
		VDFIterations:             vdfIterations,
		TargetBlockTime:           time.Second,
		ClockSkew:                 time.Hour,
		InitialBaseFee:            big.NewInt(0),
		MinBaseFee:                big.NewInt(0),
		BaseFeeChangeDenominator:  8,
		GasTarget:                 15_000_000,
		BlockGasLimit:             30_000_000,
		MaxPoolSize:               100,
		MaxPerSender:              10,
		TxTTL:                     time.Hour,
		ReplacementPremiumPercent: 10,
		MaxReorgDepth:             4,
	}

	db := storage.NewMemStorage()
	eng, err := state.Open(db, filepath.Join(t.TempDir(), "wal"), state.PruneArchive, 0, 0)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	buf := chain.New(cfg, eng, db, pool, 2)
	outbox := &recordingOutbox{}

	genesis := types.NewBlock(&types.Header{Height: 0, StateRoot: genesisStateRoot(t, alloc), GasLimit: cfg.BlockGasLimit}, nil)
	require.NoError(t, buf.Submit(genesis))
	require.Eventually(t, func() bool { return buf.Tip().Height == 0 }, time.Second, time.Millisecond)

	return cfg, eng, buf, key, addr, outbox
}

// genesisStateRoot independently derives the root a genesis allocation
// resolves to: the MPT root depends only on the key/value pairs committed,
// not on which storage backend produced it, so this throwaway engine's
// result matches exactly what chain.Buffer.applyOne computes for the real
// genesis application.
func genesisStateRoot(t *testing.T, alloc map[types.Address]*big.Int) types.Hash {
	t.Helper()
	db := storage.NewMemStorage()
	eng, err := state.Open(db, filepath.Join(t.TempDir(), "wal-genesis"), state.PruneArchive, 0, 0)
	require.NoError(t, err)
	defer eng.Close()

	tr := eng.BeginTransition(0)
	for addr, balance := range alloc {
		require.NoError(t, tr.StageSetBalance(addr, balance))
	}
	root, err := tr.Commit()
	require.NoError(t, err)
	return root
}

func TestTryProposeReturnsFalseWhenNotEligible(t *testing.T) {
	outsiderKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg, eng, buf, _, _, outbox := newTestHarness(t, 8, nil)
	// Replace the validator set with someone else entirely: the outsider
	// holds no stake share, so the VRF threshold collapses to zero.
	cfg.StakeWeights = map[types.Address]uint64{{0x99}: 1}

	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	producer := New(cfg, outsiderKey, eng, buf, pool, outbox)

	genesisHeader, ok := buf.HeaderByHeight(0)
	require.True(t, ok)

	produced, err := producer.TryPropose(genesisHeader)
	require.NoError(t, err)
	require.False(t, produced)
	require.Equal(t, 0, outbox.count())
}

func TestTryProposeProducesAndSubmitsBlock(t *testing.T) {
	cfg, eng, buf, key, _, outbox := newTestHarness(t, 8, nil)
	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	producer := New(cfg, key, eng, buf, pool, outbox)

	genesisHeader, ok := buf.HeaderByHeight(0)
	require.True(t, ok)

	produced, err := producer.TryPropose(genesisHeader)
	require.NoError(t, err)
	require.True(t, produced)
	require.Equal(t, 1, outbox.count())

	require.Eventually(t, func() bool { return buf.Tip().Height == 1 }, time.Second, time.Millisecond)
}

func TestTryProposeIncludesPackagedTransactions(t *testing.T) {
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)
	recipient := types.Address{0x07}

	cfg, eng, buf, key, _, outbox := newTestHarness(t, 8, map[types.Address]*big.Int{sender: big.NewInt(1_000_000)})

	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	tx := types.NewTransaction(types.DynamicFeeTxKind, types.TxData{
		ChainID: cfg.ChainID, Nonce: 0, GasLimit: 21000, To: &recipient,
		Value: big.NewInt(500), GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1),
	})
	signed, err := tx.SignWithKey(senderKey)
	require.NoError(t, err)
	require.True(t, pool.Add(signed).Admitted)

	producer := New(cfg, key, eng, buf, pool, outbox)
	genesisHeader, ok := buf.HeaderByHeight(0)
	require.True(t, ok)

	produced, err := producer.TryPropose(genesisHeader)
	require.NoError(t, err)
	require.True(t, produced)
	require.Eventually(t, func() bool { return buf.Tip().Height == 1 }, time.Second, time.Millisecond)

	recipientAcc, err := eng.GetAccount(recipient)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), recipientAcc.Balance)
}

func TestOnSupersedingBlockCancelsInFlightVDF(t *testing.T) {
	cfg, eng, buf, key, _, outbox := newTestHarness(t, 1<<30, nil)
	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	producer := New(cfg, key, eng, buf, pool, outbox)

	genesisHeader, ok := buf.HeaderByHeight(0)
	require.True(t, ok)

	type result struct {
		produced bool
		err      error
	}
	resCh := make(chan result, 1)
	go func() {
		produced, err := producer.TryPropose(genesisHeader)
		resCh <- result{produced, err}
	}()

	require.Eventually(t, func() bool {
		producer.mu.Lock()
		defer producer.mu.Unlock()
		return producer.cancelVDF != nil
	}, time.Second, time.Millisecond)

	producer.OnSupersedingBlock()

	select {
	case res := <-resCh:
		require.False(t, res.produced)
		require.NoError(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("TryPropose did not return after cancellation")
	}
	require.Equal(t, 0, outbox.count())
}

func TestOnSupersedingBlockIsNoOpWithoutInFlightVDF(t *testing.T) {
	cfg, eng, buf, key, _, outbox := newTestHarness(t, 8, nil)
	pool := txpool.New(cfg, chain.NonceReader{Eng: eng}, cfg.InitialBaseFee)
	producer := New(cfg, key, eng, buf, pool, outbox)

	require.NotPanics(t, producer.OnSupersedingBlock)
}
