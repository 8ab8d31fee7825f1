// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txpool

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/types"
)

// zeroNonceReader reports committed nonces from its map, zero for any
// sender a test has not set.
type zeroNonceReader struct{ nonces map[types.Address]uint64 }

func (z zeroNonceReader) CommittedNonce(addr types.Address) uint64 { return z.nonces[addr] }

func newTestPool(t *testing.T) (*Pool, zeroNonceReader) {
	t.Helper()
	cfg := params.DefaultConfig(big.NewInt(1337))
	nonces := zeroNonceReader{nonces: make(map[types.Address]uint64)}
	pool := New(cfg, nonces, cfg.InitialBaseFee)
	return pool, nonces
}

func signedTx(t *testing.T, nonce uint64, feeCap, tip int64) (*types.Transaction, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := types.Address{0x01}
	tx := types.NewTransaction(types.DynamicFeeTxKind, types.TxData{
		ChainID:   big.NewInt(1337),
		Nonce:     nonce,
		GasLimit:  21000,
		To:        &to,
		Value:     big.NewInt(1),
		GasFeeCap: big.NewInt(feeCap),
		GasTipCap: big.NewInt(tip),
	})
	signed, err := tx.SignWithKey(key)
	require.NoError(t, err)
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func TestAddAdmitsValidTransaction(t *testing.T) {
	pool, _ := newTestPool(t)
	tx, _ := signedTx(t, 0, 2_000_000_000, 1_000_000_000)
	res := pool.Add(tx)
	require.True(t, res.Admitted)
	require.Nil(t, res.Rejected)
	require.Equal(t, 1, pool.Stats().Count)
}

func TestAddRejectsAlreadyKnown(t *testing.T) {
	pool, _ := newTestPool(t)
	tx, _ := signedTx(t, 0, 2_000_000_000, 1_000_000_000)
	require.True(t, pool.Add(tx).Admitted)

	res := pool.Add(tx)
	require.False(t, res.Admitted)
	require.ErrorIs(t, res.Rejected, ErrAlreadyKnown)
}

func TestAddRejectsNonceTooLow(t *testing.T) {
	pool, nonces := newTestPool(t)
	tx, sender := signedTx(t, 0, 2_000_000_000, 1_000_000_000)
	nonces.nonces[sender] = 5

	res := pool.Add(tx)
	require.False(t, res.Admitted)
	require.ErrorIs(t, res.Rejected, ErrNonceTooLow)
}

func TestAddRejectsFeeCapBelowBaseFee(t *testing.T) {
	pool, _ := newTestPool(t)
	tx, _ := signedTx(t, 0, 1, 1) // far below InitialBaseFee
	res := pool.Add(tx)
	require.False(t, res.Admitted)
	require.ErrorIs(t, res.Rejected, ErrFeeCapTooLow)
}

func TestReplacementRequiresPremium(t *testing.T) {
	pool, _ := newTestPool(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := types.Address{0x02}

	mk := func(feeCap, tip int64) *types.Transaction {
		tx := types.NewTransaction(types.DynamicFeeTxKind, types.TxData{
			ChainID:   big.NewInt(1337),
			Nonce:     0,
			GasLimit:  21000,
			To:        &to,
			Value:     big.NewInt(1),
			GasFeeCap: big.NewInt(feeCap),
			GasTipCap: big.NewInt(tip),
		})
		signed, err := tx.SignWithKey(key)
		require.NoError(t, err)
		return signed
	}

	first := mk(2_000_000_000, 1_000_000_000)
	require.True(t, pool.Add(first).Admitted)

	// A replacement below the configured premium is rejected.
	cheap := mk(2_000_000_001, 1_000_000_001)
	res := pool.Add(cheap)
	require.False(t, res.Admitted)
	var underpriced *UnderpricedError
	require.ErrorAs(t, res.Rejected, &underpriced)

	// A replacement meeting the 10% premium succeeds and replaces the old one.
	replacement := mk(2_200_000_000, 1_100_000_000)
	res = pool.Add(replacement)
	require.True(t, res.Admitted)
	require.NotNil(t, res.Replaced)
	require.Equal(t, first.Hash(), *res.Replaced)
	require.Equal(t, 1, pool.Stats().Count)
}

func TestPerSenderLimit(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.cfg.MaxPerSender = 1
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := types.Address{0x03}

	mk := func(nonce uint64) *types.Transaction {
		tx := types.NewTransaction(types.DynamicFeeTxKind, types.TxData{
			ChainID: big.NewInt(1337), Nonce: nonce, GasLimit: 21000, To: &to,
			Value: big.NewInt(1), GasFeeCap: big.NewInt(2_000_000_000), GasTipCap: big.NewInt(1_000_000_000),
		})
		signed, err := tx.SignWithKey(key)
		require.NoError(t, err)
		return signed
	}

	require.True(t, pool.Add(mk(0)).Admitted)
	res := pool.Add(mk(1))
	require.False(t, res.Admitted)
	require.ErrorIs(t, res.Rejected, ErrPerSenderLimit)
}

func TestCleanupExpiredRemovesStaleEntries(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.cfg.TxTTL = time.Minute
	tx, _ := signedTx(t, 0, 2_000_000_000, 1_000_000_000)
	require.True(t, pool.Add(tx).Admitted)

	pool.CleanupExpired(time.Now().Add(2 * time.Hour))
	require.Equal(t, 0, pool.Stats().Count)
}

func TestRemoveDeletesEntry(t *testing.T) {
	pool, _ := newTestPool(t)
	tx, _ := signedTx(t, 0, 2_000_000_000, 1_000_000_000)
	require.True(t, pool.Add(tx).Admitted)
	pool.Remove(tx.Hash())
	require.Equal(t, 0, pool.Stats().Count)
}
