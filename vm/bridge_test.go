// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"math/big"
	"path/filepath"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/types"
)

func openTestEngine(t *testing.T) *state.Engine {
	t.Helper()
	db := storage.NewMemStorage()
	eng, err := state.Open(db, filepath.Join(t.TempDir(), "wal"), state.PruneArchive, 0, 0)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func fundAccount(t *testing.T, eng *state.Engine, addr types.Address, balance *big.Int) {
	t.Helper()
	tr := eng.BeginTransition(0)
	require.NoError(t, tr.StageSetBalance(addr, balance))
	_, err := tr.Commit()
	require.NoError(t, err)
}

func TestExecuteValueTransfer(t *testing.T) {
	eng := openTestEngine(t)

	senderKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := gethcrypto.PubkeyToAddress(senderKey.PublicKey)
	recipient := types.Address{0x09}

	fundAccount(t, eng, sender, big.NewInt(1_000_000))

	tr := eng.BeginTransition(1)
	view := eng.NewSyncView(tr)
	bridge := NewBridge(view)

	tx := types.NewTransaction(types.LegacyTxKind, types.TxData{
		Nonce:    0,
		GasLimit: 21000,
		To:       &recipient,
		Value:    big.NewInt(1000),
		GasPrice: big.NewInt(10),
	})
	signed, err := tx.SignWithKey(senderKey)
	require.NoError(t, err)

	bc := BlockContext{
		Height:   1,
		BaseFee:  big.NewInt(0),
		GasLimit: 30_000_000,
		ChainID:  big.NewInt(1337),
	}

	outcome, err := bridge.Execute(bc, signed, tr)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, outcome.Status)
	require.Equal(t, uint64(21000), outcome.GasUsed)

	_, err = tr.Commit()
	require.NoError(t, err)

	recipientAcc, err := eng.GetAccount(recipient)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), recipientAcc.Balance)

	senderAcc, err := eng.GetAccount(sender)
	require.NoError(t, err)
	wantSenderBalance := big.NewInt(1_000_000 - 1000 - 21000*10)
	require.Equal(t, wantSenderBalance, senderAcc.Balance)
	require.Equal(t, uint64(1), senderAcc.Nonce)
}

func TestExecuteRejectsWrongNonce(t *testing.T) {
	eng := openTestEngine(t)
	senderKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := gethcrypto.PubkeyToAddress(senderKey.PublicKey)
	recipient := types.Address{0x0a}

	fundAccount(t, eng, sender, big.NewInt(1_000_000))

	tr := eng.BeginTransition(1)
	bridge := NewBridge(eng.NewSyncView(tr))

	tx := types.NewTransaction(types.LegacyTxKind, types.TxData{
		Nonce:    5, // wrong, account nonce is 0
		GasLimit: 21000,
		To:       &recipient,
		Value:    big.NewInt(1),
		GasPrice: big.NewInt(1),
	})
	signed, err := tx.SignWithKey(senderKey)
	require.NoError(t, err)

	_, err = bridge.Execute(BlockContext{BaseFee: big.NewInt(0), GasLimit: 30_000_000, ChainID: big.NewInt(1337)}, signed, tr)
	var nonceErr *InvalidNonceError
	require.ErrorAs(t, err, &nonceErr)
	require.Equal(t, uint64(0), nonceErr.Expected)
	require.Equal(t, uint64(5), nonceErr.Got)
}

func TestExecuteRejectsInsufficientBalance(t *testing.T) {
	eng := openTestEngine(t)
	senderKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := gethcrypto.PubkeyToAddress(senderKey.PublicKey)
	recipient := types.Address{0x0b}

	fundAccount(t, eng, sender, big.NewInt(100))

	tr := eng.BeginTransition(1)
	bridge := NewBridge(eng.NewSyncView(tr))

	tx := types.NewTransaction(types.LegacyTxKind, types.TxData{
		GasLimit: 21000,
		To:       &recipient,
		Value:    big.NewInt(1_000_000),
		GasPrice: big.NewInt(1),
	})
	signed, err := tx.SignWithKey(senderKey)
	require.NoError(t, err)

	_, err = bridge.Execute(BlockContext{BaseFee: big.NewInt(0), GasLimit: 30_000_000, ChainID: big.NewInt(1337)}, signed, tr)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
