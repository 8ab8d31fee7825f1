// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func newSignedTx(t *testing.T, kind TxKind, nonce uint64) (*Transaction, Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := Address{0x01}
	data := TxData{
		ChainID:   big.NewInt(1337),
		Nonce:     nonce,
		GasLimit:  21000,
		To:        &to,
		Value:     big.NewInt(100),
		GasPrice:  big.NewInt(10),
		GasFeeCap: big.NewInt(10),
		GasTipCap: big.NewInt(2),
	}
	tx := NewTransaction(kind, data)
	signed, err := tx.SignWithKey(key)
	require.NoError(t, err)
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func TestTransactionSenderRoundTrip(t *testing.T) {
	for _, kind := range []TxKind{LegacyTxKind, DynamicFeeTxKind} {
		tx, want := newSignedTx(t, kind, 0)
		got, err := tx.Sender()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestTransactionRLPRoundTrip(t *testing.T) {
	for _, kind := range []TxKind{LegacyTxKind, DynamicFeeTxKind} {
		tx, wantSender := newSignedTx(t, kind, 5)
		enc, err := rlp.EncodeToBytes(tx)
		require.NoError(t, err)

		var decoded Transaction
		require.NoError(t, rlp.DecodeBytes(enc, &decoded))

		require.Equal(t, tx.Hash(), decoded.Hash())
		sender, err := decoded.Sender()
		require.NoError(t, err)
		require.Equal(t, wantSender, sender)
		require.Equal(t, kind, decoded.Kind())
	}
}

func TestEffectiveGasTip(t *testing.T) {
	tx := NewTransaction(DynamicFeeTxKind, TxData{
		GasFeeCap: big.NewInt(100),
		GasTipCap: big.NewInt(10),
	})

	tip, err := tx.EffectiveGasTip(big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), tip)

	// Headroom below the requested tip caps it at feeCap - baseFee.
	tip, err = tx.EffectiveGasTip(big.NewInt(95))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), tip)

	_, err = tx.EffectiveGasTip(big.NewInt(200))
	require.ErrorIs(t, err, ErrFeeCapTooLow)
}

func TestSenderWithoutSignatureFails(t *testing.T) {
	tx := NewTransaction(LegacyTxKind, TxData{GasPrice: big.NewInt(1)})
	_, err := tx.Sender()
	require.ErrorIs(t, err, ErrInvalidSig)
}

func TestIntrinsicGas(t *testing.T) {
	plain := NewTransaction(LegacyTxKind, TxData{To: &Address{1}})
	require.Equal(t, uint64(21000), plain.IntrinsicGas())

	withData := NewTransaction(LegacyTxKind, TxData{To: &Address{1}, Data: []byte{0x00, 0x01}})
	require.Equal(t, uint64(21000+4+16), withData.IntrinsicGas())

	creation := NewTransaction(LegacyTxKind, TxData{})
	require.Equal(t, uint64(53000), creation.IntrinsicGas())
}
