// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

// listHasher is a minimal in-memory commitment used to exercise
// CalcTxRoot/CalcReceiptRoot without pulling in the mpt package.
type listHasher struct {
	entries [][2][]byte
}

func (h *listHasher) Put(key, value []byte) {
	h.entries = append(h.entries, [2][]byte{key, value})
}

func (h *listHasher) Root() Hash {
	var buf []byte
	for _, e := range h.entries {
		buf = append(buf, e[0]...)
		buf = append(buf, e[1]...)
	}
	return rlpHash(buf)
}

func TestCalcTxRootDeterministic(t *testing.T) {
	tx1, _ := newSignedTx(t, LegacyTxKind, 0)
	tx2, _ := newSignedTx(t, LegacyTxKind, 1)

	r1 := CalcTxRoot([]*Transaction{tx1, tx2}, &listHasher{})
	r2 := CalcTxRoot([]*Transaction{tx1, tx2}, &listHasher{})
	require.Equal(t, r1, r2)

	r3 := CalcTxRoot([]*Transaction{tx2, tx1}, &listHasher{})
	require.NotEqual(t, r1, r3, "order must affect the commitment")
}

func TestBlockRLPRoundTrip(t *testing.T) {
	tx, _ := newSignedTx(t, DynamicFeeTxKind, 0)
	header := &Header{
		Height:    1,
		Timestamp: 100,
		BaseFee:   big.NewInt(7),
		Proof:     PoVFProof{VRFOutput: []byte{1, 2, 3}},
	}
	block := NewBlock(header, []*Transaction{tx})

	enc, err := rlp.EncodeToBytes(block)
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, rlp.DecodeBytes(enc, &decoded))

	require.Equal(t, block.Hash(), decoded.Hash())
	require.Len(t, decoded.Txs, 1)
	require.Equal(t, tx.Hash(), decoded.Txs[0].Hash())
}

func TestHeaderIsGenesis(t *testing.T) {
	require.True(t, (&Header{Height: 0}).IsGenesis())
	require.False(t, (&Header{Height: 1}).IsGenesis())
}

func TestPoVFProofIsNil(t *testing.T) {
	require.True(t, (*PoVFProof)(nil).IsNil())
	require.True(t, (&PoVFProof{}).IsNil())
	require.False(t, (&PoVFProof{VRFOutput: []byte{1}}).IsNil())
}
