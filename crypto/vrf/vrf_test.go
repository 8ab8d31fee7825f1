// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vrf

import (
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/types"
)

func TestProveIsDeterministic(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	msg := HashMessage(types.Hash{0x01}, 5)

	out1, proof1, err := Prove(priv, msg)
	require.NoError(t, err)
	out2, proof2, err := Prove(priv, msg)
	require.NoError(t, err)

	require.Equal(t, out1, out2)
	require.Equal(t, proof1, proof2)
}

func TestProveVerifyRoundTrip(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	msg := HashMessage(types.Hash{0x02}, 9)

	out, proof, err := Prove(priv, msg)
	require.NoError(t, err)
	require.True(t, Verify(&priv.PublicKey, msg, out, proof))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	msg := HashMessage(types.Hash{0x03}, 1)

	out, proof, err := Prove(priv, msg)
	require.NoError(t, err)
	require.False(t, Verify(&other.PublicKey, msg, out, proof))
}

func TestVerifyRejectsTamperedOutput(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	msg := HashMessage(types.Hash{0x04}, 1)

	out, proof, err := Prove(priv, msg)
	require.NoError(t, err)
	out[0] ^= 0xff
	require.False(t, Verify(&priv.PublicKey, msg, out, proof))
}

func TestEligibleStakeWeighting(t *testing.T) {
	target := make([]byte, 32)
	for i := range target {
		target[i] = 0xff
	}
	low := make([]byte, 32) // a tiny VRF output, eligible under any nonzero stake share
	low[31] = 1

	require.True(t, Eligible(low, target, 1, 2))
	require.False(t, Eligible(low, target, 0, 1))

	high := make([]byte, 32)
	for i := range high {
		high[i] = 0xff
	}
	require.False(t, Eligible(high, target, 1, 1_000_000))
}

func TestHashMessageVariesWithHeight(t *testing.T) {
	parent := types.Hash{0x05}
	m1 := HashMessage(parent, 1)
	m2 := HashMessage(parent, 2)
	require.NotEqual(t, m1, m2)
}
