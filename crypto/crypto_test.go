// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	digest := Keccak256Hash([]byte("message"))
	sig, err := Sign(digest, priv)
	require.NoError(t, err)

	addr, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.Equal(t, AddressOf(priv), addr)
}

func TestKeccak256HashDeterministic(t *testing.T) {
	h1 := Keccak256Hash([]byte("a"), []byte("b"))
	h2 := Keccak256Hash([]byte("a"), []byte("b"))
	require.Equal(t, h1, h2)

	h3 := Keccak256Hash([]byte("ab"))
	require.Equal(t, h1, h3, "concatenated inputs must hash identically to the joined bytes")
}

func TestPublicKeyBytesRecoversAddress(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	pub := PublicKeyBytes(priv)
	require.NotEmpty(t, pub)

	recovered, err := gethcrypto.UnmarshalPubkey(pub)
	require.NoError(t, err)
	require.Equal(t, AddressOf(priv), gethcrypto.PubkeyToAddress(*recovered))
}
