// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto wraps the secp256k1 ECDSA and keccak-256 primitives used
// throughout the core, and hosts the VRF and VDF sub-packages that build on
// top of them.
package crypto

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kestrel-chain/core/types"
)

// GenerateKey returns a fresh secp256k1 keypair, used by validators to
// derive their node identity.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// PublicKeyBytes returns the uncompressed SEC1 encoding of the public key,
// the form carried in a block header's proposer field.
func PublicKeyBytes(priv *ecdsa.PrivateKey) []byte {
	return crypto.FromECDSAPub(&priv.PublicKey)
}

// AddressOf derives the 20-byte address from a private key.
func AddressOf(priv *ecdsa.PrivateKey) types.Address {
	return crypto.PubkeyToAddress(priv.PublicKey)
}

// Keccak256Hash hashes its input with keccak-256, the hash used throughout
// the core for transaction, header and trie-node digests.
func Keccak256Hash(data ...[]byte) types.Hash {
	return crypto.Keccak256Hash(data...)
}

// Sign produces a 65-byte recoverable ECDSA signature over a 32-byte digest.
func Sign(digest types.Hash, priv *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest[:], priv)
}

// RecoverAddress recovers the signer address from a digest and signature.
func RecoverAddress(digest types.Hash, sig []byte) (types.Address, error) {
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return types.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
