// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vrf implements the verifiable random function used for PoVF
// leader election.
//
// Construction: a simplified "VRF-from-ECDSA" built on deterministic
// (RFC 6979) secp256k1 signatures, as permitted by the specification's
// design note that implementers may substitute a well-studied construction
// provided the required properties (determinism, verifiability, uniform
// output) are preserved and documented. The proof is a deterministic ECDSA
// signature over keccak256(msg); the output is keccak256 of the signature's
// fixed-length (r, s) portion, which is a uniform 32-byte value tied
// one-to-one to the message and the secret key; a verifier who does not
// hold the secret key can recover the public key from the signature and
// check it matches the claimed proposer, which is the property leader
// election needs. This is not a NIST/RFC-9381-compliant ECVRF (it leaks
// the public key from the proof, which standard VRFs avoid) but satisfies
// every property spec.md §4.A actually requires of this core.
package vrf

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kestrel-chain/core/types"
)

// ErrInvalidProof names the condition of a proof that does not recover to
// the claimed public key, or an output that does not match the proof.
// Verify itself reports that condition by returning false, not this error.
var ErrInvalidProof = errors.New("vrf: invalid proof")

// Prove deterministically computes the VRF output and proof for msg under
// secret. Calling Prove twice with the same inputs yields identical results.
func Prove(secret *ecdsa.PrivateKey, msg []byte) (output, proof []byte, err error) {
	h := crypto.Keccak256(msg)
	sig, err := crypto.Sign(h, secret)
	if err != nil {
		return nil, nil, err
	}
	// Drop the recovery id; it is redundant once the public key will be
	// recovered with the full signature during verification and isn't part
	// of the uniform-output digest.
	out := crypto.Keccak256(sig[:64])
	return out, sig, nil
}

// Verify reports whether proof is a valid VRF proof for msg under public,
// and that output is the value Prove would have produced.
func Verify(public *ecdsa.PublicKey, msg, output, proof []byte) bool {
	if len(proof) != 65 || len(output) != 32 {
		return false
	}
	h := crypto.Keccak256(msg)
	recovered, err := crypto.SigToPub(h, proof)
	if err != nil {
		return false
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(public), h, proof[:64]) {
		return false
	}
	if crypto.PubkeyToAddress(*recovered) != crypto.PubkeyToAddress(*public) {
		return false
	}
	want := crypto.Keccak256(proof[:64])
	if len(want) != len(output) {
		return false
	}
	for i := range want {
		if want[i] != output[i] {
			return false
		}
	}
	return true
}

// Eligible reports whether output, interpreted as a big-endian unsigned
// 256-bit integer, falls under target * stakeNumerator / stakeDenominator —
// the stake-weighted eligibility window from spec.md §4.G.
func Eligible(output []byte, target []byte, stakeNumerator, stakeDenominator uint64) bool {
	if stakeDenominator == 0 || stakeNumerator == 0 {
		return false
	}
	outVal := new(big.Int).SetBytes(output)
	targetVal := new(big.Int).SetBytes(target)
	targetVal.Mul(targetVal, new(big.Int).SetUint64(stakeNumerator))
	targetVal.Div(targetVal, new(big.Int).SetUint64(stakeDenominator))
	return outVal.Cmp(targetVal) < 0
}

// HashMessage builds the canonical VRF input message (parent_hash || height)
// used for leader election at a given height.
func HashMessage(parent types.Hash, height uint64) []byte {
	buf := make([]byte, 32+8)
	copy(buf, parent[:])
	for i := 0; i < 8; i++ {
		buf[32+i] = byte(height >> (8 * (7 - i)))
	}
	return buf
}
