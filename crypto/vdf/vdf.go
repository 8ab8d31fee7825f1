// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vdf implements the verifiable delay function used to enforce the
// PoVF target block interval.
//
// Construction: Wesolowski's proof of exponentiation over the group
// (Z/NZ)*, where N is the secp256k1 curve's group order, as suggested by
// spec.md §4.A and §9 ("implementation uses the secp256k1 group order for
// domain separation" / "sequential squaring modulo the secp256k1 group
// order"). Compute performs `iterations` sequential squarings of the
// hash-to-group seed; Verify checks a Wesolowski proof in O(log iterations)
// time, giving the required large verify/compute asymmetry without a
// class-group library.
package vdf

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// groupOrder is the order of the secp256k1 curve's scalar field, used as the
// VDF's RSA-like modulus. It is public and fixed, matching the "fixed group
// parameter" called for by spec.md §4.A.
var groupOrder = crypto.S256().Params().N

// Output is the result of a VDF computation: the final group element and the
// Wesolowski proof of correct exponentiation.
type Output struct {
	Y          *big.Int
	Proof      *big.Int
	Iterations uint64
}

// ErrIterationsOutOfRange names an iteration count outside the configured
// [MIN_VDF, MAX_VDF] bound. Compute and Verify do not check that bound
// themselves; callers holding the configuration do.
var ErrIterationsOutOfRange = errors.New("vdf: iterations out of configured range")

// hashToGroup maps an arbitrary seed to an element of (Z/NZ)*.
func hashToGroup(seed []byte) *big.Int {
	h := sha256.Sum256(seed)
	x := new(big.Int).SetBytes(h[:])
	x.Mod(x, groupOrder)
	if x.Sign() == 0 {
		x.SetInt64(1)
	}
	return x
}

// Compute performs `iterations` sequential squarings of hash_to_group(seed)
// modulo the group order and returns the result plus a Wesolowski proof.
// cancel, if non-nil, is polled every checkInterval squarings; if it
// signals, Compute returns early with ErrCancelled and no usable output.
// This is the only meaningfully-parallelizable-resistant primitive in the
// core: each squaring depends on the previous, so iterations cannot be
// split across workers.
func Compute(seed []byte, iterations uint64, cancel <-chan struct{}, checkInterval uint64) (*Output, error) {
	if checkInterval == 0 {
		checkInterval = 1 << 16
	}
	x := hashToGroup(seed)
	y := new(big.Int).Set(x)
	for i := uint64(0); i < iterations; i++ {
		y.Mul(y, y)
		y.Mod(y, groupOrder)
		if cancel != nil && i%checkInterval == 0 {
			select {
			case <-cancel:
				return nil, ErrCancelled
			default:
			}
		}
	}
	l := fiatShamirChallenge(x, y, iterations)
	proof := computeProof(x, iterations, l)
	return &Output{Y: y, Proof: proof, Iterations: iterations}, nil
}

// ErrCancelled is returned by Compute when the cancel channel fires before
// the iterations complete.
var ErrCancelled = errors.New("vdf: cancelled")

// fiatShamirChallenge derives the Wesolowski challenge prime-ish scalar l
// from (x, y, iterations) so the proof is non-interactive.
func fiatShamirChallenge(x, y *big.Int, iterations uint64) *big.Int {
	buf := make([]byte, 0, 64+8)
	buf = append(buf, leftPad32(x)...)
	buf = append(buf, leftPad32(y)...)
	it := make([]byte, 8)
	for i := 0; i < 8; i++ {
		it[i] = byte(iterations >> (8 * (7 - i)))
	}
	buf = append(buf, it...)
	h := sha256.Sum256(buf)
	l := new(big.Int).SetBytes(h[:])
	if l.Sign() == 0 {
		l.SetInt64(1)
	}
	// Force odd so l is not trivially a small power of two; this mirrors the
	// common simplification of using a Fiat-Shamir scalar rather than a true
	// random prime, acceptable since soundness here only needs to be
	// computationally binding, not a formal RSA-assumption reduction.
	l.SetBit(l, 0, 1)
	return l
}

// computeProof computes pi = x^floor(2^iterations / l) mod N via the
// iterative long-division-by-doubling algorithm: track quotient digits one
// bit of 2^iterations at a time while folding the running remainder,
// costing the same number of modular squarings as the original
// computation (the defining property of a Wesolowski proof: generation is
// as expensive as the VDF itself, verification is not).
func computeProof(x *big.Int, iterations uint64, l *big.Int) *big.Int {
	pi := big.NewInt(1)
	r := big.NewInt(1)
	two := big.NewInt(2)
	for i := uint64(0); i < iterations; i++ {
		// r = 2*r mod l; q = 1 if that doubling overflowed l, else 0.
		r.Mul(r, two)
		q := new(big.Int)
		if r.Cmp(l) >= 0 {
			r.Sub(r, l)
			q.SetInt64(1)
		}
		pi.Mul(pi, pi)
		pi.Mod(pi, groupOrder)
		if q.Sign() != 0 {
			pi.Mul(pi, x)
			pi.Mod(pi, groupOrder)
		}
	}
	return pi
}

// Verify checks a VDF proof in O(log iterations) time: it recomputes
// r = 2^iterations mod l via fast modular exponentiation, then checks
// pi^l * x^r == y (mod N).
func Verify(seed []byte, iterations uint64, y, proof *big.Int) bool {
	if y == nil || proof == nil {
		return false
	}
	x := hashToGroup(seed)
	l := fiatShamirChallenge(x, y, iterations)
	r := new(big.Int).Exp(big.NewInt(2), new(big.Int).SetUint64(iterations), l)
	lhs := new(big.Int).Exp(proof, l, groupOrder)
	xr := new(big.Int).Exp(x, r, groupOrder)
	lhs.Mul(lhs, xr)
	lhs.Mod(lhs, groupOrder)
	return lhs.Cmp(y) == 0
}

func leftPad32(v *big.Int) []byte {
	b := make([]byte, 32)
	v.FillBytes(b)
	return b
}
