// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vdf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeVerifyRoundTrip(t *testing.T) {
	seed := []byte("block-seed")
	out, err := Compute(seed, 64, nil, 0)
	require.NoError(t, err)
	require.True(t, Verify(seed, 64, out.Y, out.Proof))
}

func TestVerifyRejectsWrongIterationCount(t *testing.T) {
	seed := []byte("block-seed")
	out, err := Compute(seed, 64, nil, 0)
	require.NoError(t, err)
	require.False(t, Verify(seed, 65, out.Y, out.Proof))
}

func TestVerifyRejectsWrongSeed(t *testing.T) {
	out, err := Compute([]byte("seed-a"), 64, nil, 0)
	require.NoError(t, err)
	require.False(t, Verify([]byte("seed-b"), 64, out.Y, out.Proof))
}

func TestComputeIsDeterministic(t *testing.T) {
	seed := []byte("deterministic-seed")
	out1, err := Compute(seed, 32, nil, 0)
	require.NoError(t, err)
	out2, err := Compute(seed, 32, nil, 0)
	require.NoError(t, err)
	require.Equal(t, out1.Y, out2.Y)
	require.Equal(t, out1.Proof, out2.Proof)
}

func TestComputeCancellation(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)
	_, err := Compute([]byte("seed"), 1<<20, cancel, 1)
	require.ErrorIs(t, err, ErrCancelled)
}
