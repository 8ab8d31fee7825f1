// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/core/types"
)

func TestStakeShareEmptyValidatorSet(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	num, den := cfg.StakeShare(types.Address{0x01})
	require.Equal(t, uint64(0), num)
	require.Equal(t, uint64(1), den)
}

func TestStakeShareProportional(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	a, b := types.Address{0x01}, types.Address{0x02}
	cfg.StakeWeights[a] = 3
	cfg.StakeWeights[b] = 1

	num, den := cfg.StakeShare(a)
	require.Equal(t, uint64(3), num)
	require.Equal(t, uint64(4), den)

	num, den = cfg.StakeShare(b)
	require.Equal(t, uint64(1), num)
	require.Equal(t, uint64(4), den)
}

func TestNextBaseFeeNoParent(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	next := cfg.NextBaseFee(nil, 0)
	require.Equal(t, cfg.InitialBaseFee, next)
}

func TestNextBaseFeeAtTargetIsUnchanged(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	parent := big.NewInt(1000)
	next := cfg.NextBaseFee(parent, cfg.GasTarget)
	require.Equal(t, parent, next)
}

func TestNextBaseFeeRisesAboveTarget(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	parent := big.NewInt(1_000_000_000)
	next := cfg.NextBaseFee(parent, cfg.GasTarget*2)
	require.Equal(t, 1, next.Cmp(parent), "base fee should rise when gas used exceeds target")
}

func TestNextBaseFeeFallsBelowTargetButFloorsAtMin(t *testing.T) {
	cfg := DefaultConfig(big.NewInt(1))
	cfg.MinBaseFee = big.NewInt(500)
	parent := big.NewInt(501)
	next := cfg.NextBaseFee(parent, 0)
	require.Equal(t, cfg.MinBaseFee, next)
}
