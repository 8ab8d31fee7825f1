// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package params collects the tunable constants that the PoVF engine, the
// block buffer, the transaction pool and the state engine must all agree on.
package params

import (
	"math/big"
	"time"

	"github.com/kestrel-chain/core/types"
)

// Config is the static, genesis-loaded configuration shared by every
// component. It is constructed once at startup and never mutated
// (dynamic validator-set reconfiguration is an explicit non-goal).
type Config struct {
	ChainID *big.Int

	// Genesis allocation: address -> starting balance.
	GenesisAlloc map[types.Address]*big.Int

	// Validator set and stake weights, static for the lifetime of the chain.
	Validators   []types.Address
	StakeWeights map[types.Address]uint64

	// PoVF timing.
	MinVDFIterations uint64
	MaxVDFIterations uint64
	VDFIterations    uint64 // iterations required of every produced block
	TargetBlockTime  time.Duration
	ClockSkew        time.Duration

	// Base-fee / EIP-1559-style rule.
	InitialBaseFee           *big.Int
	MinBaseFee               *big.Int
	BaseFeeChangeDenominator int64
	GasTarget                uint64
	BlockGasLimit            uint64

	// Transaction pool.
	MaxPoolSize               int
	MaxPerSender              int
	TxTTL                     time.Duration
	ReplacementPremiumPercent int64 // e.g. 10 for 10%

	// Block buffer / fork choice.
	MaxReorgDepth uint64
}

// StakeShare returns the validator's fraction of total stake as a
// (numerator, denominator) pair, used to scale the VRF eligibility target.
func (c *Config) StakeShare(addr types.Address) (numerator, denominator uint64) {
	var total uint64
	for _, w := range c.StakeWeights {
		total += w
	}
	if total == 0 {
		return 0, 1
	}
	return c.StakeWeights[addr], total
}

// DefaultConfig returns sane defaults for a fresh chain, mirroring the
// typical values named in the specification.
func DefaultConfig(chainID *big.Int) *Config {
	return &Config{
		ChainID:                   chainID,
		GenesisAlloc:              make(map[types.Address]*big.Int),
		StakeWeights:              make(map[types.Address]uint64),
		MinVDFIterations:          1 << 20,
		MaxVDFIterations:          1 << 24,
		VDFIterations:             1 << 22,
		TargetBlockTime:           2 * time.Second,
		ClockSkew:                 10 * time.Second,
		InitialBaseFee:            big.NewInt(1_000_000_000),
		MinBaseFee:                big.NewInt(1),
		BaseFeeChangeDenominator:  8,
		GasTarget:                 15_000_000,
		BlockGasLimit:             30_000_000,
		MaxPoolSize:               5000,
		MaxPerSender:              64,
		TxTTL:                     3 * time.Hour,
		ReplacementPremiumPercent: 10,
		MaxReorgDepth:             128,
	}
}

// NextBaseFee applies the EIP-1559-style adjustment rule from §9 of the
// specification: new = parent * (1 + (parentGasUsed-target)/target/denom),
// clamped to MinBaseFee.
func (c *Config) NextBaseFee(parentBaseFee *big.Int, parentGasUsed uint64) *big.Int {
	if parentBaseFee == nil {
		return new(big.Int).Set(c.InitialBaseFee)
	}
	target := int64(c.GasTarget)
	used := int64(parentGasUsed)
	delta := used - target
	if delta == 0 {
		return new(big.Int).Set(parentBaseFee)
	}
	change := new(big.Int).Mul(parentBaseFee, big.NewInt(delta))
	change.Div(change, big.NewInt(target))
	change.Div(change, big.NewInt(c.BaseFeeChangeDenominator))
	next := new(big.Int).Add(parentBaseFee, change)
	if next.Cmp(c.MinBaseFee) < 0 {
		return new(big.Int).Set(c.MinBaseFee)
	}
	return next
}
