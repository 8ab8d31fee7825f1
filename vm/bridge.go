// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"

	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/types"
)

var logger = log.New("module", "vm")

// Failure taxonomy, spec.md §4.D.
var (
	ErrInvalidSignature    = errors.New("vm: invalid signature")
	ErrIntrinsicGasTooLow  = errors.New("vm: intrinsic gas too low")
	ErrGasLimitExceeded    = errors.New("vm: gas limit exceeds block gas limit")
	ErrInsufficientBalance = errors.New("vm: insufficient balance for max-fee*gas+value")
	ErrInvalidNonce        = errors.New("vm: invalid nonce")
)

// InvalidNonceError carries expected/got for the failure taxonomy entry.
type InvalidNonceError struct {
	Expected, Got uint64
}

func (e *InvalidNonceError) Error() string {
	return "vm: invalid nonce"
}
func (e *InvalidNonceError) Unwrap() error { return ErrInvalidNonce }

// BlockContext is the per-block information available to every
// transaction's execution, spec.md §4.D.
type BlockContext struct {
	BlockHash types.Hash
	Height    uint64
	Timestamp uint64
	Proposer  types.Address
	BaseFee   *big.Int
	GasLimit  uint64
	ChainID   *big.Int
}

// ExecutionOutcome is the result of executing one transaction, spec.md
// §4.D.
type ExecutionOutcome struct {
	Status         uint64
	GasUsed        uint64
	ReturnData     []byte
	Logs           []*types.Log
	CreatedAddress *types.Address
	Refund         uint64
	Err            error // non-nil only for revert/execution errors, never for pre-validation aborts
}

// chainConfig is a fixed, fully-activated (post-London, pre-Shanghai)
// configuration: the specification leaves fork choice to the implementer
// ("Interpreter semantics match Ethereum mainnet up to the latest included
// hard-fork... must be documented"); this core documents London as its
// target fork (enables EIP-1559 fee semantics, the base-fee rule spec.md
// §9 requires, and the access-list machinery already wired into the
// StateDB adapter).
func chainConfig(chainID *big.Int) *gethparams.ChainConfig {
	zero := big.NewInt(0)
	return &gethparams.ChainConfig{
		ChainID:             chainID,
		HomesteadBlock:      zero,
		EIP150Block:         zero,
		EIP155Block:         zero,
		EIP158Block:         zero,
		ByzantiumBlock:      zero,
		ConstantinopleBlock: zero,
		PetersburgBlock:     zero,
		IstanbulBlock:       zero,
		MuirGlacierBlock:    zero,
		BerlinBlock:         zero,
		LondonBlock:         zero,
	}
}

// Bridge executes transactions against a block's Transition via the
// go-ethereum v1.10.26 EVM interpreter, per spec.md §4.D.
type Bridge struct {
	view *state.SyncView
}

// NewBridge constructs a bridge over the given sync view.
func NewBridge(view *state.SyncView) *Bridge {
	return &Bridge{view: view}
}

// Execute runs tx as a top-level call or CREATE against tr, following the
// pipeline of spec.md §4.D steps 1-7.
func (b *Bridge) Execute(bc BlockContext, tx *types.Transaction, tr *state.Transition) (*ExecutionOutcome, error) {
	sender, err := tx.Sender()
	if err != nil {
		return nil, ErrInvalidSignature
	}

	sdb := NewStateDBAdapter(b.view, tr)
	senderAcc := sdb.overlay(common.Address(sender))

	// 1. Pre-validation.
	if tx.Nonce() != senderAcc.nonce {
		return nil, &InvalidNonceError{Expected: senderAcc.nonce, Got: tx.Nonce()}
	}
	effPrice, err := tx.EffectiveGasPrice(bc.BaseFee)
	if err != nil {
		return nil, err
	}
	maxFee := tx.GasFeeCap()
	maxCost := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(tx.GasLimit()))
	maxCost.Add(maxCost, tx.Value())
	if senderAcc.balance.Cmp(maxCost) < 0 {
		return nil, ErrInsufficientBalance
	}
	intrinsic := tx.IntrinsicGas()
	if tx.GasLimit() < intrinsic {
		return nil, ErrIntrinsicGasTooLow
	}
	if tx.GasLimit() > bc.GasLimit {
		return nil, ErrGasLimitExceeded
	}

	// 2. Pre-pay: debit sender by max-fee * gas-limit, increment nonce.
	prepay := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(tx.GasLimit()))
	sdb.SubBalance(common.Address(sender), prepay)
	sdb.SetNonce(common.Address(sender), tx.Nonce()+1)

	blockCtx := gethcore.BlockContext{
		CanTransfer: func(db gethcore.StateDB, addr common.Address, amount *big.Int) bool {
			return db.GetBalance(addr).Cmp(amount) >= 0
		},
		Transfer: func(db gethcore.StateDB, from, to common.Address, amount *big.Int) {
			db.SubBalance(from, amount)
			db.AddBalance(to, amount)
		},
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    common.Address(bc.Proposer),
		BlockNumber: new(big.Int).SetUint64(bc.Height),
		Time:        new(big.Int).SetUint64(bc.Timestamp),
		Difficulty:  big.NewInt(0),
		GasLimit:    bc.GasLimit,
		BaseFee:     bc.BaseFee,
	}
	evm := gethcore.NewEVM(blockCtx, gethcore.TxContext{Origin: common.Address(sender), GasPrice: effPrice}, sdb, chainConfig(bc.ChainID), gethcore.Config{})

	gasForCall := tx.GasLimit() - intrinsic
	var (
		ret      []byte
		leftOver uint64
		created  *types.Address
		callErr  error
	)
	if tx.IsContractCreation() {
		var contractAddr common.Address
		ret, contractAddr, leftOver, callErr = evm.Create(gethcore.AccountRef(sender), tx.Data(), gasForCall, tx.Value())
		if callErr == nil {
			addr := types.Address(contractAddr)
			created = &addr
		}
	} else {
		ret, leftOver, callErr = evm.Call(gethcore.AccountRef(sender), common.Address(*tx.To()), tx.Data(), gasForCall, tx.Value())
	}
	gasUsed := gasForCall - leftOver + intrinsic

	outcome := &ExecutionOutcome{
		GasUsed:        gasUsed,
		ReturnData:     ret,
		CreatedAddress: created,
	}

	if callErr != nil {
		// 5. Revert: in-call state changes discarded; sender still pays gas,
		// nonce remains incremented. We simply do not Finalize the adapter's
		// storage/code/balance-from-the-call overlay; instead
		// applyFeeOnlyOutcome stages only the pre-pay debit and nonce bump
		// directly on the Transition.
		outcome.Status = types.ReceiptStatusFailed
		outcome.Err = callErr
		if err := applyFeeOnlyOutcome(tr, sender, bc, tx, effPrice, prepay, gasUsed); err != nil {
			return nil, err
		}
		logger.Debug("execution reverted", "tx", tx.Hash(), "err", callErr)
		return outcome, nil
	}

	// 4. Success: collect state changes, logs, gas-used, then settle fees.
	outcome.Status = types.ReceiptStatusSuccessful
	outcome.Logs = sdb.Logs()
	outcome.Refund = sdb.GetRefund()
	if err := sdb.Finalize(); err != nil {
		return nil, err
	}
	if err := settleFees(tr, sender, bc, effPrice, prepay, gasUsed); err != nil {
		return nil, err
	}
	return outcome, nil
}

// settleFees implements spec.md §4.D step 6: refund unused prepay to the
// sender, credit the tip portion to the proposer, burn the base-fee
// portion (i.e. simply do not credit it to anyone).
func settleFees(tr *state.Transition, sender types.Address, bc BlockContext, effPrice, prepay *big.Int, gasUsed uint64) error {
	spent := new(big.Int).Mul(effPrice, new(big.Int).SetUint64(gasUsed))
	refund := new(big.Int).Sub(prepay, spent)

	senderAcc, err := tr.AccountForRead(sender)
	if err != nil {
		return err
	}
	if err := tr.StageSetBalance(sender, new(big.Int).Add(senderAcc.Balance, refund)); err != nil {
		return err
	}

	tip := new(big.Int).Sub(effPrice, bc.BaseFee)
	if tip.Sign() > 0 {
		tipAmount := new(big.Int).Mul(tip, new(big.Int).SetUint64(gasUsed))
		proposerAcc, err := tr.AccountForRead(bc.Proposer)
		if err != nil {
			return err
		}
		if err := tr.StageSetBalance(bc.Proposer, new(big.Int).Add(proposerAcc.Balance, tipAmount)); err != nil {
			return err
		}
	}
	return nil
}

// applyFeeOnlyOutcome settles fees for a reverted call. sdb.Finalize never
// ran, so the Transition still holds the sender's pre-call balance and
// nonce; this stages the pre-pay debit and the nonce increment, then
// settleFees applies the refund/tip split exactly as in the success path.
func applyFeeOnlyOutcome(tr *state.Transition, sender types.Address, bc BlockContext, tx *types.Transaction, effPrice, prepay *big.Int, gasUsed uint64) error {
	senderAcc, err := tr.AccountForRead(sender)
	if err != nil {
		return err
	}
	if err := tr.StageSetBalance(sender, new(big.Int).Sub(senderAcc.Balance, prepay)); err != nil {
		return err
	}
	if err := tr.StageSetNonce(sender, tx.Nonce()+1); err != nil {
		return err
	}
	return settleFees(tr, sender, bc, effPrice, prepay, gasUsed)
}
