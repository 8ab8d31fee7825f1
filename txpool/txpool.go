// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txpool implements the enhanced priority transaction pool of
// spec.md §4.E: priority queue by effective gas price, nonce-indexed per
// sender, EIP-1559-style replacement, expiration GC. Grounded directly on
// the teacher's core/txpool/txpool.go, which itself imports
// github.com/ethereum/go-ethereum/common/prque and
// github.com/ethereum/go-ethereum/event for exactly this shape of
// structure; this pool reuses both rather than hand-rolling a heap.
package txpool

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/prque"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/types"
)

var logger = log.New("module", "txpool")

var (
	ErrInvalidSignature = errors.New("txpool: invalid signature")
	ErrInvalidChainID   = errors.New("txpool: invalid chain id")
	ErrNonceTooLow      = errors.New("txpool: nonce too low")
	ErrFeeCapTooLow     = errors.New("txpool: fee cap too low")
	ErrGasLimitTooHigh  = errors.New("txpool: gas limit too high")
	ErrPoolFull         = errors.New("txpool: pool full")
	ErrPerSenderLimit   = errors.New("txpool: per-sender pending limit exceeded")
	ErrAlreadyKnown     = errors.New("txpool: already known")
	ErrTipAboveFeeCap   = errors.New("txpool: max priority fee above max fee")
)

// UnderpricedError carries required/got for a failed replacement or
// pool-full admission, per spec.md §4.E's error taxonomy.
type UnderpricedError struct {
	Required, Got *big.Int
}

func (e *UnderpricedError) Error() string { return "txpool: underpriced" }

var (
	pendingGauge    = metrics.NewRegisteredGauge("txpool/pending", nil)
	replacedCounter = metrics.NewRegisteredCounter("txpool/replaced", nil)
	rejectedCounter = metrics.NewRegisteredCounter("txpool/rejected", nil)
)

// AccountNonceReader is the minimal state dependency the pool needs: the
// committed nonce for a sender, used for admission rule 7.
type AccountNonceReader interface {
	CommittedNonce(addr types.Address) uint64
}

// entry is a single pooled transaction plus its pool-local bookkeeping.
type entry struct {
	tx          *types.Transaction
	sender      types.Address
	firstSeen   time.Time
	effGasPrice *big.Int
}

// NewTxsEvent is fired when one or more transactions are newly admitted.
type NewTxsEvent struct{ Txs []*types.Transaction }

// Pool is the enhanced transaction pool described by spec.md §4.E. All
// operations acquire a single pool-wide mutex with short critical
// sections, per spec.md §5.
type Pool struct {
	cfg   *params.Config
	state AccountNonceReader

	mu         sync.Mutex
	byHash     map[types.Hash]*entry
	bySender   map[types.Address]map[uint64]types.Hash // nonce -> hash
	minByPrice *prque.Prque[int64, types.Hash]         // max-heap via negated priority
	expiry     *prque.Prque[int64, types.Hash]         // min-heap by first-seen unix nano
	baseFee    *big.Int

	feed  event.Feed
	scope event.SubscriptionScope
}

// New constructs an empty pool.
func New(cfg *params.Config, state AccountNonceReader, baseFee *big.Int) *Pool {
	return &Pool{
		cfg:        cfg,
		state:      state,
		byHash:     make(map[types.Hash]*entry),
		bySender:   make(map[types.Address]map[uint64]types.Hash),
		minByPrice: prque.New[int64, types.Hash](nil),
		expiry:     prque.New[int64, types.Hash](nil),
		baseFee:    new(big.Int).Set(baseFee),
	}
}

// SubscribeNewTxsEvent registers a subscription for newly admitted
// transactions, mirroring the teacher's event.Feed-based pub/sub.
func (p *Pool) SubscribeNewTxsEvent(ch chan<- NewTxsEvent) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// SetBaseFee updates the pool's view of the current base fee and
// recomputes every entry's effective gas price (an entry whose fee cap is
// now below the base fee keeps its old price). The eviction heap's
// priorities are not rewritten; they keep each entry's admission price.
func (p *Pool) SetBaseFee(baseFee *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseFee = new(big.Int).Set(baseFee)
	for _, e := range p.byHash {
		if tip, err := e.tx.EffectiveGasTip(p.baseFee); err == nil {
			e.effGasPrice = new(big.Int).Add(p.baseFee, tip)
		}
	}
}

// AdmitResult is the outcome of Add, per spec.md §4.E's public contract.
type AdmitResult struct {
	Admitted bool
	Replaced *types.Hash
	Rejected error
}

// Add runs the ten ordered admission rules of spec.md §4.E and, on
// success, inserts the transaction into every pool index.
func (p *Pool) Add(tx *types.Transaction) AdmitResult {
	sender, err := tx.Sender()
	if err != nil {
		rejectedCounter.Inc(1)
		return AdmitResult{Rejected: ErrInvalidSignature}
	}

	if tx.GasLimit() < tx.IntrinsicGas() {
		return AdmitResult{Rejected: errors.New("txpool: gas limit below intrinsic gas")}
	}
	if tx.GasLimit() > p.cfg.BlockGasLimit {
		return AdmitResult{Rejected: ErrGasLimitTooHigh}
	}
	if tx.Kind() == types.DynamicFeeTxKind && tx.GasFeeCap().Cmp(tx.GasTipCap()) < 0 {
		return AdmitResult{Rejected: ErrTipAboveFeeCap}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tx.GasFeeCap().Cmp(p.baseFee) < 0 {
		return AdmitResult{Rejected: ErrFeeCapTooLow}
	}
	if p.cfg.ChainID != nil && tx.ChainID().Sign() != 0 && tx.ChainID().Cmp(p.cfg.ChainID) != 0 {
		return AdmitResult{Rejected: ErrInvalidChainID}
	}
	committed := p.state.CommittedNonce(sender)
	if tx.Nonce() < committed {
		return AdmitResult{Rejected: ErrNonceTooLow}
	}

	if _, known := p.byHash[tx.Hash()]; known {
		return AdmitResult{Rejected: ErrAlreadyKnown}
	}

	var replaced *types.Hash
	if existingHash, ok := p.bySender[sender][tx.Nonce()]; ok {
		old := p.byHash[existingHash]
		if !meetsReplacementPremium(old.tx, tx, p.cfg.ReplacementPremiumPercent) {
			return AdmitResult{Rejected: &UnderpricedError{Required: replacementFloor(old.tx, p.cfg.ReplacementPremiumPercent), Got: tx.GasFeeCap()}}
		}
		p.removeLocked(existingHash)
		replaced = &existingHash
		replacedCounter.Inc(1)
	} else {
		if len(p.bySender[sender]) >= p.cfg.MaxPerSender {
			return AdmitResult{Rejected: ErrPerSenderLimit}
		}
	}

	tip, err := tx.EffectiveGasTip(p.baseFee)
	if err != nil {
		return AdmitResult{Rejected: ErrFeeCapTooLow}
	}
	effPrice := new(big.Int).Add(p.baseFee, tip)

	if len(p.byHash) >= p.cfg.MaxPoolSize {
		// Drop stale heap entries left behind by removeLocked first.
		for !p.minByPrice.Empty() {
			staleHash, _ := p.minByPrice.Peek()
			if _, live := p.byHash[staleHash]; live {
				break
			}
			p.minByPrice.Pop()
		}
		if !p.minByPrice.Empty() {
			minHash, negPriority := p.minByPrice.Peek()
			if effPrice.Cmp(big.NewInt(-negPriority)) <= 0 {
				return AdmitResult{Rejected: ErrPoolFull}
			}
			p.removeLocked(minHash)
		}
	}

	e := &entry{tx: tx, sender: sender, firstSeen: now(), effGasPrice: effPrice}
	p.insertLocked(e)
	pendingGauge.Update(int64(len(p.byHash)))
	p.feed.Send(NewTxsEvent{Txs: []*types.Transaction{tx}})
	logger.Debug("admitted transaction", "hash", tx.Hash(), "sender", sender, "nonce", tx.Nonce())
	return AdmitResult{Admitted: true, Replaced: replaced}
}

func (p *Pool) insertLocked(e *entry) {
	p.byHash[e.tx.Hash()] = e
	if p.bySender[e.sender] == nil {
		p.bySender[e.sender] = make(map[uint64]types.Hash)
	}
	p.bySender[e.sender][e.tx.Nonce()] = e.tx.Hash()
	// prque is a max-heap on priority; negate so the true minimum price
	// surfaces for the pool-eviction check above. Package does not read
	// this heap.
	p.minByPrice.Push(e.tx.Hash(), -e.effGasPrice.Int64())
	p.expiry.Push(e.tx.Hash(), -e.firstSeen.UnixNano())
}

func (p *Pool) removeLocked(hash types.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if m := p.bySender[e.sender]; m != nil {
		delete(m, e.tx.Nonce())
		if len(m) == 0 {
			delete(p.bySender, e.sender)
		}
	}
	// prque has no direct delete-by-key; stale entries are filtered out
	// lazily wherever they're popped (cleanup/eviction; Package sorts the
	// live byHash set instead), matching
	// the tolerant-of-staleness design the teacher's txpool uses for its
	// own spammer-eviction heap.
}

// Remove deletes hash from the pool (e.g. after inclusion in a block).
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func meetsReplacementPremium(old, new *types.Transaction, premiumPercent int64) bool {
	floorFee := replacementFloor(old, premiumPercent)
	floorTip := scaleUp(old.GasTipCap(), premiumPercent)
	return new.GasFeeCap().Cmp(floorFee) >= 0 && new.GasTipCap().Cmp(floorTip) >= 0
}

func replacementFloor(old *types.Transaction, premiumPercent int64) *big.Int {
	return scaleUp(old.GasFeeCap(), premiumPercent)
}

func scaleUp(v *big.Int, premiumPercent int64) *big.Int {
	num := new(big.Int).Mul(v, big.NewInt(100+premiumPercent))
	return num.Div(num, big.NewInt(100))
}

var now = time.Now
