// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain implements the block buffer and fork-choice logic of
// spec.md §4.F: a candidate set validated asynchronously and applied to
// the state engine along the winning chain.
package chain

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kestrel-chain/core/crypto/vdf"
	"github.com/kestrel-chain/core/crypto/vrf"
	"github.com/kestrel-chain/core/metrics"
	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/txpool"
	"github.com/kestrel-chain/core/types"
)

var logger = log.New("module", "chain")

// CandidateStatus is the per-candidate state machine of spec.md §4.F.
type CandidateStatus int

const (
	ReceivedRaw CandidateStatus = iota
	VrfChecked
	VdfVerified
	Applied
	Rejected
)

func (s CandidateStatus) String() string {
	switch s {
	case ReceivedRaw:
		return "ReceivedRaw"
	case VrfChecked:
		return "VrfChecked"
	case VdfVerified:
		return "VdfVerified"
	case Applied:
		return "Applied"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// CandidateEntry is one buffered block plus its validation state.
type CandidateEntry struct {
	Block          *types.Block
	Status         CandidateStatus
	RejectReason   error
	CumulativeWork *big.Int
}

// ChainHeadEvent is fired whenever the chain tip advances.
type ChainHeadEvent struct {
	Block *types.Block
}

// Tip describes the current chain head.
type Tip struct {
	Hash           types.Hash
	Height         uint64
	CumulativeWork *big.Int
}

// Buffer is the block buffer and fork-choice engine of spec.md §4.F.
type Buffer struct {
	cfg  *params.Config
	eng  *state.Engine
	db   storage.Storage
	pool *txpool.Pool

	mu         sync.Mutex
	candidates map[types.Hash]*CandidateEntry
	byHeight   map[uint64]map[types.Hash]struct{}
	tip        Tip

	vdfSem chan struct{} // bounds concurrent VDF verification, spec.md §4.F
	feed   event.Feed
	scope  event.SubscriptionScope

	fatal chan error // carries a *FatalError out to Node.Start, spec.md §7
}

// New constructs a Buffer rooted at genesis. vdfWorkers bounds how many
// candidates may have their VDF proof verified concurrently, so a burst of
// blocks cannot starve the machine the way an unbounded fan-out would. Each
// applied block gets its own EVM bridge, scoped to that block's own
// SyncView, rather than sharing one across blocks.
func New(cfg *params.Config, eng *state.Engine, db storage.Storage, pool *txpool.Pool, vdfWorkers int) *Buffer {
	if vdfWorkers <= 0 {
		vdfWorkers = 4
	}
	return &Buffer{
		cfg:        cfg,
		eng:        eng,
		db:         db,
		pool:       pool,
		candidates: make(map[types.Hash]*CandidateEntry),
		byHeight:   make(map[uint64]map[types.Hash]struct{}),
		vdfSem:     make(chan struct{}, vdfWorkers),
		fatal:      make(chan error, 1),
	}
}

// Fatal returns a channel that receives an error the first time a storage
// or consistency failure makes it unsafe to keep applying candidates
// against the node's durable state. Node.Start selects on this alongside
// its other goroutines so the process halts per spec.md §7 instead of
// silently continuing with possibly-corrupt state.
func (b *Buffer) Fatal() <-chan error {
	return b.fatal
}

// SubscribeChainHeadEvent registers for tip-advance notifications.
func (b *Buffer) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return b.scope.Track(b.feed.Subscribe(ch))
}

// Tip returns the current chain head.
func (b *Buffer) Tip() Tip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tip
}

// Errors surfaced by block validation/application, per spec.md §7.
var (
	ErrUnknownParent       = errors.New("chain: parent unknown")
	ErrBadHeight           = errors.New("chain: height != parent.height+1")
	ErrBadTimestamp        = errors.New("chain: timestamp out of bounds")
	ErrNotValidator        = errors.New("chain: proposer not in validator set")
	ErrVRFInvalid          = errors.New("chain: vrf proof invalid")
	ErrNotEligible         = errors.New("chain: vrf output not eligible")
	ErrBadBaseFee          = errors.New("chain: base fee does not follow rule")
	ErrBadTxRoot           = errors.New("chain: transactions root mismatch")
	ErrVDFOutOfRange       = errors.New("chain: vdf iterations out of range")
	ErrVDFInvalid          = errors.New("chain: vdf proof invalid")
	ErrStateRootMismatch   = errors.New("chain: state root mismatch")
	ErrReceiptRootMismatch = errors.New("chain: receipt root mismatch")
	ErrReorgTooDeep        = errors.New("chain: reorg exceeds max depth")
)

// FatalError wraps an error that leaves the node's durable state
// potentially inconsistent with what it has already told peers or the
// local pool: a failed commit or a failed index write, rather than an
// ordinary rejection of one candidate. spec.md §7 requires these to halt
// the node instead of just discarding the offending block.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func newFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Submit ingests a new candidate block (from the network or the local
// producer) and runs it through cheap checks. Already-applied blocks are a
// no-op (idempotence, spec.md §8).
func (b *Buffer) Submit(block *types.Block) error {
	hash := block.Hash()

	b.mu.Lock()
	if existing, ok := b.candidates[hash]; ok && existing.Status == Applied {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.cheapChecks(block); err != nil {
		b.setRejected(block, err)
		return err
	}

	ownWork := workOf(block.Header.Proof.VRFOutput)
	b.mu.Lock()
	cumWork := ownWork
	if !block.Header.IsGenesis() {
		if parent, ok := b.candidates[block.Header.ParentHash]; ok {
			cumWork = new(big.Int).Add(ownWork, parent.CumulativeWork)
		} else {
			cumWork = new(big.Int).Add(ownWork, b.tip.CumulativeWork)
		}
	}
	entry := &CandidateEntry{Block: block, Status: VrfChecked, CumulativeWork: cumWork}
	b.candidates[hash] = entry
	if b.byHeight[block.Height()] == nil {
		b.byHeight[block.Height()] = make(map[types.Hash]struct{})
	}
	b.byHeight[block.Height()][hash] = struct{}{}
	depth := len(b.candidates)
	b.mu.Unlock()
	metrics.CandidateDepth.Set(float64(depth))

	go b.verifyAndApply(entry)
	return nil
}

func (b *Buffer) setRejected(block *types.Block, err error) {
	b.mu.Lock()
	b.candidates[block.Hash()] = &CandidateEntry{Block: block, Status: Rejected, RejectReason: err}
	b.mu.Unlock()
	metrics.RejectedTotal.WithLabelValues(err.Error()).Inc()
}

// cheapChecks implements the ReceivedRaw -> VrfChecked transition of
// spec.md §4.F.
func (b *Buffer) cheapChecks(block *types.Block) error {
	h := block.Header
	if h.IsGenesis() {
		return nil
	}
	parent, ok := b.getCandidateOrCommitted(h.ParentHash)
	if !ok {
		return ErrUnknownParent
	}
	if h.Height != parent.Height+1 {
		return ErrBadHeight
	}
	now := uint64(time.Now().Unix())
	if h.Timestamp <= parent.Timestamp || h.Timestamp > now+uint64(b.cfg.ClockSkew.Seconds()) {
		return ErrBadTimestamp
	}
	proposerAddr, err := h.ProposerAddress()
	if err != nil {
		return ErrNotValidator
	}
	if !isValidator(b.cfg, proposerAddr) {
		return ErrNotValidator
	}
	proposerKey, err := unmarshalPub(h.Proposer)
	if err != nil {
		return ErrVRFInvalid
	}
	msg := vrf.HashMessage(h.ParentHash, h.Height)
	if !vrf.Verify(proposerKey, msg, h.Proof.VRFOutput, h.Proof.VRFProof) {
		return ErrVRFInvalid
	}
	num, den := b.cfg.StakeShare(proposerAddr)
	if !vrf.Eligible(h.Proof.VRFOutput, electionTarget(), num, den) {
		return ErrNotEligible
	}
	wantBaseFee := b.cfg.NextBaseFee(parent.BaseFee, parent.GasUsed)
	if h.BaseFee == nil || h.BaseFee.Cmp(wantBaseFee) != 0 {
		return ErrBadBaseFee
	}
	return nil
}

// verifyAndApply runs the VrfChecked -> VdfVerified -> Applied pipeline on
// a bounded worker pool, so one block's VDF computation cannot stall
// others (spec.md §4.F / §5).
func (b *Buffer) verifyAndApply(entry *CandidateEntry) {
	h := entry.Block.Header
	if !h.IsGenesis() {
		if h.Proof.Iterations < b.cfg.MinVDFIterations || h.Proof.Iterations > b.cfg.MaxVDFIterations {
			b.reject(entry, ErrVDFOutOfRange)
			return
		}
		b.vdfSem <- struct{}{}
		y := new(big.Int).SetBytes(h.Proof.VDFOutput)
		pi := new(big.Int).SetBytes(h.Proof.VDFProof)
		ok := vdf.Verify(h.Proof.VRFOutput, h.Proof.Iterations, y, pi)
		<-b.vdfSem
		if !ok {
			b.reject(entry, ErrVDFInvalid)
			return
		}
	}

	b.mu.Lock()
	entry.Status = VdfVerified
	b.mu.Unlock()

	b.runForkChoice(entry)
}

func (b *Buffer) reject(entry *CandidateEntry, err error) {
	b.mu.Lock()
	entry.Status = Rejected
	entry.RejectReason = err
	b.mu.Unlock()
	metrics.RejectedTotal.WithLabelValues(err.Error()).Inc()
	logger.Warn("candidate rejected", "hash", entry.Block.Hash(), "reason", err)
}

// runForkChoice implements spec.md §4.F's fork choice: longest cumulative
// work, ties broken by lexicographically smaller hash. If the candidate
// beats the tip it is applied, staging a reorg if it branches below tip.
func (b *Buffer) runForkChoice(entry *CandidateEntry) {
	b.mu.Lock()
	better := isBetter(entry, b.tip)
	b.mu.Unlock()
	if !better {
		return
	}
	if err := b.applyChain(entry); err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			b.mu.Lock()
			entry.Status = Rejected
			entry.RejectReason = err
			b.mu.Unlock()
			logger.Error("fatal error applying candidate chain", "hash", entry.Block.Hash(), "err", err)
			select {
			case b.fatal <- err:
			default:
			}
			return
		}
		b.reject(entry, err)
	}
}

func isBetter(entry *CandidateEntry, tip Tip) bool {
	if tip.CumulativeWork == nil {
		return true
	}
	cmp := entry.CumulativeWork.Cmp(tip.CumulativeWork)
	if cmp != 0 {
		return cmp > 0
	}
	return entry.Block.Hash().Big().Cmp(tip.Hash.Big()) < 0
}

// GC deletes candidates older than tip.height - MAX_REORG.
func (b *Buffer) GC() {
	b.mu.Lock()
	if b.tip.Height < b.cfg.MaxReorgDepth {
		b.mu.Unlock()
		return
	}
	boundary := b.tip.Height - b.cfg.MaxReorgDepth
	for height, hashes := range b.byHeight {
		if height >= boundary {
			continue
		}
		for h := range hashes {
			delete(b.candidates, h)
		}
		delete(b.byHeight, height)
	}
	depth := len(b.candidates)
	b.mu.Unlock()
	metrics.CandidateDepth.Set(float64(depth))
}

func workOf(vrfOutput []byte) *big.Int {
	// Per-block work = 1 / max(1, distance_from_target(vrf_output)), scaled
	// by a large constant so the result is an exact integer comparable
	// across blocks (spec.md §4.F allows any deterministic equivalent
	// metric). distance is measured from zero since a smaller VRF output
	// is rarer (and thus more "work") under the eligibility threshold.
	//
	// Genesis carries no VRF proof at all (len(vrfOutput) == 0), which is
	// not the same thing as a real, maximally-rare all-zero 32-byte output:
	// it must contribute the minimum possible work so the first real block
	// extending it always outweighs it in the fork-choice comparison.
	if len(vrfOutput) == 0 {
		return big.NewInt(0)
	}
	const scale = 1 << 62
	dist := new(big.Int).SetBytes(vrfOutput)
	if dist.Sign() == 0 {
		dist.SetInt64(1)
	}
	work := new(big.Int).Div(big.NewInt(scale), dist)
	if work.Sign() == 0 {
		work.SetInt64(1)
	}
	return work
}

func electionTarget() []byte {
	// A fixed target: the maximum of the 256-bit output space, so the
	// eligibility window is the validator's stake share of the whole space
	// (a validator holding all stake is eligible at every height).
	target := make([]byte, 32)
	for i := range target {
		target[i] = 0xff
	}
	return target
}
