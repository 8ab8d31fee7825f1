// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package povf implements the proof-of-verifiable-function leader
// election and block producer of spec.md §4.G: a node decides whether it
// may propose at a height via VRF, then enforces the target block
// interval purely through VDF computation time rather than a timer.
package povf

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kestrel-chain/core/chain"
	"github.com/kestrel-chain/core/crypto/vdf"
	"github.com/kestrel-chain/core/crypto/vrf"
	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/state/mpt"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/txpool"
	"github.com/kestrel-chain/core/types"
	kvm "github.com/kestrel-chain/core/vm"
)

var logger = log.New("module", "povf")

// electionTarget mirrors the buffer's verification-side target; both must
// agree for a block the producer makes to ever pass the buffer's own
// cheap checks.
func electionTarget() []byte {
	target := make([]byte, 32)
	for i := range target {
		target[i] = 0xff
	}
	return target
}

// Outbox is the outbound half of the network collaborator contract of
// spec.md §6.2: the producer publishes newly-minted blocks onto it.
type Outbox interface {
	BroadcastBlock(*types.Block)
}

// Producer runs the election-then-produce loop of spec.md §4.G for a
// single validator identity.
type Producer struct {
	cfg    *params.Config
	secret *ecdsa.PrivateKey
	self   types.Address

	eng    *state.Engine
	buf    *chain.Buffer
	pool   *txpool.Pool
	outbox Outbox

	mu        sync.Mutex
	cancelVDF chan struct{}
}

// New constructs a producer for the validator identified by secret.
func New(cfg *params.Config, secret *ecdsa.PrivateKey, eng *state.Engine, buf *chain.Buffer, pool *txpool.Pool, outbox Outbox) *Producer {
	return &Producer{
		cfg:    cfg,
		secret: secret,
		self:   crypto.PubkeyToAddress(secret.PublicKey),
		eng:    eng,
		buf:    buf,
		pool:   pool,
		outbox: outbox,
	}
}

// TryPropose runs one election-and-maybe-produce cycle for the block that
// would extend parent. It returns immediately (false, nil) if this node is
// not eligible at this height; otherwise it blocks for the VDF computation
// and returns true once the block has been broadcast and submitted, or
// (false, nil) if a superseding block caused cancellation.
func (p *Producer) TryPropose(parent *types.Header) (bool, error) {
	height := parent.Height + 1
	msg := vrf.HashMessage(parent.Hash(), height)
	vrfOutput, vrfProof, err := vrf.Prove(p.secret, msg)
	if err != nil {
		return false, err
	}
	num, den := p.cfg.StakeShare(p.self)
	if !vrf.Eligible(vrfOutput, electionTarget(), num, den) {
		return false, nil
	}
	logger.Info("eligible to propose", "height", height, "parent", parent.Hash())

	baseFee := p.cfg.NextBaseFee(parent.BaseFee, parent.GasUsed)
	pending := p.pool.Package(p.cfg.GasTarget, baseFee)

	tr := p.eng.BeginTransition(height)
	view := p.eng.NewSyncView(tr)
	bridge := kvm.NewBridge(view)

	bc := kvm.BlockContext{
		Height:    height,
		Timestamp: nowUnix(),
		Proposer:  p.self,
		BaseFee:   baseFee,
		GasLimit:  p.cfg.BlockGasLimit,
		ChainID:   p.cfg.ChainID,
	}

	var (
		included []*types.Transaction
		receipts []*types.Receipt
		cumGas   uint64
	)
	for _, tx := range pending {
		outcome, err := bridge.Execute(bc, tx, tr)
		if err != nil {
			// Pre-validation failure: drop silently from this block, per
			// spec.md §4.G step 3; the transaction stays in the pool.
			logger.Debug("dropping tx from candidate block", "tx", tx.Hash(), "err", err)
			continue
		}
		cumGas += outcome.GasUsed
		included = append(included, tx)
		receipts = append(receipts, &types.Receipt{
			Status:            outcome.Status,
			CumulativeGasUsed: cumGas,
			Logs:              outcome.Logs,
			ContractAddress:   outcome.CreatedAddress,
			TxHash:            tx.Hash(),
			TxIndex:           uint(len(included) - 1),
			GasUsed:           outcome.GasUsed,
		})
	}

	cancel := make(chan struct{})
	p.mu.Lock()
	p.cancelVDF = cancel
	p.mu.Unlock()

	out, err := vdf.Compute(vrfOutput, p.cfg.VDFIterations, cancel, 1<<12)
	p.mu.Lock()
	p.cancelVDF = nil
	p.mu.Unlock()
	if err != nil {
		tr.Rollback()
		logger.Info("block production abandoned", "height", height, "err", err)
		return false, nil
	}

	stateRoot, err := tr.Commit()
	if err != nil {
		return false, err
	}

	header := &types.Header{
		Height:      height,
		ParentHash:  parent.Hash(),
		Timestamp:   bc.Timestamp,
		StateRoot:   stateRoot,
		TxRoot:      calcTxRootFor(included),
		ReceiptRoot: calcReceiptRootFor(receipts),
		Proposer:    crypto.FromECDSAPub(&p.secret.PublicKey),
		Coinbase:    p.self,
		BaseFee:     baseFee,
		GasLimit:    p.cfg.BlockGasLimit,
		GasUsed:     cumGas,
		Proof: types.PoVFProof{
			VRFOutput:  vrfOutput,
			VRFProof:   vrfProof,
			VDFOutput:  leftPad32(out.Y),
			VDFProof:   leftPad32(out.Proof),
			Iterations: out.Iterations,
		},
	}
	block := types.NewBlock(header, included)

	p.outbox.BroadcastBlock(block)
	if err := p.buf.Submit(block); err != nil {
		logger.Warn("local block rejected by buffer", "height", height, "err", err)
		return false, err
	}
	return true, nil
}

// OnSupersedingBlock cancels the in-flight VDF computation, if any, so the
// pending TryPropose returns without producing a block. It checks no
// condition itself: Node calls it on every new chain head, and a block
// only becomes the head after passing VDF verification and fork choice.
func (p *Producer) OnSupersedingBlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelVDF != nil {
		select {
		case <-p.cancelVDF:
		default:
			close(p.cancelVDF)
		}
	}
}

func leftPad32(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

var nowUnix = func() uint64 { return uint64(time.Now().Unix()) }

// calcTxRootFor and calcReceiptRootFor compute the same throwaway-trie
// commitments the buffer checks a proposed block's declared roots
// against (chain.applyOne), so a block this producer mints always
// passes its own validation once broadcast back to itself.
func calcTxRootFor(txs []*types.Transaction) types.Hash {
	return types.CalcTxRoot(txs, &panicTrie{t: mpt.Empty(&memTrieStore{})})
}

func calcReceiptRootFor(receipts []*types.Receipt) types.Hash {
	return types.CalcReceiptRoot(receipts, &panicTrie{t: mpt.Empty(&memTrieStore{})})
}

// memTrieStore is a throwaway MPT backing store, never persisted; see
// chain.memTrieStore, which this mirrors so povf need not import chain's
// unexported helpers.
type memTrieStore struct {
	nodes map[types.Hash][]byte
}

func (s *memTrieStore) GetNode(h types.Hash) ([]byte, error) {
	if s.nodes == nil {
		return nil, storage.ErrNotFound
	}
	v, ok := s.nodes[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *memTrieStore) PutNode(h types.Hash, enc []byte) {
	if s.nodes == nil {
		s.nodes = make(map[types.Hash][]byte)
	}
	s.nodes[h] = enc
}

// panicTrie adapts *mpt.Trie's fallible Put to the error-free Put that
// types.CalcTxRoot/CalcReceiptRoot expect; see chain.panicTrie for the
// same adapter and its justification.
type panicTrie struct{ t *mpt.Trie }

func (p *panicTrie) Put(key, value []byte) {
	if err := p.t.Put(key, value); err != nil {
		panic(err)
	}
}

func (p *panicTrie) Root() types.Hash { return p.t.Root() }
