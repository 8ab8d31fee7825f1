// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node wires the account-state engine, block buffer, transaction
// pool and (optionally) a PoVF producer into the single running process
// described by spec.md §5, and implements the api and network contracts
// over that wiring.
package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-chain/core/api"
	"github.com/kestrel-chain/core/chain"
	"github.com/kestrel-chain/core/consensus/povf"
	"github.com/kestrel-chain/core/network"
	"github.com/kestrel-chain/core/params"
	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/storage"
	"github.com/kestrel-chain/core/txpool"
	"github.com/kestrel-chain/core/types"
	kvm "github.com/kestrel-chain/core/vm"
)

var logger = log.New("module", "node")

// Config collects everything Open needs beyond the chain's own
// params.Config: where state and its journal live on disk, how many
// concurrent VDF verifications the buffer allows, the housekeeping
// cadence, and, if this node is a validator, its signing key.
type Config struct {
	Chain *params.Config

	DBPath             string
	WALDir             string
	Prune              state.PruneMode
	PruneMin, PruneMax uint64

	VDFWorkers int

	// ValidatorKey is nil for a non-producing (follower/RPC-only) node.
	ValidatorKey *ecdsa.PrivateKey

	GCInterval     time.Duration
	PoolGCInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.GCInterval == 0 {
		c.GCInterval = 30 * time.Second
	}
	if c.PoolGCInterval == 0 {
		c.PoolGCInterval = time.Minute
	}
}

// Node is the assembled process: every component of spec.md §4 plus the
// api.ChainReader/api.TxSender/api.Subscriber surface spec.md §6.3
// describes, and the network.Inbox/Outbox wiring of spec.md §6.2.
type Node struct {
	cfg *Config

	db   storage.Storage
	eng  *state.Engine
	pool *txpool.Pool
	buf  *chain.Buffer

	producer *povf.Producer

	inbox  network.Inbox
	outbox network.Outbox
}

// Open constructs a Node: opens storage and the state engine, wires the
// transaction pool, block buffer and (if cfg.ValidatorKey is set) a PoVF
// producer, but does not yet start any goroutines. Call Start to run it.
func Open(cfg *Config, inbox network.Inbox, outbox network.Outbox) (*Node, error) {
	cfg.setDefaults()

	db, err := storage.OpenLevelDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("node: open storage: %w", err)
	}

	eng, err := state.Open(db, cfg.WALDir, cfg.Prune, cfg.PruneMin, cfg.PruneMax)
	if err != nil {
		return nil, fmt.Errorf("node: open state engine: %w", err)
	}

	pool := txpool.New(cfg.Chain, chain.NonceReader{Eng: eng}, cfg.Chain.InitialBaseFee)
	buf := chain.New(cfg.Chain, eng, db, pool, cfg.VDFWorkers)

	n := &Node{
		cfg:    cfg,
		db:     db,
		eng:    eng,
		pool:   pool,
		buf:    buf,
		inbox:  inbox,
		outbox: outbox,
	}

	if cfg.ValidatorKey != nil {
		n.producer = povf.New(cfg.Chain, cfg.ValidatorKey, eng, buf, pool, broadcastAdapter{outbox})
	}

	if eng.Height() == 0 && eng.Root() == (types.Hash{}) {
		if _, ok := buf.HeaderByHeight(0); !ok {
			if err := n.submitGenesis(); err != nil {
				return nil, fmt.Errorf("node: apply genesis: %w", err)
			}
		}
	}

	return n, nil
}

// submitGenesis builds and submits the height-0 block implied by
// cfg.Chain.GenesisAlloc, so a brand-new database always starts from a
// committed genesis rather than requiring an out-of-band bootstrap step.
func (n *Node) submitGenesis() error {
	tr := n.eng.BeginTransitionAt(0, types.Hash{})
	for addr, balance := range n.cfg.Chain.GenesisAlloc {
		if err := tr.StageSetBalance(addr, balance); err != nil {
			tr.Rollback()
			return err
		}
	}
	root, err := tr.Commit()
	if err != nil {
		return err
	}
	header := &types.Header{
		Height:    0,
		StateRoot: root,
		BaseFee:   n.cfg.Chain.InitialBaseFee,
		GasLimit:  n.cfg.Chain.BlockGasLimit,
	}
	genesis := types.NewBlock(header, nil)
	return n.buf.Submit(genesis)
}

// broadcastAdapter satisfies povf.Outbox over a network.Outbox.
type broadcastAdapter struct{ out network.Outbox }

func (a broadcastAdapter) BroadcastBlock(b *types.Block) {
	a.out.Send(network.OutboundMessage{Kind: network.KindNewBlock, Block: b})
}

// Start runs the node's goroutine set under ctx: the buffer's candidate
// GC, the pool's expiry GC, the inbound-message dispatch loop, and, for a
// validator, the election loop that attempts a proposal after every new
// chain head. Start blocks until ctx is cancelled or a component returns
// an error, at which point every goroutine is given the chance to finish
// its in-flight work before Start returns (spec.md §5's shutdown model).
func (n *Node) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.runGCTicker(ctx) })
	g.Go(func() error { return n.runPoolGCTicker(ctx) })
	g.Go(func() error { return n.runInboxLoop(ctx) })
	g.Go(func() error { return n.runFatalWatcher(ctx) })
	if n.producer != nil {
		g.Go(func() error { return n.runElectionLoop(ctx) })
	}

	err := g.Wait()
	n.eng.Close()
	if cerr := n.db.Close(); cerr != nil {
		logger.Warn("storage close failed", "err", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) runGCTicker(ctx context.Context) error {
	t := time.NewTicker(n.cfg.GCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.buf.GC()
		}
	}
}

// runFatalWatcher observes the buffer's fatal-error channel and, per
// spec.md §7's "halt with a clear log message" rule for storage/commit
// failures, turns it into an error that cancels every other goroutine in
// the group and propagates out of Start, rather than letting the node
// keep accepting candidates against possibly-inconsistent state.
func (n *Node) runFatalWatcher(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-n.buf.Fatal():
		return fmt.Errorf("node: fatal chain error: %w", err)
	}
}

func (n *Node) runPoolGCTicker(ctx context.Context) error {
	t := time.NewTicker(n.cfg.PoolGCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.pool.CleanupExpired(time.Now())
		}
	}
}

// runInboxLoop dispatches inbound peer messages onto the buffer, pool and
// outbox per spec.md §6.2: new blocks go to the buffer's fork-choice
// pipeline, new transactions to the pool, and block/header requests are
// answered directly from committed chain data.
func (n *Node) runInboxLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-n.inbox.Messages():
			if !ok {
				return nil
			}
			n.handleInbound(msg)
		}
	}
}

func (n *Node) handleInbound(msg network.InboundMessage) {
	switch msg.Kind {
	case network.KindNewBlock:
		if msg.Block == nil {
			return
		}
		if err := n.buf.Submit(msg.Block); err != nil {
			logger.Debug("rejected inbound block", "peer", msg.PeerID, "err", err)
		}
	case network.KindNewTransaction:
		if msg.Transaction == nil {
			return
		}
		res := n.pool.Add(msg.Transaction)
		if res.Rejected != nil {
			logger.Debug("rejected inbound transaction", "peer", msg.PeerID, "err", res.Rejected)
			return
		}
		n.outbox.Send(network.OutboundMessage{Kind: network.KindNewTransaction, Transaction: msg.Transaction})
	case network.KindGetBlock:
		n.answerGetBlock(msg)
	case network.KindGetHeaders:
		n.answerGetHeaders(msg)
	}
}

func (n *Node) answerGetBlock(msg network.InboundMessage) {
	if msg.GetBlock == nil {
		return
	}
	var (
		block *types.Block
		ok    bool
	)
	if msg.GetBlock.ByHash {
		block, ok = n.buf.BlockByHash(msg.GetBlock.Hash)
	} else {
		block, ok = n.buf.BlockByHeight(msg.GetBlock.Height)
	}
	if !ok {
		return
	}
	n.outbox.Send(network.OutboundMessage{Kind: network.KindNewBlock, ToPeer: msg.PeerID, Block: block})
}

func (n *Node) answerGetHeaders(msg network.InboundMessage) {
	if msg.GetHeaders == nil {
		return
	}
	var headers []*types.Header
	for h := msg.GetHeaders.From; h < msg.GetHeaders.From+msg.GetHeaders.Count; h++ {
		hdr, ok := n.buf.HeaderByHeight(h)
		if !ok {
			break
		}
		headers = append(headers, hdr)
	}
	if len(headers) == 0 {
		return
	}
	n.outbox.Send(network.OutboundMessage{Kind: network.KindGetHeaders, ToPeer: msg.PeerID, Headers: headers})
}

// runElectionLoop attempts a proposal after every new chain head,
// cancelling any proposal already in flight for a now-superseded height
// before starting the next one, per spec.md §4.G.
func (n *Node) runElectionLoop(ctx context.Context) error {
	heads := make(chan chain.ChainHeadEvent, 16)
	sub := n.buf.SubscribeChainHeadEvent(heads)
	defer sub.Unsubscribe()

	n.tryProposeAsync(ctx, n.currentHead())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case ev := <-heads:
			n.producer.OnSupersedingBlock()
			n.tryProposeAsync(ctx, ev.Block.Header)
		}
	}
}

func (n *Node) currentHead() *types.Header {
	if h, ok := n.buf.HeaderByHeight(n.eng.Height()); ok {
		return h
	}
	return &types.Header{}
}

func (n *Node) tryProposeAsync(ctx context.Context, parent *types.Header) {
	go func() {
		if _, err := n.producer.TryPropose(parent); err != nil {
			logger.Warn("proposal attempt failed", "parent", parent.Hash(), "err", err)
		}
	}()
}

// --- api.ChainReader ---

func (n *Node) ChainID() *big.Int { return new(big.Int).Set(n.cfg.Chain.ChainID) }

func (n *Node) BlockNumber() uint64 { return n.eng.Height() }

func (n *Node) GetBlockByHash(hash types.Hash) (*types.Block, bool) { return n.buf.BlockByHash(hash) }

func (n *Node) GetBlockByHeight(height uint64) (*types.Block, bool) {
	return n.buf.BlockByHeight(height)
}

func (n *Node) GetTransaction(hash types.Hash) (*api.TxLocation, bool) {
	tx, blockHash, height, index, ok := n.buf.TxLocation(hash)
	if !ok {
		return nil, false
	}
	return &api.TxLocation{Tx: tx, BlockHash: blockHash, BlockHeight: height, Index: index}, true
}

func (n *Node) GetReceipt(hash types.Hash) (*types.Receipt, bool) { return n.buf.Receipt(hash) }

// resolveRoot translates a BlockRef into the state root it names, or the
// currently committed root for api.Latest.
func (n *Node) resolveRoot(at api.BlockRef) (types.Hash, error) {
	if at.Height == nil {
		return n.eng.Root(), nil
	}
	return n.eng.StateRootAt(*at.Height)
}

func (n *Node) GetBalance(addr types.Address, at api.BlockRef) (*big.Int, error) {
	root, err := n.resolveRoot(at)
	if err != nil {
		return nil, err
	}
	acc, err := n.eng.GetAccountAt(root, addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (n *Node) GetNonce(addr types.Address, at api.BlockRef) (uint64, error) {
	root, err := n.resolveRoot(at)
	if err != nil {
		return 0, err
	}
	acc, err := n.eng.GetAccountAt(root, addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

func (n *Node) GetCode(addr types.Address, at api.BlockRef) ([]byte, error) {
	root, err := n.resolveRoot(at)
	if err != nil {
		return nil, err
	}
	acc, err := n.eng.GetAccountAt(root, addr)
	if err != nil {
		return nil, err
	}
	return n.eng.GetCode(acc.CodeHash)
}

func (n *Node) GetStorage(addr types.Address, key types.Hash, at api.BlockRef) (types.Hash, error) {
	root, err := n.resolveRoot(at)
	if err != nil {
		return types.Hash{}, err
	}
	return n.eng.GetStorageAt(root, addr, key)
}

func (n *Node) GasPrice() (*big.Int, error) {
	head, ok := n.buf.HeaderByHeight(n.eng.Height())
	if !ok || head.BaseFee == nil {
		return new(big.Int).Set(n.cfg.Chain.InitialBaseFee), nil
	}
	return new(big.Int).Set(head.BaseFee), nil
}

// callTx builds a throwaway, unsigned, unsignable transaction from a
// CallRequest for read-only execution; it never goes through the pool or
// a block, so it needs neither a valid signature nor a nonce check
// (simulateAt below stages the sender's current nonce directly).
func callTx(call api.CallRequest) *types.Transaction {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTransaction(types.DynamicFeeTxKind, types.TxData{
		Nonce:     0,
		GasLimit:  call.Gas,
		To:        call.To,
		Value:     value,
		Data:      call.Data,
		GasFeeCap: new(big.Int),
		GasTipCap: new(big.Int),
	})
}

// simulateAt executes call against a throwaway Transition rooted at at,
// never committing it, and returns the execution outcome. The sender's
// staged nonce is set to the call's declared sender's current nonce so
// the bridge's nonce pre-check passes regardless of the caller-supplied
// (and otherwise meaningless, since this never reaches a block) nonce.
func (n *Node) simulateAt(ctx context.Context, call api.CallRequest, at api.BlockRef) (*kvm.ExecutionOutcome, error) {
	_ = ctx
	root, err := n.resolveRoot(at)
	if err != nil {
		return nil, err
	}
	height := n.eng.Height()
	if at.Height != nil {
		height = *at.Height
	}
	tr := n.eng.BeginTransitionAt(height+1, root)
	defer tr.Rollback()

	senderAcc, err := tr.AccountForRead(call.From)
	if err != nil {
		return nil, err
	}
	if err := tr.StageSetBalance(call.From, sufficientBalance(senderAcc.Balance, call.Value)); err != nil {
		return nil, err
	}

	view := n.eng.NewSyncView(tr)
	bridge := kvm.NewBridge(view)

	head, _ := n.buf.HeaderByHeight(height)
	baseFee := n.cfg.Chain.InitialBaseFee
	if head != nil && head.BaseFee != nil {
		baseFee = head.BaseFee
	}

	tx := callTx(call)
	bc := kvm.BlockContext{
		Height:    height + 1,
		Timestamp: uint64(time.Now().Unix()),
		BaseFee:   baseFee,
		GasLimit:  n.cfg.Chain.BlockGasLimit,
		ChainID:   n.cfg.Chain.ChainID,
	}
	return bridge.Execute(bc, tx, tr)
}

// sufficientBalance returns a balance guaranteed to cover value, topping
// balance up rather than overriding it outright, since callTx's fee caps
// are zero and the bridge only checks feeCap*gasLimit+value against it.
func sufficientBalance(balance, value *big.Int) *big.Int {
	if value == nil {
		return balance
	}
	return new(big.Int).Add(balance, value)
}

func (n *Node) EstimateGas(ctx context.Context, call api.CallRequest) (uint64, error) {
	if call.Gas == 0 {
		call.Gas = n.cfg.Chain.BlockGasLimit
	}
	outcome, err := n.simulateAt(ctx, call, api.Latest)
	if err != nil {
		return 0, err
	}
	return outcome.GasUsed, nil
}

func (n *Node) Call(ctx context.Context, call api.CallRequest, at api.BlockRef) ([]byte, error) {
	if call.Gas == 0 {
		call.Gas = n.cfg.Chain.BlockGasLimit
	}
	outcome, err := n.simulateAt(ctx, call, at)
	if err != nil {
		return nil, err
	}
	if outcome.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("node: call reverted: %w", outcome.Err)
	}
	return outcome.ReturnData, nil
}

// --- api.TxSender ---

func (n *Node) SendRawTransaction(raw []byte) (types.Hash, error) {
	var tx types.Transaction
	if err := rlp.DecodeBytes(raw, &tx); err != nil {
		return types.Hash{}, fmt.Errorf("node: decode transaction: %w", err)
	}
	res := n.pool.Add(&tx)
	if res.Rejected != nil {
		return types.Hash{}, res.Rejected
	}
	n.outbox.Send(network.OutboundMessage{Kind: network.KindNewTransaction, Transaction: &tx})
	return tx.Hash(), nil
}

// --- api.Subscriber ---

// subscription adapts a go-ethereum event.Subscription, fed by a pump
// goroutine translating the feed's concrete event type into api's
// untyped Events() channel, to the api.Subscription interface.
type subscription struct {
	ch  chan interface{}
	sub event.Subscription
}

func (s *subscription) Events() <-chan interface{} { return s.ch }
func (s *subscription) Unsubscribe()               { s.sub.Unsubscribe() }
func (s *subscription) Err() <-chan error          { return s.sub.Err() }

// Subscribe implements api.Subscriber. Log and syncing-status
// subscriptions are not wired: spec.md §6.3 lists them as optional, and
// no component here tracks historical logs independently of receipts or
// exposes a sync-progress signal, so both return an error rather than a
// channel that would silently never fire.
func (n *Node) Subscribe(kind api.SubscriptionKind, filter *api.LogFilter) (api.Subscription, error) {
	switch kind {
	case api.SubscribeNewHeads:
		raw := make(chan chain.ChainHeadEvent, 16)
		sub := n.buf.SubscribeChainHeadEvent(raw)
		out := make(chan interface{}, 16)
		go func() {
			defer close(out)
			for {
				select {
				case ev, ok := <-raw:
					if !ok {
						return
					}
					out <- ev.Block.Header
				case <-sub.Err():
					return
				}
			}
		}()
		return &subscription{ch: out, sub: sub}, nil
	case api.SubscribeNewPendingTransactions:
		raw := make(chan txpool.NewTxsEvent, 16)
		sub := n.pool.SubscribeNewTxsEvent(raw)
		out := make(chan interface{}, 16)
		go func() {
			defer close(out)
			for {
				select {
				case ev, ok := <-raw:
					if !ok {
						return
					}
					for _, tx := range ev.Txs {
						out <- tx
					}
				case <-sub.Err():
					return
				}
			}
		}()
		return &subscription{ch: out, sub: sub}, nil
	default:
		_ = filter
		return nil, fmt.Errorf("node: subscription kind %d not implemented", kind)
	}
}
