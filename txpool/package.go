// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txpool

import (
	"math/big"
	"sort"
	"time"

	"github.com/kestrel-chain/core/types"
)

// Package implements spec.md §4.E's packaging algorithm: the longest
// ordered prefix of pending transactions that fits block gas limit G,
// honoring strict per-sender nonce ordering.
func (p *Pool) Package(blockGasLimit uint64, baseFee *big.Int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Lowest-nonce eligible tx per sender.
	eligible := make(map[types.Address]uint64)
	for sender, byNonce := range p.bySender {
		min := ^uint64(0)
		for nonce := range byNonce {
			if nonce < min {
				min = nonce
			}
		}
		eligible[sender] = min
	}

	// Snapshot and sort candidates by effective price desc, first-seen asc,
	// hash asc -- the priority_heap's tie-break order -- since prque pops
	// don't expose a stable re-sort primitive across lazy-deleted entries
	// cleanly, a fresh sort over the live entry set is simplest and correct.
	type cand struct {
		e *entry
	}
	var cands []cand
	for _, e := range p.byHash {
		cands = append(cands, cand{e})
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].e, cands[j].e
		if a.effGasPrice.Cmp(b.effGasPrice) != 0 {
			return a.effGasPrice.Cmp(b.effGasPrice) > 0
		}
		if !a.firstSeen.Equal(b.firstSeen) {
			return a.firstSeen.Before(b.firstSeen)
		}
		return a.tx.Hash().Big().Cmp(b.tx.Hash().Big()) < 0
	})

	var out []*types.Transaction
	var cumGas uint64
	included := make(map[types.Address]uint64) // sender -> next eligible nonce
	for sender, nonce := range eligible {
		included[sender] = nonce
	}

	progress := true
	for progress && cumGas < blockGasLimit {
		progress = false
		for _, c := range cands {
			e := c.e
			if e.tx.GasLimit()+cumGas > blockGasLimit {
				continue
			}
			if included[e.sender] != e.tx.Nonce() {
				continue
			}
			out = append(out, e.tx)
			cumGas += e.tx.GasLimit()
			included[e.sender] = e.tx.Nonce() + 1
			progress = true
			break
		}
	}
	return out
}

// CleanupExpired drains entries older than TX_TTL relative to now.
func (p *Pool) CleanupExpired(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-p.cfg.TxTTL)
	for !p.expiry.Empty() {
		hash, negTs := p.expiry.Peek()
		seenAt := time.Unix(0, -negTs)
		if seenAt.After(cutoff) {
			break
		}
		p.expiry.Pop()
		p.removeLocked(hash)
	}
}

// Stats reports the pool's current shape, per spec.md §4.E.
type Stats struct {
	Count            int
	PendingPerSender map[types.Address]int
	MinGasPrice      *big.Int
	MaxGasPrice      *big.Int
}

// Stats returns a point-in-time snapshot; concurrent Add calls may make it
// transiently stale but it never observes a torn entry.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Count: len(p.byHash), PendingPerSender: make(map[types.Address]int)}
	for sender, m := range p.bySender {
		s.PendingPerSender[sender] = len(m)
	}
	for _, e := range p.byHash {
		if s.MinGasPrice == nil || e.effGasPrice.Cmp(s.MinGasPrice) < 0 {
			s.MinGasPrice = e.effGasPrice
		}
		if s.MaxGasPrice == nil || e.effGasPrice.Cmp(s.MaxGasPrice) > 0 {
			s.MaxGasPrice = e.effGasPrice
		}
	}
	return s
}
