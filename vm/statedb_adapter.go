// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vm bridges the core's async state engine to go-ethereum's
// synchronous EVM interpreter (spec.md §4.D), grounded on the teacher's
// own core/vm/statedb_adapter.go wrapping pattern. The bridge is pinned to
// go-ethereum v1.10.26, whose vm.StateDB interface is expressed purely in
// terms of *big.Int balances and has no access-list/tracing parameters
// added by later hard forks, keeping the adapter tractable to hand-write
// without a compiler in the loop.
package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/kestrel-chain/core/state"
	"github.com/kestrel-chain/core/types"
)

// accountOverlay holds a single account's pending (uncommitted-to-
// Transition) mutations, read-through to the sync view on first touch.
type accountOverlay struct {
	loaded     bool
	balance    *big.Int
	nonce      uint64
	codeHash   types.Hash
	code       []byte
	codeLoaded bool
	suicided   bool
	touched    bool
}

// journalEntry records enough to undo one mutation on RevertToSnapshot.
type journalEntry func(*StateDBAdapter)

// StateDBAdapter implements go-ethereum's vm.StateDB against the core's
// state.SyncView, staging every mutation into a state.Transition only when
// Finalize is called after a successful (non-reverted) execution.
type StateDBAdapter struct {
	view *state.SyncView
	tr   *state.Transition

	accounts map[types.Address]*accountOverlay
	storage  map[types.Address]map[types.Hash]types.Hash

	refund uint64
	logs   []*types.Log
	logIdx uint

	accessListAddrs map[types.Address]bool
	accessListSlots map[types.Address]map[types.Hash]bool

	journal   []journalEntry
	snapshots int
}

// NewStateDBAdapter constructs an adapter scoped to a single transaction's
// execution within the block Transition tr.
func NewStateDBAdapter(view *state.SyncView, tr *state.Transition) *StateDBAdapter {
	return &StateDBAdapter{
		view:            view,
		tr:              tr,
		accounts:        make(map[types.Address]*accountOverlay),
		storage:         make(map[types.Address]map[types.Hash]types.Hash),
		accessListAddrs: make(map[types.Address]bool),
		accessListSlots: make(map[types.Address]map[types.Hash]bool),
	}
}

func (s *StateDBAdapter) overlay(addr common.Address) *accountOverlay {
	a := types.Address(addr)
	ov, ok := s.accounts[a]
	if ok {
		return ov
	}
	ov = &accountOverlay{}
	acc, err := s.view.GetAccountSync(a)
	if err == nil {
		ov.balance = new(big.Int).Set(acc.Balance)
		ov.nonce = acc.Nonce
		ov.codeHash = acc.CodeHash
	} else {
		ov.balance = new(big.Int)
	}
	ov.loaded = true
	s.accounts[a] = ov
	return ov
}

func (s *StateDBAdapter) CreateAccount(addr common.Address) {
	ov := s.overlay(addr)
	prevBalance := new(big.Int).Set(ov.balance)
	s.journal = append(s.journal, func(sd *StateDBAdapter) {
		sd.overlay(addr).balance = prevBalance
	})
	ov.touched = true
}

func (s *StateDBAdapter) SubBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	ov := s.overlay(addr)
	prev := new(big.Int).Set(ov.balance)
	ov.balance.Sub(ov.balance, amount)
	ov.touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.overlay(addr).balance = prev })
}

func (s *StateDBAdapter) AddBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	ov := s.overlay(addr)
	prev := new(big.Int).Set(ov.balance)
	ov.balance.Add(ov.balance, amount)
	ov.touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.overlay(addr).balance = prev })
}

func (s *StateDBAdapter) GetBalance(addr common.Address) *big.Int {
	return new(big.Int).Set(s.overlay(addr).balance)
}

func (s *StateDBAdapter) GetNonce(addr common.Address) uint64 {
	return s.overlay(addr).nonce
}

func (s *StateDBAdapter) SetNonce(addr common.Address, nonce uint64) {
	ov := s.overlay(addr)
	prev := ov.nonce
	ov.nonce = nonce
	ov.touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.overlay(addr).nonce = prev })
}

func (s *StateDBAdapter) loadCode(addr common.Address) {
	ov := s.overlay(addr)
	if ov.codeLoaded {
		return
	}
	code, _ := s.view.GetCodeSync(ov.codeHash)
	ov.code = code
	ov.codeLoaded = true
}

func (s *StateDBAdapter) GetCodeHash(addr common.Address) common.Hash {
	return common.Hash(s.overlay(addr).codeHash)
}

func (s *StateDBAdapter) GetCode(addr common.Address) []byte {
	s.loadCode(addr)
	return s.overlay(addr).code
}

func (s *StateDBAdapter) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *StateDBAdapter) SetCode(addr common.Address, code []byte) {
	ov := s.overlay(addr)
	prevHash, prevCode, prevLoaded := ov.codeHash, ov.code, ov.codeLoaded
	hash := keccak(code)
	ov.codeHash = hash
	ov.code = code
	ov.codeLoaded = true
	ov.touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) {
		o := sd.overlay(addr)
		o.codeHash, o.code, o.codeLoaded = prevHash, prevCode, prevLoaded
	})
}

func (s *StateDBAdapter) AddRefund(gas uint64) {
	prev := s.refund
	s.refund += gas
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.refund = prev })
}

func (s *StateDBAdapter) SubRefund(gas uint64) {
	prev := s.refund
	if gas > s.refund {
		s.refund = 0
	} else {
		s.refund -= gas
	}
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.refund = prev })
}

func (s *StateDBAdapter) GetRefund() uint64 { return s.refund }

func (s *StateDBAdapter) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	v, _ := s.view.GetStorageSync(types.Address(addr), types.Hash(key))
	return common.Hash(v)
}

func (s *StateDBAdapter) GetState(addr common.Address, key common.Hash) common.Hash {
	a := types.Address(addr)
	if m, ok := s.storage[a]; ok {
		if v, ok := m[types.Hash(key)]; ok {
			return common.Hash(v)
		}
	}
	return s.GetCommittedState(addr, key)
}

func (s *StateDBAdapter) SetState(addr common.Address, key, value common.Hash) {
	a := types.Address(addr)
	if s.storage[a] == nil {
		s.storage[a] = make(map[types.Hash]types.Hash)
	}
	k := types.Hash(key)
	prev, had := s.storage[a][k]
	s.storage[a][k] = types.Hash(value)
	s.overlay(addr).touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) {
		if had {
			sd.storage[a][k] = prev
		} else {
			delete(sd.storage[a], k)
		}
	})
}

func (s *StateDBAdapter) Suicide(addr common.Address) bool {
	ov := s.overlay(addr)
	if ov.suicided {
		return false
	}
	ov.suicided = true
	ov.balance = new(big.Int)
	ov.touched = true
	s.journal = append(s.journal, func(sd *StateDBAdapter) { sd.overlay(addr).suicided = false })
	return true
}

func (s *StateDBAdapter) HasSuicided(addr common.Address) bool {
	return s.overlay(addr).suicided
}

func (s *StateDBAdapter) Exist(addr common.Address) bool {
	ov := s.overlay(addr)
	return ov.touched || ov.balance.Sign() != 0 || ov.nonce != 0 || ov.codeHash != types.EmptyCodeHash
}

func (s *StateDBAdapter) Empty(addr common.Address) bool {
	ov := s.overlay(addr)
	return ov.balance.Sign() == 0 && ov.nonce == 0 && ov.codeHash == types.EmptyCodeHash
}

func (s *StateDBAdapter) PrepareAccessList(sender common.Address, dest *common.Address, precompiles []common.Address, txAccesses gethtypes.AccessList) {
	s.accessListAddrs = make(map[types.Address]bool)
	s.accessListSlots = make(map[types.Address]map[types.Hash]bool)
	s.AddAddressToAccessList(sender)
	if dest != nil {
		s.AddAddressToAccessList(*dest)
	}
	for _, p := range precompiles {
		s.AddAddressToAccessList(p)
	}
	for _, a := range txAccesses {
		s.AddAddressToAccessList(a.Address)
		for _, k := range a.StorageKeys {
			s.AddSlotToAccessList(a.Address, k)
		}
	}
}

func (s *StateDBAdapter) AddressInAccessList(addr common.Address) bool {
	return s.accessListAddrs[types.Address(addr)]
}

func (s *StateDBAdapter) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	a := types.Address(addr)
	addrOk := s.accessListAddrs[a]
	slotOk := s.accessListSlots[a] != nil && s.accessListSlots[a][types.Hash(slot)]
	return addrOk, slotOk
}

func (s *StateDBAdapter) AddAddressToAccessList(addr common.Address) {
	s.accessListAddrs[types.Address(addr)] = true
}

func (s *StateDBAdapter) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	a := types.Address(addr)
	s.accessListAddrs[a] = true
	if s.accessListSlots[a] == nil {
		s.accessListSlots[a] = make(map[types.Hash]bool)
	}
	s.accessListSlots[a][types.Hash(slot)] = true
}

func (s *StateDBAdapter) Snapshot() int {
	s.snapshots++
	return len(s.journal)
}

func (s *StateDBAdapter) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i](s)
	}
	s.journal = s.journal[:id]
}

func (s *StateDBAdapter) AddLog(l *gethtypes.Log) {
	s.logs = append(s.logs, &types.Log{
		Address: types.Address(l.Address),
		Topics:  hashesFrom(l.Topics),
		Data:    append([]byte(nil), l.Data...),
		Index:   s.logIdx,
	})
	s.logIdx++
}

func (s *StateDBAdapter) AddPreimage(common.Hash, []byte) {}

func (s *StateDBAdapter) ForEachStorage(common.Address, func(common.Hash, common.Hash) bool) error {
	// The interpreter itself never calls ForEachStorage; it exists on the
	// interface for tooling (state export, self-destruct sweeps) that this
	// core does not implement. A full implementation would iterate the
	// account's mpt storage trie, which the mpt package does not yet expose.
	return nil
}

// Logs returns every log emitted during this adapter's lifetime, in
// emission order.
func (s *StateDBAdapter) Logs() []*types.Log { return s.logs }

// Finalize stages every touched account's balance/nonce/code and every
// dirty storage slot into the underlying Transition. Called only after a
// successful (non-reverted) top-level call; on revert the adapter is
// simply discarded and nothing is staged, matching spec.md §4.D step 5.
func (s *StateDBAdapter) Finalize() error {
	for addr, ov := range s.accounts {
		if !ov.touched {
			continue
		}
		if err := s.tr.StageSetBalance(addr, ov.balance); err != nil {
			return err
		}
		if err := s.tr.StageSetNonce(addr, ov.nonce); err != nil {
			return err
		}
		if ov.codeLoaded && ov.code != nil {
			if err := s.tr.StageSetCode(addr, ov.code); err != nil {
				return err
			}
		}
	}
	for addr, slots := range s.storage {
		for key, value := range slots {
			if err := s.tr.StageSetStorage(addr, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func hashesFrom(hs []common.Hash) []types.Hash {
	out := make([]types.Hash, len(hs))
	for i, h := range hs {
		out[i] = types.Hash(h)
	}
	return out
}
