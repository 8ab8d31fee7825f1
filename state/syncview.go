// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"math/big"

	"github.com/kestrel-chain/core/types"
)

// readKind distinguishes the three read shapes the EVM bridge needs.
type readKind int

const (
	readAccount readKind = iota
	readStorage
	readCode
)

type readRequest struct {
	kind     readKind
	addr     types.Address
	key      types.Hash
	codeHash types.Hash
	tr       *Transition
	resp     chan readResponse
}

type readResponse struct {
	account types.Account
	value   types.Hash
	code    []byte
	err     error
}

// serve is the state engine's single consumer loop for the async-to-sync
// bridge described in the specification's Design Notes §9: the EVM runs
// synchronously, but every read it issues is posted to this single-slot
// channel and the caller suspends until this goroutine replies.
func (e *Engine) serve() {
	for {
		select {
		case req := <-e.requests:
			req.resp <- e.handle(req)
		case <-e.closeCh:
			return
		}
	}
}

func (e *Engine) handle(req readRequest) readResponse {
	switch req.kind {
	case readAccount:
		if req.tr != nil {
			if acc, ok := req.tr.accounts[req.addr]; ok {
				return readResponse{account: acc}
			}
			acc, err := req.tr.readCommitted(req.addr)
			return readResponse{account: acc, err: err}
		}
		acc, err := e.GetAccount(req.addr)
		return readResponse{account: acc, err: err}
	case readStorage:
		if req.tr != nil {
			if strie, ok := req.tr.storageTries[req.addr]; ok {
				raw, err := strie.Get(storageKey(req.key))
				if err != nil {
					return readResponse{err: err}
				}
				var v types.Hash
				v.SetBytes(raw)
				return readResponse{value: v}
			}
			v, err := req.tr.readStorageCommitted(req.addr, req.key)
			return readResponse{value: v, err: err}
		}
		v, err := e.GetStorage(req.addr, req.key)
		return readResponse{value: v, err: err}
	case readCode:
		if req.tr != nil {
			if code, ok := req.tr.codes[req.codeHash]; ok {
				return readResponse{code: code}
			}
		}
		code, err := e.GetCode(req.codeHash)
		return readResponse{code: code, err: err}
	}
	return readResponse{}
}

// SyncView is a synchronous facade over the engine scoped to a single
// transaction's execution; it is never retained past that call. When tr is
// non-nil, reads see the in-block mutations staged so far, giving classic
// Ethereum block-level isolation with sequential in-block visibility.
type SyncView struct {
	eng *Engine
	tr  *Transition
}

// NewSyncView builds a sync view over tr (or over committed state if tr is
// nil, e.g. for read-only RPC calls).
func (e *Engine) NewSyncView(tr *Transition) *SyncView {
	return &SyncView{eng: e, tr: tr}
}

func (v *SyncView) ask(req readRequest) readResponse {
	req.resp = make(chan readResponse, 1)
	req.tr = v.tr
	v.eng.requests <- req
	return <-req.resp
}

// GetAccountSync blocks until the engine's consumer goroutine answers.
func (v *SyncView) GetAccountSync(addr types.Address) (types.Account, error) {
	resp := v.ask(readRequest{kind: readAccount, addr: addr})
	return resp.account, resp.err
}

// GetStorageSync blocks until the engine's consumer goroutine answers.
func (v *SyncView) GetStorageSync(addr types.Address, key types.Hash) (types.Hash, error) {
	resp := v.ask(readRequest{kind: readStorage, addr: addr, key: key})
	return resp.value, resp.err
}

// GetCodeSync blocks until the engine's consumer goroutine answers.
func (v *SyncView) GetCodeSync(codeHash types.Hash) ([]byte, error) {
	resp := v.ask(readRequest{kind: readCode, codeHash: codeHash})
	return resp.code, resp.err
}

// GetBalanceSync is a convenience wrapper used by the EVM bridge's StateDB
// adapter.
func (v *SyncView) GetBalanceSync(addr types.Address) (*big.Int, error) {
	acc, err := v.GetAccountSync(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}
