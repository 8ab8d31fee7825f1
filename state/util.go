// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/kestrel-chain/core/crypto"
	"github.com/kestrel-chain/core/types"
)

func cryptoKeccak(b []byte) types.Hash {
	return crypto.Keccak256Hash(b)
}
