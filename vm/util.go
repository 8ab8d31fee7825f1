// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"github.com/kestrel-chain/core/crypto"
	"github.com/kestrel-chain/core/types"
)

func keccak(b []byte) types.Hash {
	return crypto.Keccak256Hash(b)
}
