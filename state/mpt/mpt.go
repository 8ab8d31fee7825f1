// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mpt implements the Merkle-Patricia-Trie used to commit account
// and per-account storage state (spec.md §4.C).
//
// The trie is not go-ethereum's trie package: that package's node cache,
// commit and pruning model is tightly coupled to go-ethereum's own
// snapshot/journal machinery, which does not line up with this core's own
// WAL-plus-height-keyed-snapshot design (spec.md §4.C "Snapshot & pruning").
// This is a from-scratch, compact nibble-indexed branch(16)/extension/leaf
// trie built the way the specification describes it, with nodes persisted
// through the core's own Storage capability instead.
package mpt

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kestrel-chain/core/crypto"
	"github.com/kestrel-chain/core/types"
)

// node is the interface satisfied by every trie node kind.
type node interface {
	cache() (hashed []byte, dirty bool)
}

type (
	branchNode struct {
		children [17]node // index 16 holds a value for keys ending exactly here
		flags    nodeFlag
	}
	extensionNode struct {
		key   []byte // hex-encoded (nibble per byte), no terminator
		val   node
		flags nodeFlag
	}
	leafNode struct {
		key   []byte // hex-encoded remaining nibbles, with terminator
		val   []byte
		flags nodeFlag
	}
	hashNode  []byte
	valueNode []byte
)

type nodeFlag struct {
	hash  hashNode
	dirty bool
}

func (n *branchNode) cache() ([]byte, bool)    { return n.flags.hash, n.flags.dirty }
func (n *extensionNode) cache() ([]byte, bool) { return n.flags.hash, n.flags.dirty }
func (n *leafNode) cache() ([]byte, bool)      { return n.flags.hash, n.flags.dirty }
func (n hashNode) cache() ([]byte, bool)       { return nil, true }
func (n valueNode) cache() ([]byte, bool)      { return nil, true }

// store is the minimal persistence contract the trie needs: a
// content-addressed node store keyed by keccak256(encoded node). The state
// engine supplies an adapter over its Storage capability with the "mpt:"
// namespace.
type store interface {
	GetNode(hash types.Hash) ([]byte, error)
	PutNode(hash types.Hash, encoded []byte)
}

// Trie is a Merkle-Patricia-Trie rooted at a single node, lazily resolving
// unloaded subtrees from store by hash.
type Trie struct {
	root  node
	store store
}

// Empty returns the canonical empty trie: no root node, committing to
// types.EmptyRootHash.
func Empty(s store) *Trie {
	return &Trie{store: s}
}

// WithStore returns a shallow copy of the trie bound to a different node
// store, used to retarget a read-only-opened trie onto a write-capable
// store immediately before computing its root for a commit.
func (t *Trie) WithStore(s store) *Trie {
	return &Trie{root: t.root, store: s}
}

// Open resolves an existing trie by its root hash.
func Open(root types.Hash, s store) (*Trie, error) {
	t := &Trie{store: s}
	if root == types.EmptyRootHash || root == (types.Hash{}) {
		return t, nil
	}
	t.root = hashNode(root.Bytes())
	return t, nil
}

func keyToHex(key []byte) []byte {
	hex := make([]byte, len(key)*2+1)
	for i, b := range key {
		hex[i*2] = b / 16
		hex[i*2+1] = b % 16
	}
	hex[len(hex)-1] = 16 // terminator
	return hex
}

// packNibbles packs a slice of nibbles (each 0-15) into bytes, prefixed
// with a one-byte odd/even-length flag so the exact nibble count survives
// a round trip through an on-disk byte string.
func packNibbles(hex []byte) []byte {
	flag := byte(len(hex) % 2)
	padded := hex
	if flag == 1 {
		padded = make([]byte, len(hex)+1)
		copy(padded[1:], hex)
	}
	buf := make([]byte, 1+len(padded)/2)
	buf[0] = flag
	for i := 0; i < len(padded); i += 2 {
		buf[1+i/2] = padded[i]<<4 | padded[i+1]
	}
	return buf
}

// unpackNibbles is the inverse of packNibbles.
func unpackNibbles(buf []byte) []byte {
	if len(buf) == 0 {
		return nil
	}
	flag := buf[0]
	hex := make([]byte, 0, (len(buf)-1)*2)
	for _, b := range buf[1:] {
		hex = append(hex, b>>4, b&0x0f)
	}
	if flag == 1 {
		hex = hex[1:]
	}
	return hex
}

func prefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Get looks up key, returning nil if absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	v, newRoot, didResolve, err := t.get(t.root, keyToHex(key), 0)
	if err != nil {
		return nil, err
	}
	if didResolve {
		t.root = newRoot
	}
	if v == nil {
		return nil, nil
	}
	return []byte(v.(valueNode)), nil
}

func (t *Trie) get(n node, key []byte, pos int) (value node, newnode node, didResolve bool, err error) {
	switch n := n.(type) {
	case nil:
		return nil, nil, false, nil
	case valueNode:
		return n, n, false, nil
	case *leafNode:
		if prefixLen(n.key, key[pos:]) != len(n.key) {
			return nil, n, false, nil
		}
		return valueNode(n.val), n, false, nil
	case *extensionNode:
		if len(key)-pos < len(n.key) || prefixLen(n.key, key[pos:]) != len(n.key) {
			return nil, n, false, nil
		}
		value, newnode, didResolve, err := t.get(n.val, key, pos+len(n.key))
		if err == nil && didResolve {
			n = n.copy()
			n.val = newnode
		}
		return value, n, didResolve, err
	case *branchNode:
		idx := key[pos]
		value, newnode, didResolve, err = t.get(n.children[idx], key, pos+1)
		if err == nil && didResolve {
			n = n.copy()
			n.children[idx] = newnode
		}
		return value, n, didResolve, err
	case hashNode:
		child, err := t.resolveHash(n)
		if err != nil {
			return nil, n, true, err
		}
		value, newnode, _, err := t.get(child, key, pos)
		return value, newnode, true, err
	default:
		return nil, nil, false, nil
	}
}

func (t *Trie) resolveHash(n hashNode) (node, error) {
	var h types.Hash
	copy(h[:], n)
	enc, err := t.store.GetNode(h)
	if err != nil {
		return nil, err
	}
	return decodeNode(enc)
}

func (n *branchNode) copy() *branchNode {
	cpy := *n
	return &cpy
}
func (n *extensionNode) copy() *extensionNode {
	cpy := *n
	return &cpy
}
func (n *leafNode) copy() *leafNode {
	cpy := *n
	return &cpy
}

// Put inserts or overwrites key with value. An empty value deletes the key
// (zero-value storage slots are equivalent to absence for MPT purposes).
func (t *Trie) Put(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	k := keyToHex(key)
	root, err := t.insert(t.root, k, valueNode(value))
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) insert(n node, key []byte, value node) (node, error) {
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok {
			_ = v
		}
		return value, nil
	}
	switch n := n.(type) {
	case nil:
		return &leafNode{key: key, val: []byte(value.(valueNode)), flags: nodeFlag{dirty: true}}, nil
	case *leafNode:
		matchlen := prefixLen(key, n.key)
		if matchlen == len(n.key) && matchlen == len(key) {
			return &leafNode{key: key, val: []byte(value.(valueNode)), flags: nodeFlag{dirty: true}}, nil
		}
		branch := &branchNode{flags: nodeFlag{dirty: true}}
		var err error
		branch.children[n.key[matchlen]], err = t.insert(nil, n.key[matchlen+1:], valueNode(n.val))
		if err != nil {
			return nil, err
		}
		branch.children[key[matchlen]], err = t.insert(nil, key[matchlen+1:], value)
		if err != nil {
			return nil, err
		}
		if matchlen == 0 {
			return branch, nil
		}
		return &extensionNode{key: key[:matchlen], val: branch, flags: nodeFlag{dirty: true}}, nil
	case *extensionNode:
		matchlen := prefixLen(key, n.key)
		if matchlen == len(n.key) {
			newVal, err := t.insert(n.val, key[matchlen:], value)
			if err != nil {
				return nil, err
			}
			return &extensionNode{key: n.key, val: newVal, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &branchNode{flags: nodeFlag{dirty: true}}
		var err error
		if matchlen+1 == len(n.key) {
			branch.children[n.key[matchlen]] = n.val
		} else {
			branch.children[n.key[matchlen]] = &extensionNode{key: n.key[matchlen+1:], val: n.val, flags: nodeFlag{dirty: true}}
		}
		branch.children[key[matchlen]], err = t.insert(nil, key[matchlen+1:], value)
		if err != nil {
			return nil, err
		}
		if matchlen == 0 {
			return branch, nil
		}
		return &extensionNode{key: key[:matchlen], val: branch, flags: nodeFlag{dirty: true}}, nil
	case *branchNode:
		cpy := n.copy()
		cpy.flags.dirty = true
		if len(key) == 1 && key[0] == 16 {
			cpy.children[16] = value
			return cpy, nil
		}
		idx := key[0]
		child, err := t.insert(n.children[idx], key[1:], value)
		if err != nil {
			return nil, err
		}
		cpy.children[idx] = child
		return cpy, nil
	case hashNode:
		child, err := t.resolveHash(n)
		if err != nil {
			return nil, err
		}
		return t.insert(child, key, value)
	}
	return nil, nil
}

// Delete removes key from the trie. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	root, _, err := t.delete(t.root, keyToHex(key))
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) delete(n node, key []byte) (node, bool, error) {
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case *leafNode:
		if prefixLen(key, n.key) != len(n.key) || len(key) != len(n.key) {
			return n, false, nil
		}
		return nil, true, nil
	case *extensionNode:
		matchlen := prefixLen(key, n.key)
		if matchlen < len(n.key) {
			return n, false, nil
		}
		child, changed, err := t.delete(n.val, key[matchlen:])
		if err != nil || !changed {
			return n, changed, err
		}
		if child == nil {
			return nil, true, nil
		}
		return &extensionNode{key: n.key, val: child, flags: nodeFlag{dirty: true}}, true, nil
	case *branchNode:
		cpy := n.copy()
		var changed bool
		var err error
		if len(key) == 1 && key[0] == 16 {
			if cpy.children[16] == nil {
				return n, false, nil
			}
			cpy.children[16] = nil
			changed = true
		} else {
			idx := key[0]
			var child node
			child, changed, err = t.delete(n.children[idx], key[1:])
			if err != nil || !changed {
				return n, changed, err
			}
			cpy.children[idx] = child
		}
		cpy.flags.dirty = true
		return cpy, changed, nil
	case hashNode:
		child, err := t.resolveHash(n)
		if err != nil {
			return n, false, err
		}
		return t.delete(child, key)
	}
	return n, false, nil
}

// Root returns the trie's commitment hash, hashing and flushing any dirty
// nodes to the backing store as it goes.
func (t *Trie) Root() types.Hash {
	if t.root == nil {
		return types.EmptyRootHash
	}
	hashed := t.hashAndStore(t.root)
	if hn, ok := hashed.(hashNode); ok {
		var h types.Hash
		copy(h[:], hn)
		return h
	}
	// Root encodes smaller than 32 bytes (rare, tiny tries); hash it
	// directly so the commitment is always a fixed 32-byte digest.
	enc := encodeNode(hashed)
	return crypto.Keccak256Hash(enc)
}

// hashAndStore recursively replaces dirty children with their hashNode
// reference, persisting each encoded node as it is hashed.
func (t *Trie) hashAndStore(n node) node {
	switch n := n.(type) {
	case *leafNode:
		enc := encodeNode(n)
		h := crypto.Keccak256Hash(enc)
		t.store.PutNode(h, enc)
		return hashNode(h.Bytes())
	case *extensionNode:
		child := t.hashAndStore(n.val)
		packed := &extensionNode{key: n.key, val: child}
		enc := encodeNode(packed)
		h := crypto.Keccak256Hash(enc)
		t.store.PutNode(h, enc)
		return hashNode(h.Bytes())
	case *branchNode:
		packed := &branchNode{}
		for i, c := range n.children {
			if c == nil {
				continue
			}
			if hn, ok := c.(hashNode); ok {
				packed.children[i] = hn
				continue
			}
			if vn, ok := c.(valueNode); ok {
				packed.children[i] = vn
				continue
			}
			packed.children[i] = t.hashAndStore(c)
		}
		enc := encodeNode(packed)
		h := crypto.Keccak256Hash(enc)
		t.store.PutNode(h, enc)
		return hashNode(h.Bytes())
	default:
		return n
	}
}

// rlpNodeEntry is the on-disk encoding of a trie node: a single struct
// whose Kind field tags it as branch, extension or leaf, carrying the Key,
// Value and Children fields that kind uses, rather than Ethereum's
// 17-entry/2-entry node lists.
type rlpNodeEntry struct {
	Kind     uint8 // 0 = branch, 1 = extension, 2 = leaf
	Key      []byte
	Value    []byte
	Children [][]byte // only for branch: 17 entries, empty slice = nil child
}

func encodeNode(n node) []byte {
	var e rlpNodeEntry
	switch n := n.(type) {
	case *leafNode:
		e = rlpNodeEntry{Kind: 2, Key: packNibbles(n.key[:len(n.key)-1]), Value: n.val}
	case *extensionNode:
		childHash, _ := childRef(n.val)
		e = rlpNodeEntry{Kind: 1, Key: packNibbles(n.key), Value: childHash}
	case *branchNode:
		e.Kind = 0
		e.Children = make([][]byte, 17)
		for i, c := range n.children {
			ref, isValue := childRef(c)
			if isValue {
				// encode value children with a one-byte marker so decode can
				// distinguish a 32-byte hash from a short inline value.
				e.Children[i] = append([]byte{1}, ref...)
			} else if ref != nil {
				e.Children[i] = append([]byte{0}, ref...)
			}
		}
	}
	enc, err := rlp.EncodeToBytes(&e)
	if err != nil {
		panic(err)
	}
	return enc
}

func childRef(n node) (ref []byte, isValue bool) {
	switch n := n.(type) {
	case nil:
		return nil, false
	case hashNode:
		return []byte(n), false
	case valueNode:
		return []byte(n), true
	default:
		panic("mpt: encode called on unhashed child")
	}
}

func decodeNode(enc []byte) (node, error) {
	var e rlpNodeEntry
	if err := rlp.DecodeBytes(enc, &e); err != nil {
		return nil, err
	}
	switch e.Kind {
	case 2:
		key := append(unpackNibbles(e.Key), 16)
		return &leafNode{key: key, val: e.Value}, nil
	case 1:
		return &extensionNode{key: unpackNibbles(e.Key), val: hashNode(e.Value)}, nil
	case 0:
		b := &branchNode{}
		for i, c := range e.Children {
			if len(c) == 0 {
				continue
			}
			if c[0] == 1 {
				b.children[i] = valueNode(c[1:])
			} else {
				b.children[i] = hashNode(c[1:])
			}
		}
		return b, nil
	}
	return nil, nil
}
