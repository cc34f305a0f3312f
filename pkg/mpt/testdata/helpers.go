// Package testdata builds synthetic storage-trie proof pairs for tests. A
// chain is constructed bottom-up from a chosen key and value pair, so every
// node hash genuinely links into its parent and the fixtures satisfy the same
// structural rules real eth_getProof responses do.
package testdata

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Level describes one branch level of a synthetic chain, walked top-down.
type Level struct {
	// ExtNibbles compresses that many key nibbles into an extension node
	// sitting above this level's branch. Zero means a plain branch.
	ExtNibbles int

	// Full fills every sibling slot with a hash, forcing the three-byte RLP
	// length prefix. Sparse levels keep a handful of siblings so the branch
	// still exceeds the single-byte list form.
	Full bool
}

// Chain is a matched pair of storage proofs for one key, differing only in
// the leaf value.
type Chain struct {
	ProofS [][]byte
	ProofC [][]byte
	Root1  common.Hash
	Root2  common.Hash
	Key    common.Hash
	Val1   []byte
	Val2   []byte
}

// BuildChain assembles the S and C proofs for key with the given level
// layout. Val1 and Val2 are the raw value item contents of the leaf before
// and after the update.
func BuildChain(key common.Hash, val1, val2 []byte, levels []Level) (*Chain, error) {
	nibs := keyNibbles(key)

	type levelPos struct {
		extStart int
		nib      byte
	}
	positions := make([]levelPos, len(levels))
	depth := 0
	for i, lv := range levels {
		positions[i].extStart = depth
		depth += lv.ExtNibbles
		if depth >= len(nibs) {
			return nil, fmt.Errorf("testdata: levels consume the whole key path")
		}
		positions[i].nib = nibs[depth]
		depth++
	}
	residue := nibs[depth:]
	if len(residue) == 0 {
		return nil, fmt.Errorf("testdata: no key residue left for the leaf")
	}

	leafS := rlpList(rlpString(compactLeaf(residue)), rlpString(val1))
	leafC := rlpList(rlpString(compactLeaf(residue)), rlpString(val2))
	if len(leafS) < 32 || len(leafC) < 32 {
		return nil, fmt.Errorf("testdata: leaf below the inline-node threshold, use a deeper value")
	}

	childS, childC := leafS, leafC
	var nodesS, nodesC [][]byte
	nodesS = append(nodesS, leafS)
	nodesC = append(nodesC, leafC)

	for i := len(levels) - 1; i >= 0; i-- {
		lv, pos := levels[i], positions[i]

		branchS := buildBranch(i, pos.nib, childS, lv.Full)
		branchC := buildBranch(i, pos.nib, childC, lv.Full)
		nodesS = append([][]byte{branchS}, nodesS...)
		nodesC = append([][]byte{branchC}, nodesC...)
		childS, childC = branchS, branchC

		if lv.ExtNibbles > 0 {
			extNibs := nibs[pos.extStart : pos.extStart+lv.ExtNibbles]
			keyItem := extKeyItem(extNibs)
			extS := rlpList(keyItem, rlpString(crypto.Keccak256(childS)))
			extC := rlpList(keyItem, rlpString(crypto.Keccak256(childC)))
			nodesS = append([][]byte{extS}, nodesS...)
			nodesC = append([][]byte{extC}, nodesC...)
			childS, childC = extS, extC
		}
	}

	return &Chain{
		ProofS: nodesS,
		ProofC: nodesC,
		Root1:  crypto.Keccak256Hash(childS),
		Root2:  crypto.Keccak256Hash(childC),
		Key:    key,
		Val1:   val1,
		Val2:   val2,
	}, nil
}

// buildBranch assembles one branch node with the child hashed into slot nib.
// Sparse branches carry three deterministic sibling hashes so the node stays
// above the single-byte list form; full branches hash every slot.
func buildBranch(level int, nib byte, child []byte, full bool) []byte {
	items := make([][]byte, 17)
	for j := 0; j < 16; j++ {
		items[j] = []byte{0x80}
	}
	if full {
		for j := 0; j < 16; j++ {
			items[j] = rlpString(filler(level, j))
		}
	} else {
		for _, off := range []byte{1, 5, 11} {
			j := int((nib + off) % 16)
			items[j] = rlpString(filler(level, j))
		}
	}
	items[nib] = rlpString(crypto.Keccak256(child))
	items[16] = []byte{0x80}
	return rlpList(items...)
}

// filler is a deterministic 32-byte sibling hash with no preimage in the
// fixture.
func filler(level, slot int) []byte {
	return crypto.Keccak256([]byte{0x5e, byte(level), byte(slot)})
}

// compactLeaf hex-prefix encodes a leaf key residue (flag 2 even, 3 odd).
func compactLeaf(nibs []byte) []byte {
	if len(nibs)%2 == 0 {
		return packNibbles(0x20, nibs)
	}
	return packNibbles(0x30|nibs[0], nibs[1:])
}

// extKeyItem returns the encoded RLP key item of an extension node (flag 0
// even, 1 odd; a single nibble collapses to one inline byte).
func extKeyItem(nibs []byte) []byte {
	if len(nibs) == 1 {
		return []byte{0x10 | nibs[0]}
	}
	if len(nibs)%2 == 0 {
		return rlpString(packNibbles(0x00, nibs))
	}
	return rlpString(packNibbles(0x10|nibs[0], nibs[1:]))
}

func packNibbles(flag byte, nibs []byte) []byte {
	out := []byte{flag}
	for i := 0; i+1 < len(nibs); i += 2 {
		out = append(out, nibs[i]<<4|nibs[i+1])
	}
	return out
}

func keyNibbles(h common.Hash) []byte {
	out := make([]byte, 0, 2*common.HashLength)
	for _, b := range h {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

func rlpString(item []byte) []byte {
	if len(item) == 1 && item[0] < 0x80 {
		return item
	}
	return append([]byte{0x80 + byte(len(item))}, item...)
}

func rlpList(items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	switch {
	case len(payload) <= 55:
		return append([]byte{0xc0 + byte(len(payload))}, payload...)
	case len(payload) <= 255:
		return append([]byte{0xf8, byte(len(payload))}, payload...)
	default:
		return append([]byte{0xf9, byte(len(payload) >> 8), byte(len(payload))}, payload...)
	}
}
