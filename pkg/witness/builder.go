package witness

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/yourorg/mptzk/pkg/mpt"
	"github.com/yourorg/mptzk/pkg/rlc"
)

// tableMaxLen bounds the multiplier table; no prefix folded in two steps is
// longer than a full row.
const tableMaxLen = 64

// BuildRows populates the row matrix and session tables for one instance
// from the two raw proofs. The relation system fails uniformly; this builder
// is where the pipeline gets named categories, so structural problems are
// reported here with their cause before Check ever runs.
func BuildRows(proofS, proofC [][]byte, pub mpt.PublicInputs, params *rlc.Params, opts Options) (*mpt.Witness, error) {
	if len(proofS) != len(proofC) {
		return nil, fmt.Errorf("witness: proofs have different lengths (%d vs %d); restructured tries are not supported", len(proofS), len(proofC))
	}
	if len(proofS) < 2 {
		return nil, fmt.Errorf("witness: need at least one branch and a leaf, got %d nodes", len(proofS))
	}
	if opts.RequireChange && pub.Root1 == pub.Root2 && bytes.Equal(pub.Val1, pub.Val2) {
		return nil, fmt.Errorf("witness: no-op instance rejected (root and value unchanged)")
	}

	if h := crypto.Keccak256Hash(proofS[0]); h != pub.Root1 {
		return nil, fmt.Errorf("witness: hash chain: S proof root %x does not hash to root1", h)
	}
	if h := crypto.Keccak256Hash(proofC[0]); h != pub.Root2 {
		return nil, fmt.Errorf("witness: hash chain: C proof root %x does not hash to root2", h)
	}

	tables := mpt.NewTables(params, tableMaxLen)
	nibs := keyNibbles(pub.Key)
	key := mpt.NewKeyState(params)

	var rows []mpt.Row
	i := 0
	for i < len(proofS)-1 {
		itemsS, err := listItems(proofS[i])
		if err != nil {
			return nil, fmt.Errorf("witness: S node %d: %w", i, err)
		}
		itemsC, err := listItems(proofC[i])
		if err != nil {
			return nil, fmt.Errorf("witness: C node %d: %w", i, err)
		}
		if len(itemsS) != len(itemsC) {
			return nil, fmt.Errorf("witness: node %d shape diverges between S and C", i)
		}

		var ext *extPair
		branchS, branchC := proofS[i], proofC[i]
		if len(itemsS) == 2 {
			// Extension level: the compressed node plus the branch below it
			// share one 19-row group.
			if i+1 >= len(proofS)-1 {
				return nil, fmt.Errorf("witness: extension node %d not followed by a branch", i)
			}
			ext, err = parseExtPair(proofS[i], proofC[i], proofS[i+1], proofC[i+1])
			if err != nil {
				return nil, err
			}
			tables.AddNode(params, proofS[i])
			tables.AddNode(params, proofC[i])
			i++
			branchS, branchC = proofS[i], proofC[i]
		} else if len(itemsS) != 17 {
			return nil, fmt.Errorf("witness: node %d has %d items, expected a branch or extension", i, len(itemsS))
		}

		group, next, err := buildBranchGroup(params, tables, branchS, branchC, ext, nibs, key)
		if err != nil {
			return nil, err
		}
		key = next

		// Hash-chain debug assertion: the next node must be embedded at the
		// modified slot of this level.
		if i+1 < len(proofS) {
			if err := assertChildEmbedded(branchS, nibs[key.Depth-1], proofS[i+1], "S"); err != nil {
				return nil, err
			}
			if err := assertChildEmbedded(branchC, nibs[key.Depth-1], proofC[i+1], "C"); err != nil {
				return nil, err
			}
		}

		rows = append(rows, group...)
		i++
	}

	leafGroup, err := buildLeafGroup(params, tables, proofS[i], proofC[i], pub, key)
	if err != nil {
		return nil, err
	}
	rows = append(rows, leafGroup...)

	return &mpt.Witness{Rows: rows, Tables: tables, Params: params, Pub: pub}, nil
}

// extPair is the parsed extension node shared by both sides of one level.
type extPair struct {
	prefixLong bool
	compact    []byte // nil for the single-nibble form
	single     byte
	hashS      []byte
	hashC      []byte
	headerS    [2]byte
	nibbles    []byte
}

func parseExtPair(nodeS, nodeC, branchS, branchC []byte) (*extPair, error) {
	keyS, hashS, err := splitShortNode(nodeS)
	if err != nil {
		return nil, fmt.Errorf("witness: extension S: %w", err)
	}
	keyC, hashC, err := splitShortNode(nodeC)
	if err != nil {
		return nil, fmt.Errorf("witness: extension C: %w", err)
	}
	if !bytes.Equal(keyS, keyC) {
		return nil, fmt.Errorf("witness: extension key diverges between S and C")
	}
	if len(hashS) != 32 || len(hashC) != 32 {
		return nil, fmt.Errorf("witness: non-hashed extension child not supported")
	}
	if h := crypto.Keccak256(branchS); !bytes.Equal(h, hashS) {
		return nil, fmt.Errorf("witness: hash chain: extension S child hash mismatch")
	}
	if h := crypto.Keccak256(branchC); !bytes.Equal(h, hashC) {
		return nil, fmt.Errorf("witness: hash chain: extension C child hash mismatch")
	}

	p := &extPair{hashS: hashS, hashC: hashC}
	p.headerS[0] = nodeS[0]
	p.headerS[1] = nodeS[1]
	if len(keyS) == 1 && keyS[0] < 0x80 {
		if keyS[0]>>4 != 1 {
			return nil, fmt.Errorf("witness: single extension byte %#x lacks the odd flag", keyS[0])
		}
		p.single = keyS[0]
		p.nibbles = []byte{keyS[0] & 0x0f}
		return p, nil
	}

	p.prefixLong = true
	p.compact = keyS
	switch keyS[0] >> 4 {
	case 0:
		if keyS[0] != 0 {
			return nil, fmt.Errorf("witness: even extension flag byte %#x malformed", keyS[0])
		}
	case 1:
		p.nibbles = append(p.nibbles, keyS[0]&0x0f)
	default:
		return nil, fmt.Errorf("witness: node flagged as leaf where an extension was expected")
	}
	for _, b := range keyS[1:] {
		p.nibbles = append(p.nibbles, b>>4, b&0x0f)
	}
	return p, nil
}

func buildBranchGroup(params *rlc.Params, tables *mpt.Tables, nodeS, nodeC []byte, ext *extPair, nibs []byte, key mpt.KeyState) ([]mpt.Row, mpt.KeyState, error) {
	group := make([]mpt.Row, mpt.BranchRows)
	init := &group[0]
	init.Tag = mpt.TagBranchInit

	if err := setBranchPrefix(init, mpt.SideS, nodeS); err != nil {
		return nil, key, err
	}
	if err := setBranchPrefix(init, mpt.SideC, nodeC); err != nil {
		return nil, key, err
	}

	if ext != nil {
		for _, nib := range ext.nibbles {
			key.Fold(params, nib)
		}
	}
	if key.Depth >= len(nibs) {
		return nil, key, fmt.Errorf("witness: key path exhausted before the leaf")
	}
	modNode := nibs[key.Depth]

	init.ModifiedNode.SetUint64(uint64(modNode))
	if key.Even() {
		init.C16.SetOne()
	} else {
		init.C1.SetOne()
	}
	if ext != nil {
		idx := extScenario(ext, key.Even())
		init.ExtSel[idx].SetOne()
	}

	rawS, err := rawListItems(nodeS)
	if err != nil {
		return nil, key, fmt.Errorf("witness: branch S: %w", err)
	}
	rawC, err := rawListItems(nodeC)
	if err != nil {
		return nil, key, fmt.Errorf("witness: branch C: %w", err)
	}
	if len(rawS) != 17 || len(rawC) != 17 {
		return nil, key, fmt.Errorf("witness: branch does not carry 17 items")
	}
	if !bytes.Equal(rawS[16], []byte{0x80}) || !bytes.Equal(rawC[16], []byte{0x80}) {
		return nil, key, fmt.Errorf("witness: storage branch value slot not empty")
	}

	for c := 0; c < mpt.ChildCount; c++ {
		r := &group[c+1]
		r.Tag = mpt.TagBranchChild
		r.NodeIndex.SetUint64(uint64(c))
		r.ModifiedNode.SetUint64(uint64(modNode))
		if c == int(modNode) {
			r.IsModified.SetOne()
		} else if !bytes.Equal(rawS[c], rawC[c]) {
			return nil, key, fmt.Errorf("witness: S/C diverge at unmodified slot %d", c)
		}
		if err := setChildRow(r, mpt.SideS, rawS[c]); err != nil {
			return nil, key, err
		}
		if err := setChildRow(r, mpt.SideC, rawC[c]); err != nil {
			return nil, key, err
		}
	}

	modS := group[int(modNode)+1].PayloadFingerprint(params, mpt.SideS)
	modC := group[int(modNode)+1].PayloadFingerprint(params, mpt.SideC)
	for c := 1; c <= mpt.ChildCount; c++ {
		group[c].ModS = modS
		group[c].ModC = modC
	}

	key.Fold(params, modNode)
	group[mpt.ChildCount].KeyAcc = key.Acc
	group[mpt.ChildCount].KeyMult = key.Mult

	if err := setExtensionRows(&group[mpt.ChildCount+1], &group[mpt.ChildCount+2], ext); err != nil {
		return nil, key, err
	}

	tables.AddNode(params, nodeS)
	tables.AddNode(params, nodeC)
	return group, key, nil
}

func setBranchPrefix(init *mpt.Row, s mpt.Side, node []byte) error {
	switch node[0] {
	case 0xf8:
		init.SetBytes(s, 0, node[:2])
		if s == mpt.SideS {
			init.SShort.SetOne()
		} else {
			init.CShort.SetOne()
		}
	case 0xf9:
		init.SetBytes(s, 0, node[:3])
		if s == mpt.SideS {
			init.SLong.SetOne()
		} else {
			init.CLong.SetOne()
		}
	default:
		return fmt.Errorf("witness: branch header %#x not a two or three byte prefix", node[0])
	}
	return nil
}

func setChildRow(r *mpt.Row, s mpt.Side, raw []byte) error {
	switch {
	case len(raw) == 1:
		r.SetBytes(s, 0, raw[:1])
	case raw[0] == 0xa0 && len(raw) == 33:
		r.SetBytes(s, 0, raw[:1])
		r.SetBytes(s, mpt.PayloadStart, raw[1:])
	case raw[0] > 0x80 && raw[0] < 0xa0, raw[0] >= 0xc0 && raw[0] <= 0xf7:
		if len(raw) > 1+mpt.PayloadLen {
			return fmt.Errorf("witness: embedded child of %d bytes overflows its row", len(raw))
		}
		r.SetBytes(s, 0, raw[:1])
		r.SetBytes(s, mpt.PayloadStart, raw[1:])
	default:
		return fmt.Errorf("witness: child item header %#x unsupported", raw[0])
	}
	return nil
}

func setExtensionRows(extS, extC *mpt.Row, ext *extPair) error {
	extS.Tag = mpt.TagExtS
	extC.Tag = mpt.TagExtC
	if ext == nil {
		return nil
	}

	if ext.prefixLong {
		extS.SetBytes(mpt.SideS, 0, []byte{ext.headerS[0], 0x80 + byte(len(ext.compact))})
		extS.SetBytes(mpt.SideS, mpt.PayloadStart, ext.compact)
		helpers := make([]byte, len(ext.compact)-1)
		for j, b := range ext.compact[1:] {
			helpers[j] = b & 0x0f
		}
		extC.SetBytes(mpt.SideS, mpt.PayloadStart, helpers)
	} else {
		extS.SetBytes(mpt.SideS, 0, []byte{ext.headerS[0], ext.single})
	}

	extS.SetBytes(mpt.SideC, 0, []byte{0xa0})
	extS.SetBytes(mpt.SideC, mpt.PayloadStart, ext.hashS)
	extC.SetBytes(mpt.SideC, 0, []byte{0xa0})
	extC.SetBytes(mpt.SideC, mpt.PayloadStart, ext.hashC)
	return nil
}

func extScenario(ext *extPair, branchEven bool) int {
	n := len(ext.nibbles)
	switch {
	case n == 1 && !ext.prefixLong:
		if branchEven {
			return mpt.ExtShortC16
		}
		return mpt.ExtShortC1
	case n%2 == 0:
		if branchEven {
			return mpt.ExtLongEvenC16
		}
		return mpt.ExtLongEvenC1
	default:
		if branchEven {
			return mpt.ExtLongOddC16
		}
		return mpt.ExtLongOddC1
	}
}

func buildLeafGroup(params *rlc.Params, tables *mpt.Tables, nodeS, nodeC []byte, pub mpt.PublicInputs, key mpt.KeyState) ([]mpt.Row, error) {
	if len(nodeS) < 32 || len(nodeC) < 32 {
		return nil, fmt.Errorf("witness: non-hashed leaf not supported")
	}

	group := make([]mpt.Row, mpt.LeafRows)
	group[0].Tag = mpt.TagLeafKeyS
	group[1].Tag = mpt.TagLeafValS
	group[2].Tag = mpt.TagLeafKeyC
	group[3].Tag = mpt.TagLeafValC
	group[4].Tag = mpt.TagLeafDrifted

	compactS, err := setLeafRows(&group[0], &group[1], nodeS)
	if err != nil {
		return nil, fmt.Errorf("witness: leaf S: %w", err)
	}
	compactC, err := setLeafRows(&group[2], &group[3], nodeC)
	if err != nil {
		return nil, fmt.Errorf("witness: leaf C: %w", err)
	}
	if !bytes.Equal(compactS.compact, compactC.compact) {
		return nil, fmt.Errorf("witness: leaf key residue diverges between S and C")
	}
	if !bytes.Equal(compactS.value, pub.Val1) {
		return nil, fmt.Errorf("witness: value mismatch: leaf S value %x, val1 %x", compactS.value, pub.Val1)
	}
	if !bytes.Equal(compactC.value, pub.Val2) {
		return nil, fmt.Errorf("witness: value mismatch: leaf C value %x, val2 %x", compactC.value, pub.Val2)
	}

	for _, nib := range residualNibbles(compactS.compact) {
		key.Fold(params, nib)
	}
	if key.Depth != 2*common.HashLength {
		return nil, fmt.Errorf("witness: key path covers %d nibbles instead of %d", key.Depth, 2*common.HashLength)
	}
	group[0].KeyAcc = key.Acc
	group[0].KeyMult = key.Mult

	want := params.Fingerprint(pub.Key[:])
	if !key.Acc.Equal(&want) {
		return nil, fmt.Errorf("witness: key mismatch: accumulated path does not spell the target key")
	}

	tables.AddNode(params, nodeS)
	tables.AddNode(params, nodeC)
	return group, nil
}

type leafParts struct {
	compact []byte
	value   []byte
}

func setLeafRows(keyRow, valRow *mpt.Row, node []byte) (*leafParts, error) {
	keyItem, valItem, err := splitShortNode(node)
	if err != nil {
		return nil, err
	}

	parts := &leafParts{value: valItem}
	switch {
	case node[0] > 0xc0 && node[0] < 0xf8:
		keyRow.SShort.SetOne()
		if len(keyItem) == 1 && keyItem[0] < 0x80 {
			keyRow.SetBytes(mpt.SideS, 0, []byte{node[0], keyItem[0]})
		} else {
			keyRow.SetBytes(mpt.SideS, 0, []byte{node[0], 0x80 + byte(len(keyItem))})
			keyRow.SetBytes(mpt.SideS, mpt.PayloadStart, keyItem)
		}
	case node[0] == 0xf8:
		keyRow.SLong.SetOne()
		keyRow.SetBytes(mpt.SideS, 0, []byte{node[0], node[1], 0x80 + byte(len(keyItem))})
		keyRow.SetBytes(mpt.SideS, mpt.PayloadStart+1, keyItem)
	default:
		return nil, fmt.Errorf("leaf header %#x unsupported", node[0])
	}
	parts.compact = keyItem

	if parts.compact[0]>>4 != 2 && parts.compact[0]>>4 != 3 {
		return nil, fmt.Errorf("node flagged as extension where a leaf was expected")
	}

	if len(valItem) == 1 && valItem[0] < 0x80 {
		valRow.SetBytes(mpt.SideS, 0, valItem)
	} else {
		valRow.SetBytes(mpt.SideS, 0, []byte{0x80 + byte(len(valItem))})
		valRow.SetBytes(mpt.SideS, mpt.PayloadStart, valItem)
	}
	return parts, nil
}

func residualNibbles(compact []byte) []byte {
	var out []byte
	if compact[0]&0x10 != 0 {
		out = append(out, compact[0]&0x0f)
	}
	for _, b := range compact[1:] {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// assertChildEmbedded checks, at witness time, that a child node's hash sits
// at the nibble slot of its parent. The relation system re-proves this via
// the keccak table; failing here names the category early.
func assertChildEmbedded(parent []byte, nib byte, child []byte, side string) error {
	raw, err := rawListItems(parent)
	if err != nil {
		return err
	}
	if len(raw) != 17 {
		return fmt.Errorf("witness: parent is not a branch")
	}
	slot := raw[nib]
	want := crypto.Keccak256(child)
	if len(slot) != 33 || slot[0] != 0xa0 || !bytes.Equal(slot[1:], want) {
		return fmt.Errorf("witness: hash chain: %s child not embedded at parent slot %d", side, nib)
	}
	return nil
}

// listItems returns the decoded item contents of an RLP list node.
func listItems(node []byte) ([][]byte, error) {
	content, _, err := rlp.SplitList(node)
	if err != nil {
		return nil, err
	}
	var items [][]byte
	for len(content) > 0 {
		_, item, rest, err := rlp.Split(content)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		content = rest
	}
	return items, nil
}

// rawListItems returns the encoded items of an RLP list node, headers
// included.
func rawListItems(node []byte) ([][]byte, error) {
	content, _, err := rlp.SplitList(node)
	if err != nil {
		return nil, err
	}
	var items [][]byte
	for len(content) > 0 {
		_, _, rest, err := rlp.Split(content)
		if err != nil {
			return nil, err
		}
		items = append(items, content[:len(content)-len(rest)])
		content = rest
	}
	return items, nil
}

// splitShortNode decodes a two-item node (extension or leaf) into its key
// and payload items.
func splitShortNode(node []byte) (keyItem, second []byte, err error) {
	items, err := listItems(node)
	if err != nil {
		return nil, nil, err
	}
	if len(items) != 2 {
		return nil, nil, fmt.Errorf("two-item node has %d items", len(items))
	}
	return items[0], items[1], nil
}

func keyNibbles(h common.Hash) []byte {
	out := make([]byte, 0, 2*common.HashLength)
	for _, b := range h {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}
