package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

const (
	// RowWidth is the per-side column count: 2 RLP meta positions followed
	// by 32 payload positions.
	RowWidth     = 34
	PayloadStart = 2
	PayloadLen   = 32

	// BranchRows is the row count of one branch level: 1 init row, 16 child
	// rows and 2 extension rows (all-zero when the level has no extension).
	BranchRows = 19
	ChildCount = 16

	// LeafRows covers both storage leaf sides (key + value row each) plus
	// the placeholder row reserved for a leaf drifting into a new branch.
	LeafRows = 5
)

// Tag marks the role of a row inside its level.
type Tag uint8

const (
	TagBranchInit Tag = iota
	TagBranchChild
	TagExtS
	TagExtC
	TagLeafKeyS
	TagLeafValS
	TagLeafKeyC
	TagLeafValC
	TagLeafDrifted
)

// Extension scenario selectors: {single nibble, even count, odd count > 1}
// crossed with how the level's branch nibble folds into the key fingerprint
// (multiplied by 16 or by 1).
const (
	ExtShortC16 = iota
	ExtShortC1
	ExtLongEvenC16
	ExtLongEvenC1
	ExtLongOddC16
	ExtLongOddC1
	ExtScenarios
)

// Row is the atomic witness unit. The S and C byte groups sit side by side
// so the two proofs are compared within the same row; everything after them
// is derived from the raw bytes during witness generation.
type Row struct {
	Tag Tag

	S [RowWidth]fr.Element
	C [RowWidth]fr.Element

	NodeIndex    fr.Element
	IsModified   fr.Element
	ModifiedNode fr.Element

	// ModS/ModC carry the modified slot's payload fingerprints unchanged
	// across all child rows of a level, so consumers one level down can read
	// them at a fixed relative offset without knowing ModifiedNode.
	ModS fr.Element
	ModC fr.Element

	// Key accumulator state after this level's nibbles have been folded.
	// Authoritative on the last child row of a branch level and on the leaf
	// key row.
	KeyAcc  fr.Element
	KeyMult fr.Element

	// Length-prefix form selectors, one pair per proof side. Exactly one of
	// each pair is set on rows that carry a node's RLP prefix.
	SShort, SLong fr.Element
	CShort, CLong fr.Element

	// C16/C1 select whether this level's branch nibble is folded at an even
	// (x16) or odd (x1) key position.
	C16, C1 fr.Element

	ExtSel [ExtScenarios]fr.Element
}

// Side selects one of the two parallel proofs within a row.
type Side int

const (
	SideS Side = iota
	SideC
)

func (s Side) String() string {
	if s == SideS {
		return "S"
	}
	return "C"
}

func (r *Row) group(s Side) *[RowWidth]fr.Element {
	if s == SideS {
		return &r.S
	}
	return &r.C
}

// SetBytes writes raw bytes into one side's columns starting at off.
func (r *Row) SetBytes(s Side, off int, b []byte) {
	g := r.group(s)
	for i, v := range b {
		g[off+i].SetUint64(uint64(v))
	}
}

// PayloadFingerprint folds the 32 payload positions of one side.
func (r *Row) PayloadFingerprint(p *rlc.Params, s Side) fr.Element {
	g := r.group(s)
	var acc fr.Element
	mult := p.Pow(0)
	for i := PayloadStart; i < RowWidth; i++ {
		acc, mult = p.Accumulate(acc, mult, g[i])
	}
	return acc
}

// byteAt extracts the byte value of one column, failing on out-of-range
// cells.
func (r *Row) byteAt(s Side, i int) (byte, error) {
	b, ok := rlc.ToByte(r.group(s)[i])
	if !ok {
		return 0, violationf("row byte %s[%d] out of range", s, i)
	}
	return b, nil
}

// isZero reports whether every column of the row is zero.
func (r *Row) isZero() bool {
	for i := 0; i < RowWidth; i++ {
		if !r.S[i].IsZero() || !r.C[i].IsZero() {
			return false
		}
	}
	if !r.NodeIndex.IsZero() || !r.IsModified.IsZero() || !r.ModifiedNode.IsZero() ||
		!r.ModS.IsZero() || !r.ModC.IsZero() || !r.KeyAcc.IsZero() || !r.KeyMult.IsZero() ||
		!r.SShort.IsZero() || !r.SLong.IsZero() || !r.CShort.IsZero() || !r.CLong.IsZero() ||
		!r.C16.IsZero() || !r.C1.IsZero() {
		return false
	}
	for i := range r.ExtSel {
		if !r.ExtSel[i].IsZero() {
			return false
		}
	}
	return true
}

func isBool(v fr.Element) bool {
	return v.IsZero() || v.IsOne()
}
