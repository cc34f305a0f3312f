package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// checkBranchGroup enforces the per-level branch invariants over one 19-row
// group: node_index progression, the single is_modified flag, S/C equality
// outside the modified slot, the carried modified-slot fingerprints, byte
// ranges and zero padding.
func checkBranchGroup(p *rlc.Params, t *Tables, rows []Row) error {
	init := &rows[0]
	if init.Tag != TagBranchInit {
		return violationf("level must start with a branch init row")
	}

	modNode, ok := rlc.ToByte(init.ModifiedNode)
	if !ok || modNode >= ChildCount {
		return violationf("modified_node out of range")
	}

	var modCount fr.Element
	var idx fr.Element
	for i := 1; i <= ChildCount; i++ {
		r := &rows[i]
		if r.Tag != TagBranchChild {
			return violationf("row %d of level is not a branch child", i)
		}

		// Raw columns are bytes; membership in the byte-range table is the
		// relation-system form of the range check.
		for j := 0; j < RowWidth; j++ {
			if !t.ByteLookup(r.S[j]) || !t.ByteLookup(r.C[j]) {
				return violationf("child row %d column %d out of byte range", i, j)
			}
		}

		// node_index increases by exactly one across the level.
		if !r.NodeIndex.Equal(&idx) {
			return violationf("node_index broken at child row %d", i)
		}
		idx.Add(&idx, one())

		// modified_node is carried unchanged from the init row.
		if !r.ModifiedNode.Equal(&init.ModifiedNode) {
			return violationf("modified_node not constant at child row %d", i)
		}

		if !isBool(r.IsModified) {
			return violationf("is_modified not boolean at child row %d", i)
		}
		modCount.Add(&modCount, &r.IsModified)

		atMod := i-1 == int(modNode)
		if atMod != r.IsModified.IsOne() {
			return violationf("is_modified disagrees with modified_node at child row %d", i)
		}

		sItem, err := classifyChild(r, SideS)
		if err != nil {
			return err
		}
		cItem, err := classifyChild(r, SideC)
		if err != nil {
			return err
		}
		if !rlc.CheckZeroPadding(sItem.payloadLen, r.S[PayloadStart:]) {
			return violationf("non-zero padding in S payload of child row %d", i)
		}
		if !rlc.CheckZeroPadding(cItem.payloadLen, r.C[PayloadStart:]) {
			return violationf("non-zero padding in C payload of child row %d", i)
		}

		sFp := r.PayloadFingerprint(p, SideS)
		cFp := r.PayloadFingerprint(p, SideC)

		// Off the modified slot, the two proofs must be byte-identical.
		if !atMod {
			if sItem.header != cItem.header || !sFp.Equal(&cFp) {
				return violationf("S/C diverge outside modified slot at child row %d", i)
			}
		}

		// The carried fingerprints equal their predecessor on every row and
		// the row's own payload fingerprint exactly at the modified slot.
		if i > 1 {
			if !r.ModS.Equal(&rows[i-1].ModS) || !r.ModC.Equal(&rows[i-1].ModC) {
				return violationf("carried modified-slot fingerprint broken at child row %d", i)
			}
		}
		if atMod {
			if !r.ModS.Equal(&sFp) {
				return violationf("carried S fingerprint does not match modified slot")
			}
			if !r.ModC.Equal(&cFp) {
				return violationf("carried C fingerprint does not match modified slot")
			}
		}
	}

	if !modCount.IsOne() {
		return violationf("exactly one is_modified flag must be set per level")
	}
	return nil
}

func one() *fr.Element {
	var v fr.Element
	v.SetOne()
	return &v
}
