package mpt

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// PublicInputs is the instance data supplied by the surrounding pipeline:
// the trie roots before and after the update, the hashed lookup key whose 64
// nibbles form the path, and the expected leaf values on both sides.
type PublicInputs struct {
	Root1 common.Hash
	Root2 common.Hash
	Key   common.Hash
	Val1  []byte
	Val2  []byte
}

// Witness is one instance of the relation system: the populated row matrix,
// the session tables and challenge, and the public inputs. Instances share
// nothing mutable; Check is a pure batch evaluation.
type Witness struct {
	Rows   []Row
	Tables *Tables
	Params *rlc.Params
	Pub    PublicInputs
}

// Check evaluates every constraint of the instance and reports the first
// violation. Acceptance is all-or-nothing: a satisfied instance returns nil,
// anything else is ErrUnsatisfiable.
func Check(w *Witness) error {
	if w.Params == nil || w.Tables == nil {
		return violationf("missing session parameters or tables")
	}
	if len(w.Rows) < BranchRows+LeafRows || (len(w.Rows)-LeafRows)%BranchRows != 0 {
		return violationf("row count %d does not fit the level geometry", len(w.Rows))
	}
	levels := (len(w.Rows) - LeafRows) / BranchRows

	p, t := w.Params, w.Tables
	key := NewKeyState(p)

	// The hash targets for the current level: fingerprints of the root
	// hashes at the top, then the carried modified-slot fingerprints read at
	// a fixed relative offset into the level above.
	targetS := p.Fingerprint(w.Pub.Root1[:])
	targetC := p.Fingerprint(w.Pub.Root2[:])

	for g := 0; g < levels; g++ {
		rows := w.Rows[g*BranchRows : (g+1)*BranchRows]

		if err := checkBranchLength(rows, SideS); err != nil {
			return err
		}
		if err := checkBranchLength(rows, SideC); err != nil {
			return err
		}
		if err := checkBranchGroup(p, t, rows); err != nil {
			return err
		}

		ext, err := checkExtensionRows(p, t, rows, key.Even())
		if err != nil {
			return err
		}
		if ext.present {
			// The extension node chains into the slot above; the branch of
			// this level chains into the child hash the extension records.
			if err := checkHashInParent(t, ext.nodeFpS, targetS, SideS); err != nil {
				return err
			}
			if err := checkHashInParent(t, ext.nodeFpC, targetC, SideC); err != nil {
				return err
			}
			targetS = ext.childHashS
			targetC = ext.childHashC
		}

		nodeFpS, err := branchNodeFingerprint(p, rows, SideS)
		if err != nil {
			return err
		}
		nodeFpC, err := branchNodeFingerprint(p, rows, SideC)
		if err != nil {
			return err
		}
		if err := checkHashInParent(t, nodeFpS, targetS, SideS); err != nil {
			return err
		}
		if err := checkHashInParent(t, nodeFpC, targetC, SideC); err != nil {
			return err
		}

		key, err = checkKeyStep(p, rows, ext, key)
		if err != nil {
			return err
		}

		// The last child row is the fixed offset the next level reads its
		// hash targets from.
		targetS = rows[ChildCount].ModS
		targetC = rows[ChildCount].ModC
	}

	leafRows := w.Rows[levels*BranchRows:]
	s, c, err := checkLeafGroup(p, t, leafRows)
	if err != nil {
		return err
	}
	if err := checkHashInParent(t, s.nodeFp, targetS, SideS); err != nil {
		return err
	}
	if err := checkHashInParent(t, c.nodeFp, targetC, SideC); err != nil {
		return err
	}

	// The leaf residue closes out the key path; the accumulated fingerprint
	// must meet the externally supplied target key.
	key, err = foldLeafResidual(p, key, s.compact)
	if err != nil {
		return err
	}
	if !leafRows[0].KeyAcc.Equal(&key.Acc) || !leafRows[0].KeyMult.Equal(&key.Mult) {
		return violationf("key accumulator columns disagree on the leaf key row")
	}
	if key.Depth != 2*common.HashLength {
		return violationf("key path consumed %d nibbles", key.Depth)
	}
	want := p.Fingerprint(w.Pub.Key[:])
	if !key.Acc.Equal(&want) {
		return violationf("key accumulator does not meet the target key fingerprint")
	}
	wantMult := p.Pow(common.HashLength)
	if !key.Mult.Equal(&wantMult) {
		return violationf("key multiplier did not advance to the terminal radix power")
	}

	val1 := p.Fingerprint(w.Pub.Val1)
	val2 := p.Fingerprint(w.Pub.Val2)
	got1 := p.Fingerprint(s.value)
	got2 := p.Fingerprint(c.value)
	if !got1.Equal(&val1) {
		return violationf("leaf S value does not meet val1")
	}
	if !got2.Equal(&val2) {
		return violationf("leaf C value does not meet val2")
	}
	return nil
}
