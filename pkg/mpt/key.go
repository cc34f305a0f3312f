package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// KeyState is the running key-path accumulator. Nibbles are folded in path
// order; a nibble at an even position contributes nib*16*mult (the high half
// of a key byte), an odd one contributes nib*mult and advances the
// multiplier by the fingerprint radix. After all 64 nibbles the accumulator
// equals the fingerprint of the 32-byte hashed key.
type KeyState struct {
	Acc   fr.Element
	Mult  fr.Element
	Depth int
}

// NewKeyState starts an accumulator at the key's first nibble.
func NewKeyState(p *rlc.Params) KeyState {
	return KeyState{Mult: p.Pow(0)}
}

// Even reports whether the next nibble sits at an even (high) position.
func (k *KeyState) Even() bool { return k.Depth%2 == 0 }

// Fold consumes one nibble.
func (k *KeyState) Fold(p *rlc.Params, nib byte) {
	var v, term fr.Element
	v.SetUint64(uint64(nib))
	if k.Even() {
		var sixteen fr.Element
		sixteen.SetUint64(16)
		v.Mul(&v, &sixteen)
		term.Mul(&v, &k.Mult)
		k.Acc.Add(&k.Acc, &term)
	} else {
		term.Mul(&v, &k.Mult)
		k.Acc.Add(&k.Acc, &term)
		r := p.R()
		k.Mult.Mul(&k.Mult, &r)
	}
	k.Depth++
}

// checkKeyStep folds one level's consumed nibbles (extension nibbles first,
// then the branch's modified_node) and reconciles the result with the key
// accumulator columns recorded on the level's last child row.
func checkKeyStep(p *rlc.Params, rows []Row, ext *extInfo, prev KeyState) (KeyState, error) {
	state := prev
	if ext != nil && ext.present {
		for _, nib := range ext.nibbles {
			state.Fold(p, nib)
		}
	}

	init := &rows[0]
	if !isBool(init.C16) || !isBool(init.C1) {
		return state, violationf("key parity selectors not boolean")
	}
	var sum = init.C16
	sum.Add(&sum, &init.C1)
	if !sum.IsOne() {
		return state, violationf("key parity selectors must sum to one on a branch level")
	}
	if state.Even() != init.C16.IsOne() {
		return state, violationf("key parity selector disagrees with accumulated depth")
	}

	modNode, ok := rlc.ToByte(init.ModifiedNode)
	if !ok || modNode >= ChildCount {
		return state, violationf("modified_node out of range")
	}
	state.Fold(p, modNode)

	last := &rows[ChildCount]
	if !last.KeyAcc.Equal(&state.Acc) || !last.KeyMult.Equal(&state.Mult) {
		return state, violationf("key accumulator columns disagree at level boundary")
	}
	return state, nil
}

// foldLeafResidual closes out the accumulation with the leaf's compact key:
// flag byte (0x20, or 0x30+nibble when the residue starts mid-byte), then
// two nibbles per body byte.
func foldLeafResidual(p *rlc.Params, state KeyState, compact []byte) (KeyState, error) {
	if len(compact) == 0 {
		return state, violationf("empty leaf key residue")
	}
	flag := compact[0]
	switch flag >> 4 {
	case 2: // even residue, aligned on a byte boundary
		if flag != 0x20 {
			return state, violationf("even leaf residue flag %#x carries a nibble", flag)
		}
		if !state.Even() {
			return state, violationf("even leaf residue at odd key position")
		}
	case 3: // odd residue, first nibble rides in the flag byte
		if state.Even() {
			return state, violationf("odd leaf residue at even key position")
		}
		state.Fold(p, flag&0x0f)
	default:
		return state, violationf("leaf residue flag %#x lacks the leaf marker", flag)
	}
	for _, b := range compact[1:] {
		state.Fold(p, b>>4)
		state.Fold(p, b&0x0f)
	}
	return state, nil
}
