package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// branchNodeFingerprint reconstructs the fingerprint of one side's full node
// encoding from the level rows: prefix bytes, then each child slot's bytes
// in sequence, then the terminal empty value item.
func branchNodeFingerprint(p *rlc.Params, rows []Row, s Side) (fr.Element, error) {
	prefix, _, err := branchPrefix(&rows[0], s)
	if err != nil {
		return fr.Element{}, err
	}

	var acc, b fr.Element
	mult := p.Pow(0)
	for _, v := range prefix {
		b.SetUint64(uint64(v))
		acc, mult = p.Accumulate(acc, mult, b)
	}
	for i := 1; i <= ChildCount; i++ {
		r := &rows[i]
		item, err := classifyChild(r, s)
		if err != nil {
			return fr.Element{}, err
		}
		b.SetUint64(uint64(item.header))
		acc, mult = p.Accumulate(acc, mult, b)
		g := r.group(s)
		for j := 0; j < item.payloadLen; j++ {
			acc, mult = p.Accumulate(acc, mult, g[PayloadStart+j])
		}
	}
	b.SetUint64(0x80)
	acc, _ = p.Accumulate(acc, mult, b)
	return acc, nil
}

// checkHashInParent binds a node's fingerprint to the hash recorded for it
// one level up. The keccak table is the only source of hashing semantics:
// the node fingerprint must resolve to exactly the fingerprint the parent
// carries for the modified slot.
func checkHashInParent(t *Tables, nodeFp, parentSlot fr.Element, s Side) error {
	h, ok := t.KeccakLookup(nodeFp)
	if !ok {
		return violationf("side %s node fingerprint missing from keccak table", s)
	}
	if !h.Equal(&parentSlot) {
		return violationf("side %s node hash not embedded in parent slot", s)
	}
	return nil
}
