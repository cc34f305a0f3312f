package mpt

import (
	"bytes"

	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// leafSide is one proof side of the parsed 5-row storage leaf: the compact
// key residue, the value item content and the node encoding fingerprint.
type leafSide struct {
	compact []byte
	value   []byte
	nodeFp  fr.Element
}

// checkLeafGroup validates the storage leaf structure: a key and a value row
// per proof side plus the placeholder row reserved for a leaf that drifts
// into a new branch during the update. Leaf rows carry their node bytes in
// the S column group; the C group and the placeholder must stay zero.
func checkLeafGroup(p *rlc.Params, t *Tables, rows []Row) (*leafSide, *leafSide, error) {
	wantTags := []Tag{TagLeafKeyS, TagLeafValS, TagLeafKeyC, TagLeafValC, TagLeafDrifted}
	for i, w := range wantTags {
		if rows[i].Tag != w {
			return nil, nil, violationf("leaf row %d carries wrong tag", i)
		}
	}
	if !rows[4].isZero() {
		return nil, nil, violationf("drifted leaf placeholder row not zero")
	}
	for i := 0; i < 4; i++ {
		r := &rows[i]
		for j := 0; j < RowWidth; j++ {
			if !t.ByteLookup(r.S[j]) {
				return nil, nil, violationf("leaf row %d column %d out of byte range", i, j)
			}
			if !r.C[j].IsZero() {
				return nil, nil, violationf("leaf row %d C group not zero", i)
			}
		}
	}

	s, err := parseLeafSide(p, &rows[0], &rows[1], SideS)
	if err != nil {
		return nil, nil, err
	}
	c, err := parseLeafSide(p, &rows[2], &rows[3], SideC)
	if err != nil {
		return nil, nil, err
	}

	// Both proofs walk to the same key, so the residues must agree byte for
	// byte; only the values may differ.
	if !bytes.Equal(s.compact, c.compact) {
		return nil, nil, violationf("leaf key residues diverge between S and C")
	}
	return s, c, nil
}

func parseLeafSide(p *rlc.Params, keyRow, valRow *Row, side Side) (*leafSide, error) {
	short, long := keyRow.SShort, keyRow.SLong
	if !isBool(short) || !isBool(long) {
		return nil, violationf("leaf %s length selectors not boolean", side)
	}
	var sum = short
	sum.Add(&sum, &long)
	if !sum.IsOne() {
		return nil, violationf("exactly one leaf %s length selector must be set", side)
	}

	b0, err := keyRow.byteAt(SideS, 0)
	if err != nil {
		return nil, err
	}
	b1, err := keyRow.byteAt(SideS, 1)
	if err != nil {
		return nil, err
	}

	var (
		declared int
		compact  []byte
		node     []byte
	)
	if short.IsOne() {
		if b0 <= 0xc0 || b0 >= 0xf8 {
			return nil, violationf("leaf %s short header %#x malformed", side, b0)
		}
		declared = int(b0 - 0xc0)
		if b1 < 0x80 {
			// Residue of a single nibble (or none) encodes as a raw byte.
			compact = []byte{b1}
			node = []byte{b0, b1}
			if !rlc.CheckZeroPadding(0, keyRow.S[PayloadStart:]) {
				return nil, violationf("non-zero padding after leaf %s key", side)
			}
		} else {
			klen := int(b1 - 0x80)
			if klen == 0 || klen > PayloadLen {
				return nil, violationf("leaf %s key length %d out of range", side, klen)
			}
			compact, err = readBytes(keyRow, PayloadStart, klen, side)
			if err != nil {
				return nil, err
			}
			if !rlc.CheckZeroPadding(klen, keyRow.S[PayloadStart:]) {
				return nil, violationf("non-zero padding after leaf %s key", side)
			}
			node = append([]byte{b0, b1}, compact...)
		}
	} else {
		if b0 != 0xf8 {
			return nil, violationf("leaf %s long header %#x malformed", side, b0)
		}
		declared = int(b1)
		hdr, err := keyRow.byteAt(SideS, 2)
		if err != nil {
			return nil, err
		}
		if hdr < 0x80 {
			return nil, violationf("leaf %s long form with inline key", side)
		}
		klen := int(hdr - 0x80)
		if klen == 0 || klen > PayloadLen-1 {
			return nil, violationf("leaf %s key length %d out of range", side, klen)
		}
		compact, err = readBytes(keyRow, PayloadStart+1, klen, side)
		if err != nil {
			return nil, err
		}
		if !rlc.CheckZeroPadding(klen+1, keyRow.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after leaf %s key", side)
		}
		node = append([]byte{b0, b1, hdr}, compact...)
	}
	keyItem := len(node) - 1
	if long.IsOne() {
		keyItem = len(node) - 2
	}

	v0, err := valRow.byteAt(SideS, 0)
	if err != nil {
		return nil, err
	}
	meta, err := valRow.byteAt(SideS, 1)
	if err != nil {
		return nil, err
	}
	if meta != 0 {
		return nil, violationf("leaf %s value row meta byte not zero", side)
	}

	var value []byte
	valItem := 1
	if v0 < 0x80 {
		// Single small byte, encoded as itself.
		value = []byte{v0}
		node = append(node, v0)
		if !rlc.CheckZeroPadding(0, valRow.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after leaf %s value", side)
		}
	} else {
		if v0 > 0xa0 {
			return nil, violationf("leaf %s value header %#x malformed", side, v0)
		}
		vlen := int(v0 - 0x80)
		value, err = readBytes(valRow, PayloadStart, vlen, side)
		if err != nil {
			return nil, err
		}
		if !rlc.CheckZeroPadding(vlen, valRow.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after leaf %s value", side)
		}
		node = append(append(node, v0), value...)
		valItem += vlen
	}

	if declared != keyItem+valItem {
		return nil, violationf("leaf %s declares %d payload bytes, rows consume %d", side, declared, keyItem+valItem)
	}

	return &leafSide{
		compact: compact,
		value:   value,
		nodeFp:  p.Fingerprint(node),
	}, nil
}

func readBytes(r *Row, off, n int, side Side) ([]byte, error) {
	out := make([]byte, n)
	if off+n > RowWidth {
		return nil, violationf("leaf %s item overflows its row", side)
	}
	for i := 0; i < n; i++ {
		b, err := r.byteAt(SideS, off+i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
