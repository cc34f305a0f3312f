package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// extInfo is the digest of one level's extension rows: the compressed
// nibbles in path order, the fingerprints of the extension node encoding for
// both sides, and the child branch hashes the node commits to.
type extInfo struct {
	present     bool
	nibbles     []byte
	nodeFpS     fr.Element
	nodeFpC     fr.Element
	childHashS  fr.Element
	childHashC  fr.Element
}

// checkExtensionRows validates the two extension rows of a level. Six
// mutually exclusive scenarios exist: {single nibble, even nibble count, odd
// count above one} crossed with the key parity of the level's branch nibble.
// Their selectors live on the init row and must sum to 0 (plain branch,
// all-zero extension rows) or 1.
func checkExtensionRows(p *rlc.Params, t *Tables, rows []Row, startEven bool) (*extInfo, error) {
	init := &rows[0]
	extS := &rows[ChildCount+1]
	extC := &rows[ChildCount+2]
	if extS.Tag != TagExtS || extC.Tag != TagExtC {
		return nil, violationf("extension rows carry wrong tags")
	}

	var sum fr.Element
	for i := range init.ExtSel {
		if !isBool(init.ExtSel[i]) {
			return nil, violationf("extension selector %d not boolean", i)
		}
		sum.Add(&sum, &init.ExtSel[i])
	}
	if sum.IsZero() {
		if !extS.isZero() || !extC.isZero() {
			return nil, violationf("extension rows not zero on a plain branch level")
		}
		return &extInfo{}, nil
	}
	if !sum.IsOne() {
		return nil, violationf("extension selectors must sum to zero or one")
	}

	for j := 0; j < RowWidth; j++ {
		if !t.ByteLookup(extS.S[j]) || !t.ByteLookup(extS.C[j]) ||
			!t.ByteLookup(extC.S[j]) || !t.ByteLookup(extC.C[j]) {
			return nil, violationf("extension row column %d out of byte range", j)
		}
	}

	listHdr, err := extS.byteAt(SideS, 0)
	if err != nil {
		return nil, err
	}
	second, err := extS.byteAt(SideS, 1)
	if err != nil {
		return nil, err
	}

	info := &extInfo{present: true}
	var prefix []byte
	single := second < 0x80
	if single {
		// One nibble rides directly in the second byte: 0x10 | nibble.
		if second < 0x10 || second > 0x1f {
			return nil, violationf("single-nibble extension byte %#x malformed", second)
		}
		info.nibbles = []byte{second & 0x0f}
		prefix = []byte{listHdr, second}
		if !rlc.CheckZeroPadding(0, extS.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after single-nibble extension key")
		}
	} else {
		klen := int(second - 0x80)
		if klen < 2 || klen > PayloadLen {
			return nil, violationf("extension key length %d out of range", klen)
		}
		compact := make([]byte, klen)
		for j := 0; j < klen; j++ {
			b, err := extS.byteAt(SideS, PayloadStart+j)
			if err != nil {
				return nil, err
			}
			compact[j] = b
		}
		if !rlc.CheckZeroPadding(klen, extS.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after extension key bytes")
		}

		switch compact[0] >> 4 {
		case 0:
			if compact[0] != 0x00 {
				return nil, violationf("even extension flag byte %#x carries a nibble", compact[0])
			}
		case 1:
			info.nibbles = append(info.nibbles, compact[0]&0x0f)
		default:
			return nil, violationf("extension flag byte %#x not an extension prefix", compact[0])
		}

		// The second-nibble helpers on the C row spare the relation system a
		// nibble decomposition: byte = hi*16 + lo with lo witnessed.
		for j, b := range compact[1:] {
			lo, err := extC.byteAt(SideS, PayloadStart+j)
			if err != nil {
				return nil, err
			}
			if lo != b&0x0f {
				return nil, violationf("nibble helper %d does not decompose key byte %#x", j, b)
			}
			info.nibbles = append(info.nibbles, b>>4, lo)
		}
		if !rlc.CheckZeroPadding(klen-1, extC.S[PayloadStart:]) {
			return nil, violationf("non-zero padding after nibble helpers")
		}
		prefix = append([]byte{listHdr, second}, compact...)
	}

	// Only the single-byte list form is admitted: a compact key above 21
	// bytes would push the node into the 0xf8 form, which keccak-hashed paths
	// do not produce.
	if listHdr > 0xf7 || int(listHdr) != 0xc0+len(prefix)-1+33 {
		return nil, violationf("extension list header %#x disagrees with key length (single-byte list form only)", listHdr)
	}

	// Scenario selector must name both the nibble-count shape and the parity
	// at which the level's branch nibble folds.
	branchEven := startEven
	if len(info.nibbles)%2 == 1 {
		branchEven = !branchEven
	}
	want := scenarioIndex(single, len(info.nibbles), branchEven)
	if want < 0 {
		return nil, violationf("no extension scenario covers %d nibbles", len(info.nibbles))
	}
	if !init.ExtSel[want].IsOne() {
		return nil, violationf("extension scenario selector %d not set", want)
	}

	for _, r := range []*Row{extS, extC} {
		h, err := r.byteAt(SideC, 0)
		if err != nil {
			return nil, err
		}
		if h != 0xa0 {
			return nil, violationf("extension child hash slot header %#x", h)
		}
	}
	info.childHashS = extS.PayloadFingerprint(p, SideC)
	info.childHashC = extC.PayloadFingerprint(p, SideC)

	info.nodeFpS, err = extNodeFingerprint(p, t, prefix, extS)
	if err != nil {
		return nil, err
	}
	info.nodeFpC, err = extNodeFingerprint(p, t, prefix, extC)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// extNodeFingerprint folds the extension node encoding in two accumulation
// steps: the shared prefix and key bytes first, then the child hash item
// continued at the multiplier the multiplier table records for the prefix
// length. The hash payload is read from the given row's C group.
func extNodeFingerprint(p *rlc.Params, t *Tables, prefix []byte, hashRow *Row) (fr.Element, error) {
	var acc, b fr.Element
	mult := p.Pow(0)
	for _, v := range prefix {
		b.SetUint64(uint64(v))
		acc, mult = p.Accumulate(acc, mult, b)
	}

	jump, ok := t.MultLookup(len(prefix))
	if !ok {
		return fr.Element{}, violationf("multiplier table has no entry for length %d", len(prefix))
	}
	if !mult.Equal(&jump) {
		return fr.Element{}, violationf("multiplier disagrees with table at length %d", len(prefix))
	}

	b.SetUint64(0xa0)
	acc, mult = p.Accumulate(acc, mult, b)
	for j := 0; j < PayloadLen; j++ {
		acc, mult = p.Accumulate(acc, mult, hashRow.C[PayloadStart+j])
	}
	return acc, nil
}

func scenarioIndex(single bool, nibbles int, branchEven bool) int {
	switch {
	case single && nibbles == 1:
		if branchEven {
			return ExtShortC16
		}
		return ExtShortC1
	case !single && nibbles >= 2 && nibbles%2 == 0:
		if branchEven {
			return ExtLongEvenC16
		}
		return ExtLongEvenC1
	case !single && nibbles > 1 && nibbles%2 == 1:
		if branchEven {
			return ExtLongOddC16
		}
		return ExtLongOddC1
	}
	return -1
}
