package mpt

// The length tracker ties a node's declared RLP length prefix to the bytes
// actually consumed across its rows. Two prefix forms exist per proof side:
// two bytes (0xf8 len, payload <= 255) and three bytes (0xf9 hi lo,
// payload > 255), selected by a boolean pair with exactly one bit set.

// childItem classifies the encoded bytes one child row contributes.
type childItem struct {
	header     byte
	payloadLen int // bytes held in the payload region
	size       int // total encoded bytes of the slot
}

func classifyChild(r *Row, s Side) (childItem, error) {
	h, err := r.byteAt(s, 0)
	if err != nil {
		return childItem{}, err
	}
	meta, err := r.byteAt(s, 1)
	if err != nil {
		return childItem{}, err
	}
	if meta != 0 {
		return childItem{}, violationf("child row %s meta byte not zero", s)
	}
	switch {
	case h == 0x80: // empty marker
		return childItem{header: h, payloadLen: 0, size: 1}, nil
	case h == 0xa0: // 32-byte child hash
		return childItem{header: h, payloadLen: 32, size: 33}, nil
	case h < 0x80: // single-byte value
		return childItem{header: h, payloadLen: 0, size: 1}, nil
	case h > 0x80 && h < 0xa0: // embedded short string
		return childItem{header: h, payloadLen: int(h - 0x80), size: int(h-0x80) + 1}, nil
	case h >= 0xc0 && h <= 0xf7: // embedded node
		n := int(h - 0xc0)
		if n > PayloadLen {
			return childItem{}, violationf("embedded child of %d bytes overflows its row", n)
		}
		return childItem{header: h, payloadLen: n, size: n + 1}, nil
	}
	return childItem{}, violationf("child slot header %#x not a valid RLP item", h)
}

// branchPrefix reads the init row's declared payload length for one side and
// returns the prefix bytes together with it.
func branchPrefix(init *Row, s Side) ([]byte, int, error) {
	short, long := init.SShort, init.SLong
	if s == SideC {
		short, long = init.CShort, init.CLong
	}
	if !isBool(short) || !isBool(long) {
		return nil, 0, violationf("length selectors %s not boolean", s)
	}
	var sum = short
	sum.Add(&sum, &long)
	if !sum.IsOne() {
		return nil, 0, violationf("exactly one length-prefix selector must be set on side %s", s)
	}

	b0, err := init.byteAt(s, 0)
	if err != nil {
		return nil, 0, err
	}
	b1, err := init.byteAt(s, 1)
	if err != nil {
		return nil, 0, err
	}

	if short.IsOne() {
		if b0 != 0xf8 {
			return nil, 0, violationf("short branch prefix %s starts with %#x", s, b0)
		}
		return []byte{b0, b1}, int(b1), nil
	}

	b2, err := init.byteAt(s, 2)
	if err != nil {
		return nil, 0, err
	}
	if b0 != 0xf9 {
		return nil, 0, violationf("long branch prefix %s starts with %#x", s, b0)
	}
	declared := int(b1)*256 + int(b2)
	if declared <= 255 {
		return nil, 0, violationf("long branch prefix %s declares short length %d", s, declared)
	}
	return []byte{b0, b1, b2}, declared, nil
}

// checkBranchLength walks the 16 child rows of one side and requires the
// consumed byte count to meet the declared payload length. The final +1 is
// the 17th list item of a storage branch, always the empty string.
func checkBranchLength(rows []Row, s Side) error {
	_, declared, err := branchPrefix(&rows[0], s)
	if err != nil {
		return err
	}
	consumed := 0
	for i := 1; i <= ChildCount; i++ {
		item, err := classifyChild(&rows[i], s)
		if err != nil {
			return err
		}
		consumed += item.size
	}
	if consumed+1 != declared {
		return violationf("branch %s declares %d payload bytes, rows consume %d", s, declared, consumed+1)
	}
	return nil
}
