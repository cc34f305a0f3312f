package rlc

import (
	"math/big"

	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Params carries the fingerprint challenge r for one proving session and a
// cache of its powers. The challenge is fixed when the session starts and is
// never mutated afterwards; every row of every instance folds bytes with the
// same r.
type Params struct {
	r   fr.Element
	pow []fr.Element // pow[i] = r^i
}

// NewParams builds session parameters with powers precomputed up to maxLen.
func NewParams(r uint64, maxLen int) *Params {
	p := &Params{}
	p.r.SetUint64(r)
	p.pow = make([]fr.Element, maxLen+1)
	p.pow[0].SetOne()
	for i := 1; i <= maxLen; i++ {
		p.pow[i].Mul(&p.pow[i-1], &p.r)
	}
	return p
}

// R returns the challenge.
func (p *Params) R() fr.Element { return p.r }

// Pow returns r^i.
func (p *Params) Pow(i int) fr.Element {
	if i < len(p.pow) {
		return p.pow[i]
	}
	var v fr.Element
	v.SetOne()
	for j := 0; j < i; j++ {
		v.Mul(&v, &p.r)
	}
	return v
}

// Fingerprint folds a byte sequence into sum(b[i] * r^i).
func (p *Params) Fingerprint(b []byte) fr.Element {
	var acc, term fr.Element
	for i, v := range b {
		term.SetUint64(uint64(v))
		pw := p.Pow(i)
		term.Mul(&term, &pw)
		acc.Add(&acc, &term)
	}
	return acc
}

// Accumulate folds one byte onto a running fingerprint: acc' = acc + b*mult,
// mult' = mult*r.
func (p *Params) Accumulate(acc, mult fr.Element, b fr.Element) (fr.Element, fr.Element) {
	var term fr.Element
	term.Mul(&b, &mult)
	acc.Add(&acc, &term)
	mult.Mul(&mult, &p.r)
	return acc, mult
}

// IsByte reports whether v is in [0, 255].
func IsByte(v fr.Element) bool {
	return v.IsUint64() && v.Uint64() < 256
}

// ToByte extracts a byte value from a field element.
func ToByte(v fr.Element) (byte, bool) {
	if !IsByte(v) {
		return 0, false
	}
	return byte(v.Uint64()), true
}

// maxShifted bounds (len-1-i)*byte[i] for any in-range position/byte pair:
// 33 payload positions times the maximum byte value.
var maxShifted = big.NewInt(33 * 255)

// CheckZeroPadding enforces that every position at offset i >= declared is
// zero. It evaluates (declared-1-i)*region[i] over the field: once the factor
// goes negative it wraps far outside the legitimate product range, so the
// bound can only hold when region[i] is zero. No branching on i is needed.
func CheckZeroPadding(declared int, region []fr.Element) bool {
	var d, prod fr.Element
	var b big.Int
	for i := range region {
		d.SetInt64(int64(declared - 1 - i))
		prod.Mul(&d, &region[i])
		prod.BigInt(&b)
		if b.Cmp(maxShifted) >= 0 {
			return false
		}
	}
	return true
}
