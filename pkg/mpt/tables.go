package mpt

import (
	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yourorg/mptzk/pkg/rlc"
)

// Tables are the static lookup tables shared by every instance of one
// proving session. They are read-only once built: the keccak table is the
// only place actual hashing semantics enter the relation system, the byte
// table bounds raw columns, and the multiplier table provides the
// length-dependent fingerprint jumps used by two-step accumulation.
type Tables struct {
	keccak map[fr.Element]fr.Element
	bytes  map[fr.Element]struct{}
	mult   map[int]fr.Element
}

// NewTables builds the session tables; multiplier entries cover lengths up
// to maxLen.
func NewTables(p *rlc.Params, maxLen int) *Tables {
	t := &Tables{
		keccak: make(map[fr.Element]fr.Element),
		bytes:  make(map[fr.Element]struct{}, 256),
		mult:   make(map[int]fr.Element, maxLen+1),
	}
	var v fr.Element
	for i := 0; i < 256; i++ {
		v.SetUint64(uint64(i))
		t.bytes[v] = struct{}{}
	}
	for i := 0; i <= maxLen; i++ {
		t.mult[i] = p.Pow(i)
	}
	return t
}

// AddNode inserts the hash-correctness entry for one raw node encoding:
// fingerprint(bytes) -> fingerprint(keccak256(bytes)).
func (t *Tables) AddNode(p *rlc.Params, node []byte) {
	t.keccak[p.Fingerprint(node)] = p.Fingerprint(crypto.Keccak256(node))
}

// KeccakLookup resolves a node fingerprint to the fingerprint of its hash.
func (t *Tables) KeccakLookup(f fr.Element) (fr.Element, bool) {
	h, ok := t.keccak[f]
	return h, ok
}

// ByteLookup reports membership in the byte-range table.
func (t *Tables) ByteLookup(v fr.Element) bool {
	_, ok := t.bytes[v]
	return ok
}

// MultLookup resolves a byte length to r^length.
func (t *Tables) MultLookup(n int) (fr.Element, bool) {
	m, ok := t.mult[n]
	return m, ok
}
