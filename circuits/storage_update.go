package circuits

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/math/uints"

	"github.com/yourorg/mptzk/internal/keccak"
)

func Curve() ecc.ID { return ecc.BN254 }

// StorageUpdateCircuit commits to the public inputs of one storage-update
// instance: the pre/post storage roots, the fingerprint of the hashed slot
// key, and the fingerprints of the value before and after. The raw slot key
// and value bytes stay private; keccak runs in-circuit to bind the key to
// its 64-nibble path, and the fingerprints are recomputed under the shared
// challenge.
type StorageUpdateCircuit struct {
	Root1     frontend.Variable `gnark:",public"`
	Root2     frontend.Variable `gnark:",public"`
	KeyFp     frontend.Variable `gnark:",public"`
	Val1Fp    frontend.Variable `gnark:",public"`
	Val2Fp    frontend.Variable `gnark:",public"`
	Challenge frontend.Variable `gnark:",public"`

	SlotKey [32]uints.U8
	Val1    [32]uints.U8
	Val2    [32]uints.U8
}

func (c *StorageUpdateCircuit) Define(api frontend.API) error {
	h := keccak.New(api)
	h.Write(c.SlotKey[:])
	digest := h.Sum()

	api.AssertIsEqual(foldBytes(api, digest, c.Challenge), c.KeyFp)
	// Value regions are zero-padded, so folding the full width equals the
	// fingerprint of the declared bytes.
	api.AssertIsEqual(foldBytes(api, c.Val1[:], c.Challenge), c.Val1Fp)
	api.AssertIsEqual(foldBytes(api, c.Val2[:], c.Challenge), c.Val2Fp)
	return nil
}

func foldBytes(api frontend.API, b []uints.U8, r frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	mult := frontend.Variable(1)
	for _, v := range b {
		acc = api.Add(acc, api.Mul(v.Val, mult))
		mult = api.Mul(mult, r)
	}
	return acc
}
