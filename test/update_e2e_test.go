package test

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark/std/math/uints"
	gnarktest "github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/mptzk/circuits"
	"github.com/yourorg/mptzk/pkg/mpt"
	"github.com/yourorg/mptzk/pkg/mpt/testdata"
	"github.com/yourorg/mptzk/pkg/rlc"
	"github.com/yourorg/mptzk/pkg/slot"
	"github.com/yourorg/mptzk/pkg/witness"
)

// End to end over synthetic data: derive a mapping slot, build the proof
// pair, populate and check the relation system, then solve the binding
// circuit on the same public inputs.
func TestStorageUpdatePipeline(t *testing.T) {
	const challenge = 0xb17c
	params := rlc.NewParams(challenge, 1024)

	slotKey := slot.Calc(big.NewInt(7733), 2)
	pathKey := slot.PathKey(slotKey)

	val1 := []byte{0x64}
	val2 := []byte{0x01, 0xf4}

	chain, err := testdata.BuildChain(pathKey, val1, val2,
		[]testdata.Level{{Full: true}, {}, {ExtNibbles: 2}, {}})
	require.NoError(t, err)

	pub := mpt.PublicInputs{
		Root1: chain.Root1, Root2: chain.Root2,
		Key:  pathKey,
		Val1: val1, Val2: val2,
	}
	w, err := witness.BuildRows(chain.ProofS, chain.ProofC, pub, params, witness.Options{RequireChange: true})
	require.NoError(t, err)
	require.NoError(t, mpt.Check(w))

	a := &circuits.StorageUpdateCircuit{
		Root1:     new(big.Int).SetBytes(chain.Root1[:]),
		Root2:     new(big.Int).SetBytes(chain.Root2[:]),
		Challenge: challenge,
	}
	keyFp := params.Fingerprint(pathKey[:])
	a.KeyFp = keyFp.BigInt(new(big.Int))
	v1 := params.Fingerprint(val1)
	a.Val1Fp = v1.BigInt(new(big.Int))
	v2 := params.Fingerprint(val2)
	a.Val2Fp = v2.BigInt(new(big.Int))
	for i := 0; i < 32; i++ {
		a.SlotKey[i] = uints.NewU8(slotKey[i])
		a.Val1[i] = uints.NewU8(0)
		a.Val2[i] = uints.NewU8(0)
	}
	for i, b := range val1 {
		a.Val1[i] = uints.NewU8(b)
	}
	for i, b := range val2 {
		a.Val2[i] = uints.NewU8(b)
	}

	require.NoError(t, gnarktest.IsSolved(&circuits.StorageUpdateCircuit{}, a, circuits.Curve().ScalarField()))
}
