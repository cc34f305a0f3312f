package witness_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/mptzk/pkg/mpt"
	"github.com/yourorg/mptzk/pkg/mpt/testdata"
	"github.com/yourorg/mptzk/pkg/rlc"
	"github.com/yourorg/mptzk/pkg/witness"
)

var (
	builderKey  = crypto.Keccak256Hash([]byte("builder slot"))
	builderVal1 = []byte{0x05}
	builderVal2 = []byte{0x11, 0x22, 0x33}
)

func chainFor(t *testing.T, levels []testdata.Level) (*testdata.Chain, mpt.PublicInputs) {
	t.Helper()
	c, err := testdata.BuildChain(builderKey, builderVal1, builderVal2, levels)
	require.NoError(t, err)
	pub := mpt.PublicInputs{
		Root1: c.Root1, Root2: c.Root2,
		Key:  c.Key,
		Val1: c.Val1, Val2: c.Val2,
	}
	return c, pub
}

func TestBuildRowsGeometry(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{}, {ExtNibbles: 2}, {}})
	params := rlc.NewParams(0xb17c, 1024)

	w, err := witness.BuildRows(c.ProofS, c.ProofC, pub, params, witness.Options{})
	require.NoError(t, err)

	// An extension shares its branch's 19-row group, so three levels mean
	// three groups plus the leaf block.
	require.Len(t, w.Rows, 3*mpt.BranchRows+mpt.LeafRows)
	require.Equal(t, mpt.TagBranchInit, w.Rows[0].Tag)
	require.Equal(t, mpt.TagLeafDrifted, w.Rows[len(w.Rows)-1].Tag)
	require.NoError(t, mpt.Check(w))
}

func TestBuildRowsRejectsMismatchedLengths(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{}, {}})
	params := rlc.NewParams(0xb17c, 1024)

	_, err := witness.BuildRows(c.ProofS, c.ProofC[:len(c.ProofC)-1], pub, params, witness.Options{})
	require.ErrorContains(t, err, "different lengths")
}

func TestBuildRowsRejectsWrongRoot(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{}, {}})
	pub.Root1[0] ^= 0x01
	params := rlc.NewParams(0xb17c, 1024)

	_, err := witness.BuildRows(c.ProofS, c.ProofC, pub, params, witness.Options{})
	require.ErrorContains(t, err, "hash chain")
}

func TestBuildRowsRejectsWrongKey(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{}, {}})
	pub.Key[10] ^= 0xf0
	params := rlc.NewParams(0xb17c, 1024)

	_, err := witness.BuildRows(c.ProofS, c.ProofC, pub, params, witness.Options{})
	require.Error(t, err)
}

func TestBuildRowsRejectsWrongValue(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{}, {}})
	pub.Val1 = []byte{0x06}
	params := rlc.NewParams(0xb17c, 1024)

	_, err := witness.BuildRows(c.ProofS, c.ProofC, pub, params, witness.Options{})
	require.ErrorContains(t, err, "value mismatch")
}

func TestBuildRowsRejectsDanglingExtension(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{ExtNibbles: 1}})
	params := rlc.NewParams(0xb17c, 1024)

	// Drop the branch between extension and leaf.
	proofS := [][]byte{c.ProofS[0], c.ProofS[2]}
	proofC := [][]byte{c.ProofC[0], c.ProofC[2]}
	_, err := witness.BuildRows(proofS, proofC, pub, params, witness.Options{})
	require.ErrorContains(t, err, "not followed by a branch")
}

func TestBuildRowsKeccakTableCoversAllNodes(t *testing.T) {
	c, pub := chainFor(t, []testdata.Level{{ExtNibbles: 2}, {}})
	params := rlc.NewParams(0xb17c, 1024)

	w, err := witness.BuildRows(c.ProofS, c.ProofC, pub, params, witness.Options{})
	require.NoError(t, err)

	for i, node := range append(append([][]byte{}, c.ProofS...), c.ProofC...) {
		_, ok := w.Tables.KeccakLookup(params.Fingerprint(node))
		require.True(t, ok, "node %d missing from the keccak table", i)
	}
}
