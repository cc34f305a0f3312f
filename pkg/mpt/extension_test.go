package mpt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/mptzk/pkg/mpt"
	"github.com/yourorg/mptzk/pkg/mpt/testdata"
	"github.com/yourorg/mptzk/pkg/rlc"
	"github.com/yourorg/mptzk/pkg/witness"
)

// Each case places an extension node so that one of the six scenario
// selectors must fire: nibble-count shape crossed with the key parity at
// which the level's branch nibble folds.
func TestExtensionScenarios(t *testing.T) {
	cases := []struct {
		name     string
		levels   []testdata.Level
		extLevel int
		scenario int
	}{
		{"single nibble, branch at even parity", []testdata.Level{{}, {ExtNibbles: 1}}, 1, mpt.ExtShortC16},
		{"single nibble, branch at odd parity", []testdata.Level{{ExtNibbles: 1}}, 0, mpt.ExtShortC1},
		{"even count, branch at even parity", []testdata.Level{{ExtNibbles: 2}}, 0, mpt.ExtLongEvenC16},
		{"even count, branch at odd parity", []testdata.Level{{}, {ExtNibbles: 2}}, 1, mpt.ExtLongEvenC1},
		{"odd count, branch at even parity", []testdata.Level{{}, {ExtNibbles: 3}}, 1, mpt.ExtLongOddC16},
		{"odd count, branch at odd parity", []testdata.Level{{ExtNibbles: 3}}, 0, mpt.ExtLongOddC1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustChain(t, testVal1, testVal2, tc.levels)
			w := mustWitness(t, c, witness.Options{})
			require.NoError(t, mpt.Check(w))

			init := &w.Rows[tc.extLevel*mpt.BranchRows]
			for i := 0; i < mpt.ExtScenarios; i++ {
				if i == tc.scenario {
					require.True(t, init.ExtSel[i].IsOne(), "selector %d must be set", i)
				} else {
					require.True(t, init.ExtSel[i].IsZero(), "selector %d must be clear", i)
				}
			}
		})
	}
}

func TestExtensionScenarioSelectorTamper(t *testing.T) {
	c := mustChain(t, testVal1, testVal2, []testdata.Level{{ExtNibbles: 2}})
	w := mustWitness(t, c, witness.Options{})

	init := &w.Rows[0]
	init.ExtSel[mpt.ExtLongEvenC16].SetZero()
	init.ExtSel[mpt.ExtLongOddC16].SetOne()
	require.ErrorIs(t, mpt.Check(w), mpt.ErrUnsatisfiable)
}

func TestExtensionNibbleHelperTamper(t *testing.T) {
	c := mustChain(t, testVal1, testVal2, []testdata.Level{{ExtNibbles: 3}})
	w := mustWitness(t, c, witness.Options{})

	// The second extension row's S payload witnesses the low nibble of each
	// compact key byte; a wrong helper breaks the decomposition.
	helperRow := &w.Rows[mpt.ChildCount+2]
	b, ok := rlc.ToByte(helperRow.S[mpt.PayloadStart])
	require.True(t, ok)
	helperRow.S[mpt.PayloadStart].SetUint64(uint64(b ^ 0x01))

	require.ErrorIs(t, mpt.Check(w), mpt.ErrUnsatisfiable)
}

func TestExtensionChildHashTamper(t *testing.T) {
	c := mustChain(t, testVal1, testVal2, []testdata.Level{{ExtNibbles: 2}})
	w := mustWitness(t, c, witness.Options{})

	hashRow := &w.Rows[mpt.ChildCount+1]
	b, ok := rlc.ToByte(hashRow.C[mpt.PayloadStart+4])
	require.True(t, ok)
	hashRow.C[mpt.PayloadStart+4].SetUint64(uint64(b ^ 0x01))

	require.ErrorIs(t, mpt.Check(w), mpt.ErrUnsatisfiable)
}

func TestLongFormExtensionNodeRejected(t *testing.T) {
	// 43 compressed nibbles make a 22-byte compact key, pushing the node past
	// the single-byte list form the relation system admits.
	val := make([]byte, 20)
	for i := range val {
		val[i] = byte(i + 1)
	}
	c := mustChain(t, val, append([]byte{0xff}, val[1:]...), []testdata.Level{{ExtNibbles: 43}})
	w := mustWitness(t, c, witness.Options{})

	require.ErrorIs(t, mpt.Check(w), mpt.ErrUnsatisfiable)
}

func TestExtensionKeyContributesToPath(t *testing.T) {
	// Two chains over the same key, one compressing three nibbles into an
	// extension, must both close the accumulator on the full 64-nibble path.
	plain := mustChain(t, testVal1, testVal2, []testdata.Level{{}, {}, {}, {}})
	ext := mustChain(t, testVal1, testVal2, []testdata.Level{{}, {ExtNibbles: 3}})

	wPlain := mustWitness(t, plain, witness.Options{})
	wExt := mustWitness(t, ext, witness.Options{})
	require.NoError(t, mpt.Check(wPlain))
	require.NoError(t, mpt.Check(wExt))

	lastPlain := wPlain.Rows[len(wPlain.Rows)-mpt.LeafRows]
	lastExt := wExt.Rows[len(wExt.Rows)-mpt.LeafRows]
	require.True(t, lastPlain.KeyAcc.Equal(&lastExt.KeyAcc),
		"leaf key accumulators must agree regardless of path compression")
}
