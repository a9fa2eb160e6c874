package vault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUTXOs(atoms ...int64) []UTXO {
	out := make([]UTXO, len(atoms))
	for i, a := range atoms {
		out[i] = UTXO{
			TxID:  fmt.Sprintf("%064x", i+1),
			Vout:  0,
			Atoms: a,
		}
	}
	return out
}

func TestSelectEmptyVault(t *testing.T) {
	_, err := Select(nil, 100, DefaultMaxInputs)
	assert.ErrorIs(t, err, ErrEmptyVault)
}

func TestSelectInsufficientFunds(t *testing.T) {
	_, err := Select(testUTXOs(10, 20, 30), 100, DefaultMaxInputs)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSelectBadTarget(t *testing.T) {
	_, err := Select(testUTXOs(10), 0, DefaultMaxInputs)
	assert.Error(t, err)
	_, err = Select(testUTXOs(10), -5, DefaultMaxInputs)
	assert.Error(t, err)
}

// The essential phase is greedy largest first and stops as soon as the
// target is covered.
func TestSelectGreedyLargestFirst(t *testing.T) {
	sel, err := Select(testUTXOs(10, 500, 200, 50), 600, 3)
	require.NoError(t, err)
	assert.False(t, sel.NeedsConsolidation)
	require.Len(t, sel.Inputs, 3)
	assert.Equal(t, int64(500), sel.Inputs[0].Atoms)
	assert.Equal(t, int64(200), sel.Inputs[1].Atoms)
	// The third slot is the sweep, not an essential pick.
	assert.Equal(t, int64(10), sel.Inputs[2].Atoms)
	assert.Equal(t, int64(710), sel.Total)
	assert.GreaterOrEqual(t, sel.Total, int64(600))
}

// Leftover outputs are swept in smallest first, bounded by maxInputs.
func TestSelectDustSweep(t *testing.T) {
	sel, err := Select(testUTXOs(1000, 5, 300, 2, 80), 900, DefaultMaxInputs)
	require.NoError(t, err)
	assert.False(t, sel.NeedsConsolidation)
	require.Len(t, sel.Inputs, 5)

	// Essential pick first, then the rest from the smallest up.
	got := make([]int64, len(sel.Inputs))
	for i, u := range sel.Inputs {
		got[i] = u.Atoms
	}
	assert.Equal(t, []int64{1000, 2, 5, 80, 300}, got)
	assert.Equal(t, int64(1387), sel.Total)
}

func TestSelectSweepRespectsMaxInputs(t *testing.T) {
	sel, err := Select(testUTXOs(1000, 5, 300, 2, 80), 900, 3)
	require.NoError(t, err)
	assert.False(t, sel.NeedsConsolidation)
	require.Len(t, sel.Inputs, 3)
	assert.Equal(t, int64(1000), sel.Inputs[0].Atoms)
	assert.Equal(t, int64(2), sel.Inputs[1].Atoms)
	assert.Equal(t, int64(5), sel.Inputs[2].Atoms)
}

// When essential coverage alone hits the input limit the selection flips
// into a consolidation set.
func TestSelectFragmented(t *testing.T) {
	sel, err := Select(testUTXOs(10, 10, 10, 10, 10, 10), 40, 4)
	require.NoError(t, err)
	assert.True(t, sel.NeedsConsolidation)
	assert.Len(t, sel.Inputs, 4)
	assert.Equal(t, int64(40), sel.Total)
}

func TestSelectZeroMaxInputsDefaults(t *testing.T) {
	sel, err := Select(testUTXOs(100), 50, 0)
	require.NoError(t, err)
	assert.False(t, sel.NeedsConsolidation)
	assert.Len(t, sel.Inputs, 1)
}

// Selection never mutates the caller's slice.
func TestSelectDoesNotReorderInput(t *testing.T) {
	utxos := testUTXOs(1, 2, 3)
	_, err := Select(utxos, 3, DefaultMaxInputs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), utxos[0].Atoms)
	assert.Equal(t, int64(2), utxos[1].Atoms)
	assert.Equal(t, int64(3), utxos[2].Atoms)
}
