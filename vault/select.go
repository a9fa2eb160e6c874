package vault

import (
	"fmt"
	"sort"
)

// DefaultMaxInputs bounds the inputs of one transaction so it stays inside
// network size limits.
const DefaultMaxInputs = 64

// Selection is the outcome of coin selection for one transfer.
type Selection struct {
	// Inputs are the outputs to consume, essential picks first.
	Inputs []UTXO
	// Total is the summed value of Inputs.
	Total int64
	// NeedsConsolidation is set when the essential selection alone hit
	// the input limit: the inputs must first be merged into a single
	// output before the transfer can be built.
	NeedsConsolidation bool
}

// Select picks unspent outputs covering target (amount + fee) from the
// vault's set.
//
// Essential phase: largest first until the target is covered. If even the
// full set cannot cover it the request is unsolvable and selection fails
// with ErrInsufficientFunds. If covering the target takes maxInputs or
// more inputs, the returned selection is a consolidation set instead of a
// payable one.
//
// Sweep phase: remaining outputs are appended smallest first up to
// maxInputs, purely to shrink future fragmentation. Best effort, never
// needed for correctness; the surplus comes back as change.
func Select(utxos []UTXO, target int64, maxInputs int) (*Selection, error) {
	if len(utxos) == 0 {
		return nil, ErrEmptyVault
	}
	if target <= 0 {
		return nil, fmt.Errorf("selection target must be positive, got %d", target)
	}
	if maxInputs <= 0 {
		maxInputs = DefaultMaxInputs
	}

	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Atoms > sorted[j].Atoms })

	sel := &Selection{}
	covered := false
	for _, u := range sorted {
		sel.Inputs = append(sel.Inputs, u)
		sel.Total += u.Atoms
		if sel.Total >= target {
			covered = true
			break
		}
	}
	if !covered {
		return nil, fmt.Errorf("need %d atoms, vault holds %d: %w",
			target, sel.Total, ErrInsufficientFunds)
	}

	if len(sel.Inputs) >= maxInputs {
		sel.Inputs = sel.Inputs[:maxInputs]
		sel.Total = 0
		for _, u := range sel.Inputs {
			sel.Total += u.Atoms
		}
		sel.NeedsConsolidation = true
		return sel, nil
	}

	// Dust sweep: smallest first from what's left.
	rest := sorted[len(sel.Inputs):]
	for i := len(rest) - 1; i >= 0 && len(sel.Inputs) < maxInputs; i-- {
		sel.Inputs = append(sel.Inputs, rest[i])
		sel.Total += rest[i].Atoms
	}
	return sel, nil
}
