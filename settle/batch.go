package settle

import (
	"context"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
)

// Target is one payment owed from the vault: who, how much, and an
// audit-readable why. Key is an opaque caller correlation id carried
// through to the result untouched.
type Target struct {
	Key     string
	Address string
	Atoms   int64
	Reason  string
}

// TargetResult records the outcome for one target. Err is nil exactly when
// TxID is set.
type TargetResult struct {
	Target Target
	TxID   string
	Err    error
}

// BatchResult aggregates a settlement batch. A batch with failures is
// partially successful, never aborted: PaidAtoms counts what actually went
// out.
type BatchResult struct {
	Results   []TargetResult
	PaidAtoms int64
	Failed    int
}

// AllPaid reports whether every target settled.
func (r *BatchResult) AllPaid() bool { return r.Failed == 0 }

// Errs returns the failed results.
func (r *BatchResult) Errs() []TargetResult {
	var out []TargetResult
	for _, tr := range r.Results {
		if tr.Err != nil {
			out = append(out, tr)
		}
	}
	return out
}

// Batcher drives payments against a shared vault. Targets run one at a
// time: concurrent sends would select overlapping outputs from the same
// unspent set and race. Each target gets the full retry policy; exhausting
// it is terminal for that target only.
type Batcher struct {
	backend PaymentBackend
	policy  Policy
	log     slog.Logger
}

func NewBatcher(backend PaymentBackend, policy Policy, log slog.Logger) *Batcher {
	if log == nil {
		log = slog.Disabled
	}
	return &Batcher{backend: backend, policy: policy, log: log}
}

// Settle pays every target in order and reports per-target outcomes.
func (b *Batcher) Settle(ctx context.Context, targets []Target) *BatchResult {
	res := &BatchResult{Results: make([]TargetResult, 0, len(targets))}
	for _, t := range targets {
		tr := TargetResult{Target: t}
		tr.Err = b.policy.Do(ctx, func(ctx context.Context) error {
			txid, err := b.backend.Pay(ctx, t)
			if err != nil {
				return err
			}
			tr.TxID = txid
			return nil
		})

		if tr.Err != nil {
			res.Failed++
			b.log.Errorf("Payment of %s to %s failed (%s): %v",
				dcrutil.Amount(t.Atoms), t.Address, t.Reason, tr.Err)
		} else {
			res.PaidAtoms += t.Atoms
			b.log.Infof("Paid %s to %s (%s): %s",
				dcrutil.Amount(t.Atoms), t.Address, t.Reason, tr.TxID)
		}
		res.Results = append(res.Results, tr)
	}
	return res
}
