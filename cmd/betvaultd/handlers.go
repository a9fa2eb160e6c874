package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/vctt94/betvault/betdb"
	"github.com/vctt94/betvault/betpool"
	"github.com/vctt94/betvault/settle"
)

// HTTP surface for operators: query pool/bet state, trigger resolution,
// refund and reconciliation, inspect the vault.

func (d *daemon) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.log.Errorf("write response: %v", err)
	}
}

func (d *daemon) writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, betdb.ErrPoolNotFound), errors.Is(err, betdb.ErrBetNotFound):
		code = http.StatusNotFound
	case errors.Is(err, settle.ErrNoWinner):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func (d *daemon) handlePool(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("match")
	if matchID == "" {
		http.Error(w, "missing match parameter", http.StatusBadRequest)
		return
	}
	pool, err := d.db.PoolByMatch(r.Context(), matchID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	odds := betpool.PoolOdds(pool, d.minBetAtoms)
	d.writeJSON(w, struct {
		Pool *betpool.Pool `json:"pool"`
		Odds betpool.Odds  `json:"odds"`
	}{pool, odds})
}

func (d *daemon) handleUnsettled(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("match")
	if matchID == "" {
		http.Error(w, "missing match parameter", http.StatusBadRequest)
		return
	}
	pool, err := d.db.PoolByMatch(r.Context(), matchID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	bets, err := d.db.UnsettledBets(r.Context(), pool.ID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	d.writeJSON(w, bets)
}

type resolveRequest struct {
	MatchID string       `json:"match_id"`
	Winner  betpool.Side `json:"winner"`
}

func (d *daemon) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, err := d.resolver.Resolve(r.Context(), req.MatchID, req.Winner)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	d.writeJSON(w, resultView(res))
}

func (d *daemon) handleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, err := d.resolver.Refund(r.Context(), req.MatchID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	d.writeJSON(w, resultView(res))
}

func (d *daemon) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	res, err := d.resolver.Reconcile(r.Context(), req.MatchID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	d.writeJSON(w, resultView(res))
}

func (d *daemon) handleVaultStatus(w http.ResponseWriter, r *http.Request) {
	type vaultStatus struct {
		Address string `json:"address"`
		Outputs int    `json:"outputs"`
		Atoms   int64  `json:"atoms"`
		Total   string `json:"total"`
	}
	var out []vaultStatus
	for _, v := range d.vaults {
		n, atoms, err := v.Status(r.Context())
		if err != nil {
			d.writeErr(w, err)
			return
		}
		out = append(out, vaultStatus{
			Address: v.Address(),
			Outputs: n,
			Atoms:   atoms,
			Total:   dcrutil.Amount(atoms).String(),
		})
	}
	d.writeJSON(w, out)
}

type targetView struct {
	Address string `json:"address"`
	Atoms   int64  `json:"atoms"`
	Reason  string `json:"reason"`
	TxID    string `json:"txid,omitempty"`
	Error   string `json:"error,omitempty"`
}

func resultView(res *settle.Result) any {
	view := struct {
		Outcome settle.Outcome `json:"outcome"`
		Pool    *betpool.Pool  `json:"pool"`
		Paid    int64          `json:"paid_atoms"`
		Targets []targetView   `json:"targets,omitempty"`
	}{Outcome: res.Outcome, Pool: res.Pool}
	if res.Batch != nil {
		view.Paid = res.Batch.PaidAtoms
		for _, tr := range res.Batch.Results {
			tv := targetView{
				Address: tr.Target.Address,
				Atoms:   tr.Target.Atoms,
				Reason:  tr.Target.Reason,
				TxID:    tr.TxID,
			}
			if tr.Err != nil {
				tv.Error = tr.Err.Error()
			}
			view.Targets = append(view.Targets, tv)
		}
	}
	return view
}
