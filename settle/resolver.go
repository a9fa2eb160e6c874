package settle

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/vctt94/betvault/betdb"
	"github.com/vctt94/betvault/betpool"
)

// ErrNoWinner means resolution was triggered without an authoritative
// outcome; the pool is not ready to resolve.
var ErrNoWinner = errors.New("pool has no winner yet")

// Outcome classifies a resolution run for the caller.
type Outcome string

const (
	// OutcomeSettled: every owed payout made it to the wire.
	OutcomeSettled Outcome = "settled"
	// OutcomePartial: the pool resolved but some payouts failed; the
	// affected bets stay reconcilable.
	OutcomePartial Outcome = "partial"
	// OutcomeNoop: the pool was already terminal, nothing ran.
	OutcomeNoop Outcome = "noop"
)

// Result reports what one resolution, refund or reconciliation run did.
type Result struct {
	Outcome Outcome
	Pool    *betpool.Pool
	Batch   *BatchResult
}

// Resolver is the top-level settlement workflow for a pool: lock, persist
// the terminal status, compute payouts, drive the batch, persist terminal
// bet states. Safe to trigger more than once; only the run that wins the
// conditional status transition pays anyone.
type Resolver struct {
	db      betdb.DB
	batcher *Batcher
	log     slog.Logger
}

func NewResolver(db betdb.DB, batcher *Batcher, log slog.Logger) *Resolver {
	if log == nil {
		log = slog.Disabled
	}
	return &Resolver{db: db, batcher: batcher, log: log}
}

// Resolve settles the pool for matchID with the given winner. The terminal
// pool status and winner are persisted before any payout is computed, and
// every bet's terminal outcome is persisted before its payment is
// attempted, so a crash mid-settlement can never re-resolve the pool
// differently and always leaves a state Reconcile can finish.
func (r *Resolver) Resolve(ctx context.Context, matchID string, winner betpool.Side) (*Result, error) {
	if !winner.Valid() {
		return nil, ErrNoWinner
	}
	pool, done, err := r.claimPool(ctx, matchID, betpool.PoolResolved, winner)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}

	bets, err := r.db.BetsByStatus(ctx, pool.ID, betpool.BetConfirmed)
	if err != nil {
		return nil, fmt.Errorf("load confirmed bets: %w", err)
	}
	payouts, err := betpool.Payouts(pool, bets)
	if err != nil {
		return nil, err
	}
	r.log.Infof("Resolving pool %s (match %s): winner %s, %d confirmed bets",
		pool.ID, matchID, winner, len(bets))

	// Terminal outcomes go to disk before any payment leaves the vault: a
	// crash during the batch then leaves won bets missing only a txid,
	// which is exactly the subset Reconcile retries.
	for _, po := range payouts {
		if err := r.db.SettleBet(ctx, pool.ID, po.Bet.ID,
			outcomeStatus(winner, po.Bet.Side), po.Atoms, ""); err != nil {
			return nil, fmt.Errorf("persist bet %s: %w", po.Bet.ID, err)
		}
	}

	batch := r.batcher.Settle(ctx, winnerTargets(matchID, payouts))

	txids := txidsByKey(batch)
	for _, po := range payouts {
		txid := txids[po.Bet.ID.String()]
		if txid == "" {
			continue
		}
		if err := r.db.SettleBet(ctx, pool.ID, po.Bet.ID,
			outcomeStatus(winner, po.Bet.Side), po.Atoms, txid); err != nil {
			return nil, fmt.Errorf("persist bet %s: %w", po.Bet.ID, err)
		}
	}
	return r.result(pool, batch), nil
}

// Refund cancels the pool before resolution and repays every confirmed bet
// its full gross stake.
func (r *Resolver) Refund(ctx context.Context, matchID string) (*Result, error) {
	pool, done, err := r.claimPool(ctx, matchID, betpool.PoolRefunded, betpool.SideUnset)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}

	bets, err := r.db.BetsByStatus(ctx, pool.ID, betpool.BetConfirmed)
	if err != nil {
		return nil, fmt.Errorf("load confirmed bets: %w", err)
	}
	refunds, err := betpool.Refunds(bets)
	if err != nil {
		return nil, err
	}
	r.log.Infof("Refunding pool %s (match %s): %d confirmed bets",
		pool.ID, matchID, len(bets))

	// Same ordering as Resolve: refunded statuses first, payments second.
	for _, po := range refunds {
		err := r.db.SettleBet(ctx, pool.ID, po.Bet.ID, betpool.BetRefunded, po.Atoms, "")
		if err != nil {
			return nil, fmt.Errorf("persist bet %s: %w", po.Bet.ID, err)
		}
	}

	targets := make([]Target, 0, len(refunds))
	for _, po := range refunds {
		targets = append(targets, Target{
			Key:     po.Bet.ID.String(),
			Address: po.Bet.Bettor,
			Atoms:   po.Atoms,
			Reason:  fmt.Sprintf("refund match %s", matchID),
		})
	}
	batch := r.batcher.Settle(ctx, targets)

	txids := txidsByKey(batch)
	for _, po := range refunds {
		txid := txids[po.Bet.ID.String()]
		if txid == "" {
			continue
		}
		err := r.db.SettleBet(ctx, pool.ID, po.Bet.ID, betpool.BetRefunded, po.Atoms, txid)
		if err != nil {
			return nil, fmt.Errorf("persist bet %s: %w", po.Bet.ID, err)
		}
	}
	return r.result(pool, batch), nil
}

// Reconcile finishes whatever an interrupted settlement left behind: it
// first persists outcomes for bets still confirmed inside a terminal pool,
// then retries the payouts that never made it out (terminal bets owed atoms
// with no settlement txid). Paid bets are never touched, so reconciliation
// cannot double-pay.
func (r *Resolver) Reconcile(ctx context.Context, matchID string) (*Result, error) {
	pool, err := r.db.PoolByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !pool.Status.Terminal() {
		return nil, fmt.Errorf("pool %s is %s, nothing to reconcile", pool.ID, pool.Status)
	}

	// A crash between claiming the pool and persisting outcomes leaves
	// bets confirmed inside a terminal pool. Finish those outcomes first
	// so the unsettled query below picks up whatever they are owed.
	confirmed, err := r.db.BetsByStatus(ctx, pool.ID, betpool.BetConfirmed)
	if err != nil {
		return nil, err
	}
	if len(confirmed) > 0 {
		var owed []betpool.Payout
		if pool.Status == betpool.PoolRefunded {
			owed, err = betpool.Refunds(confirmed)
		} else {
			owed, err = betpool.Payouts(pool, confirmed)
		}
		if err != nil {
			return nil, err
		}
		for _, po := range owed {
			status := betpool.BetRefunded
			if pool.Status == betpool.PoolResolved {
				status = outcomeStatus(pool.Winner, po.Bet.Side)
			}
			if err := r.db.SettleBet(ctx, pool.ID, po.Bet.ID, status, po.Atoms, ""); err != nil {
				return nil, fmt.Errorf("persist bet %s: %w", po.Bet.ID, err)
			}
		}
		r.log.Infof("Reconcile finished %d interrupted outcomes for pool %s",
			len(confirmed), pool.ID)
	}

	bets, err := r.db.UnsettledBets(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return &Result{Outcome: OutcomeNoop, Pool: pool}, nil
	}
	r.log.Infof("Reconciling pool %s (match %s): %d unsettled payouts",
		pool.ID, matchID, len(bets))

	targets := make([]Target, 0, len(bets))
	for _, b := range bets {
		targets = append(targets, Target{
			Key:     b.ID.String(),
			Address: b.Bettor,
			Atoms:   b.Payout,
			Reason:  fmt.Sprintf("reconcile match %s", matchID),
		})
	}
	batch := r.batcher.Settle(ctx, targets)

	txids := txidsByKey(batch)
	for _, b := range bets {
		txid := txids[b.ID.String()]
		if txid == "" {
			continue
		}
		if err := r.db.SettleBet(ctx, pool.ID, b.ID, b.Status, b.Payout, txid); err != nil {
			return nil, fmt.Errorf("persist bet %s: %w", b.ID, err)
		}
	}
	return r.result(pool, batch), nil
}

// claimPool loads the pool and wins (or loses) the right to finalize it.
// A terminal pool short-circuits with a no-op result; losing the
// conditional transition to a concurrent run does the same.
func (r *Resolver) claimPool(ctx context.Context, matchID string, to betpool.PoolStatus,
	winner betpool.Side) (*betpool.Pool, *Result, error) {

	pool, err := r.db.PoolByMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if pool.Status.Terminal() {
		r.log.Debugf("Pool %s already %s, skipping", pool.ID, pool.Status)
		return nil, &Result{Outcome: OutcomeNoop, Pool: pool}, nil
	}

	if pool.Status == betpool.PoolOpen {
		pool, err = r.db.TransitionPool(ctx, pool.ID, betpool.PoolOpen,
			betpool.PoolLocked, betpool.SideUnset)
		if errors.Is(err, betdb.ErrStatusConflict) {
			return r.concede(ctx, matchID)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	pool, err = r.db.TransitionPool(ctx, pool.ID, betpool.PoolLocked, to, winner)
	if errors.Is(err, betdb.ErrStatusConflict) {
		return r.concede(ctx, matchID)
	}
	if err != nil {
		return nil, nil, err
	}
	return pool, nil, nil
}

// concede re-reads the pool after losing a conditional transition.
func (r *Resolver) concede(ctx context.Context, matchID string) (*betpool.Pool, *Result, error) {
	pool, err := r.db.PoolByMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	r.log.Infof("Pool %s claimed by a concurrent run (%s)", pool.ID, pool.Status)
	return nil, &Result{Outcome: OutcomeNoop, Pool: pool}, nil
}

func (r *Resolver) result(pool *betpool.Pool, batch *BatchResult) *Result {
	out := &Result{Pool: pool, Batch: batch, Outcome: OutcomeSettled}
	if !batch.AllPaid() {
		out.Outcome = OutcomePartial
	}
	return out
}

// outcomeStatus maps a bet's side against the winner.
func outcomeStatus(winner, side betpool.Side) betpool.BetStatus {
	if side == winner {
		return betpool.BetWon
	}
	return betpool.BetLost
}

func winnerTargets(matchID string, payouts []betpool.Payout) []Target {
	var out []Target
	for _, po := range payouts {
		if po.Atoms <= 0 {
			continue
		}
		out = append(out, Target{
			Key:     po.Bet.ID.String(),
			Address: po.Bet.Bettor,
			Atoms:   po.Atoms,
			Reason:  fmt.Sprintf("payout match %s bet %s", matchID, shortID(po.Bet.ID)),
		})
	}
	return out
}

// txidsByKey maps each successfully paid target key to its txid.
func txidsByKey(batch *BatchResult) map[string]string {
	out := make(map[string]string, len(batch.Results))
	for _, tr := range batch.Results {
		if tr.Err == nil {
			out[tr.Target.Key] = tr.TxID
		}
	}
	return out
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}
