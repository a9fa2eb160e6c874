package settle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vctt94/betvault/betdb"
	"github.com/vctt94/betvault/betpool"
)

type stake struct {
	addr  string
	side  betpool.Side
	gross int64
}

func testDB(t *testing.T) betdb.DB {
	t.Helper()
	db, err := betdb.NewBoltDB(filepath.Join(t.TempDir(), "bets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedPool(t *testing.T, db betdb.DB, matchID string, mode betpool.Mode,
	stakes []stake) (*betpool.Pool, []*betpool.Bet) {

	t.Helper()
	ctx := context.Background()
	pool, err := betpool.NewPool(matchID, mode)
	require.NoError(t, err)
	require.NoError(t, db.CreatePool(ctx, pool))

	var bets []*betpool.Bet
	for _, s := range stakes {
		b, err := betpool.NewBet(pool, s.addr, s.side, s.gross)
		require.NoError(t, err)
		require.NoError(t, db.CreateBet(ctx, b))
		require.NoError(t, db.ConfirmBet(ctx, pool.ID, b.ID))
		bets = append(bets, b)
	}
	return pool, bets
}

func testResolver(t *testing.T, db betdb.DB) (*Resolver, *SimulatedBackend) {
	t.Helper()
	backend := NewSimulatedBackend(slog.Disabled)
	batcher := NewBatcher(backend, fastPolicy(2), slog.Disabled)
	return NewResolver(db, batcher, slog.Disabled), backend
}

func TestResolveParimutuelPool(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, bets := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
		{"SsBob", betpool.SideB, 100_000_000},
	})
	r, backend := testResolver(t, db)

	res, err := r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, betpool.PoolResolved, res.Pool.Status)
	assert.Equal(t, betpool.SideA, res.Pool.Winner)

	// Equal net stakes on both sides: the winner doubles their net.
	paid := backend.Paid()
	require.Len(t, paid, 1)
	assert.Equal(t, "SsAlice", paid[0].Address)
	assert.Equal(t, int64(199_800_000), paid[0].Atoms)

	won, err := db.BetsByStatus(ctx, pool.ID, betpool.BetWon)
	require.NoError(t, err)
	require.Len(t, won, 1)
	assert.Equal(t, bets[0].ID, won[0].ID)
	assert.Equal(t, int64(199_800_000), won[0].Payout)
	assert.Equal(t, "simulated-000001", won[0].SettleTxID)

	lost, err := db.BetsByStatus(ctx, pool.ID, betpool.BetLost)
	require.NoError(t, err)
	require.Len(t, lost, 1)
	assert.Zero(t, lost[0].Payout)
	assert.Empty(t, lost[0].SettleTxID)
}

// Resolving twice pays nobody twice: the second run loses the status claim
// and reports a no-op.
func TestResolveIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	seedPool(t, db, "match-1", betpool.ModeHouse, []stake{
		{"SsAlice", betpool.SideA, 1000},
	})
	r, backend := testResolver(t, db)

	first, err := r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, first.Outcome)
	require.Len(t, backend.Paid(), 1)

	second, err := r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, second.Outcome)
	assert.Nil(t, second.Batch)
	assert.Len(t, backend.Paid(), 1)

	// Even with a different winner: the persisted outcome is final.
	third, err := r.Resolve(ctx, "match-1", betpool.SideB)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, third.Outcome)
	assert.Equal(t, betpool.SideA, third.Pool.Winner)
}

// A failed payout leaves the bet won but unsettled; Reconcile retries just
// that transfer and fills in the txid without paying anyone else again.
func TestResolvePartialThenReconcile(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, _ := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
		{"SsBob", betpool.SideA, 100_000_000},
		{"SsCarol", betpool.SideB, 100_000_000},
	})
	r, backend := testResolver(t, db)
	backend.FailWith("SsBob", errors.New("node unreachable"))

	res, err := r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, betpool.PoolResolved, res.Pool.Status)
	require.Len(t, backend.Paid(), 1)

	unsettled, err := db.UnsettledBets(ctx, pool.ID)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, "SsBob", unsettled[0].Bettor)
	assert.Equal(t, betpool.BetWon, unsettled[0].Status)
	owed := unsettled[0].Payout
	assert.Positive(t, owed)

	// Node back up.
	backend.FailWith("SsBob", nil)

	rec, err := r.Reconcile(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, rec.Outcome)

	paid := backend.Paid()
	require.Len(t, paid, 2)
	assert.Equal(t, "SsBob", paid[1].Address)
	assert.Equal(t, owed, paid[1].Atoms)

	unsettled, err = db.UnsettledBets(ctx, pool.ID)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	// Nothing left: reconciliation is itself idempotent.
	rec, err = r.Reconcile(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, rec.Outcome)
	assert.Len(t, backend.Paid(), 2)
}

// guardedBackend runs a check before every payment; settlement ordering
// bugs surface as payment failures.
type guardedBackend struct {
	inner *SimulatedBackend
	check func(Target) error
}

func (b *guardedBackend) Pay(ctx context.Context, target Target) (string, error) {
	if err := b.check(target); err != nil {
		return "", err
	}
	return b.inner.Pay(ctx, target)
}

// Every bet's terminal outcome must be on disk before its payment goes
// out: at pay time the bet is already won with the payout recorded and no
// txid, i.e. already inside the reconciliation subset.
func TestResolvePersistsOutcomesBeforePaying(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, _ := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
		{"SsBob", betpool.SideB, 100_000_000},
	})

	backend := &guardedBackend{
		inner: NewSimulatedBackend(slog.Disabled),
		check: func(target Target) error {
			un, err := db.UnsettledBets(ctx, pool.ID)
			if err != nil {
				return err
			}
			for _, b := range un {
				if b.ID.String() == target.Key && b.Payout == target.Atoms {
					return nil
				}
			}
			return errors.New("outcome not persisted before payment")
		},
	}
	batcher := NewBatcher(backend, fastPolicy(1), slog.Disabled)
	r := NewResolver(db, batcher, slog.Disabled)

	res, err := r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, res.Outcome)
	assert.Len(t, backend.inner.Paid(), 1)
}

// A resolution interrupted between claiming the pool and persisting bet
// outcomes leaves confirmed bets inside a resolved pool. Reconcile finishes
// those outcomes and pays what they are owed.
func TestReconcileFinishesInterruptedResolution(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, _ := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
		{"SsBob", betpool.SideB, 100_000_000},
	})
	// The crash state: terminal pool, bets still confirmed.
	_, err := db.TransitionPool(ctx, pool.ID, betpool.PoolOpen, betpool.PoolLocked, betpool.SideUnset)
	require.NoError(t, err)
	_, err = db.TransitionPool(ctx, pool.ID, betpool.PoolLocked, betpool.PoolResolved, betpool.SideA)
	require.NoError(t, err)

	r, backend := testResolver(t, db)
	res, err := r.Reconcile(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)

	paid := backend.Paid()
	require.Len(t, paid, 1)
	assert.Equal(t, "SsAlice", paid[0].Address)
	assert.Equal(t, int64(199_800_000), paid[0].Atoms)

	lost, err := db.BetsByStatus(ctx, pool.ID, betpool.BetLost)
	require.NoError(t, err)
	assert.Len(t, lost, 1)
	confirmed, err := db.BetsByStatus(ctx, pool.ID, betpool.BetConfirmed)
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	un, err := db.UnsettledBets(ctx, pool.ID)
	require.NoError(t, err)
	assert.Empty(t, un)
}

// Same crash window on the refund path: confirmed bets inside a refunded
// pool get their gross stakes back through Reconcile.
func TestReconcileFinishesInterruptedRefund(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, _ := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
	})
	_, err := db.TransitionPool(ctx, pool.ID, betpool.PoolOpen, betpool.PoolLocked, betpool.SideUnset)
	require.NoError(t, err)
	_, err = db.TransitionPool(ctx, pool.ID, betpool.PoolLocked, betpool.PoolRefunded, betpool.SideUnset)
	require.NoError(t, err)

	r, backend := testResolver(t, db)
	res, err := r.Reconcile(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)

	paid := backend.Paid()
	require.Len(t, paid, 1)
	assert.Equal(t, int64(100_000_000), paid[0].Atoms)

	refunded, err := db.BetsByStatus(ctx, pool.ID, betpool.BetRefunded)
	require.NoError(t, err)
	require.Len(t, refunded, 1)
	assert.NotEmpty(t, refunded[0].SettleTxID)
}

func TestReconcileRequiresTerminalPool(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	seedPool(t, db, "match-1", betpool.ModeParimutuel, nil)
	r, _ := testResolver(t, db)

	_, err := r.Reconcile(ctx, "match-1")
	assert.Error(t, err)
}

// Refund repays each bettor their gross stake, fee included.
func TestRefundRepaysGross(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	pool, _ := seedPool(t, db, "match-1", betpool.ModeParimutuel, []stake{
		{"SsAlice", betpool.SideA, 100_000_000},
		{"SsBob", betpool.SideB, 250_000_000},
	})
	r, backend := testResolver(t, db)

	res, err := r.Refund(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, betpool.PoolRefunded, res.Pool.Status)

	paid := backend.Paid()
	require.Len(t, paid, 2)
	byAddr := map[string]int64{}
	for _, p := range paid {
		byAddr[p.Address] = p.Atoms
	}
	assert.Equal(t, int64(100_000_000), byAddr["SsAlice"])
	assert.Equal(t, int64(250_000_000), byAddr["SsBob"])

	refunded, err := db.BetsByStatus(ctx, pool.ID, betpool.BetRefunded)
	require.NoError(t, err)
	assert.Len(t, refunded, 2)

	// A refunded pool cannot later resolve.
	res, err = r.Resolve(ctx, "match-1", betpool.SideA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestResolveValidation(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _ := testResolver(t, db)

	_, err := r.Resolve(ctx, "match-1", betpool.SideUnset)
	assert.ErrorIs(t, err, ErrNoWinner)

	_, err = r.Resolve(ctx, "no-such-match", betpool.SideA)
	assert.ErrorIs(t, err, betdb.ErrPoolNotFound)

	_, err = r.Refund(ctx, "no-such-match")
	assert.ErrorIs(t, err, betdb.ErrPoolNotFound)
}
