package betdb

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vctt94/betvault/betpool"
)

var (
	ErrPoolNotFound   = errors.New("pool not found")
	ErrBetNotFound    = errors.New("bet not found")
	ErrDuplicatePool  = errors.New("pool already exists for match")
	ErrStatusConflict = errors.New("pool status changed concurrently")
)

// DB persists pools and bets. TransitionPool is the idempotency boundary
// for resolution: the status moves only if it still equals the expected
// prior value, enforced inside a single storage transaction, so at-most-once
// resolution holds even under concurrent triggers.
type DB interface {
	CreatePool(ctx context.Context, p *betpool.Pool) error
	Pool(ctx context.Context, id uuid.UUID) (*betpool.Pool, error)
	PoolByMatch(ctx context.Context, matchID string) (*betpool.Pool, error)
	TransitionPool(ctx context.Context, id uuid.UUID, from, to betpool.PoolStatus,
		winner betpool.Side) (*betpool.Pool, error)

	CreateBet(ctx context.Context, b *betpool.Bet) error
	// ConfirmBet moves a pending bet to confirmed and credits its net
	// stake and fee to the owning pool in the same transaction.
	ConfirmBet(ctx context.Context, poolID, betID uuid.UUID) error
	BetsByStatus(ctx context.Context, poolID uuid.UUID, status betpool.BetStatus) ([]*betpool.Bet, error)
	// SettleBet records a bet's terminal status, payout and, when the
	// transfer made it to the wire, the settlement txid.
	SettleBet(ctx context.Context, poolID, betID uuid.UUID, status betpool.BetStatus,
		payoutAtoms int64, txid string) error
	// UnsettledBets returns terminal bets owed a payout whose transfer
	// never made it out (payout > 0, no txid): the reconciliation subset.
	UnsettledBets(ctx context.Context, poolID uuid.UUID) ([]*betpool.Bet, error)

	Close() error
}
