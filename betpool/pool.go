package betpool

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBadTransition = errors.New("status transition not allowed")
	ErrNotConfirmed  = errors.New("bet is not confirmed")
)

// Side identifies one of the two sides of a pool.
type Side string

const (
	SideUnset Side = ""
	SideA     Side = "A"
	SideB     Side = "B"
)

func (s Side) Valid() bool { return s == SideA || s == SideB }

// Opposite returns the other side. Calling it on SideUnset returns SideUnset.
func (s Side) Opposite() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	}
	return SideUnset
}

// Mode selects the wagering model for a pool.
type Mode string

const (
	// ModeParimutuel pays winners proportionally to the losing side's
	// contribution.
	ModeParimutuel Mode = "parimutuel"
	// ModeHouse pays a flat 2x of the net stake; the operator is the
	// counterparty.
	ModeHouse Mode = "house"
)

type PoolStatus string

const (
	PoolOpen     PoolStatus = "open"
	PoolLocked   PoolStatus = "locked"
	PoolResolved PoolStatus = "resolved"
	PoolRefunded PoolStatus = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s PoolStatus) Terminal() bool {
	return s == PoolResolved || s == PoolRefunded
}

// CanTransition reports whether from -> to is a legal forward transition.
// Transitions are monotonic: open -> locked -> resolved|refunded.
func CanTransition(from, to PoolStatus) bool {
	switch from {
	case PoolOpen:
		return to == PoolLocked
	case PoolLocked:
		return to == PoolResolved || to == PoolRefunded
	}
	return false
}

// Pool accumulates the stakes wagered on a single match. Per-side totals are
// sums of net stakes in atoms; the fee total tracks what the vault collected.
type Pool struct {
	ID      uuid.UUID  `json:"id"`
	MatchID string     `json:"match_id"`
	Mode    Mode       `json:"mode"`
	SideA   int64      `json:"side_a_atoms"`
	SideB   int64      `json:"side_b_atoms"`
	Fees    int64      `json:"fees_atoms"`
	Status  PoolStatus `json:"status"`
	Winner  Side       `json:"winner"`

	CreatedAt time.Time `json:"created_at"`
}

func NewPool(matchID string, mode Mode) (*Pool, error) {
	if matchID == "" {
		return nil, fmt.Errorf("pool needs a match id")
	}
	if mode != ModeParimutuel && mode != ModeHouse {
		return nil, fmt.Errorf("unknown pool mode %q", mode)
	}
	return &Pool{
		ID:        uuid.New(),
		MatchID:   matchID,
		Mode:      mode,
		Status:    PoolOpen,
		CreatedAt: time.Now(),
	}, nil
}

// Total is the full pool size, always the sum of the per-side totals.
func (p *Pool) Total() int64 { return p.SideA + p.SideB }

// SideTotal returns the accumulated net stake for one side.
func (p *Pool) SideTotal(s Side) int64 {
	switch s {
	case SideA:
		return p.SideA
	case SideB:
		return p.SideB
	}
	return 0
}

// AddStake credits a confirmed bet's net amount to a side and records the
// fee the vault collected for it. Only open pools accept stakes.
func (p *Pool) AddStake(s Side, netAtoms, feeAtoms int64) error {
	if p.Status != PoolOpen {
		return fmt.Errorf("pool %s is %s: %w", p.ID, p.Status, ErrBadTransition)
	}
	if !s.Valid() {
		return fmt.Errorf("invalid side %q", s)
	}
	if netAtoms < 0 || feeAtoms < 0 {
		return fmt.Errorf("negative stake: net=%d fee=%d", netAtoms, feeAtoms)
	}
	if s == SideA {
		p.SideA += netAtoms
	} else {
		p.SideB += netAtoms
	}
	p.Fees += feeAtoms
	return nil
}

// Transition moves the pool to a new status, enforcing monotonic order. The
// winner is persisted only on the transition into resolved.
func (p *Pool) Transition(to PoolStatus, winner Side) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("pool %s: %s -> %s: %w", p.ID, p.Status, to, ErrBadTransition)
	}
	if to == PoolResolved {
		if !winner.Valid() {
			return fmt.Errorf("resolved pool needs a winner")
		}
		p.Winner = winner
	}
	p.Status = to
	return nil
}

type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetConfirmed BetStatus = "confirmed"
	BetWon       BetStatus = "won"
	BetLost      BetStatus = "lost"
	BetRefunded  BetStatus = "refunded"
)

// Terminal reports whether the bet has reached its final state.
func (s BetStatus) Terminal() bool {
	return s == BetWon || s == BetLost || s == BetRefunded
}

// Bet is a single wager inside a pool. Gross is what the bettor staked,
// Fee what the vault kept, Net what entered the pool; Net+Fee == Gross is
// an invariant checked on every load from storage.
type Bet struct {
	ID     uuid.UUID `json:"id"`
	PoolID uuid.UUID `json:"pool_id"`
	// Bettor is the ledger address payouts and refunds are sent to.
	Bettor string    `json:"bettor"`
	Side   Side      `json:"side"`
	Gross  int64     `json:"gross_atoms"`
	Fee    int64     `json:"fee_atoms"`
	Net    int64     `json:"net_atoms"`
	Status BetStatus `json:"status"`

	// Payout is set once the pool resolves; zero is a valid payout and is
	// distinct from "not resolved yet" by the bet status. SettleTxID is
	// empty until the transfer is actually on the wire, so a won bet with
	// no txid is a failed payout that reconciliation can retry.
	Payout     int64  `json:"payout_atoms"`
	SettleTxID string `json:"settle_txid"`

	CreatedAt time.Time `json:"created_at"`
}

// NewBet builds a pending bet, deriving fee and net from the pool mode's
// fee rate.
func NewBet(pool *Pool, bettor string, side Side, grossAtoms int64) (*Bet, error) {
	if bettor == "" {
		return nil, fmt.Errorf("bet needs a bettor address")
	}
	if !side.Valid() {
		return nil, fmt.Errorf("invalid side %q", side)
	}
	if grossAtoms <= 0 {
		return nil, fmt.Errorf("bet amount must be positive, got %d", grossAtoms)
	}
	fee := Fee(grossAtoms, FeeRateBps(pool.Mode))
	b := &Bet{
		ID:        uuid.New(),
		PoolID:    pool.ID,
		Bettor:    bettor,
		Side:      side,
		Gross:     grossAtoms,
		Fee:       fee,
		Net:       grossAtoms - fee,
		Status:    BetPending,
		CreatedAt: time.Now(),
	}
	return b, b.Check()
}

// Check validates the accounting invariants. Storage calls this before a
// loaded row enters the core.
func (b *Bet) Check() error {
	if b.Gross < 0 || b.Fee < 0 || b.Net < 0 || b.Payout < 0 {
		return fmt.Errorf("bet %s has a negative amount", b.ID)
	}
	if b.Net+b.Fee != b.Gross {
		return fmt.Errorf("bet %s: net %d + fee %d != gross %d",
			b.ID, b.Net, b.Fee, b.Gross)
	}
	if !b.Side.Valid() {
		return fmt.Errorf("bet %s has invalid side %q", b.ID, b.Side)
	}
	return nil
}

// Settle moves a confirmed bet to a terminal status. Terminal states are
// reached exactly once and only from confirmed.
func (b *Bet) Settle(to BetStatus, payoutAtoms int64) error {
	if !to.Terminal() {
		return fmt.Errorf("bet %s: %q is not terminal: %w", b.ID, to, ErrBadTransition)
	}
	if b.Status != BetConfirmed {
		return fmt.Errorf("bet %s is %s: %w", b.ID, b.Status, ErrNotConfirmed)
	}
	if payoutAtoms < 0 {
		return fmt.Errorf("bet %s: negative payout %d", b.ID, payoutAtoms)
	}
	b.Status = to
	b.Payout = payoutAtoms
	return nil
}
