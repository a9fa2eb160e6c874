package betpool

import (
	"fmt"
	"math/big"
)

// Payout pairs a bet with the amount it is owed after resolution. A zero
// amount is a real result (losing bets, rounding to zero); settlement skips
// zero targets but the bet still reaches its terminal status.
type Payout struct {
	Bet   *Bet
	Atoms int64
}

// WinnerPayout computes the payout for one confirmed bet on the winning
// side. Pari-mutuel: net * totalPool / winningSideTotal with big.Int
// intermediates (the product of two pool-scale totals overflows int64) and
// floor division, so rounding can only lose atoms, never mint them. House
// mode pays a fixed multiple of the net stake regardless of the pool
// composition. A winning side with zero total has no counterparty weight to
// divide by; each such bettor gets its net stake back exactly.
func WinnerPayout(p *Pool, b *Bet) int64 {
	if p.Mode == ModeHouse {
		return b.Net * HouseMultiplier
	}
	winTotal := p.SideTotal(p.Winner)
	if winTotal == 0 {
		return b.Net
	}
	num := new(big.Int).Mul(big.NewInt(b.Net), big.NewInt(p.Total()))
	num.Quo(num, big.NewInt(winTotal))
	return num.Int64()
}

// Payouts computes the payout for every confirmed bet of a resolved pool.
// Bets on the losing side get zero. The pool must carry a winner.
func Payouts(p *Pool, bets []*Bet) ([]Payout, error) {
	if !p.Winner.Valid() {
		return nil, fmt.Errorf("pool %s has no winner", p.ID)
	}
	out := make([]Payout, 0, len(bets))
	for _, b := range bets {
		if b.Status != BetConfirmed {
			return nil, fmt.Errorf("bet %s is %s: %w", b.ID, b.Status, ErrNotConfirmed)
		}
		if err := b.Check(); err != nil {
			return nil, err
		}
		var atoms int64
		if b.Side == p.Winner {
			atoms = WinnerPayout(p, b)
		}
		out = append(out, Payout{Bet: b, Atoms: atoms})
	}
	return out, nil
}

// Refunds repays every confirmed bet its full gross stake. The vault
// absorbs the fee it already collected so a cancelled pool leaves bettors
// whole.
func Refunds(bets []*Bet) ([]Payout, error) {
	out := make([]Payout, 0, len(bets))
	for _, b := range bets {
		if b.Status != BetConfirmed {
			return nil, fmt.Errorf("bet %s is %s: %w", b.ID, b.Status, ErrNotConfirmed)
		}
		if err := b.Check(); err != nil {
			return nil, err
		}
		out = append(out, Payout{Bet: b, Atoms: b.Gross})
	}
	return out, nil
}
