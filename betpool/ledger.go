package betpool

// Fee and odds arithmetic for both wagering models. Fees are integer basis
// point math; odds are float64 and feed displays only, never payout math.

const (
	// ParimutuelFeeBps is the pool fee in basis points (0.1%).
	ParimutuelFeeBps = 10
	// HouseFeeBps is the flat house fee in basis points (1%), taken out
	// of the gross stake like the pool fee; only the net enters the bet.
	HouseFeeBps = 100

	// HouseMultiplier is the fixed house payout applied to the net stake.
	HouseMultiplier = 2

	// DefaultMinBetAtoms anchors the hypothetical-bet odds estimate for an
	// empty side (1 DCR).
	DefaultMinBetAtoms = 100_000_000

	// floorOdds is what the heavy side shows when the other side is empty;
	// a real counterparty bet would barely move the payout ratio.
	floorOdds = 1.01

	evenOdds = 2.0
)

// FeeRateBps returns the fee rate for a pool mode.
func FeeRateBps(m Mode) int64 {
	if m == ModeHouse {
		return HouseFeeBps
	}
	return ParimutuelFeeBps
}

// Fee is the vault's cut of amount at the given basis-point rate, floored.
func Fee(amountAtoms, bps int64) int64 {
	if amountAtoms <= 0 {
		return 0
	}
	return amountAtoms * bps / 10_000
}

// Net is the portion of amount that enters the pool after the fee.
func Net(amountAtoms, bps int64) int64 {
	return amountAtoms - Fee(amountAtoms, bps)
}

// Odds carries display odds and side percentages for a pool snapshot.
type Odds struct {
	A, B       float64
	APct, BPct float64
}

// PoolOdds computes display odds for a pari-mutuel pool. An empty pool
// shows an even 2.0x/50-50 split. When one side is empty the payout ratio
// is simulated as if a single minimum-size bet sat on that side, so the
// result is always finite. minBetAtoms <= 0 falls back to
// DefaultMinBetAtoms.
func PoolOdds(p *Pool, minBetAtoms int64) Odds {
	if p.Mode == ModeHouse {
		return Odds{A: evenOdds, B: evenOdds, APct: 50, BPct: 50}
	}
	if minBetAtoms <= 0 {
		minBetAtoms = DefaultMinBetAtoms
	}
	total := p.Total()
	if total == 0 {
		return Odds{A: evenOdds, B: evenOdds, APct: 50, BPct: 50}
	}

	switch {
	case p.SideA == 0:
		est := float64(total+minBetAtoms) / float64(minBetAtoms)
		return Odds{A: est, B: floorOdds, APct: 0, BPct: 100}
	case p.SideB == 0:
		est := float64(total+minBetAtoms) / float64(minBetAtoms)
		return Odds{A: floorOdds, B: est, APct: 100, BPct: 0}
	}

	return Odds{
		A:    float64(total) / float64(p.SideA),
		B:    float64(total) / float64(p.SideB),
		APct: float64(p.SideA) / float64(total) * 100,
		BPct: float64(p.SideB) / float64(total) * 100,
	}
}
