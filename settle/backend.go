package settle

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/slog"
)

// PaymentBackend executes a single outbound payment. It is chosen once at
// startup: production wires VaultBackend, sandboxes wire SimulatedBackend
// explicitly. There is no runtime-mode fallback between them.
type PaymentBackend interface {
	Pay(ctx context.Context, target Target) (txid string, err error)
}

// VaultBackend pays through the real vault matching the target's network.
type VaultBackend struct {
	Vaults *VaultSet
}

func (b *VaultBackend) Pay(ctx context.Context, target Target) (string, error) {
	v, err := b.Vaults.For(target.Address)
	if err != nil {
		return "", err
	}
	return v.Send(ctx, target.Address, target.Atoms)
}

// SimulatedBackend records payments instead of touching a ledger. Every
// payment succeeds unless its address was primed to fail via FailWith.
type SimulatedBackend struct {
	log slog.Logger

	mu    sync.Mutex
	seq   int
	paid  []Target
	fails map[string]error
}

func NewSimulatedBackend(log slog.Logger) *SimulatedBackend {
	if log == nil {
		log = slog.Disabled
	}
	return &SimulatedBackend{log: log, fails: make(map[string]error)}
}

// FailWith makes every payment to addr fail with err.
func (b *SimulatedBackend) FailWith(addr string, err error) {
	b.mu.Lock()
	b.fails[addr] = err
	b.mu.Unlock()
}

// Paid returns the targets paid so far.
func (b *SimulatedBackend) Paid() []Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Target, len(b.paid))
	copy(out, b.paid)
	return out
}

func (b *SimulatedBackend) Pay(ctx context.Context, target Target) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fails[target.Address]; err != nil {
		return "", err
	}
	b.seq++
	txid := fmt.Sprintf("simulated-%06d", b.seq)
	b.paid = append(b.paid, target)
	b.log.Infof("Simulated payment of %d atoms to %s (%s): %s",
		target.Atoms, target.Address, target.Reason, txid)
	return txid, nil
}
