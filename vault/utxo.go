package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

var (
	// ErrEmptyVault means the vault has no spendable outputs at all.
	// Retrying cannot create funds.
	ErrEmptyVault = errors.New("vault has no spendable outputs")
	// ErrInsufficientFunds means the whole UTXO set cannot cover the
	// target amount plus fee. Never retried.
	ErrInsufficientFunds = errors.New("insufficient vault funds")
	// ErrFragmented is returned after a consolidation transaction was
	// submitted because the essential selection hit the input limit. The
	// caller's retry budget covers the restart.
	ErrFragmented = errors.New("vault fragmented, consolidation submitted")
)

// UTXO is one spendable output owned by the vault. Once referenced as an
// input of a submitted transaction it must not be selected again.
type UTXO struct {
	TxID          string
	Vout          uint32
	Atoms         int64
	PkScript      []byte
	ScriptVersion uint16
}

// OutPoint returns the wire outpoint consuming this output.
func (u *UTXO) OutPoint() (*wire.OutPoint, error) {
	var h chainhash.Hash
	if err := chainhash.Decode(&h, u.TxID); err != nil {
		return nil, fmt.Errorf("bad utxo txid %q: %w", u.TxID, err)
	}
	return &wire.OutPoint{Hash: h, Index: u.Vout, Tree: wire.TxTreeRegular}, nil
}

func (u *UTXO) key() string { return fmt.Sprintf("%s:%d", u.TxID, u.Vout) }

// ChainService is the narrow ledger collaborator: read the current unspent
// set for an address and broadcast a signed transaction. Failures other
// than the sentinel resource errors above are treated as transient.
type ChainService interface {
	ListUnspent(ctx context.Context, addr string) ([]UTXO, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error)
}
