package vault

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/slog"
)

// Config carries everything a vault needs, passed explicitly per instance
// rather than read from process environment.
type Config struct {
	// Address is the vault's P2PKH address holding pooled funds.
	Address string
	// PrivKey is the raw 32-byte secp256k1 key controlling Address.
	PrivKey []byte
	Params  *chaincfg.Params
	Chain   ChainService
	Log     slog.Logger

	// FeeAtoms and MaxInputs default to DefaultFeeAtoms and
	// DefaultMaxInputs when zero.
	FeeAtoms  int64
	MaxInputs int
}

// Vault sends deterministic outbound payments from one custodial address.
// Callers that share a vault must serialize their sends: selection reads
// the unspent set and submits asynchronously, so two in-flight payments
// can race for the same output.
type Vault struct {
	log       slog.Logger
	chain     ChainService
	params    *chaincfg.Params
	addr      stdaddr.Address
	scriptVer uint16
	pkScript  []byte
	privKey   []byte
	feeAtoms  int64
	maxInputs int
}

func New(cfg Config) (*Vault, error) {
	if cfg.Address == "" || len(cfg.PrivKey) == 0 {
		return nil, fmt.Errorf("vault config missing address or key")
	}
	if len(cfg.PrivKey) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(cfg.PrivKey))
	}
	if cfg.Params == nil || cfg.Chain == nil {
		return nil, fmt.Errorf("vault config missing params or chain service")
	}
	addr, err := stdaddr.DecodeAddress(cfg.Address, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("bad vault address %q: %w", cfg.Address, err)
	}

	// The configured key must actually control the configured address.
	priv := secp256k1.PrivKeyFromBytes(cfg.PrivKey)
	pkh := stdaddr.Hash160(priv.PubKey().SerializeCompressed())
	derived, err := stdaddr.NewAddressPubKeyHashEcdsaSecp256k1V0(pkh, cfg.Params)
	if err != nil {
		return nil, err
	}
	if derived.String() != addr.String() {
		return nil, fmt.Errorf("vault key does not control %s", cfg.Address)
	}

	vers, script := addr.PaymentScript()
	v := &Vault{
		log:       cfg.Log,
		chain:     cfg.Chain,
		params:    cfg.Params,
		addr:      addr,
		scriptVer: vers,
		pkScript:  script,
		privKey:   cfg.PrivKey,
		feeAtoms:  cfg.FeeAtoms,
		maxInputs: cfg.MaxInputs,
	}
	if v.feeAtoms <= 0 {
		v.feeAtoms = DefaultFeeAtoms
	}
	if v.maxInputs <= 0 {
		v.maxInputs = DefaultMaxInputs
	}
	if v.log == nil {
		v.log = slog.Disabled
	}
	return v, nil
}

// Address returns the vault's address string.
func (v *Vault) Address() string { return v.addr.String() }

// Send transfers exactly amount atoms to dest, consuming vault outputs and
// returning surplus as change. One call is one attempt: it fetches the
// current unspent set, selects inputs, signs and broadcasts. A fragmented
// vault submits a self-consolidation instead and reports ErrFragmented so
// the caller's retry restarts selection against the merged set.
func (v *Vault) Send(ctx context.Context, dest string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("send amount must be positive, got %d", amount)
	}
	destVers, destScript, err := payScript(dest, v.params)
	if err != nil {
		return "", err
	}

	utxos, err := v.chain.ListUnspent(ctx, v.addr.String())
	if err != nil {
		return "", fmt.Errorf("fetch unspent: %w", err)
	}
	sel, err := Select(utxos, amount+v.feeAtoms, v.maxInputs)
	if err != nil {
		return "", err
	}

	if sel.NeedsConsolidation {
		txid, err := v.consolidate(ctx, sel)
		if err != nil {
			return "", fmt.Errorf("consolidate: %w", err)
		}
		v.waitForOutput(ctx, txid)
		return "", fmt.Errorf("merged %d inputs into %s: %w",
			len(sel.Inputs), txid, ErrFragmented)
	}

	tx, err := buildTransfer(sel, destVers, destScript, v.scriptVer, v.pkScript,
		amount, v.feeAtoms)
	if err != nil {
		return "", err
	}
	if err := signInputs(tx, sel.Inputs, v.privKey); err != nil {
		return "", err
	}

	txid, err := v.chain.Broadcast(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	v.log.Infof("Sent %s to %s (%d inputs, txid %s)",
		dcrutil.Amount(amount), dest, len(sel.Inputs), txid)
	return txid, nil
}

// consolidate merges the selection into a single output back to the vault.
func (v *Vault) consolidate(ctx context.Context, sel *Selection) (string, error) {
	merged := sel.Total - v.feeAtoms
	if merged <= 0 {
		return "", fmt.Errorf("%d atoms across %d inputs cannot pay the fee: %w",
			sel.Total, len(sel.Inputs), ErrInsufficientFunds)
	}
	tx, err := buildTransfer(sel, v.scriptVer, v.pkScript, v.scriptVer, v.pkScript,
		merged, v.feeAtoms)
	if err != nil {
		return "", err
	}
	if err := signInputs(tx, sel.Inputs, v.privKey); err != nil {
		return "", err
	}
	txid, err := v.chain.Broadcast(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	v.log.Infof("Consolidated %d inputs (%s) into %s",
		len(sel.Inputs), dcrutil.Amount(sel.Total), txid)
	return txid, nil
}

// waitForOutput polls briefly until the given txid shows up in the vault's
// unspent set (0-conf is fine). Best effort: the outer retry re-fetches
// anyway, this just makes the first retry likely to succeed.
func (v *Vault) waitForOutput(ctx context.Context, txid string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		utxos, err := v.chain.ListUnspent(ctx, v.addr.String())
		if err != nil {
			continue
		}
		for i := range utxos {
			if utxos[i].TxID == txid {
				return
			}
		}
	}
	v.log.Debugf("consolidation %s not visible yet", txid)
}

// Status reports the vault's spendable output count and total. A count
// near MaxInputs means the next large send will consolidate first.
func (v *Vault) Status(ctx context.Context) (int, int64, error) {
	utxos, err := v.chain.ListUnspent(ctx, v.addr.String())
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for i := range utxos {
		if !bytes.Equal(utxos[i].PkScript, v.pkScript) {
			return 0, 0, fmt.Errorf("unspent %s is not a vault output", utxos[i].key())
		}
		total += utxos[i].Atoms
	}
	return len(utxos), total, nil
}
