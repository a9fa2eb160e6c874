package vault

import (
	"fmt"

	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/sign"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

// DefaultFeeAtoms is the fixed fee reserved from the input total. The fee
// is a constant in this design, not derived from transaction size.
const DefaultFeeAtoms = 20_000

// payScript resolves an address into its script version and payment script.
func payScript(addr string, params stdaddr.AddressParams) (uint16, []byte, error) {
	a, err := stdaddr.DecodeAddress(addr, params)
	if err != nil {
		return 0, nil, fmt.Errorf("bad address %q: %w", addr, err)
	}
	vers, script := a.PaymentScript()
	return vers, script, nil
}

// buildTransfer assembles the unsigned draft: every selected input, one
// output paying the recipient, and a change output back to the vault
// whenever the inputs exceed amount + fee.
func buildTransfer(sel *Selection, destVers uint16, destScript []byte,
	changeVers uint16, changeScript []byte, amount, fee int64) (*wire.MsgTx, error) {

	if sel.Total < amount+fee {
		return nil, fmt.Errorf("selection %d short of %d: %w",
			sel.Total, amount+fee, ErrInsufficientFunds)
	}

	tx := wire.NewMsgTx()
	for i := range sel.Inputs {
		op, err := sel.Inputs[i].OutPoint()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *op,
			ValueIn:          sel.Inputs[i].Atoms,
		})
	}

	tx.AddTxOut(&wire.TxOut{
		Value:    amount,
		Version:  destVers,
		PkScript: destScript,
	})
	if change := sel.Total - amount - fee; change > 0 {
		tx.AddTxOut(&wire.TxOut{
			Value:    change,
			Version:  changeVers,
			PkScript: changeScript,
		})
	}
	return tx, nil
}

// signInputs attaches a signature script to every input. The vault key is
// raw secp256k1 key bytes; all vault outputs are P2PKH so each input signs
// against its own previous locking script.
func signInputs(tx *wire.MsgTx, inputs []UTXO, privKey []byte) error {
	if len(tx.TxIn) != len(inputs) {
		return fmt.Errorf("have %d inputs to sign, tx has %d", len(inputs), len(tx.TxIn))
	}
	for i := range inputs {
		sigScript, err := sign.SignatureScript(tx, i, inputs[i].PkScript,
			txscript.SigHashAll, privKey, dcrec.STEcdsaSecp256k1, true)
		if err != nil {
			return fmt.Errorf("sign input %d (%s): %w", i, inputs[i].key(), err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}
