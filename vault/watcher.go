package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	chainjson "github.com/decred/dcrd/rpc/jsonrpc/types/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
)

// backscanBlocks bounds the catch-up scan on first poll, so outputs funded
// before the process started still enter the cache.
const backscanBlocks = int64(1024)

// dcrdConn is the slice of the dcrd RPC surface the watcher uses.
type dcrdConn interface {
	GetBestBlock(ctx context.Context) (*chainhash.Hash, int64, error)
	GetBlockHash(ctx context.Context, blockHeight int64) (*chainhash.Hash, error)
	GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawMempool(ctx context.Context, txType chainjson.GetRawMempoolTxTypeCmd) ([]*chainhash.Hash, error)
	GetRawTransactionVerbose(ctx context.Context, txHash *chainhash.Hash) (*chainjson.TxRawResult, error)
	GetTxOut(ctx context.Context, txHash *chainhash.Hash, index uint32, tree int8, includeMempool bool) (*chainjson.GetTxOutResult, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
}

// Watcher is a dcrd-backed ChainService for a single vault script. It scans
// new blocks (and the mempool while the known set is empty) for outputs
// paying the vault, keeps them in a known-unspent cache, and prunes entries
// dcrd confirms spent. Broadcast goes straight to dcrd. The first poll
// backscans a bounded window of recent blocks so funds confirmed before
// startup are visible.
type Watcher struct {
	log  slog.Logger
	dcrd dcrdConn

	pkScript  []byte
	scriptVer uint16

	mu          sync.RWMutex
	tip         int64
	lastScanned int64
	known       map[string]UTXO // "txid:vout" -> utxo

	quit chan struct{}
}

func NewWatcher(log slog.Logger, c *rpcclient.Client, scriptVer uint16, pkScript []byte) *Watcher {
	return newWatcher(log, c, scriptVer, pkScript)
}

func newWatcher(log slog.Logger, c dcrdConn, scriptVer uint16, pkScript []byte) *Watcher {
	if log == nil {
		log = slog.Disabled
	}
	return &Watcher{
		log:         log,
		dcrd:        c,
		pkScript:    pkScript,
		scriptVer:   scriptVer,
		lastScanned: -1,
		known:       make(map[string]UTXO),
		quit:        make(chan struct{}),
	}
}

func (w *Watcher) Stop() { close(w.quit) }

func (w *Watcher) Run(ctx context.Context) {
	w.log.Infof("watcher: started")
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	defer w.log.Infof("watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	if _, h, err := w.dcrd.GetBestBlock(ctx); err == nil {
		w.mu.Lock()
		w.tip = h
		w.mu.Unlock()
	} else {
		w.log.Debugf("watcher: GetBestBlock failed: %v", err)
	}

	w.mu.RLock()
	tip := w.tip
	last := w.lastScanned
	knownEmpty := len(w.known) == 0
	w.mu.RUnlock()

	// New blocks since the last tick. The first run backscans a bounded
	// lookback window; on reorg just scan the current tip.
	if tip >= 0 && (last == -1 || tip != last) {
		start := last + 1
		if last == -1 {
			start = tip - backscanBlocks + 1
			if start < 0 {
				start = 0
			}
		} else if start > tip {
			start = tip
		}
		for bh := start; bh <= tip; bh++ {
			hash, err := w.dcrd.GetBlockHash(ctx, bh)
			if err != nil {
				continue
			}
			msg, err := w.dcrd.GetBlock(ctx, hash)
			if err != nil || msg == nil {
				continue
			}
			for _, mtx := range msg.Transactions {
				w.addMatching(mtx)
			}
		}
		w.mu.Lock()
		w.lastScanned = tip
		w.mu.Unlock()
	}

	// Mempool (0-conf) only while nothing is known; mostly covers a fresh
	// consolidation output.
	if knownEmpty {
		if txids, err := w.dcrd.GetRawMempool(ctx, "all"); err == nil {
			for _, th := range txids {
				v, err := w.dcrd.GetRawTransactionVerbose(ctx, th)
				if err != nil || v == nil {
					continue
				}
				for voutIdx, vout := range v.Vout {
					spk, err := hex.DecodeString(vout.ScriptPubKey.Hex)
					if err != nil || !bytes.Equal(spk, w.pkScript) {
						continue
					}
					amt, err := dcrutil.NewAmount(vout.Value)
					if err != nil {
						continue
					}
					w.remember(UTXO{
						TxID:          v.Txid,
						Vout:          uint32(voutIdx),
						Atoms:         int64(amt),
						PkScript:      w.pkScript,
						ScriptVersion: w.scriptVer,
					})
				}
			}
		}
	}

	w.pruneSpent(ctx)
}

func (w *Watcher) addMatching(mtx *wire.MsgTx) {
	txid := mtx.TxHash().String()
	for voutIdx, o := range mtx.TxOut {
		if !bytes.Equal(o.PkScript, w.pkScript) {
			continue
		}
		w.remember(UTXO{
			TxID:          txid,
			Vout:          uint32(voutIdx),
			Atoms:         o.Value,
			PkScript:      w.pkScript,
			ScriptVersion: o.Version,
		})
	}
}

func (w *Watcher) remember(u UTXO) {
	w.mu.Lock()
	if _, ok := w.known[u.key()]; !ok {
		w.log.Debugf("watcher: new vault output %s (%d atoms)", u.key(), u.Atoms)
	}
	w.known[u.key()] = u
	w.mu.Unlock()
}

// pruneSpent drops known entries dcrd confirms are gone: only a successful
// GetTxOut with a nil result means spent. A transient RPC error leaves the
// cache untouched, since a wrongly dropped output below the scan horizon
// would never be rediscovered.
func (w *Watcher) pruneSpent(ctx context.Context) {
	w.mu.RLock()
	snapshot := make([]UTXO, 0, len(w.known))
	for _, u := range w.known {
		snapshot = append(snapshot, u)
	}
	w.mu.RUnlock()

	for i := range snapshot {
		u := snapshot[i]
		var h chainhash.Hash
		if err := chainhash.Decode(&h, u.TxID); err != nil {
			continue
		}
		res, err := w.dcrd.GetTxOut(ctx, &h, u.Vout, 0, true)
		if err != nil {
			w.log.Debugf("watcher: GetTxOut %s failed: %v", u.key(), err)
			continue
		}
		if res == nil {
			w.mu.Lock()
			delete(w.known, u.key())
			w.mu.Unlock()
			w.log.Debugf("watcher: vault output %s spent", u.key())
		}
	}
}

// ListUnspent implements ChainService from the known-unspent cache. The
// addr argument is accepted for interface symmetry; the watcher tracks a
// single script.
func (w *Watcher) ListUnspent(ctx context.Context, addr string) ([]UTXO, error) {
	_ = ctx
	_ = addr
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]UTXO, 0, len(w.known))
	for _, u := range w.known {
		out = append(out, u)
	}
	return out, nil
}

// Broadcast implements ChainService via dcrd. Consumed inputs are removed
// from the cache immediately so a following send in the same batch cannot
// race for them, and the change output is credited without waiting a tick.
func (w *Watcher) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	h, err := w.dcrd.SendRawTransaction(ctx, tx, false)
	if err != nil {
		return "", fmt.Errorf("sendrawtransaction: %w", err)
	}
	w.mu.Lock()
	for _, in := range tx.TxIn {
		key := fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		delete(w.known, key)
	}
	w.mu.Unlock()
	w.addMatching(tx)
	return h.String(), nil
}
