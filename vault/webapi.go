package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
	"golang.org/x/time/rate"
)

// WebAPI talks to an explorer-style ledger HTTP API: GET the unspent
// outputs of an address, POST a raw transaction for broadcast. Responses
// are JSON. Requests are rate limited so batch settlement cannot hammer a
// public endpoint.
type WebAPI struct {
	base    string
	httpc   *http.Client
	limiter *rate.Limiter
	log     slog.Logger
}

func NewWebAPI(base string, log slog.Logger) *WebAPI {
	if log == nil {
		log = slog.Disabled
	}
	return &WebAPI{
		base:    strings.TrimRight(base, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(4), 8),
		log:     log,
	}
}

type apiUTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Atoms         int64  `json:"atoms"`
	Script        string `json:"script"`
	ScriptVersion uint16 `json:"scriptVersion"`
}

// ListUnspent implements ChainService.
func (w *WebAPI) ListUnspent(ctx context.Context, addr string) ([]UTXO, error) {
	var rows []apiUTXO
	url := fmt.Sprintf("%s/api/addr/%s/utxo", w.base, addr)
	if err := w.get(ctx, url, &rows); err != nil {
		return nil, err
	}
	utxos := make([]UTXO, 0, len(rows))
	for _, r := range rows {
		script, err := hex.DecodeString(r.Script)
		if err != nil {
			return nil, fmt.Errorf("utxo %s:%d has bad script hex: %w", r.TxID, r.Vout, err)
		}
		utxos = append(utxos, UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Atoms:         r.Atoms,
			PkScript:      script,
			ScriptVersion: r.ScriptVersion,
		})
	}
	return utxos, nil
}

// Broadcast implements ChainService.
func (w *WebAPI) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	raw, err := tx.Bytes()
	if err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	body := struct {
		RawTx string `json:"rawtx"`
	}{RawTx: hex.EncodeToString(raw)}
	var resp struct {
		TxID string `json:"txid"`
	}
	if err := w.post(ctx, w.base+"/api/tx/broadcast", body, &resp); err != nil {
		return "", err
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("broadcast accepted but no txid returned")
	}
	return resp.TxID, nil
}

func (w *WebAPI) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return w.do(req, out)
}

func (w *WebAPI) post(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return w.do(req, out)
}

func (w *WebAPI) do(req *http.Request, out any) error {
	if err := w.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ledger api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger api %s: status %d: %s",
			req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
