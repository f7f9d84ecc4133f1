package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RelayWriter implements Writer against a wallet relay: an external signer
// service that holds the wallet session, signs the contract write and
// returns the resulting transaction id. The relay owns ABI encoding and
// transport; the engine only ships the ordered argument tuple.
type RelayWriter struct {
	baseURL string
	http    *http.Client
}

// NewRelayWriter builds a RelayWriter for baseURL. timeout of zero means
// 30 seconds; a ledger write includes the user's signing interaction, so
// the budget is deliberately generous.
func NewRelayWriter(baseURL string, timeout time.Duration) *RelayWriter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelayWriter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Write posts the contract write to the relay and returns the transaction
// id. Relay errors come back verbatim; the engine's callers surface them to
// the user unmodified.
func (w *RelayWriter) Write(ctx context.Context, method string, args []string) (string, error) {
	payload, err := json.Marshal(map[string]any{"method": method, "args": args})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/writes", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var body struct {
		TxHash string `json:"txHash"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("wallet relay: malformed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if body.Error != "" {
			return "", fmt.Errorf("%s", body.Error)
		}
		return "", fmt.Errorf("wallet relay returned %d", resp.StatusCode)
	}
	if body.TxHash == "" {
		return "", fmt.Errorf("wallet relay returned no transaction id")
	}
	return body.TxHash, nil
}
