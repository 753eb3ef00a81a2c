package arweave

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keyfort/keyfort/fault"
)

// TxStatus is the confirmation state of one transaction.
type TxStatus int

const (
	// TxStatusUnknown: no gateway gave a definitive answer.
	TxStatusUnknown TxStatus = iota
	TxStatusConfirmed
	TxStatusPending
	TxStatusNotFound
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusConfirmed:
		return "confirmed"
	case TxStatusPending:
		return "pending"
	case TxStatusNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Resolution is the authoritative payload version for a vault id.
type Resolution struct {
	TxID    string
	Payload *StoredPayload
}

// Resolve finds the single authoritative transaction for vaultID,
// reconciling it against the caller's last known transaction.
//
// A confirmed, indexed version is never silently served while the caller
// knows of a newer version still in flight: that case fails with
// fault.ErrPending so the caller can retry once the network settles.
func (c *Client) Resolve(ctx context.Context, vaultID, lastKnownTx string) (*Resolution, error) {
	indexed, err := c.queryIndex(ctx, vaultID)
	if err != nil {
		c.log.Warn("index query failed, falling back", "vault_id", vaultID, "error", err)
		indexed = ""
	}

	var txID string
	switch {
	case indexed != "":
		if lastKnownTx != "" && lastKnownTx != indexed {
			// The caller knows a different transaction. If it is pending
			// or unreadable, it signals a newer, not-yet-indexed version.
			status := c.TxStatus(ctx, lastKnownTx)
			if status == TxStatusPending || status == TxStatusUnknown {
				return nil, fmt.Errorf("%w: newer version %s pending confirmation", fault.ErrPending, lastKnownTx)
			}
			c.log.Debug("caller transaction superseded by index",
				"vault_id", vaultID, "caller_tx", lastKnownTx, "indexed_tx", indexed)
		}
		txID = indexed

	case lastKnownTx != "":
		switch c.TxStatus(ctx, lastKnownTx) {
		case TxStatusPending, TxStatusUnknown:
			return nil, fmt.Errorf("%w: version %s pending confirmation", fault.ErrPending, lastKnownTx)
		case TxStatusConfirmed:
			txID = lastKnownTx
		default:
			return nil, fmt.Errorf("%w: vault %s", fault.ErrNotFound, vaultID)
		}

	case LooksLikeTxID(vaultID):
		// The id itself may be a transaction hash anchored on the
		// secondary ledger.
		res, err := c.resolveSecondary(ctx, vaultID)
		if err != nil {
			return nil, err
		}
		return res, nil

	default:
		return nil, fmt.Errorf("%w: vault %s", fault.ErrNotFound, vaultID)
	}

	raw, err := c.fetchData(ctx, c.gateways, txID)
	if err != nil {
		return nil, err
	}
	payload, err := ParseStoredPayload(raw)
	if err != nil {
		return nil, err
	}
	return &Resolution{TxID: txID, Payload: payload}, nil
}

// queryIndex asks the index service for the highest-confirmed transaction
// tagged with the vault id. Any non-success response is retried with a
// short backoff, rotating through the gateways.
func (c *Client) queryIndex(ctx context.Context, vaultID string) (string, error) {
	query := map[string]any{
		"query": `query($tags: [TagFilter!]) {
			transactions(tags: $tags, first: 1, sort: HEIGHT_DESC) {
				edges { node { id } }
			}
		}`,
		"variables": map[string]any{
			"tags": []map[string]any{
				{"name": "App-Name", "values": []string{c.appName}},
				{"name": vaultIDTagName, "values": []string{vaultID}},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return "", err
	}

	var lastErr error
	backoff := indexBaseBackoff
	for attempt := 0; attempt < indexAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
			if backoff > indexMaxBackoff {
				backoff = indexMaxBackoff
			}
		}

		gateway := c.gateways[attempt%len(c.gateways)]
		id, err := c.postGraphQL(ctx, gateway, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("index query: %w", lastErr)
}

func (c *Client) postGraphQL(ctx context.Context, gateway string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway+"/graphql", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("index service returned %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Transactions struct {
				Edges []struct {
					Node struct {
						ID string `json:"id"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"transactions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding index response: %w", err)
	}
	if len(out.Data.Transactions.Edges) == 0 {
		return "", nil
	}
	return out.Data.Transactions.Edges[0].Node.ID, nil
}

// TxStatus checks a transaction's confirmation state, trying each gateway
// until one gives a definitive answer.
func (c *Client) TxStatus(ctx context.Context, txID string) TxStatus {
	for _, gateway := range c.gateways {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, gateway+"/tx/"+txID+"/status", nil)
		if err != nil {
			continue
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return TxStatusConfirmed
		case http.StatusAccepted:
			return TxStatusPending
		case http.StatusNotFound:
			return TxStatusNotFound
		}
		// Anything else: try the next gateway.
	}
	return TxStatusUnknown
}

// fetchData retrieves the payload bytes for a transaction across the
// prioritized gateway and access-path matrix. One gateway failing or timing
// out is never fatal; "exists but not yet retrievable" is surfaced as
// fault.ErrPending, distinct from a transaction that is truly absent.
func (c *Client) fetchData(ctx context.Context, gateways []string, txID string) ([]byte, error) {
	paths := []struct {
		format string
		base64 bool
	}{
		{"/%s", false},
		{"/raw/%s", false},
		{"/tx/%s/data", true},
	}

	pendingSeen := false
	for _, gateway := range gateways {
		for _, p := range paths {
			url := gateway + fmt.Sprintf(p.format, txID)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			resp, err := c.httpc.Do(req)
			if err != nil {
				c.log.Debug("gateway fetch failed", "url", url, "error", err)
				continue
			}
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK && readErr == nil:
				if p.base64 {
					decoded, err := base64.RawURLEncoding.DecodeString(string(bytes.TrimSpace(body)))
					if err != nil || !looksLikePayload(decoded) {
						continue
					}
					return decoded, nil
				}
				// Some gateways answer 200 with an HTML splash page for
				// unknown paths; treat that like any other gateway miss.
				if looksLikePayload(body) {
					return body, nil
				}
			case resp.StatusCode == http.StatusAccepted:
				pendingSeen = true
			}
		}
	}

	if pendingSeen {
		return nil, fmt.Errorf("%w: transaction %s accepted but not yet served", fault.ErrPending, txID)
	}
	switch c.TxStatus(ctx, txID) {
	case TxStatusConfirmed, TxStatusPending:
		return nil, fmt.Errorf("%w: transaction %s exists but no gateway serves it yet", fault.ErrPending, txID)
	default:
		return nil, fmt.Errorf("%w: transaction %s", fault.ErrNotFound, txID)
	}
}

// looksLikePayload is a cheap shape sniff: every payload body is a JSON
// object.
func looksLikePayload(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// resolveSecondary treats the vault id as a transaction hash on the
// secondary ledger.
func (c *Client) resolveSecondary(ctx context.Context, txID string) (*Resolution, error) {
	if len(c.secondary) == 0 {
		return nil, fmt.Errorf("%w: vault %s", fault.ErrNotFound, txID)
	}
	c.log.Debug("attempting secondary ledger resolution", "tx_id", txID)

	raw, err := c.fetchData(ctx, c.secondary, txID)
	if err != nil {
		return nil, err
	}
	payload, err := ParseStoredPayload(raw)
	if err != nil {
		return nil, err
	}
	return &Resolution{TxID: txID, Payload: payload}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
