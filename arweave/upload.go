package arweave

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// UploadChunkSize is the size of each upload chunk.
	UploadChunkSize = 256 * 1024

	uploadChunkAttempts = 8
	uploadBaseBackoff   = 500 * time.Millisecond
	uploadMaxBackoff    = 10 * time.Second
)

// Progress reports upload advancement. Fraction is in [0, 1].
type Progress struct {
	Chunk       int
	TotalChunks int
	Fraction    float64
}

// UploadResult identifies the transaction created by an upload.
type UploadResult struct {
	TxID string
}

// Upload writes a payload transaction to the storage network in fixed-size
// chunks. Each chunk is retried with exponential backoff; once a chunk
// exhausts its attempts the whole upload fails with the last error.
//
// When progress is non-nil a Progress event is sent after every chunk.
// Sends never block: a slow consumer misses events rather than stalling
// the upload.
func (c *Client) Upload(ctx context.Context, payload *StoredPayload, progress chan<- Progress) (*UploadResult, error) {
	body, err := EncodeStoredPayload(payload)
	if err != nil {
		return nil, err
	}

	txID, err := c.createTx(ctx, payload.VaultID, len(body))
	if err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	total := (len(body) + UploadChunkSize - 1) / UploadChunkSize
	if total == 0 {
		total = 1
	}

	for chunk := 0; chunk < total; chunk++ {
		start := chunk * UploadChunkSize
		end := start + UploadChunkSize
		if end > len(body) {
			end = len(body)
		}

		if err := c.uploadChunk(ctx, txID, chunk, body[start:end]); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunk+1, total, err)
		}

		if progress != nil {
			select {
			case progress <- Progress{
				Chunk:       chunk + 1,
				TotalChunks: total,
				Fraction:    float64(chunk+1) / float64(total),
			}:
			default:
			}
		}
	}

	c.log.Info("upload complete", "vault_id", payload.VaultID, "tx_id", txID, "chunks", total)
	return &UploadResult{TxID: txID}, nil
}

// createTx registers a new transaction and returns its id.
func (c *Client) createTx(ctx context.Context, vaultID string, size int) (string, error) {
	var lastErr error
	for _, gateway := range c.gateways {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/tx?size=%d", gateway, size), nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("X-App-Name", c.appName)
		req.Header.Set("X-Vault-Id", vaultID)

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || readErr != nil {
			lastErr = fmt.Errorf("gateway %s returned %d", gateway, resp.StatusCode)
			continue
		}

		id := string(bytes.TrimSpace(body))
		if !LooksLikeTxID(id) {
			lastErr = fmt.Errorf("gateway %s returned malformed transaction id %q", gateway, id)
			continue
		}
		return id, nil
	}
	return "", lastErr
}

func (c *Client) uploadChunk(ctx context.Context, txID string, chunk int, data []byte) error {
	var lastErr error
	backoff := uploadBaseBackoff
	for attempt := 0; attempt < uploadChunkAttempts; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying chunk upload",
				"tx_id", txID, "chunk", chunk, "attempt", attempt+1, "error", lastErr)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > uploadMaxBackoff {
				backoff = uploadMaxBackoff
			}
		}

		gateway := c.gateways[attempt%len(c.gateways)]
		err := c.postChunk(ctx, gateway, txID, chunk, data)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) postChunk(ctx context.Context, gateway, txID string, chunk int, data []byte) error {
	url := fmt.Sprintf("%s/tx/%s/chunk/%d", gateway, txID, chunk)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}
