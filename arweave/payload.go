package arweave

import (
	"encoding/json"
	"fmt"

	"github.com/keyfort/keyfort/envelope"
	"github.com/keyfort/keyfort/fault"
)

// StoredPayload is the normalized form of a payload transaction's body.
type StoredPayload struct {
	VaultID string
	// Metadata is the encrypted metadata string ("v3:..."). For legacy
	// transactions that stored a metadata object it holds the raw JSON.
	Metadata string
	Data     *envelope.EncryptedPayload
}

// compactPayload is the current wire shape.
type compactPayload struct {
	ID string                     `json:"id"`
	V  int                        `json:"v"`
	T  string                     `json:"t"`
	M  string                     `json:"m"`
	D  *envelope.EncryptedPayload `json:"d"`
}

// legacyPayload is the verbose shape written by early clients.
type legacyPayload struct {
	VaultID       string                     `json:"vaultId"`
	EncryptedData *envelope.EncryptedPayload `json:"encryptedData"`
	Metadata      json.RawMessage            `json:"metadata"`
}

// ParseStoredPayload decodes a transaction body as either the compact or
// the legacy shape. Anything matching neither is rejected.
func ParseStoredPayload(raw []byte) (*StoredPayload, error) {
	var compact compactPayload
	if err := json.Unmarshal(raw, &compact); err == nil && compact.ID != "" && compact.D != nil {
		if err := compact.D.Validate(); err != nil {
			return nil, err
		}
		return &StoredPayload{
			VaultID:  compact.ID,
			Metadata: compact.M,
			Data:     compact.D,
		}, nil
	}

	var legacy legacyPayload
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.VaultID != "" && legacy.EncryptedData != nil {
		if err := legacy.EncryptedData.Validate(); err != nil {
			return nil, err
		}
		meta := ""
		if len(legacy.Metadata) > 0 {
			var s string
			if err := json.Unmarshal(legacy.Metadata, &s); err == nil {
				meta = s
			} else {
				meta = string(legacy.Metadata)
			}
		}
		return &StoredPayload{
			VaultID:  legacy.VaultID,
			Metadata: meta,
			Data:     legacy.EncryptedData,
		}, nil
	}

	return nil, fmt.Errorf("%w: transaction body matches neither payload shape", fault.ErrFormat)
}

// EncodeStoredPayload renders the compact wire shape for upload.
func EncodeStoredPayload(p *StoredPayload) ([]byte, error) {
	if p.VaultID == "" || p.Data == nil {
		return nil, fmt.Errorf("%w: payload needs a vault id and data", fault.ErrFormat)
	}
	if err := p.Data.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(compactPayload{
		ID: p.VaultID,
		V:  1,
		T:  "d",
		M:  p.Metadata,
		D:  p.Data,
	})
}
