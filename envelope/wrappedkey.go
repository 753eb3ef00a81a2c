package envelope

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

// WrappedKeySchema identifies the wrapped-key JSON shape.
const WrappedKeySchema = "wrapped-key-v1"

// WrappedKey is a key-sized secret encrypted under another key, typically
// the per-vault data key wrapped under an unlock key derived at access time.
type WrappedKey struct {
	Schema     string `json:"schema"`
	V          int    `json:"v"`
	Alg        string `json:"alg"`
	IV         string `json:"iv"`
	Checksum   string `json:"checksum"`
	CipherText string `json:"cipherText"`
}

// WrapKey encrypts dataKey under wrappingKey.
func WrapKey(dataKey, wrappingKey []byte) (*WrappedKey, error) {
	if len(dataKey) != util.AESKeySize {
		return nil, fmt.Errorf("%w: data key must be %d bytes", fault.ErrFormat, util.AESKeySize)
	}

	sealed, err := util.EncryptAES(dataKey, wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrFormat, err)
	}
	iv, cipherText := sealed[:util.GCMNonceSize], sealed[util.GCMNonceSize:]
	sum := sha256.Sum256(cipherText)

	return &WrappedKey{
		Schema:     WrappedKeySchema,
		V:          1,
		Alg:        "AEAD",
		IV:         util.Base64Encode(iv),
		Checksum:   util.HexEncode(sum[:]),
		CipherText: util.Base64Encode(cipherText),
	}, nil
}

// UnwrapKey recovers the wrapped key material using wrappingKey.
func UnwrapKey(wk *WrappedKey, wrappingKey []byte) ([]byte, error) {
	if wk == nil {
		return nil, fmt.Errorf("%w: nil wrapped key", fault.ErrFormat)
	}
	if wk.Schema != WrappedKeySchema || wk.V != 1 {
		return nil, fmt.Errorf("%w: unsupported wrapped key schema %q v%d", fault.ErrFormat, wk.Schema, wk.V)
	}

	payload := &EncryptedPayload{
		CipherText:           wk.CipherText,
		InitializationVector: wk.IV,
		IntegrityChecksum:    wk.Checksum,
	}
	dataKey, err := Decrypt(payload, wrappingKey)
	if err != nil {
		return nil, err
	}
	if len(dataKey) != util.AESKeySize {
		util.WipeBytes(dataKey)
		return nil, fmt.Errorf("%w: unwrapped key has unexpected length", fault.ErrIntegrity)
	}
	return dataKey, nil
}

// ParseWrappedKey decodes the wrapped-key JSON document.
func ParseWrappedKey(data []byte) (*WrappedKey, error) {
	var wk WrappedKey
	if err := json.Unmarshal(data, &wk); err != nil {
		return nil, fmt.Errorf("%w: parsing wrapped key: %v", fault.ErrFormat, err)
	}
	if wk.Schema != WrappedKeySchema {
		return nil, fmt.Errorf("%w: unknown wrapped key schema %q", fault.ErrFormat, wk.Schema)
	}
	return &wk, nil
}
