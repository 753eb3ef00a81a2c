package vault

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

// Encrypted metadata wire format: "v3:" + base64(iv[12] || tag[16] || ct),
// AEAD-bound to the vault id so a metadata blob cannot be grafted onto a
// different vault.
const (
	metadataPrefix = "v3:"
	gcmTagSize     = 16
)

// EncryptMetadata seals a metadata map for storage alongside the payload.
func EncryptMetadata(metadata map[string]string, key []byte, vaultID string) (string, error) {
	plain, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("%w: encoding metadata: %v", fault.ErrFormat, err)
	}

	sealed, err := util.EncryptAESWithAAD(plain, key, []byte(vaultID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", fault.ErrFormat, err)
	}

	// EncryptAESWithAAD yields iv || ct || tag; the wire format wants the
	// tag between iv and ciphertext.
	iv := sealed[:util.GCMNonceSize]
	body := sealed[util.GCMNonceSize:]
	if len(body) < gcmTagSize {
		return "", fmt.Errorf("%w: sealed metadata too short", fault.ErrFormat)
	}
	ct, tag := body[:len(body)-gcmTagSize], body[len(body)-gcmTagSize:]

	out := make([]byte, 0, len(sealed))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return metadataPrefix + util.Base64Encode(out), nil
}

// DecryptMetadata opens an encrypted metadata string for a vault id.
func DecryptMetadata(encoded string, key []byte, vaultID string) (map[string]string, error) {
	if !strings.HasPrefix(encoded, metadataPrefix) {
		return nil, fmt.Errorf("%w: unsupported metadata version", fault.ErrFormat)
	}
	raw, err := util.Base64Decode(strings.TrimPrefix(encoded, metadataPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding metadata: %v", fault.ErrFormat, err)
	}
	if len(raw) < util.GCMNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: metadata too short", fault.ErrFormat)
	}

	iv := raw[:util.GCMNonceSize]
	tag := raw[util.GCMNonceSize : util.GCMNonceSize+gcmTagSize]
	ct := raw[util.GCMNonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(ct)+gcmTagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := util.DecryptAESGCM(sealed, iv, key, []byte(vaultID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrIntegrity, err)
	}

	var metadata map[string]string
	if err := json.Unmarshal(plain, &metadata); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata document: %v", fault.ErrFormat, err)
	}
	return metadata, nil
}
