// Package envelope implements authenticated payload encryption and key
// wrapping for vault contents.
//
// New ciphertexts always use AES-256-GCM and record the algorithm
// explicitly. For older payloads the IV length selects the cipher: 12 bytes
// means the authenticated stream mode, 16 bytes the legacy CBC block mode.
package envelope

import (
	"crypto/sha256"
	"fmt"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

// Key modes for EncryptedPayload.
const (
	// KeyModePQC marks legacy hybrid payloads whose data key comes from an
	// ML-KEM decapsulation. KEMCipherText must be present.
	KeyModePQC = "pqc"
	// KeyModeEnvelope marks payloads whose data key is recovered via a
	// WrappedKey, never embedded in the payload itself.
	KeyModeEnvelope = "envelope"
)

const (
	// AlgorithmGCM is recorded on all newly produced ciphertexts.
	AlgorithmGCM = "aes-256-gcm"
	// AlgorithmCBC appears only on payloads written before the
	// authenticated mode became the default.
	AlgorithmCBC = "aes-256-cbc"
)

// EncryptedPayload is the at-rest shape of a vault payload.
//
// IntegrityChecksum is a SHA-256 of the raw ciphertext. It detects
// tampering and corruption independently of the AEAD tag, which matters for
// the legacy CBC mode that has no tag at all.
type EncryptedPayload struct {
	CipherText           string `json:"cipherText"`
	InitializationVector string `json:"initializationVector"`
	IntegrityChecksum    string `json:"integrityChecksum"`
	KEMCipherText        string `json:"kemCipherText,omitempty"`
	Algorithm            string `json:"algorithm,omitempty"`
	KeyMode              string `json:"keyMode,omitempty"`
}

// Validate checks the structural invariants that must hold before any
// cryptographic work is attempted.
func (p *EncryptedPayload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", fault.ErrFormat)
	}
	if p.CipherText == "" || p.InitializationVector == "" {
		return fmt.Errorf("%w: payload missing ciphertext or IV", fault.ErrFormat)
	}
	if p.KeyMode == KeyModePQC && p.KEMCipherText == "" {
		return fmt.Errorf("%w: pqc payload without KEM ciphertext", fault.ErrFormat)
	}
	return nil
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh IV.
func Encrypt(plainText, key []byte) (*EncryptedPayload, error) {
	sealed, err := util.EncryptAES(plainText, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrFormat, err)
	}
	iv, cipherText := sealed[:util.GCMNonceSize], sealed[util.GCMNonceSize:]

	sum := sha256.Sum256(cipherText)
	return &EncryptedPayload{
		CipherText:           util.Base64Encode(cipherText),
		InitializationVector: util.Base64Encode(iv),
		IntegrityChecksum:    util.HexEncode(sum[:]),
		Algorithm:            AlgorithmGCM,
		KeyMode:              KeyModeEnvelope,
	}, nil
}

// Decrypt opens an EncryptedPayload with key. The checksum is verified
// before any cipher work; a checksum or tag mismatch surfaces as
// fault.ErrIntegrity, malformed fields as fault.ErrFormat.
func Decrypt(p *EncryptedPayload, key []byte) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cipherText, err := util.Base64Decode(p.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ciphertext: %v", fault.ErrFormat, err)
	}
	iv, err := util.Base64Decode(p.InitializationVector)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding IV: %v", fault.ErrFormat, err)
	}

	if p.IntegrityChecksum != "" {
		want, err := util.HexDecode(p.IntegrityChecksum)
		if err != nil || len(want) != sha256.Size {
			return nil, fmt.Errorf("%w: malformed integrity checksum", fault.ErrFormat)
		}
		got := sha256.Sum256(cipherText)
		if string(want) != string(got[:]) {
			return nil, fmt.Errorf("%w: ciphertext checksum mismatch", fault.ErrIntegrity)
		}
	}

	var plain []byte
	switch len(iv) {
	case util.GCMNonceSize:
		plain, err = util.DecryptAESGCM(cipherText, iv, key, nil)
	case util.CBCIVSize:
		plain, err = util.DecryptAESCBC(cipherText, iv, key)
	default:
		return nil, fmt.Errorf("%w: unsupported IV length %d", fault.ErrFormat, len(iv))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrIntegrity, err)
	}
	return plain, nil
}
