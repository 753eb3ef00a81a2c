// Package keyderive turns reconstructed share secrets into effective
// decryption keys.
//
// Two mutually exclusive modes exist. Legacy hybrid payloads decapsulate an
// ML-KEM-768 ciphertext with a key pair seeded from the share secret. The
// current envelope mode stretches the share secret with a password-grade KDF
// bound to the time-released entropy and the anchoring chain and contract,
// so holding the shares alone is never sufficient.
package keyderive

import (
	"crypto/mlkem"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

const (
	// UnlockKeyIterations is the PBKDF2 iteration count for the envelope
	// mode unlock key.
	UnlockKeyIterations = 210_000
	// UnlockKeySize is the derived unlock key length.
	UnlockKeySize = 32

	unlockSaltPrefix = "keyfort:unlock:v1"
	kemSeedInfo      = "keyfort:mlkem-seed:v1"
)

// PQCKey derives the effective AEAD key for a legacy hybrid payload by
// decapsulating kemCipherText with a key pair seeded from shareSecret.
//
// Every failure surfaces as the single generic fault.ErrKeyMismatch; which
// part of the derivation failed is deliberately not leaked.
func PQCKey(kemCipherText, shareSecret []byte) ([]byte, error) {
	if len(kemCipherText) == 0 || len(shareSecret) == 0 {
		return nil, fault.ErrKeyMismatch
	}

	seed, err := kemSeed(shareSecret)
	if err != nil {
		return nil, fault.ErrKeyMismatch
	}
	defer util.WipeBytes(seed)

	dk, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		return nil, fault.ErrKeyMismatch
	}
	sharedSecret, err := dk.Decapsulate(kemCipherText)
	if err != nil {
		return nil, fault.ErrKeyMismatch
	}

	key := util.CopyBytes(sharedSecret[:util.AESKeySize])
	util.WipeBytes(sharedSecret)
	return key, nil
}

// PQCEncapsulate produces a KEM ciphertext and the effective AEAD key for
// a share secret. This is the vault-creation side of the legacy hybrid
// mode; PQCKey recovers the same key from the ciphertext at unlock time.
func PQCEncapsulate(shareSecret []byte) (kemCipherText, key []byte, err error) {
	if len(shareSecret) == 0 {
		return nil, nil, fmt.Errorf("%w: empty share secret", fault.ErrFormat)
	}
	seed, err := kemSeed(shareSecret)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(seed)

	dk, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		return nil, nil, err
	}
	sharedSecret, ct := dk.EncapsulationKey().Encapsulate()

	key = util.CopyBytes(sharedSecret[:util.AESKeySize])
	util.WipeBytes(sharedSecret)
	return ct, key, nil
}

// kemSeed expands a share secret into an ML-KEM-768 seed unless it already
// is one.
func kemSeed(shareSecret []byte) ([]byte, error) {
	if len(shareSecret) == mlkem.SeedSize {
		return util.CopyBytes(shareSecret), nil
	}
	return util.HKDF(shareSecret, nil, []byte(kemSeedInfo), mlkem.SeedSize)
}

// UnlockKey derives the envelope-mode unlock key from a reconstructed share
// secret and the release binding context. The salt folds in the released
// entropy, the chain id and the contract address, so a derived key cannot be
// replayed across chains or ahead of release.
func UnlockKey(shareSecret, releaseEntropy []byte, chainID uint64, contractAddress string) []byte {
	salt := unlockSalt(releaseEntropy, chainID, contractAddress)
	return pbkdf2.Key(shareSecret, salt, UnlockKeyIterations, UnlockKeySize, sha256.New)
}

func unlockSalt(releaseEntropy []byte, chainID uint64, contractAddress string) []byte {
	var b strings.Builder
	b.WriteString(unlockSaltPrefix)
	b.WriteByte('|')
	b.WriteString(util.HexEncode(releaseEntropy))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(chainID, 10))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(contractAddress))
	return []byte(b.String())
}

// KEMCiphertextSize validates an encoded KEM ciphertext length for
// ML-KEM-768 before attempting decapsulation.
func KEMCiphertextSize(ct []byte) error {
	if len(ct) != mlkem.CiphertextSize768 {
		return fmt.Errorf("%w: KEM ciphertext must be %d bytes, got %d", fault.ErrFormat, mlkem.CiphertextSize768, len(ct))
	}
	return nil
}
