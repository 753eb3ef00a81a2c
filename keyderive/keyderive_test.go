package keyderive

import (
	"bytes"
	"crypto/mlkem"
	"errors"
	"testing"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

func TestUnlockKey_Deterministic(t *testing.T) {
	secret := []byte("reconstructed share secret")
	entropy := []byte{0x01, 0x02, 0x03}

	a := UnlockKey(secret, entropy, 1, "0xAbC")
	b := UnlockKey(secret, entropy, 1, "0xabc")
	if !bytes.Equal(a, b) {
		t.Fatal("unlock key must be case-insensitive on the contract address")
	}
	if len(a) != UnlockKeySize {
		t.Fatalf("key length = %d, want %d", len(a), UnlockKeySize)
	}
}

func TestUnlockKey_BindsContext(t *testing.T) {
	secret := []byte("reconstructed share secret")
	entropy := []byte{0x01, 0x02, 0x03}
	base := UnlockKey(secret, entropy, 1, "0xabc")

	if bytes.Equal(base, UnlockKey(secret, []byte{0xff}, 1, "0xabc")) {
		t.Fatal("different entropy must change the key")
	}
	if bytes.Equal(base, UnlockKey(secret, entropy, 137, "0xabc")) {
		t.Fatal("different chain id must change the key")
	}
	if bytes.Equal(base, UnlockKey(secret, entropy, 1, "0xdef")) {
		t.Fatal("different contract must change the key")
	}
	if bytes.Equal(base, UnlockKey([]byte("other"), entropy, 1, "0xabc")) {
		t.Fatal("different secret must change the key")
	}
}

func TestPQCKey_RoundTrip(t *testing.T) {
	// The share secret doubles as the ML-KEM seed; shorter secrets are
	// expanded internally, so exercise both paths.
	for _, secretLen := range []int{mlkem.SeedSize, 32} {
		secret := bytes.Repeat([]byte{0x42}, secretLen)

		// Build the encapsulation the way the registering client does.
		seed := secret
		if secretLen != mlkem.SeedSize {
			var err error
			seed, err = expandSeedForTest(secret)
			if err != nil {
				t.Fatalf("expanding seed: %v", err)
			}
		}
		dk, err := mlkem.NewDecapsulationKey768(seed)
		if err != nil {
			t.Fatalf("NewDecapsulationKey768 failed: %v", err)
		}
		sharedSecret, kemCT := dk.EncapsulationKey().Encapsulate()

		got, err := PQCKey(kemCT, secret)
		if err != nil {
			t.Fatalf("PQCKey failed: %v", err)
		}
		if !bytes.Equal(got, sharedSecret[:32]) {
			t.Fatalf("secretLen=%d: derived key differs from encapsulated secret", secretLen)
		}
	}
}

func TestPQCKey_WrongSecretIsGeneric(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	seed, err := expandSeedForTest(secret)
	if err != nil {
		t.Fatalf("expanding seed: %v", err)
	}
	dk, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		t.Fatalf("NewDecapsulationKey768 failed: %v", err)
	}
	sharedSecret, kemCT := dk.EncapsulationKey().Encapsulate()

	// ML-KEM decapsulation with the wrong key does not error, it yields an
	// implicit-rejection secret. The derived key simply won't match.
	got, err := PQCKey(kemCT, bytes.Repeat([]byte{0x41}, 32))
	if err != nil {
		t.Fatalf("PQCKey failed: %v", err)
	}
	if bytes.Equal(got, sharedSecret[:32]) {
		t.Fatal("wrong share secret produced the right key")
	}

	// Structural failures all collapse into the generic mismatch error.
	if _, err := PQCKey(nil, secret); !errors.Is(err, fault.ErrKeyMismatch) {
		t.Fatalf("empty ciphertext: error = %v, want fault.ErrKeyMismatch", err)
	}
	if _, err := PQCKey([]byte{0x01}, secret); !errors.Is(err, fault.ErrKeyMismatch) {
		t.Fatalf("truncated ciphertext: error = %v, want fault.ErrKeyMismatch", err)
	}
	if _, err := PQCKey(kemCT, nil); !errors.Is(err, fault.ErrKeyMismatch) {
		t.Fatalf("empty secret: error = %v, want fault.ErrKeyMismatch", err)
	}
}

func TestKEMCiphertextSize(t *testing.T) {
	if err := KEMCiphertextSize(make([]byte, mlkem.CiphertextSize768)); err != nil {
		t.Fatalf("valid size rejected: %v", err)
	}
	if err := KEMCiphertextSize(make([]byte, 17)); !errors.Is(err, fault.ErrFormat) {
		t.Fatalf("error = %v, want fault.ErrFormat", err)
	}
}

func expandSeedForTest(secret []byte) ([]byte, error) {
	return util.HKDF(secret, nil, []byte(kemSeedInfo), mlkem.SeedSize)
}
