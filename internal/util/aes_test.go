package util

import (
	"bytes"
	"testing"
)

func TestEncryptAESRoundTrip(t *testing.T) {
	key, err := NewAESKey()
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	if len(key) != AESKeySize {
		t.Fatalf("key length = %d, want %d", len(key), AESKeySize)
	}

	plain := []byte("sealed without associated data")
	sealed, err := EncryptAES(plain, key)
	if err != nil {
		t.Fatalf("EncryptAES: %v", err)
	}

	got, err := DecryptAESWithAAD(sealed, key, nil)
	if err != nil {
		t.Fatalf("DecryptAESWithAAD: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plain)
	}

	// The same sealed buffer must not open under associated data it was
	// never bound to.
	if _, err := DecryptAESWithAAD(sealed, key, []byte("vault-1")); err == nil {
		t.Fatal("expected decryption failure with foreign AAD")
	}
}

func TestNewAESKeyIsFresh(t *testing.T) {
	a, err := NewAESKey()
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	b, err := NewAESKey()
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two generated keys are identical")
	}
}
