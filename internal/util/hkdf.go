package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF derives n bytes from seed with SHA-256.
func HKDF(seed, salt, info []byte, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, n)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
