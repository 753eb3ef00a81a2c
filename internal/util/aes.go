package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	// GCMNonceSize is the IV length for the authenticated stream mode.
	GCMNonceSize = 12
	// CBCIVSize is the IV length for the legacy block mode.
	CBCIVSize = 16
)

func EncryptAES(plainText, rawKey []byte) ([]byte, error) {
	return EncryptAESWithAAD(plainText, rawKey, nil)
}

// EncryptAESWithAAD encrypts with AES-256-GCM and returns nonce || ciphertext.
func EncryptAESWithAAD(plainText, rawKey, aad []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	cipherText := gcm.Seal(nonce, nonce, plainText, aad)

	return cipherText, nil
}

// DecryptAESWithAAD decrypts a nonce || ciphertext buffer produced by
// EncryptAESWithAAD.
func DecryptAESWithAAD(cipherText, rawKey, aad []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	if len(cipherText) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}

	nonce, cipherText := cipherText[:gcm.NonceSize()], cipherText[gcm.NonceSize():]

	plainText, err := gcm.Open(nil, nonce, cipherText, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}

	return plainText, nil
}

// DecryptAESGCM decrypts with an explicit nonce. The ciphertext must carry
// the authentication tag as its final 16 bytes.
func DecryptAESGCM(cipherText, nonce, rawKey, aad []byte) ([]byte, error) {
	if len(nonce) != GCMNonceSize {
		return nil, fmt.Errorf("invalid GCM nonce size: got %d, want %d", len(nonce), GCMNonceSize)
	}
	full := make([]byte, 0, len(nonce)+len(cipherText))
	full = append(full, nonce...)
	full = append(full, cipherText...)
	return DecryptAESWithAAD(full, rawKey, aad)
}

// DecryptAESCBC decrypts legacy AES-256-CBC ciphertexts with PKCS#7 padding.
// Only retained for payloads written before the authenticated mode became
// the default; new ciphertexts never use it.
func DecryptAESCBC(cipherText, iv, rawKey []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	if len(iv) != CBCIVSize {
		return nil, fmt.Errorf("invalid CBC IV size: got %d, want %d", len(iv), CBCIVSize)
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("CBC ciphertext length %d is not a positive multiple of the block size", len(cipherText))
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, cipherText)

	return stripPKCS7(plain)
}

func stripPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return nil, fmt.Errorf("invalid PKCS#7 padding")
	}
	if !bytes.Equal(b[len(b)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, fmt.Errorf("invalid PKCS#7 padding")
	}
	return b[:len(b)-pad], nil
}

func NewAESKey() ([]byte, error) {
	rawKey, err := RandomBytes(AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
