package util

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD Unicode folding, used by the default answer
// normalization profile.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Base64URLEncode encodes without padding, the alphabet used for claim
// nonces and storage transaction ids.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
