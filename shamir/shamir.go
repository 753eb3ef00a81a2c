// Package shamir implements threshold secret sharing over GF(2^bits) along
// with the textual fraction-key encoding used to hand shares to humans.
//
// A split embeds a 4-byte SHA-256 prefix of the secret so that combining
// shares from different splits fails deterministically instead of silently
// returning garbage.
package shamir

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

var (
	// ErrInsufficientShares is returned when fewer shares than the split's
	// threshold are supplied to Combine.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrDuplicateShareID is returned when two supplied shares carry the
	// same share id.
	ErrDuplicateShareID = errors.New("duplicate share id")
	// ErrShareMismatch is returned when the supplied shares do not all come
	// from the same split.
	ErrShareMismatch = errors.New("shares are not from the same split")
)

// checksumLen is the number of SHA-256 prefix bytes sealed alongside the
// secret.
const checksumLen = 4

// Split divides secret into total fraction keys, any threshold of which
// reconstruct it. The field bit width is chosen as the smallest width >= 8
// whose id space fits total shares.
func Split(secret []byte, threshold, total int) ([]string, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", fault.ErrFormat)
	}
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2, got %d", fault.ErrFormat, threshold)
	}
	if threshold > total {
		return nil, fmt.Errorf("%w: threshold %d exceeds total shares %d", fault.ErrFormat, threshold, total)
	}

	bits, err := bitsForTotal(total)
	if err != nil {
		return nil, err
	}
	f := fieldFor(bits)

	ids, err := randomShareIDs(total, f.size)
	if err != nil {
		return nil, err
	}

	// The sealed block is the secret followed by a short checksum, so a
	// cross-split mixture is caught at reconstruction time.
	sum := sha256.Sum256(secret)
	block := make([]byte, 0, len(secret)+checksumLen)
	block = append(block, secret...)
	block = append(block, sum[:checksumLen]...)

	shares := make([]Share, total)
	for i := range shares {
		shares[i] = Share{
			Bits:      bits,
			ID:        ids[i],
			Threshold: threshold,
			Values:    make([]int, len(block)),
		}
	}

	coeffs := make([]int, threshold-1)
	for pos, b := range block {
		for i := range coeffs {
			c, err := util.RandomIntn(f.size)
			if err != nil {
				return nil, err
			}
			coeffs[i] = c
		}
		for s := range shares {
			shares[s].Values[pos] = f.eval(int(b), coeffs, shares[s].ID)
		}
	}

	keys := make([]string, total)
	for i := range shares {
		keys[i] = shares[i].Encode()
	}
	return keys, nil
}

// Combine reconstructs the secret from fraction keys. It succeeds with any
// threshold-sized subset of valid shares from one split and fails with a
// distinct error otherwise; a partial or corrupted secret is never returned.
func Combine(keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no shares provided", fault.ErrFormat)
	}

	shares := make([]Share, len(keys))
	for i, k := range keys {
		s, err := DecodeShare(k)
		if err != nil {
			return nil, err
		}
		shares[i] = s
	}

	first := shares[0]
	seen := make(map[int]bool, len(shares))
	for _, s := range shares {
		if s.Bits != first.Bits {
			return nil, fmt.Errorf("%w: bit width %d vs %d", ErrShareMismatch, s.Bits, first.Bits)
		}
		if s.Threshold != first.Threshold {
			return nil, fmt.Errorf("%w: threshold %d vs %d", ErrShareMismatch, s.Threshold, first.Threshold)
		}
		if len(s.Values) != len(first.Values) {
			return nil, fmt.Errorf("%w: payload length %d vs %d", ErrShareMismatch, len(s.Values), len(first.Values))
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateShareID, s.ID)
		}
		seen[s.ID] = true
	}
	if len(shares) < first.Threshold {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, first.Threshold, len(shares))
	}

	f := fieldFor(first.Bits)
	xs := make([]int, len(shares))
	for i, s := range shares {
		xs[i] = s.ID
	}

	block := make([]byte, len(first.Values))
	ys := make([]int, len(shares))
	for pos := range first.Values {
		for i, s := range shares {
			ys[i] = s.Values[pos]
		}
		v := f.interpolate(xs, ys)
		if v > 0xff {
			// A genuine split only seals byte values; anything wider means
			// the shares do not belong together.
			return nil, fmt.Errorf("%w: reconstructed element out of range", ErrShareMismatch)
		}
		block[pos] = byte(v)
	}

	if len(block) <= checksumLen {
		return nil, fmt.Errorf("%w: sealed block too short", ErrShareMismatch)
	}
	secret := block[:len(block)-checksumLen]
	sum := sha256.Sum256(secret)
	for i := 0; i < checksumLen; i++ {
		if block[len(secret)+i] != sum[i] {
			util.WipeBytes(block)
			return nil, fmt.Errorf("%w: checksum mismatch", ErrShareMismatch)
		}
	}
	return util.CopyBytes(secret), nil
}

func bitsForTotal(total int) (int, error) {
	for bits := 8; bits <= maxBits; bits++ {
		if total <= (1<<bits)-1 {
			return bits, nil
		}
	}
	return 0, fmt.Errorf("%w: total shares %d exceeds the %d-bit id space", fault.ErrFormat, total, maxBits)
}

func randomShareIDs(n, size int) ([]int, error) {
	ids := make([]int, 0, n)
	used := make(map[int]bool, n)
	for len(ids) < n {
		v, err := util.RandomIntn(size - 1)
		if err != nil {
			return nil, err
		}
		id := v + 1 // never zero: x=0 would leak the secret directly
		if used[id] {
			continue
		}
		used[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
