// Package fault defines the shared error taxonomy for the keyfort core.
//
// Local, never-retried conditions (format, integrity, key mismatch, policy)
// are kept distinct from network-derived conditions (pending, not found) so
// transport layers can map them without string matching.
package fault

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrFormat indicates malformed input: a bad share encoding, an
	// unparseable payload, or invalid JSON. Never retryable.
	ErrFormat = errors.New("malformed input")

	// ErrIntegrity indicates a checksum or authentication tag mismatch.
	// The data was tampered with or corrupted. Never retryable.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrKeyMismatch indicates the supplied shares or KEM secret do not
	// match the payload. Deliberately generic: no detail about which part
	// of the derivation failed is ever attached.
	ErrKeyMismatch = errors.New("keys do not match")

	// ErrPending indicates the authoritative data exists but is not yet
	// retrievable. Callers may retry after a delay.
	ErrPending = errors.New("data not yet retrievable")

	// ErrNotFound indicates the requested vault or transaction does not
	// exist anywhere we know to look. Terminal.
	ErrNotFound = errors.New("not found")

	// ErrClaimNonceInvalid indicates the caller presented a claim nonce
	// that does not match the vault's current authoritative transaction.
	ErrClaimNonceInvalid = errors.New("claim nonce invalid")

	// ErrAnswersRequired indicates security answers were required but none
	// were provided. Distinct from wrong answers.
	ErrAnswersRequired = errors.New("security answers required")
)

// PolicyDeniedError reports that the supplied answers did not satisfy the
// unlock policy. IncorrectIndexes lists only indexes that were actually
// demanded of the caller.
type PolicyDeniedError struct {
	IncorrectIndexes []int
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("unlock policy not satisfied: %d incorrect answers", len(e.IncorrectIndexes))
}

// RateLimitedError reports that verification attempts for a vault and origin
// are locked, and for how long.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds returns the remaining lock duration in whole seconds,
// rounded up, never less than 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
