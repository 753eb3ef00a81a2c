package vault

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyfort/keyfort/envelope"
	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/policy"
)

// NewVaultID generates an opaque vault id for owners that do not bring
// their own.
func NewVaultID() string {
	return uuid.NewString()
}

// MinFractionKeys is the minimum number of fraction keys an unlock request
// must carry for the legacy hybrid mode.
const MinFractionKeys = 3

// Vault is the caller-visible record. Vaults are never deleted, only
// superseded by a new payload version under the same id.
type Vault struct {
	ID               string
	EncryptedPayload *envelope.EncryptedPayload
	// Metadata is the encrypted metadata string ("v3:...").
	Metadata   string
	LatestTxID string
}

// UnlockRequest carries everything a transport layer collected for one
// unlock attempt.
type UnlockRequest struct {
	VaultID string
	// StorageTxHint is the caller's last known transaction, if any.
	StorageTxHint string
	// FractionKeys reconstruct the share secret. The legacy hybrid mode
	// requires at least MinFractionKeys of them.
	FractionKeys            []string
	SecurityQuestionAnswers []policy.Answer
	ClaimNonce              string
	Origin                  string
}

// UnlockStatus enumerates the unlock response conditions a transport layer
// must map.
type UnlockStatus int

const (
	// StatusCiphertext: success; the caller decrypts client-side using its
	// reconstructed shares and the returned release context.
	StatusCiphertext UnlockStatus = iota
	// StatusDecrypted: success; a legacy hybrid payload was decrypted
	// server-side.
	StatusDecrypted
	// StatusAnswersRequired: security answers are demanded but none were
	// provided.
	StatusAnswersRequired
	// StatusAnswersIncorrect: the provided answers did not satisfy the
	// unlock policy.
	StatusAnswersIncorrect
	// StatusClaimNonceInvalid: the echoed claim nonce is stale.
	StatusClaimNonceInvalid
	// StatusRateLimited: attempts for this vault and origin are locked.
	StatusRateLimited
	// StatusReleaseNotDue: the vault is time-locked and its release entropy
	// has not been published yet.
	StatusReleaseNotDue
)

func (s UnlockStatus) String() string {
	switch s {
	case StatusCiphertext:
		return "ciphertext"
	case StatusDecrypted:
		return "decrypted"
	case StatusAnswersRequired:
		return "answers-required"
	case StatusAnswersIncorrect:
		return "answers-incorrect"
	case StatusClaimNonceInvalid:
		return "claim-nonce-invalid"
	case StatusRateLimited:
		return "rate-limited"
	case StatusReleaseNotDue:
		return "release-not-due"
	default:
		return "unknown"
	}
}

// UnlockResult is the outcome of one unlock attempt. Which fields are
// populated depends on Status.
type UnlockResult struct {
	Status UnlockStatus
	TxID   string

	// Payload and Metadata are set on StatusCiphertext.
	Payload  *envelope.EncryptedPayload
	Metadata string

	// Plaintext is set on StatusDecrypted only.
	Plaintext []byte

	// Question-flow fields.
	ClaimNonce       string
	RequiredIndexes  []int
	IncorrectIndexes []int
	RetryAfter       time.Duration

	// Release context, set on StatusCiphertext for released time-locked
	// vaults and on StatusReleaseNotDue.
	ReleaseDate     time.Time
	ReleaseEntropy  []byte
	ChainID         uint64
	ContractAddress string
}

// Err maps a non-success status onto the shared error taxonomy, for
// callers that prefer errors over status inspection.
func (r *UnlockResult) Err() error {
	switch r.Status {
	case StatusCiphertext, StatusDecrypted:
		return nil
	case StatusAnswersRequired:
		return fault.ErrAnswersRequired
	case StatusAnswersIncorrect:
		return &fault.PolicyDeniedError{IncorrectIndexes: r.IncorrectIndexes}
	case StatusClaimNonceInvalid:
		return fault.ErrClaimNonceInvalid
	case StatusRateLimited:
		return &fault.RateLimitedError{RetryAfter: r.RetryAfter}
	case StatusReleaseNotDue:
		return fault.ErrPending
	default:
		return fault.ErrNotFound
	}
}
