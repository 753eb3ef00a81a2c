// Package policy implements the multi-factor unlock policy: claim nonces,
// deterministic required-question selection, answer verification and
// scoring, and per-vault-and-origin rate limiting.
package policy

import (
	"fmt"
	"time"
)

// Unlock policy v1. Global and immutable; not per-vault configurable.
const (
	PolicyVersion = 1
	// RequiredCorrect is the number of demanded answers that must verify.
	RequiredCorrect = 3
	// MinPoints is the minimum summed point weight of correct answers,
	// enforced only when every correct entry has a derivable point value.
	MinPoints = 50
)

// Status is the outcome of one policy evaluation.
type Status int

const (
	// StatusSatisfied: the caller may proceed to key derivation.
	StatusSatisfied Status = iota
	// StatusAnswersRequired: answers were required but none were provided.
	StatusAnswersRequired
	// StatusAnswersIncorrect: answers were provided and did not satisfy
	// the policy.
	StatusAnswersIncorrect
	// StatusClaimNonceInvalid: the caller echoed a stale claim nonce; the
	// demanded subset it answered no longer applies.
	StatusClaimNonceInvalid
	// StatusRateLimited: the (vault, origin) pair is locked.
	StatusRateLimited
)

func (s Status) String() string {
	switch s {
	case StatusSatisfied:
		return "satisfied"
	case StatusAnswersRequired:
		return "answers-required"
	case StatusAnswersIncorrect:
		return "answers-incorrect"
	case StatusClaimNonceInvalid:
		return "claim-nonce-invalid"
	case StatusRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

// Answer is one candidate answer. Index below zero means the caller did not
// say which question it answers; such answers are mapped positionally onto
// the demanded indexes.
type Answer struct {
	Index  int
	Answer string
}

// Request is one unlock verification attempt.
type Request struct {
	VaultID    string
	Origin     string
	LatestTxID string
	// ClaimNonce is the nonce the caller was issued with its question
	// subset, echoed back. Empty on the first call.
	ClaimNonce string
	Answers    []Answer
}

// Decision is the evaluation outcome. ClaimNonce and RequiredIndexes are
// always populated (except when rate limited) so the caller can present the
// demanded questions.
type Decision struct {
	Status           Status
	ClaimNonce       string
	RequiredIndexes  []int
	IncorrectIndexes []int
	CorrectCount     int
	Points           int
	PointsEnforced   bool
	RetryAfter       time.Duration
}

// Engine evaluates unlock attempts against stored question entries.
type Engine struct {
	key     []byte
	limiter *Limiter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	store AttemptStore
	clock func() time.Time
}

// WithAttemptStore sets the rate-limit store. Default: in-memory.
func WithAttemptStore(store AttemptStore) Option {
	return func(o *engineOptions) {
		o.store = store
	}
}

// WithClock sets the limiter clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// NewEngine creates an Engine keyed with policyKey. The key must be kept
// server-side: claim nonces and required subsets are unpredictable only
// while it stays secret.
func NewEngine(policyKey []byte, opts ...Option) (*Engine, error) {
	if len(policyKey) == 0 {
		return nil, fmt.Errorf("policy key must not be empty")
	}
	options := engineOptions{store: NewMemoryStore()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Engine{
		key:     append([]byte(nil), policyKey...),
		limiter: NewLimiter(options.store, options.clock),
	}, nil
}

// ClaimNonce returns the deterministic nonce for a vault version.
func (e *Engine) ClaimNonce(vaultID, latestTxID string) string {
	return ComputeClaimNonce(e.key, vaultID, latestTxID)
}

// RequiredIndexes returns the demanded question subset for a claim nonce.
func (e *Engine) RequiredIndexes(claimNonce string, totalQuestions int) []int {
	return SelectRequiredIndexes(e.key, claimNonce, totalQuestions)
}

// Evaluate runs one attempt through the state machine:
// rate-limit check, claim-nonce check, answer scoring, policy thresholds.
// The returned error is reserved for store failures; policy outcomes are
// always expressed in the Decision.
func (e *Engine) Evaluate(req Request, entries []QuestionEntry) (*Decision, error) {
	blocked, retryAfter, err := e.limiter.Attempt(req.VaultID, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	if blocked {
		return &Decision{Status: StatusRateLimited, RetryAfter: retryAfter}, nil
	}

	nonce := e.ClaimNonce(req.VaultID, req.LatestTxID)
	required := e.RequiredIndexes(nonce, len(entries))

	if len(entries) == 0 {
		return &Decision{Status: StatusSatisfied, ClaimNonce: nonce}, nil
	}

	base := Decision{ClaimNonce: nonce, RequiredIndexes: required}

	if req.ClaimNonce != "" && req.ClaimNonce != nonce {
		d := base
		d.Status = StatusClaimNonceInvalid
		return &d, nil
	}

	if len(req.Answers) == 0 {
		d := base
		d.Status = StatusAnswersRequired
		return &d, nil
	}

	byIndex := answersByIndex(req.Answers, required)

	var (
		correct        []int
		incorrect      []int
		points         int
		pointsEnforced = true
	)
	for _, idx := range required {
		answer, ok := byIndex[idx]
		if !ok || !entries[idx].Matches(answer) {
			incorrect = append(incorrect, idx)
			continue
		}
		correct = append(correct, idx)
		if pts, ok := entries[idx].PointValue(); ok {
			points += pts
		} else {
			// A correct entry without a derivable weight disables the
			// point threshold; the count threshold still applies.
			pointsEnforced = false
		}
	}

	d := base
	d.CorrectCount = len(correct)
	d.Points = points
	d.PointsEnforced = pointsEnforced
	d.IncorrectIndexes = incorrect

	if len(correct) >= len(required) && (!pointsEnforced || points >= MinPoints) {
		d.Status = StatusSatisfied
		d.IncorrectIndexes = nil
		return &d, nil
	}
	d.Status = StatusAnswersIncorrect
	return &d, nil
}

// answersByIndex maps candidate answers onto question indexes. Explicit
// indexes win; unindexed answers fill the demanded indexes in order.
func answersByIndex(answers []Answer, required []int) map[int]string {
	byIndex := make(map[int]string, len(answers))
	var positional []string
	for _, a := range answers {
		if a.Index >= 0 {
			byIndex[a.Index] = a.Answer
		} else {
			positional = append(positional, a.Answer)
		}
	}
	pos := 0
	for _, idx := range required {
		if _, ok := byIndex[idx]; ok {
			continue
		}
		if pos >= len(positional) {
			break
		}
		byIndex[idx] = positional[pos]
		pos++
	}
	return byIndex
}
