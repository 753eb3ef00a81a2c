// Package vault orchestrates the unlock flow: authoritative payload
// resolution, policy evaluation, release checks and key derivation, tied
// together into one decision ladder.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/keyfort/keyfort/arweave"
	"github.com/keyfort/keyfort/policy"
	"github.com/keyfort/keyfort/timelock"
)

// Resolver finds the authoritative payload version for a vault id.
// *arweave.Client satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, vaultID, lastKnownTx string) (*arweave.Resolution, error)
}

// QuestionStore supplies the stored security question entries for a vault.
type QuestionStore interface {
	Questions(ctx context.Context, vaultID string) ([]policy.QuestionEntry, error)
}

// CommitmentSource looks up the on-chain commitment record anchoring a
// vault, if any. payloadHash is the content hash of the resolved
// ciphertext; only a record matching it counts.
type CommitmentSource interface {
	Commitment(ctx context.Context, vaultID string, payloadHash common.Hash) (*timelock.ChainCommitmentRecord, error)
}

// Service runs unlock attempts.
type Service struct {
	resolver    Resolver
	engine      *policy.Engine
	questions   QuestionStore
	commitments CommitmentSource
	log         *slog.Logger
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithQuestionStore enables security-question verification. Without one,
// vaults unlock on shares alone.
func WithQuestionStore(store QuestionStore) ServiceOption {
	return func(s *Service) {
		s.questions = store
	}
}

// WithCommitmentSource enables time-lock release checks against the chain
// registry.
func WithCommitmentSource(source CommitmentSource) ServiceOption {
	return func(s *Service) {
		s.commitments = source
	}
}

// WithServiceLogger sets the structured logger. Default: slog.Default().
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithServiceClock sets the clock used for release-date checks.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds a Service around a resolver and a policy engine.
func NewService(resolver Resolver, engine *policy.Engine, opts ...ServiceOption) (*Service, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver must not be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("policy engine must not be nil")
	}
	s := &Service{
		resolver: resolver,
		engine:   engine,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DiscoveryCommitmentSource adapts chain discovery to the CommitmentSource
// interface: it derives the registry lookup key from the vault id and
// probes the configured candidates.
type DiscoveryCommitmentSource struct {
	Discoverer *timelock.Discoverer
	Candidates []timelock.Candidate
}

func (d *DiscoveryCommitmentSource) Commitment(ctx context.Context, vaultID string, payloadHash common.Hash) (*timelock.ChainCommitmentRecord, error) {
	match, err := d.Discoverer.Discover(ctx, d.Candidates, timelock.ContractDataID(vaultID), payloadHash)
	if err != nil {
		return nil, err
	}
	return match.Record, nil
}
