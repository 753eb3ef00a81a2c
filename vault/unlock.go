package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"

	"github.com/keyfort/keyfort/arweave"
	"github.com/keyfort/keyfort/envelope"
	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
	"github.com/keyfort/keyfort/keyderive"
	"github.com/keyfort/keyfort/policy"
	"github.com/keyfort/keyfort/shamir"
	"github.com/keyfort/keyfort/timelock"
)

// Unlock runs one unlock attempt through the full decision ladder:
// resolve the authoritative payload, evaluate the unlock policy, check the
// time-lock release state, then derive keys. Legacy hybrid payloads are
// decrypted server-side; envelope payloads are returned as ciphertext with
// the release context the client needs to decrypt locally.
//
// Resolution failures propagate as errors (fault.ErrPending,
// fault.ErrNotFound); every policy and release condition is expressed in
// the result status.
func (s *Service) Unlock(ctx context.Context, req UnlockRequest) (*UnlockResult, error) {
	if req.VaultID == "" {
		return nil, fmt.Errorf("%w: vault id is required", fault.ErrFormat)
	}

	res, err := s.resolver.Resolve(ctx, req.VaultID, req.StorageTxHint)
	if err != nil {
		return nil, err
	}

	var entries []policy.QuestionEntry
	if s.questions != nil {
		entries, err = s.questions.Questions(ctx, req.VaultID)
		if err != nil {
			return nil, fmt.Errorf("loading security questions: %w", err)
		}
	}

	decision, err := s.engine.Evaluate(policy.Request{
		VaultID:    req.VaultID,
		Origin:     req.Origin,
		LatestTxID: res.TxID,
		ClaimNonce: req.ClaimNonce,
		Answers:    req.SecurityQuestionAnswers,
	}, entries)
	if err != nil {
		return nil, err
	}

	if decision.Status != policy.StatusSatisfied {
		s.log.Info("unlock denied by policy",
			"vault_id", req.VaultID, "origin", req.Origin, "status", decision.Status.String())
		return policyResult(res.TxID, decision), nil
	}

	if res.Payload.Data.KeyMode == envelope.KeyModePQC {
		return s.unlockLegacy(req, res)
	}
	return s.unlockEnvelope(ctx, req, res)
}

func policyResult(txID string, d *policy.Decision) *UnlockResult {
	result := &UnlockResult{
		TxID:            txID,
		ClaimNonce:      d.ClaimNonce,
		RequiredIndexes: d.RequiredIndexes,
		RetryAfter:      d.RetryAfter,
	}
	switch d.Status {
	case policy.StatusRateLimited:
		result.Status = StatusRateLimited
	case policy.StatusClaimNonceInvalid:
		result.Status = StatusClaimNonceInvalid
	case policy.StatusAnswersIncorrect:
		result.Status = StatusAnswersIncorrect
		result.IncorrectIndexes = d.IncorrectIndexes
	default:
		result.Status = StatusAnswersRequired
	}
	return result
}

// unlockLegacy reconstructs the share secret, decapsulates the payload's
// KEM ciphertext and decrypts server-side.
func (s *Service) unlockLegacy(req UnlockRequest, res *arweave.Resolution) (*UnlockResult, error) {
	if len(req.FractionKeys) < MinFractionKeys {
		return nil, fmt.Errorf("%w: hybrid unlock requires at least %d fraction keys", fault.ErrFormat, MinFractionKeys)
	}

	secret, err := shamir.Combine(req.FractionKeys)
	if err != nil {
		return nil, err
	}
	// The reconstructed secret lives in locked memory for the rest of the
	// derivation and is destroyed on return.
	secretBuf := memguard.NewBufferFromBytes(secret)
	defer secretBuf.Destroy()

	kemCT, err := util.Base64Decode(res.Payload.Data.KEMCipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding KEM ciphertext: %v", fault.ErrFormat, err)
	}

	key, err := keyderive.PQCKey(kemCT, secretBuf.Bytes())
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plain, err := envelope.Decrypt(res.Payload.Data, key)
	if err != nil {
		// With the checksum already verified, a tag failure here means the
		// derived key is wrong. Which part of the derivation failed is
		// deliberately not leaked.
		if errors.Is(err, fault.ErrIntegrity) {
			return nil, fault.ErrKeyMismatch
		}
		return nil, err
	}

	s.log.Info("legacy hybrid payload decrypted", "vault_id", req.VaultID, "tx_id", res.TxID)
	return &UnlockResult{
		Status:    StatusDecrypted,
		TxID:      res.TxID,
		Plaintext: plain,
		Metadata:  res.Payload.Metadata,
	}, nil
}

// unlockEnvelope returns the ciphertext for client-side decryption, after
// checking the time-lock release state when a commitment source is
// configured.
func (s *Service) unlockEnvelope(ctx context.Context, req UnlockRequest, res *arweave.Resolution) (*UnlockResult, error) {
	result := &UnlockResult{
		Status:   StatusCiphertext,
		TxID:     res.TxID,
		Payload:  res.Payload.Data,
		Metadata: res.Payload.Metadata,
	}

	if s.commitments == nil {
		return result, nil
	}

	// The commitment must anchor these exact ciphertext bytes; a record
	// registered under the vault id but pointing elsewhere is no release
	// authority for this payload.
	ctBytes, err := util.Base64Decode(res.Payload.Data.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding ciphertext: %v", fault.ErrFormat, err)
	}
	payloadHash := timelock.DataHash(ctBytes)

	record, err := s.commitments.Commitment(ctx, req.VaultID, payloadHash)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		// Not anchored on any chain; no timed release applies.
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("checking release state: %w", err)
	}

	if record.DataHash != (common.Hash{}) && record.DataHash != payloadHash {
		s.log.Warn("commitment record does not match resolved payload",
			"vault_id", req.VaultID, "record_hash", record.DataHash, "payload_hash", payloadHash)
		return result, nil
	}

	if !record.Released() {
		s.log.Info("release not yet due",
			"vault_id", req.VaultID,
			"release_date", record.ReleaseDate,
			"time_eligible", record.TimeEligible(s.now()))
		return &UnlockResult{
			Status:          StatusReleaseNotDue,
			TxID:            res.TxID,
			ReleaseDate:     record.ReleaseDate,
			ChainID:         record.ChainID,
			ContractAddress: record.ContractAddress.Hex(),
		}, nil
	}

	result.ReleaseDate = record.ReleaseDate
	result.ReleaseEntropy = record.ReleaseEntropy.Bytes()
	result.ChainID = record.ChainID
	result.ContractAddress = record.ContractAddress.Hex()
	return result, nil
}
