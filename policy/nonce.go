package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/keyfort/keyfort/internal/util"
)

// claimNonceLen is the truncated base64url length of a claim nonce.
const claimNonceLen = 43

// ComputeClaimNonce derives the deterministic nonce binding an unlock
// session to a specific vault version. It changes whenever the vault's
// authoritative transaction changes, so a subset selection cannot be
// replayed against a newer version.
func ComputeClaimNonce(policyKey []byte, vaultID, latestTxID string) string {
	mac := hmac.New(sha256.New, policyKey)
	mac.Write([]byte("claimNonce:v1:" + vaultID + ":" + latestTxID))
	nonce := util.Base64URLEncode(mac.Sum(nil))
	if len(nonce) > claimNonceLen {
		nonce = nonce[:claimNonceLen]
	}
	return nonce
}

// SelectRequiredIndexes picks the deterministic pseudorandom subset of
// question indexes demanded for this claim nonce: score every index with a
// keyed HMAC, order by digest, take the first min(3, total), and return
// them in ascending index order.
//
// Without the policy key the subset is unpredictable; with it, stable.
func SelectRequiredIndexes(policyKey []byte, claimNonce string, totalQuestions int) []int {
	if totalQuestions <= 0 {
		return nil
	}
	n := RequiredCorrect
	if totalQuestions < n {
		n = totalQuestions
	}

	type scored struct {
		index  int
		digest string
	}
	scoredIndexes := make([]scored, totalQuestions)
	for i := 0; i < totalQuestions; i++ {
		mac := hmac.New(sha256.New, policyKey)
		mac.Write([]byte("requiredIndexes:v1:" + claimNonce + ":" + strconv.Itoa(i)))
		scoredIndexes[i] = scored{index: i, digest: hex.EncodeToString(mac.Sum(nil))}
	}
	sort.Slice(scoredIndexes, func(a, b int) bool {
		return scoredIndexes[a].digest < scoredIndexes[b].digest
	})

	picked := make([]int, n)
	for i := 0; i < n; i++ {
		picked[i] = scoredIndexes[i].index
	}
	sort.Ints(picked)
	return picked
}
