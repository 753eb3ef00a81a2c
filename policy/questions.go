package policy

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keyfort/keyfort/fault"
	"github.com/keyfort/keyfort/internal/util"
)

// NormalizationProfile governs how a candidate answer is canonicalized
// before hashing.
type NormalizationProfile string

const (
	// ProfileNone compares the answer exactly as typed.
	ProfileNone NormalizationProfile = "none"
	// ProfileDefault folds case, whitespace and Unicode compatibility
	// forms before hashing.
	ProfileDefault NormalizationProfile = "default"
)

// ScoreTier is the coarse point weighting attached to a question.
type ScoreTier string

const (
	TierLow    ScoreTier = "low"
	TierMedium ScoreTier = "medium"
	TierHigh   ScoreTier = "high"
)

var tierPoints = map[ScoreTier]int{
	TierLow:    10,
	TierMedium: 20,
	TierHigh:   30,
}

// QuestionEntry is the internal form of one stored security question: one
// or more accepted answer-hash variants plus scoring metadata.
//
// Two at-rest shapes exist. The legacy shape is a bare hash string with
// exact-match semantics and no score. The current shape is an object with
// hashes[], a normalization profile and points or a tier. Both are resolved
// into this one entry when decoded, so nothing downstream branches on field
// presence.
type QuestionEntry struct {
	Hashes               []string             `json:"hashes"`
	NormalizationProfile NormalizationProfile `json:"normalizationProfile"`
	Points               int                  `json:"points,omitempty"`
	ScoreTier            ScoreTier            `json:"scoreTier,omitempty"`
}

func (e *QuestionEntry) UnmarshalJSON(b []byte) error {
	// Legacy single-hash shape.
	var legacy string
	if err := json.Unmarshal(b, &legacy); err == nil {
		if legacy == "" {
			return fmt.Errorf("%w: empty answer hash", fault.ErrFormat)
		}
		e.Hashes = []string{legacy}
		e.NormalizationProfile = ProfileNone
		e.Points = 0
		e.ScoreTier = ""
		return nil
	}

	var obj struct {
		Hash                 string   `json:"hash"`
		Hashes               []string `json:"hashes"`
		NormalizationProfile string   `json:"normalizationProfile"`
		Points               int      `json:"points"`
		ScoreTier            string   `json:"scoreTier"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("%w: parsing question entry: %v", fault.ErrFormat, err)
	}

	hashes := obj.Hashes
	if len(hashes) == 0 && obj.Hash != "" {
		hashes = []string{obj.Hash}
	}
	if len(hashes) == 0 {
		return fmt.Errorf("%w: question entry has no answer hashes", fault.ErrFormat)
	}

	profile := NormalizationProfile(obj.NormalizationProfile)
	switch profile {
	case "":
		profile = ProfileDefault
	case ProfileNone, ProfileDefault:
	default:
		return fmt.Errorf("%w: unknown normalization profile %q", fault.ErrFormat, obj.NormalizationProfile)
	}

	tier := ScoreTier(obj.ScoreTier)
	if tier != "" {
		if _, ok := tierPoints[tier]; !ok {
			return fmt.Errorf("%w: unknown score tier %q", fault.ErrFormat, obj.ScoreTier)
		}
	}

	e.Hashes = hashes
	e.NormalizationProfile = profile
	e.Points = obj.Points
	e.ScoreTier = tier
	return nil
}

// NormalizeAnswer canonicalizes a candidate answer per the profile.
func NormalizeAnswer(profile NormalizationProfile, answer string) string {
	if profile != ProfileDefault {
		return answer
	}
	folded := strings.ToLower(util.Normalize(answer))
	return strings.Join(strings.Fields(folded), " ")
}

// HashAnswer returns the hex SHA-256 of the canonicalized answer.
func HashAnswer(profile NormalizationProfile, answer string) string {
	sum := sha256.Sum256([]byte(NormalizeAnswer(profile, answer)))
	return util.HexEncode(sum[:])
}

// Matches reports whether the candidate answer hashes to any stored
// variant. Multiple variants support hash migrations without forcing the
// owner to re-register their questions.
func (e *QuestionEntry) Matches(answer string) bool {
	h := HashAnswer(e.NormalizationProfile, answer)
	for _, stored := range e.Hashes {
		if strings.EqualFold(h, stored) {
			return true
		}
	}
	return false
}

// PointValue returns the entry's point weight and whether one can be
// derived at all. Explicit points win over the tier mapping.
func (e *QuestionEntry) PointValue() (int, bool) {
	if e.Points > 0 {
		return e.Points, true
	}
	if pts, ok := tierPoints[e.ScoreTier]; ok {
		return pts, true
	}
	return 0, false
}
