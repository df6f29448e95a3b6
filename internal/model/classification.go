package model

import "github.com/rotisserie/eris"

// Verdict is the classification outcome for a candidate release.
type Verdict string

const (
	VerdictKeep   Verdict = "keep"
	VerdictPrune  Verdict = "prune"
	VerdictReview Verdict = "review"
)

// ParseVerdict converts a stored verdict string into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictKeep, VerdictPrune, VerdictReview:
		return Verdict(s), nil
	default:
		return "", eris.Errorf("model: unknown verdict %q", s)
	}
}

// Reason codes recorded alongside a verdict.
const (
	ReasonReleaseMatch       = "release-level-match"
	ReasonTrackMatch         = "track-level-match"
	ReasonCompilationTitle   = "compilation-title-match"
	ReasonArtistMapping      = "artist-mapping"
	ReasonNoMatch            = "no-match"
	ReasonClassificationFail = "classification-error"
)

// ClassificationResult is the verdict for one candidate release.
type ClassificationResult struct {
	ReleaseID int64   `json:"release_id"`
	Verdict   Verdict `json:"verdict"`
	EntryID   *int64  `json:"catalog_entry_id,omitempty"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// Retained reports whether the release survives finalization.
func (c ClassificationResult) Retained() bool {
	return c.Verdict != VerdictPrune
}
