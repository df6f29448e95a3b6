// Package match classifies candidate releases against the station library
// as KEEP, PRUNE or REVIEW, and runs that classification over the primary
// store with a bounded worker pool.
package match

import (
	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/model"
)

// Index is the read-only catalog lookup the classifier needs.
type Index interface {
	Query(name, title string) []catalog.Match
	QueryTrack(name, title string) []catalog.Match
	QueryTitle(title string) []catalog.Match
}

// Thresholds are the score cut-offs for KEEP and REVIEW.
type Thresholds struct {
	Keep   float64
	Review float64
}

// candidate is the best match from one lookup path.
type candidate struct {
	entryID int64
	score   float64
	reason  string
	order   int
}

// Path precedence when score and entry id tie.
const (
	orderTrack = iota
	orderTitle
	orderRelease
)

func (c candidate) beats(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if c.entryID != o.entryID {
		return c.entryID < o.entryID
	}
	return c.order < o.order
}

// Classifier is a pure function of (record, catalog, thresholds, mappings);
// it holds no per-record state and is safe for concurrent use.
type Classifier struct {
	index    Index
	detector CompilationDetector
	th       Thresholds
	keep     map[string]bool
	prune    map[string]bool
}

// NewClassifier validates thresholds (0 <= review < keep <= 1) and mappings.
func NewClassifier(idx Index, det CompilationDetector, th Thresholds, m *Mappings) (*Classifier, error) {
	mc := config.MatchConfig{KeepThreshold: th.Keep, ReviewThreshold: th.Review}
	if err := mc.ValidateThresholds(); err != nil {
		return nil, err
	}
	keep, prune, err := m.normalized()
	if err != nil {
		return nil, err
	}
	return &Classifier{index: idx, detector: det, th: th, keep: keep, prune: prune}, nil
}

// Classify returns the verdict for one release.
func (c *Classifier) Classify(r *model.CandidateRecord) model.ClassificationResult {
	nominal := r.PrimaryArtist()

	if n := catalog.NormalizeName(nominal); n != "" {
		switch {
		case c.keep[n]:
			return model.ClassificationResult{ReleaseID: r.ID, Verdict: model.VerdictKeep, Score: 1, Reason: model.ReasonArtistMapping}
		case c.prune[n]:
			return model.ClassificationResult{ReleaseID: r.ID, Verdict: model.VerdictPrune, Reason: model.ReasonArtistMapping}
		}
	}

	var best candidate
	found := false
	consider := func(ms []catalog.Match, reason string, order int) {
		if len(ms) == 0 {
			return
		}
		cand := candidate{entryID: ms[0].EntryID, score: ms[0].Score, reason: reason, order: order}
		if !found || cand.beats(best) {
			best, found = cand, true
		}
	}

	if c.detector.IsCompilation(r) {
		for _, t := range r.Tracks {
			names := t.Artists
			if len(names) == 0 && !catalog.IsCompilationName(nominal) {
				names = r.Artists
			}
			for _, name := range names {
				consider(c.index.QueryTrack(name, t.Title), model.ReasonTrackMatch, orderTrack)
			}
		}
		consider(c.index.QueryTitle(r.Title), model.ReasonCompilationTitle, orderTitle)
	}
	consider(c.index.Query(nominal, r.Title), model.ReasonReleaseMatch, orderRelease)

	return c.decide(r.ID, best, found)
}

func (c *Classifier) decide(id int64, best candidate, found bool) model.ClassificationResult {
	res := model.ClassificationResult{ReleaseID: id, Score: best.score}
	switch {
	case found && best.score >= c.th.Keep:
		res.Verdict = model.VerdictKeep
	case found && best.score >= c.th.Review:
		res.Verdict = model.VerdictReview
	default:
		res.Verdict = model.VerdictPrune
		res.Reason = model.ReasonNoMatch
		return res
	}
	entry := best.entryID
	res.EntryID = &entry
	res.Reason = best.reason
	return res
}

// ErrorResult is the verdict for a release that could not be loaded.
func ErrorResult(id int64) model.ClassificationResult {
	return model.ClassificationResult{ReleaseID: id, Verdict: model.VerdictReview, Reason: model.ReasonClassificationFail}
}
