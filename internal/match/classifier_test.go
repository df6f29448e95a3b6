package match

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var defaultThresholds = Thresholds{Keep: 0.75, Review: 0.65}

// stubIndex returns canned matches per path.
type stubIndex struct {
	release map[string][]catalog.Match
	track   map[string][]catalog.Match
	title   map[string][]catalog.Match
}

func (s stubIndex) Query(name, title string) []catalog.Match { return s.release[name+"|"+title] }
func (s stubIndex) QueryTrack(name, title string) []catalog.Match {
	return s.track[name+"|"+title]
}
func (s stubIndex) QueryTitle(title string) []catalog.Match { return s.title[title] }

func newClassifier(t *testing.T, idx Index, m *Mappings) *Classifier {
	t.Helper()
	c, err := NewClassifier(idx, DefaultCompilationDetector(), defaultThresholds, m)
	require.NoError(t, err)
	return c
}

func int64p(v int64) *int64 { return &v }

func TestClassify_DecisionRule(t *testing.T) {
	tests := []struct {
		name        string
		score       float64
		wantVerdict model.Verdict
		wantReason  string
		wantEntry   *int64
	}{
		{"at keep threshold", 0.75, model.VerdictKeep, model.ReasonReleaseMatch, int64p(42)},
		{"above keep", 0.93, model.VerdictKeep, model.ReasonReleaseMatch, int64p(42)},
		{"at review threshold", 0.65, model.VerdictReview, model.ReasonReleaseMatch, int64p(42)},
		{"between thresholds", 0.70, model.VerdictReview, model.ReasonReleaseMatch, int64p(42)},
		{"below review", 0.64, model.VerdictPrune, model.ReasonNoMatch, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := stubIndex{release: map[string][]catalog.Match{
				"Radiohead|OK Computer": {{EntryID: 42, Score: tt.score, Via: catalog.ViaRelease}},
			}}
			c := newClassifier(t, idx, nil)

			got := c.Classify(&model.CandidateRecord{ID: 7, Title: "OK Computer", Artists: []string{"Radiohead"}})
			assert.Equal(t, int64(7), got.ReleaseID)
			assert.Equal(t, tt.wantVerdict, got.Verdict)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantEntry, got.EntryID)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
		})
	}
}

func TestClassify_NoCandidates(t *testing.T) {
	c := newClassifier(t, stubIndex{}, nil)
	got := c.Classify(&model.CandidateRecord{ID: 1, Title: "Nothing", Artists: []string{"Nobody"}})
	assert.Equal(t, model.VerdictPrune, got.Verdict)
	assert.Equal(t, model.ReasonNoMatch, got.Reason)
	assert.Nil(t, got.EntryID)
	assert.Zero(t, got.Score)
}

func TestClassify_TieBreaksByEntryIDThenPath(t *testing.T) {
	rec := &model.CandidateRecord{
		ID:      1,
		Title:   "Mix",
		Artists: []string{"Various"},
		Tracks:  []model.Track{{Sequence: 1, Title: "Song", Artists: []string{"Someone"}}},
	}

	// Same score, lower entry id wins regardless of path.
	idx := stubIndex{
		track:   map[string][]catalog.Match{"Someone|Song": {{EntryID: 9, Score: 0.8}}},
		release: map[string][]catalog.Match{"Various|Mix": {{EntryID: 3, Score: 0.8}}},
	}
	got := newClassifier(t, idx, nil).Classify(rec)
	assert.Equal(t, int64p(3), got.EntryID)
	assert.Equal(t, model.ReasonReleaseMatch, got.Reason)

	// Same score and entry: track path wins over title and release.
	idx = stubIndex{
		track:   map[string][]catalog.Match{"Someone|Song": {{EntryID: 5, Score: 0.8}}},
		title:   map[string][]catalog.Match{"Mix": {{EntryID: 5, Score: 0.8}}},
		release: map[string][]catalog.Match{"Various|Mix": {{EntryID: 5, Score: 0.8}}},
	}
	got = newClassifier(t, idx, nil).Classify(rec)
	assert.Equal(t, model.ReasonTrackMatch, got.Reason)
}

func TestClassify_Mappings(t *testing.T) {
	idx := stubIndex{release: map[string][]catalog.Match{
		"Pavement|Wowee Zowee": {{EntryID: 1, Score: 0.99}},
	}}
	m := &Mappings{Keep: []string{"Guided By Voices"}, Prune: []string{"pavement"}}
	c := newClassifier(t, idx, m)

	got := c.Classify(&model.CandidateRecord{ID: 1, Title: "Wowee Zowee", Artists: []string{"Pavement"}})
	assert.Equal(t, model.VerdictPrune, got.Verdict)
	assert.Equal(t, model.ReasonArtistMapping, got.Reason)

	got = c.Classify(&model.CandidateRecord{ID: 2, Title: "Unheard Demo", Artists: []string{"Guided by Voices"}})
	assert.Equal(t, model.VerdictKeep, got.Verdict)
	assert.Equal(t, model.ReasonArtistMapping, got.Reason)
}

func TestNewClassifier_Validation(t *testing.T) {
	_, err := NewClassifier(stubIndex{}, DefaultCompilationDetector(), Thresholds{Keep: 0.6, Review: 0.7}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = NewClassifier(stubIndex{}, DefaultCompilationDetector(), defaultThresholds,
		&Mappings{Keep: []string{"Low"}, Prune: []string{"LOW"}})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func stationLibrary(t *testing.T) *catalog.Index {
	t.Helper()
	idx, err := catalog.Build([]model.CatalogEntry{
		{ID: 1, Name: "Radiohead", Title: "OK Computer"},
		{ID: 2, Name: "The Standells", Title: "Dirty Water"},
		{ID: 3, Name: "New Order", Title: "Power, Corruption & Lies"},
		{ID: 4, Name: "Various Artists - Compilations", Title: "Sugar Hill"},
		{ID: 5, Name: "Joy Division", Title: "Closer"},
	}, catalog.Options{})
	require.NoError(t, err)
	return idx
}

func TestClassify_CompilationMatchesAtTrackLevel(t *testing.T) {
	c := newClassifier(t, stationLibrary(t), nil)

	rec := &model.CandidateRecord{
		ID:      100,
		Title:   "Nuggets: Original Artyfacts",
		Artists: []string{"Lenny Kaye"},
		Tracks: []model.Track{
			{Sequence: 1, Title: "I Had Too Much to Dream", Artists: []string{"The Electric Prunes"}},
			{Sequence: 2, Title: "Dirty Water", Artists: []string{"Standells, The"}},
			{Sequence: 3, Title: "Pushin' Too Hard", Artists: []string{"The Seeds"}},
			{Sequence: 4, Title: "Psychotic Reaction", Artists: []string{"Count Five"}},
			{Sequence: 5, Title: "Journey to the Center of the Mind", Artists: []string{"The Amboy Dukes"}},
			{Sequence: 6, Title: "Liar, Liar", Artists: []string{"The Castaways"}},
		},
	}
	got := c.Classify(rec)
	assert.Equal(t, model.VerdictKeep, got.Verdict)
	assert.Equal(t, model.ReasonTrackMatch, got.Reason)
	assert.Equal(t, int64p(2), got.EntryID)
	assert.InDelta(t, 1.0, got.Score, 1e-9)

	// The same release matched only at release level would be pruned.
	flat := *rec
	flat.Tracks = nil
	got = c.Classify(&flat)
	assert.Equal(t, model.VerdictPrune, got.Verdict)
}

func TestClassify_LibraryCompilationByTitle(t *testing.T) {
	c := newClassifier(t, stationLibrary(t), nil)
	got := c.Classify(&model.CandidateRecord{ID: 5, Title: "Sugar Hill", Artists: []string{"Various"}})
	assert.Equal(t, model.VerdictKeep, got.Verdict)
	assert.Equal(t, model.ReasonCompilationTitle, got.Reason)
	assert.Equal(t, int64p(4), got.EntryID)
}

func TestClassify_FuzzyReleaseMatch(t *testing.T) {
	c := newClassifier(t, stationLibrary(t), nil)
	got := c.Classify(&model.CandidateRecord{ID: 6, Title: "Power Corruption + Lies", Artists: []string{"New Order"}})
	assert.Equal(t, model.VerdictKeep, got.Verdict)
	assert.Equal(t, int64p(3), got.EntryID)
}

func TestClassify_PureAndOrderIndependent(t *testing.T) {
	c := newClassifier(t, stationLibrary(t), nil)
	recs := []model.CandidateRecord{
		{ID: 1, Title: "OK Computer", Artists: []string{"Radiohead"}},
		{ID: 2, Title: "Closer (Reissue)", Artists: []string{"Joy Division"}},
		{ID: 3, Title: "Closr", Artists: []string{"Joy Divison"}},
		{ID: 4, Title: "Unrelated", Artists: []string{"Nobody"}},
		{ID: 5, Title: "Sugar Hill", Artists: []string{"Various"}},
	}

	want := make(map[int64]model.ClassificationResult)
	for i := range recs {
		want[recs[i].ID] = c.Classify(&recs[i])
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for round := 0; round < 8; round++ {
		shuffled := append([]model.CandidateRecord(nil), recs...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		wg.Add(1)
		go func(rs []model.CandidateRecord) {
			defer wg.Done()
			for i := range rs {
				got := c.Classify(&rs[i])
				mu.Lock()
				assert.Equal(t, want[rs[i].ID], got)
				mu.Unlock()
			}
		}(shuffled)
	}
	wg.Wait()
}

func TestErrorResult(t *testing.T) {
	got := ErrorResult(9)
	assert.Equal(t, model.VerdictReview, got.Verdict)
	assert.Equal(t, model.ReasonClassificationFail, got.Reason)
	assert.True(t, got.Retained())
}
