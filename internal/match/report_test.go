package match

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxyc/discogs-cache/internal/model"
)

func review(id int64, artist string, score float64) Outcome {
	return Outcome{
		Result: model.ClassificationResult{ReleaseID: id, Verdict: model.VerdictReview, Score: score, Reason: model.ReasonReleaseMatch, EntryID: int64p(id * 10)},
		Artist: artist,
		Title:  "Title",
	}
}

func TestReport_ReviewByArtist(t *testing.T) {
	r := NewReport()
	r.Add(review(5, "Low", 0.7))
	r.Add(review(2, "Cat Power", 0.68))
	r.Add(review(3, "Low", 0.66))
	r.Add(review(9, "Bedhead", 0.7))
	r.Add(Outcome{Result: model.ClassificationResult{ReleaseID: 1, Verdict: model.VerdictKeep, Score: 1}})

	assert.Equal(t, 5, r.Total)
	assert.Equal(t, 4, r.Counts[model.VerdictReview])
	assert.Equal(t, 5, r.Retained())

	groups := r.ReviewByArtist()
	require.Len(t, groups, 3)
	assert.Equal(t, "Low", groups[0].Artist)
	assert.Equal(t, int64(3), groups[0].Releases[0].ReleaseID)
	assert.Equal(t, int64(5), groups[0].Releases[1].ReleaseID)
	assert.Equal(t, "Bedhead", groups[1].Artist)
	assert.Equal(t, "Cat Power", groups[2].Artist)
}

func TestReport_Render(t *testing.T) {
	r := NewReport()
	r.Add(review(3, "Low", 0.66))
	r.Add(Outcome{Result: model.ClassificationResult{ReleaseID: 1, Verdict: model.VerdictKeep, Score: 1}})
	r.Add(Outcome{Result: model.ClassificationResult{ReleaseID: 2, Verdict: model.VerdictPrune}})

	var buf bytes.Buffer
	r.Render(&buf)
	out := buf.String()
	assert.Contains(t, out, "Classification")
	assert.Contains(t, out, "33.3%")
	assert.Contains(t, out, "Review: 1 releases, 1 artists")
	assert.Contains(t, out, "Low")
	assert.Contains(t, out, "0.66")
}

func TestReport_RenderWithoutReview(t *testing.T) {
	r := NewReport()
	var buf bytes.Buffer
	r.Render(&buf)
	assert.Contains(t, buf.String(), "0.0%")
	assert.NotContains(t, buf.String(), "Review:")
}
