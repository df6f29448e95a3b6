package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		input string
		want  Verdict
		err   bool
	}{
		{"keep", VerdictKeep, false},
		{"prune", VerdictPrune, false},
		{"review", VerdictReview, false},
		{"KEEP", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		v, err := ParseVerdict(tt.input)
		if tt.err {
			assert.Error(t, err, "input: %q", tt.input)
			continue
		}
		assert.NoError(t, err, "input: %q", tt.input)
		assert.Equal(t, tt.want, v)
	}
}

func TestClassificationResult_Retained(t *testing.T) {
	assert.True(t, ClassificationResult{Verdict: VerdictKeep}.Retained())
	assert.True(t, ClassificationResult{Verdict: VerdictReview}.Retained())
	assert.False(t, ClassificationResult{Verdict: VerdictPrune}.Retained())
}

func TestCandidateRecord_PrimaryArtist(t *testing.T) {
	r := &CandidateRecord{}
	assert.Equal(t, "", r.PrimaryArtist())

	r.Artists = []string{"New Order", "Arthur Baker"}
	assert.Equal(t, "New Order", r.PrimaryArtist())
}

func TestCandidateRecord_TrackCount(t *testing.T) {
	r := &CandidateRecord{Tracks: []Track{{Sequence: 1}, {Sequence: 2}}}
	assert.Equal(t, 2, r.TrackCount())
}
