package match

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wxyc/discogs-cache/internal/model"
	"github.com/wxyc/discogs-cache/internal/resilience"
)

// memSource serves records from memory and can fail selected loads.
type memSource struct {
	recs map[int64]model.CandidateRecord

	mu        sync.Mutex
	failPage  bool
	failIDs   map[int64]bool
	flakyIDs  map[int64]int // transient failures left per id
	loadCalls int
}

func (s *memSource) NextIDs(_ context.Context, after int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range s.recs {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memSource) Load(_ context.Context, ids []int64) ([]model.CandidateRecord, error) {
	s.mu.Lock()
	s.loadCalls++
	if len(ids) == 1 && s.flakyIDs[ids[0]] > 0 {
		s.flakyIDs[ids[0]]--
		s.mu.Unlock()
		return nil, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	s.mu.Unlock()
	if len(ids) > 1 && s.failPage {
		return nil, errors.New("page query failed")
	}
	var out []model.CandidateRecord
	for _, id := range ids {
		if s.failIDs[id] {
			return nil, errors.New("row unreadable")
		}
		if r, ok := s.recs[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// memSink collects written batches.
type memSink struct {
	mu      sync.Mutex
	resets  int
	batches [][]model.ClassificationResult
	failOn  int
	// deadlocks fails the next n writes with a retryable error.
	deadlocks int
	writes    int
}

func (s *memSink) Reset(context.Context) error {
	s.resets++
	return nil
}

func (s *memSink) Write(_ context.Context, batch []model.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.deadlocks > 0 {
		s.deadlocks--
		return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	}
	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		return errors.New("disk full")
	}
	s.batches = append(s.batches, append([]model.ClassificationResult(nil), batch...))
	return nil
}

func (s *memSink) results() map[int64]model.ClassificationResult {
	out := make(map[int64]model.ClassificationResult)
	for _, b := range s.batches {
		for _, r := range b {
			out[r.ReleaseID] = r
		}
	}
	return out
}

func fastRun(workers int) RunConfig {
	return RunConfig{
		Workers:    workers,
		PageSize:   2,
		WriteBatch: 2,
		Retry:      resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
}

func sampleSource() *memSource {
	return &memSource{recs: map[int64]model.CandidateRecord{
		1: {ID: 1, Title: "OK Computer", Artists: []string{"Radiohead"}},
		2: {ID: 2, Title: "Closer", Artists: []string{"Joy Division"}},
		3: {ID: 3, Title: "Unrelated", Artists: []string{"Nobody"}},
		4: {ID: 4, Title: "Sugar Hill", Artists: []string{"Various"}},
		5: {ID: 5, Title: "Power Corruption and Lies", Artists: []string{"New Order"}},
	}}
}

func TestRunner_ClassifiesEveryRelease(t *testing.T) {
	src, snk := sampleSource(), &memSink{}
	c := newClassifier(t, stationLibrary(t), nil)

	report, err := NewRunner(src, snk, c, fastRun(3)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snk.resets)
	got := snk.results()
	require.Len(t, got, 5)
	assert.Equal(t, model.VerdictKeep, got[1].Verdict)
	assert.Equal(t, model.VerdictKeep, got[2].Verdict)
	assert.Equal(t, model.VerdictPrune, got[3].Verdict)
	assert.Equal(t, model.VerdictKeep, got[4].Verdict)
	assert.Equal(t, model.VerdictKeep, got[5].Verdict)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 4, report.Counts[model.VerdictKeep])
	assert.Equal(t, 1, report.Counts[model.VerdictPrune])
	assert.Equal(t, 4, report.Retained())
	for _, b := range snk.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
}

func TestRunner_MatchesSequentialRun(t *testing.T) {
	c := newClassifier(t, stationLibrary(t), nil)

	seq := &memSink{}
	_, err := NewRunner(sampleSource(), seq, c, fastRun(1)).Run(context.Background())
	require.NoError(t, err)

	par := &memSink{}
	_, err = NewRunner(sampleSource(), par, c, fastRun(8)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, seq.results(), par.results())
}

func TestRunner_FailedRecordGoesToReview(t *testing.T) {
	src := sampleSource()
	src.failPage = true
	src.failIDs = map[int64]bool{3: true}
	snk := &memSink{}
	c := newClassifier(t, stationLibrary(t), nil)

	report, err := NewRunner(src, snk, c, fastRun(2)).Run(context.Background())
	require.NoError(t, err)

	got := snk.results()
	require.Len(t, got, 5)
	assert.Equal(t, model.VerdictReview, got[3].Verdict)
	assert.Equal(t, model.ReasonClassificationFail, got[3].Reason)
	assert.Equal(t, model.VerdictKeep, got[1].Verdict)
	assert.Equal(t, 1, report.Counts[model.VerdictReview])
	require.Len(t, report.Review, 1)
	assert.Equal(t, int64(3), report.Review[0].ReleaseID)
}

func TestRunner_SinkFailureAborts(t *testing.T) {
	snk := &memSink{failOn: 1}
	c := newClassifier(t, stationLibrary(t), nil)

	_, err := NewRunner(sampleSource(), snk, c, fastRun(2)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_RetriesTransientSinkFailure(t *testing.T) {
	snk := &memSink{deadlocks: 1}
	c := newClassifier(t, stationLibrary(t), nil)

	report, err := NewRunner(sampleSource(), snk, c, fastRun(2)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Len(t, snk.results(), 5)
	assert.Equal(t, len(snk.batches)+1, snk.writes)
}

func TestRunner_SinkKeepsDeadlocking(t *testing.T) {
	snk := &memSink{deadlocks: 10}
	c := newClassifier(t, stationLibrary(t), nil)

	_, err := NewRunner(sampleSource(), snk, c, fastRun(2)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "40P01")
	assert.Equal(t, 2, snk.writes)
}

func TestRunner_RetriesSingleReleaseLoad(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	src := sampleSource()
	src.failPage = true
	src.flakyIDs = map[int64]int{2: 1}
	snk := &memSink{}
	c := newClassifier(t, stationLibrary(t), nil)

	report, err := NewRunner(src, snk, c, fastRun(1)).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Counts[model.VerdictReview])
	assert.Equal(t, model.VerdictKeep, snk.results()[2].Verdict)

	retries := logs.FilterMessage("retrying").FilterField(zap.String("operation", "load releases"))
	assert.Equal(t, 1, retries.Len())
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newClassifier(t, stationLibrary(t), nil)

	_, err := NewRunner(sampleSource(), &memSink{}, c, fastRun(2)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
