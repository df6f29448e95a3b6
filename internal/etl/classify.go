package etl

import (
	"context"

	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/match"
	"github.com/wxyc/discogs-cache/internal/model"
	"github.com/wxyc/discogs-cache/internal/resilience"
)

type classifyStep struct {
	deps
}

func (s *classifyStep) Name() string { return StepClassify }

func (s *classifyStep) Run(ctx context.Context, env *Env) (*Result, error) {
	rep, err := Classify(ctx, env.Pool, env.Config)
	if err != nil {
		return nil, err
	}
	if env.Out != nil {
		rep.Render(env.Out)
	}
	return &Result{
		Rows: int64(rep.Total),
		Metadata: map[string]any{
			"keep":   rep.Counts[model.VerdictKeep],
			"review": rep.Counts[model.VerdictReview],
			"prune":  rep.Counts[model.VerdictPrune],
		},
	}, nil
}

// NewClassifier builds a classifier over the configured library catalog.
func NewClassifier(ctx context.Context, cfg *config.Config) (*match.Classifier, error) {
	idx, err := catalog.Load(ctx, cfg.Catalog.LibraryDB, catalog.Options{MaxResults: cfg.Catalog.MaxResults})
	if err != nil {
		return nil, err
	}
	mappings, err := match.LoadMappings(cfg.Catalog.MappingsFile)
	if err != nil {
		return nil, err
	}
	det := match.CompilationDetector{
		MinDistinctTrackArtists: cfg.Match.MinDistinctTrackArtists,
		MinDivergentShare:       cfg.Match.MinDivergentShare,
	}
	th := match.Thresholds{Keep: cfg.Match.KeepThreshold, Review: cfg.Match.ReviewThreshold}
	return match.NewClassifier(idx, det, th, mappings)
}

// Classify classifies every release in the primary store and replaces the
// stored results.
func Classify(ctx context.Context, pool db.Pool, cfg *config.Config) (*match.Report, error) {
	clf, err := NewClassifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := cfg.Match
	runner := match.NewRunner(match.NewPgSource(pool), match.NewPgSink(pool), clf, match.RunConfig{
		Workers:    m.Workers,
		PageSize:   m.PageSize,
		WriteBatch: m.WriteBatch,
		Retry:      resilience.FromConfig(m.Retry.MaxAttempts, m.Retry.InitialBackoffMs, m.Retry.MaxBackoffMs),
	})
	return runner.Run(ctx)
}
